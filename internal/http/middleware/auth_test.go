package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "client-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func serve(mw func(http.Handler) http.Handler, authHeader string, next http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec
}

func TestBearerJWTRejects(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}
	cases := []struct {
		name   string
		secret string
		header string
	}{
		{"missing secret", "", "Bearer x"},
		{"missing header", "secret", ""},
		{"wrong scheme", "secret", "Basic abc"},
		{"wrong key", "secret", "Bearer " + signedToken(t, "other")},
		{"garbage token", "secret", "Bearer not-a-jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(BearerJWT(tc.secret), tc.header, noop)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
		})
	}
}

func TestBearerJWTValidToken(t *testing.T) {
	called := false
	rec := serve(BearerJWT("secret"), "Bearer "+signedToken(t, "secret"), func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || claims.Subject != "client-1" {
			t.Fatalf("expected claims in context, got %+v", claims)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if !called {
		t.Fatalf("expected handler to be called")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
}

func TestWriteUnauthorizedEscapesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	message := `bad "quoted" token\`
	writeUnauthorized(rec, message)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body is not valid json: %v (%q)", err, rec.Body.String())
	}
	if body["error"] != message {
		t.Fatalf("expected error %q, got %q", message, body["error"])
	}
	if body["kind"] != "unauthorized" {
		t.Fatalf("expected kind unauthorized, got %q", body["kind"])
	}
}
