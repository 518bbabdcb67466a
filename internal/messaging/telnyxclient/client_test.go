package telnyxclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const sendSuccessBody = `{"data":{"id":"msg_01J123ABC","type":"SMS","text":"hello","direction":"outbound","parts":1}}`

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	cfg.BaseURL = server.URL
	cfg.HTTPClient = server.Client()
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if payload["text"] != "hello patient" || payload["messaging_profile_id"] != "profile-1" || payload["type"] != "SMS" {
			t.Errorf("unexpected payload %v", payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(sendSuccessBody))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MessagingProfileID: "profile-1"})
	resp, err := client.SendMessage(context.Background(), SendMessageRequest{
		From: "+15553334444",
		To:   "+15552223333",
		Body: "hello patient",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted || resp.Message.ID != "msg_01J123ABC" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestSendMessageMMSType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"type":"MMS"`) || !strings.Contains(string(body), "media_urls") {
			t.Errorf("expected mms payload, got %s", body)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sendSuccessBody))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{
		From:      "+15553334444",
		To:        "+15552223333",
		MediaURLs: []string{"https://example.com/a.png"},
	}); err != nil {
		t.Fatalf("send mms: %v", err)
	}
}

func TestSendMessageDoesNotRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"code":"10011","title":"Too many requests"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests || apiErr.RetryAfter != "10" || apiErr.Title != "Too many requests" {
		t.Fatalf("unexpected api error %#v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single request, got %d", got)
	}
}

func TestSendMessageNonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	_, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "hi"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway || apiErr.Detail != "upstream down" {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	client, err := New(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{To: "+1", Body: "x"}); err == nil {
		t.Fatalf("expected from validation error")
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2"}); err == nil {
		t.Fatalf("expected body validation error")
	}
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected api key validation error")
	}
	client, err := New(Config{APIKey: "key", BaseURL: "https://example.com/v2/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != "https://example.com/v2" {
		t.Fatalf("expected trimmed base url, got %s", client.baseURL)
	}
	if client.httpClient == nil || client.httpClient.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout")
	}
}

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	payload := []byte(`{"data":{}}`)
	sig := Sign("secret", ts, payload)

	if err := VerifySignature("secret", ts, sig, payload, time.Minute, now); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := VerifySignature("secret", ts, sig, []byte("tampered"), time.Minute, now); err == nil {
		t.Fatalf("expected mismatch")
	}
	if err := VerifySignature("secret", ts, sig, payload, time.Minute, now.Add(2*time.Minute)); err == nil {
		t.Fatalf("expected skew failure")
	}
	if err := VerifySignature("", ts, sig, payload, time.Minute, now); err == nil {
		t.Fatalf("expected missing secret failure")
	}
}

func TestSignatureVerifier(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	payload := []byte(`{"from":"+15550001111"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	v := SignatureVerifier{Secret: "whsec", Now: func() time.Time { return now }}

	if err := v.VerifyWebhookSignature(ts, Sign("whsec", ts, payload), payload); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
	if err := v.VerifyWebhookSignature(ts, Sign("other", ts, payload), payload); err == nil {
		t.Fatalf("expected mismatch for wrong secret")
	}
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if err := v.VerifyWebhookSignature(stale, Sign("whsec", stale, payload), payload); err == nil {
		t.Fatalf("expected stale timestamp to be rejected by the default skew")
	}
}
