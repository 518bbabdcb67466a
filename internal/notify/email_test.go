package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/wolfman30/messaging-service/internal/conversation"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

func emailMessage(body string) *messaging.Message {
	return &messaging.Message{
		ID:      uuid.New(),
		From:    conversation.Participant{ID: 1, Address: "sender@example.com"},
		To:      conversation.Participant{ID: 2, Address: "contact@example.com"},
		Body:    body,
		Channel: messaging.ChannelEmail,
	}
}

func TestNewSendGridGateway_NilWithoutAPIKey(t *testing.T) {
	if gw := NewSendGridGateway(SendGridConfig{FromEmail: "test@example.com"}, nil); gw != nil {
		t.Error("expected nil gateway when API key is empty")
	}
}

func TestNewSendGridGateway_DefaultFromName(t *testing.T) {
	gw := NewSendGridGateway(SendGridConfig{APIKey: "test-key", FromEmail: "test@example.com"}, nil)
	if gw == nil {
		t.Fatal("expected non-nil gateway")
	}
	if gw.fromName != "Messaging Service" {
		t.Errorf("expected default from name, got %q", gw.fromName)
	}
}

func TestSendGridGateway_DeliverReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if !strings.Contains(string(body), "sender@example.com") {
			t.Errorf("expected message sender in payload, got %s", body)
		}
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	gw := NewSendGridGateway(SendGridConfig{APIKey: "test-key", BaseURL: server.URL}, logging.Discard())
	res, err := gw.Deliver(context.Background(), emailMessage("hello"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.StatusCode)
	}
	if res.RetryAfter == nil || *res.RetryAfter != 30 {
		t.Fatalf("expected retry-after 30, got %v", res.RetryAfter)
	}
}

func TestSendGridGateway_DeliverAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Message-Id", "sg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	gw := NewSendGridGateway(SendGridConfig{APIKey: "test-key", BaseURL: server.URL}, logging.Discard())
	res, err := gw.Deliver(context.Background(), emailMessage("<html><body>hi</body></html>"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.StatusCode != http.StatusAccepted || res.ProviderMessageID != "sg-1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func sesResponseError(status int, retryAfter string) error {
	header := http.Header{}
	if retryAfter != "" {
		header.Set("Retry-After", retryAfter)
	}
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status, Header: header}},
			Err:      errors.New("api error"),
		},
		RequestID: "req-1",
	}
}

func TestSESGateway_Deliver(t *testing.T) {
	fake := &fakeSES{}
	gw := newSESGateway(fake, SESConfig{FromEmail: "noreply@example.com"}, logging.Discard())

	res, err := gw.Deliver(context.Background(), emailMessage("<p>hello</p>"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.ProviderMessageID != "ses-1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := aws.ToString(fake.input.Content.Simple.Body.Text.Data); got != "hello" {
		t.Fatalf("expected stripped text body, got %q", got)
	}
	if fake.input.Content.Simple.Body.Html == nil {
		t.Fatalf("expected html body")
	}
}

func TestSESGateway_DeliverMapsResponseErrors(t *testing.T) {
	gw := newSESGateway(&fakeSES{err: sesResponseError(http.StatusTooManyRequests, "5")}, SESConfig{}, logging.Discard())
	res, err := gw.Deliver(context.Background(), emailMessage("hello"))
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests || res.RetryAfter == nil || *res.RetryAfter != 5 {
		t.Fatalf("unexpected result %+v", res)
	}

	gw = newSESGateway(&fakeSES{err: errors.New("dial tcp: timeout")}, SESConfig{}, logging.Discard())
	if _, err := gw.Deliver(context.Background(), emailMessage("hello")); err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestBuildEmail(t *testing.T) {
	msg := emailMessage("see attached")
	msg.Extra = map[string]any{"subject": "Quarterly report"}
	msg.Attachments = []messaging.Attachment{{URL: "https://example.com/r.pdf"}}

	email := buildEmail(msg, "fallback@example.com", "Svc")
	if email.Subject != "Quarterly report" {
		t.Errorf("unexpected subject %q", email.Subject)
	}
	if !strings.HasSuffix(email.Body, "https://example.com/r.pdf") {
		t.Errorf("expected attachment link in body, got %q", email.Body)
	}
	if email.HTML != "" {
		t.Errorf("plain body should not produce html")
	}

	msg.From.Address = ""
	if got := buildEmail(msg, "fallback@example.com", "Svc").From; got != "fallback@example.com" {
		t.Errorf("expected fallback sender, got %q", got)
	}
}

func TestBuildEmailGateway(t *testing.T) {
	gw, name, _ := BuildEmailGateway(EmailSelectionConfig{SendGridAPIKey: "k"}, logging.Discard())
	if _, ok := gw.(*SendGridGateway); !ok || name != EmailProviderSendGrid {
		t.Fatalf("expected sendgrid gateway, got %T %s", gw, name)
	}
	gw, name, reason := BuildEmailGateway(EmailSelectionConfig{}, logging.Discard())
	if _, ok := gw.(*messaging.StubGateway); !ok || name != EmailProviderStub || reason == "" {
		t.Fatalf("expected stub fallback, got %T %s %q", gw, name, reason)
	}
	if gw, _, reason := BuildEmailGateway(EmailSelectionConfig{Preference: "ses"}, logging.Discard()); gw != nil || reason == "" {
		t.Fatalf("expected ses to be unavailable")
	}
}
