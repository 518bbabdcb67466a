package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// EmailMessage is the provider-neutral form of an outbound email.
type EmailMessage struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string // Plain text body
	HTML     string // Optional HTML body
}

// buildEmail renders a stored message as an email. The sender defaults to the
// configured address when the message carries none. Attachment URLs are
// appended to the body as links.
func buildEmail(msg *messaging.Message, fromEmail, fromName string) EmailMessage {
	email := EmailMessage{
		From:     strings.TrimSpace(msg.From.Address),
		FromName: fromName,
		To:       strings.TrimSpace(msg.To.Address),
		Subject:  subjectFor(msg),
	}
	if email.From == "" {
		email.From = fromEmail
	}

	body := msg.Body
	if urls := msg.AttachmentURLs(); len(urls) > 0 {
		body = strings.TrimRight(body, "\n") + "\n\n" + strings.Join(urls, "\n")
	}
	if looksLikeHTML(msg.Body) {
		email.HTML = body
		email.Body = stripTags(body)
	} else {
		email.Body = body
	}
	return email
}

func subjectFor(msg *messaging.Message) string {
	if s, ok := msg.Extra["subject"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return "New message from " + msg.From.Address
}

func looksLikeHTML(body string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(body))
	return strings.HasPrefix(trimmed, "<html") || strings.Contains(trimmed, "</")
}

func stripTags(body string) string {
	var b strings.Builder
	inTag := false
	for _, r := range body {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SendGridGateway delivers email through the SendGrid v3 API.
type SendGridGateway struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SendGridConfig holds configuration for SendGrid.
type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
	// BaseURL overrides the API host, e.g. for tests.
	BaseURL string
}

// NewSendGridGateway creates a SendGrid gateway, or nil without an API key.
func NewSendGridGateway(cfg SendGridConfig, logger *logging.Logger) *SendGridGateway {
	if cfg.APIKey == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Messaging Service"
	}
	client := sendgrid.NewSendClient(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		client.Request.BaseURL = base + "/v3/mail/send"
	}
	return &SendGridGateway{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ messaging.Gateway = (*SendGridGateway)(nil)

// Deliver makes one send call and reports SendGrid's HTTP status.
func (s *SendGridGateway) Deliver(ctx context.Context, msg *messaging.Message) (messaging.SendResult, error) {
	if s == nil || s.client == nil {
		return messaging.SendResult{}, fmt.Errorf("notify: sendgrid client not configured")
	}
	email := buildEmail(msg, s.fromEmail, s.fromName)

	from := mail.NewEmail(email.FromName, email.From)
	to := mail.NewEmail("", email.To)
	html := email.HTML
	if html == "" {
		html = email.Body
	}
	message := mail.NewSingleEmail(from, email.Subject, to, email.Body, html)

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		s.logger.Error("sendgrid send failed", "error", err, "message_id", msg.ID)
		return messaging.SendResult{}, fmt.Errorf("notify: sendgrid send failed: %w", err)
	}

	result := messaging.SendResult{StatusCode: response.StatusCode}
	if values := response.Headers["Retry-After"]; len(values) > 0 {
		result.RetryAfter = messaging.ParseRetryAfter(values[0])
	}
	if values := response.Headers["X-Message-Id"]; len(values) > 0 {
		result.ProviderMessageID = values[0]
	}
	if response.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("sendgrid returned error status", "status", response.StatusCode, "body", response.Body, "message_id", msg.ID)
		return result, nil
	}
	s.logger.Info("email sent via sendgrid", "message_id", msg.ID, "status", response.StatusCode)
	return result, nil
}
