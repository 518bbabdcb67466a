package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/messaging-service/pkg/logging"
)

var twilioSendTracer = otel.Tracer("messaging.internal.messaging.twilio_send")

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioGateway delivers sms and mms through Twilio's REST API.
type TwilioGateway struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// TwilioOption customizes a TwilioGateway.
type TwilioOption func(*TwilioGateway)

// WithTwilioBaseURL points the gateway at another host, e.g. a test server.
func WithTwilioBaseURL(base string) TwilioOption {
	return func(g *TwilioGateway) {
		if base = strings.TrimRight(strings.TrimSpace(base), "/"); base != "" {
			g.baseURL = base
		}
	}
}

// WithTwilioHTTPClient overrides the HTTP client.
func WithTwilioHTTPClient(client *http.Client) TwilioOption {
	return func(g *TwilioGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// NewTwilioGateway builds a gateway with a bounded request timeout.
func NewTwilioGateway(accountSID, authToken string, timeout time.Duration, logger *logging.Logger, opts ...TwilioOption) *TwilioGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g := &TwilioGateway{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultTwilioBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Gateway = (*TwilioGateway)(nil)

// Deliver makes one Messages.json call and reports the HTTP outcome.
func (g *TwilioGateway) Deliver(ctx context.Context, msg *Message) (SendResult, error) {
	if g.accountSID == "" || g.authToken == "" {
		return SendResult{}, errors.New("messaging: twilio credentials missing")
	}
	if msg == nil {
		return SendResult{}, errors.New("messaging: message required")
	}

	ctx, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.message_id", msg.ID.String()),
		attribute.String("messaging.channel", string(msg.Channel)),
	)

	payload := url.Values{}
	payload.Set("To", msg.To.Address)
	payload.Set("From", msg.From.Address)
	if msg.Body != "" {
		payload.Set("Body", msg.Body)
	}
	if msg.Channel == ChannelMMS {
		for _, u := range msg.AttachmentURLs() {
			payload.Add("MediaUrl", u)
		}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.baseURL, g.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("messaging: build twilio request: %w", err)
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return SendResult{}, fmt.Errorf("messaging: twilio send: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	result := SendResult{StatusCode: resp.StatusCode, RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"))}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed struct {
			SID string `json:"sid"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil {
			result.ProviderMessageID = parsed.SID
		}
		g.logger.Info("twilio sms sent", "message_id", msg.ID, "provider_message_id", result.ProviderMessageID)
		return result, nil
	}
	g.logger.Warn("twilio rejected message", "message_id", msg.ID, "detail", formatTwilioError(resp.StatusCode, body))
	return result, nil
}

type twilioAPIError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func formatTwilioError(status int, body []byte) string {
	body = []byte(strings.TrimSpace(string(body)))
	if len(body) == 0 {
		return fmt.Sprintf("status %d", status)
	}
	var parsed twilioAPIError
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		if parsed.Code != 0 {
			return fmt.Sprintf("status %d code %d: %s", status, parsed.Code, parsed.Message)
		}
		return fmt.Sprintf("status %d: %s", status, parsed.Message)
	}
	return fmt.Sprintf("status %d: %s", status, string(body))
}
