package telnyxclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL   = "https://api.telnyx.com/v2"
	defaultUserAgent = "messaging-service/0.1"
	maxResponseBytes = 64 << 10
)

// Config controls how the Telnyx client behaves.
type Config struct {
	BaseURL            string
	APIKey             string
	MessagingProfileID string
	WebhookSecret      string
	Timeout            time.Duration
	MaxSkew            time.Duration
	HTTPClient         *http.Client
	Logger             *slog.Logger
	UserAgent          string
}

// Client wraps the Telnyx messaging endpoints. It makes exactly one HTTP
// request per call; retry policy belongs to the caller.
type Client struct {
	apiKey             string
	baseURL            string
	messagingProfileID string
	webhookSecret      string
	httpClient         *http.Client
	maxSkew            time.Duration
	logger             *slog.Logger
	userAgent          string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyxclient: API key is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		apiKey:             cfg.APIKey,
		baseURL:            baseURL,
		messagingProfileID: strings.TrimSpace(cfg.MessagingProfileID),
		webhookSecret:      cfg.WebhookSecret,
		httpClient:         httpClient,
		maxSkew:            maxSkew,
		logger:             logger,
		userAgent:          userAgent,
	}, nil
}

// SendMessage triggers an SMS/MMS send request. Non-2xx answers come back as *APIError.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*SendResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	profileID := req.MessagingProfileID
	if profileID == "" {
		profileID = c.messagingProfileID
	}
	body, err := json.Marshal(struct {
		From               string   `json:"from"`
		To                 string   `json:"to"`
		Text               string   `json:"text"`
		Type               string   `json:"type,omitempty"`
		MediaURLs          []string `json:"media_urls,omitempty"`
		MessagingProfileID string   `json:"messaging_profile_id,omitempty"`
	}{
		From:               req.From,
		To:                 req.To,
		Text:               req.Body,
		Type:               req.messageType(),
		MediaURLs:          req.MediaURLs,
		MessagingProfileID: profileID,
	})
	if err != nil {
		return nil, fmt.Errorf("telnyxclient: marshal send body: %w", err)
	}

	status, data, err := c.invoke(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return nil, err
	}
	msg, err := decodeDataWrapper[MessageResponse](data)
	if err != nil {
		// The provider accepted the message; an unreadable body does not change that.
		c.logger.Warn("telnyx response body unreadable", "status", status, "error", err)
		msg = &MessageResponse{}
	}
	return &SendResponse{StatusCode: status, Message: *msg}, nil
}

// VerifyWebhookSignature validates an HMAC-SHA256 signature over "timestamp.payload".
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	return VerifySignature(c.webhookSecret, timestamp, signature, payload, c.maxSkew, time.Now())
}

// VerifySignature is the standalone form of Client.VerifyWebhookSignature.
func VerifySignature(secret, timestamp, signature string, payload []byte, maxSkew time.Duration, now time.Time) error {
	if secret == "" {
		return errors.New("telnyxclient: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telnyxclient: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telnyxclient: invalid signature timestamp: %w", err)
	}
	if diff := now.Sub(time.Unix(sec, 0)); diff > maxSkew || diff < -maxSkew {
		return fmt.Errorf("telnyxclient: signature timestamp skew %s exceeds limit", diff)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telnyxclient: missing signature header")
	}
	if !hmac.Equal([]byte(Sign(secret, ts, payload)), []byte(actual)) {
		return errors.New("telnyxclient: signature mismatch")
	}
	return nil
}

// SignatureVerifier checks webhook signatures without needing API credentials.
type SignatureVerifier struct {
	Secret  string
	MaxSkew time.Duration
	Now     func() time.Time
}

// VerifyWebhookSignature implements the same check as Client.VerifyWebhookSignature.
func (v SignatureVerifier) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	maxSkew := v.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return VerifySignature(v.Secret, timestamp, signature, payload, maxSkew, now())
}

// Sign computes the hex signature for a timestamp and payload.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) invoke(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("telnyxclient: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, fmt.Errorf("telnyxclient: http error: %w", err)
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			c.logger.Warn("telnyx response read failed", "path", path, "error", readErr)
		}
		return resp.StatusCode, data, nil
	}
	return resp.StatusCode, nil, decodeAPIError(resp.StatusCode, resp.Header.Get("Retry-After"), data)
}

// APIError is a non-2xx Telnyx answer.
type APIError struct {
	StatusCode int    `json:"-"`
	RetryAfter string `json:"-"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Code       string `json:"code,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("telnyxclient: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("telnyxclient: http status %d", e.StatusCode)
}

func decodeAPIError(status int, retryAfter string, body []byte) error {
	apiErr := &APIError{StatusCode: status, RetryAfter: strings.TrimSpace(retryAfter)}
	var wrapper struct {
		Errors []APIError `json:"errors"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && len(wrapper.Errors) > 0 {
		apiErr.Title = wrapper.Errors[0].Title
		apiErr.Detail = wrapper.Errors[0].Detail
		apiErr.Code = wrapper.Errors[0].Code
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(body))
	return apiErr
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
