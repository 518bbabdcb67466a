package messaging

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/messaging-service/internal/messaging/telnyxclient"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("messaging.internal.messaging.telnyx_send")

// TelnyxGateway delivers sms and mms through the Telnyx V2 API.
type TelnyxGateway struct {
	client *telnyxclient.Client
	logger *logging.Logger
}

// NewTelnyxGateway wraps a configured Telnyx client.
func NewTelnyxGateway(client *telnyxclient.Client, logger *logging.Logger) *TelnyxGateway {
	if client == nil {
		panic("messaging: telnyx client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxGateway{client: client, logger: logger}
}

var _ Gateway = (*TelnyxGateway)(nil)

// Deliver makes one send call. Provider rejections come back as a SendResult, not an error.
func (g *TelnyxGateway) Deliver(ctx context.Context, msg *Message) (SendResult, error) {
	if msg == nil {
		return SendResult{}, errors.New("messaging: message required")
	}
	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.message_id", msg.ID.String()),
		attribute.String("messaging.channel", string(msg.Channel)),
	)

	req := telnyxclient.SendMessageRequest{
		From: msg.From.Address,
		To:   msg.To.Address,
		Body: msg.Body,
	}
	if msg.Channel == ChannelMMS {
		req.MediaURLs = msg.AttachmentURLs()
	}

	resp, err := g.client.SendMessage(ctx, req)
	var apiErr *telnyxclient.APIError
	switch {
	case errors.As(err, &apiErr):
		span.SetAttributes(attribute.Int("http.status_code", apiErr.StatusCode))
		g.logger.Warn("telnyx rejected message", "message_id", msg.ID, "status_code", apiErr.StatusCode, "error", apiErr)
		return SendResult{StatusCode: apiErr.StatusCode, RetryAfter: ParseRetryAfter(apiErr.RetryAfter)}, nil
	case err != nil:
		span.RecordError(err)
		return SendResult{}, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	g.logger.Info("telnyx sms sent", "message_id", msg.ID, "provider_message_id", resp.Message.ID)
	return SendResult{StatusCode: resp.StatusCode, ProviderMessageID: strings.TrimSpace(resp.Message.ID)}, nil
}
