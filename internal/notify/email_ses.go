package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESGateway delivers email via AWS SES. The SES client should be built with
// retries disabled so each attempt is a single call.
type SESGateway struct {
	client    sesAPI
	fromEmail string
	fromName  string
	logger    *logging.Logger
}

// SESConfig holds configuration for AWS SES.
type SESConfig struct {
	FromEmail string
	FromName  string
}

// NewSESGateway creates an SES gateway, or nil without a client.
func NewSESGateway(client *sesv2.Client, cfg SESConfig, logger *logging.Logger) *SESGateway {
	if client == nil {
		return nil
	}
	return newSESGateway(client, cfg, logger)
}

func newSESGateway(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESGateway {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = "Messaging Service"
	}
	return &SESGateway{
		client:    client,
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger,
	}
}

var _ messaging.Gateway = (*SESGateway)(nil)

// Deliver sends through SES. HTTP error responses become a SendResult with
// their status code; only transport failures are returned as errors.
func (s *SESGateway) Deliver(ctx context.Context, msg *messaging.Message) (messaging.SendResult, error) {
	if s == nil || s.client == nil {
		return messaging.SendResult{}, fmt.Errorf("notify: SES client not configured")
	}
	email := buildEmail(msg, s.fromEmail, s.fromName)

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", email.FromName, email.From)),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(email.Subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{},
			},
		},
	}
	if email.Body != "" {
		input.Content.Simple.Body.Text = &types.Content{
			Data:    aws.String(email.Body),
			Charset: aws.String("UTF-8"),
		}
	}
	if email.HTML != "" {
		input.Content.Simple.Body.Html = &types.Content{
			Data:    aws.String(email.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() > 0 {
			result := messaging.SendResult{StatusCode: respErr.HTTPStatusCode()}
			if respErr.Response != nil && respErr.Response.Response != nil {
				result.RetryAfter = messaging.ParseRetryAfter(respErr.Response.Header.Get("Retry-After"))
			}
			s.logger.Warn("SES rejected message", "status", result.StatusCode, "error", err, "message_id", msg.ID)
			return result, nil
		}
		s.logger.Error("SES send failed", "error", err, "message_id", msg.ID)
		return messaging.SendResult{}, fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Info("email sent via SES", "message_id", msg.ID, "provider_message_id", aws.ToString(output.MessageId))
	return messaging.SendResult{StatusCode: http.StatusOK, ProviderMessageID: aws.ToString(output.MessageId)}, nil
}
