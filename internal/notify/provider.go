package notify

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

const (
	EmailProviderAuto     = "auto"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
	EmailProviderStub     = "stub"
)

// EmailSelectionConfig captures what is needed to build the email gateway.
type EmailSelectionConfig struct {
	Preference     string
	SendGridAPIKey string
	FromEmail      string
	FromName       string
	SES            *sesv2.Client
}

// BuildEmailGateway picks the email gateway. Auto prefers SendGrid, then SES,
// and falls back to a logging stub so email never lacks a gateway.
func BuildEmailGateway(cfg EmailSelectionConfig, logger *logging.Logger) (messaging.Gateway, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = EmailProviderAuto
	}

	sendgridGateway := NewSendGridGateway(SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
	}, logger)
	sesGateway := NewSESGateway(cfg.SES, SESConfig{FromEmail: cfg.FromEmail, FromName: cfg.FromName}, logger)

	switch preference {
	case EmailProviderSendGrid:
		if sendgridGateway == nil {
			return nil, "", "SENDGRID_API_KEY missing"
		}
		return sendgridGateway, EmailProviderSendGrid, ""
	case EmailProviderSES:
		if sesGateway == nil {
			return nil, "", "SES client not configured"
		}
		return sesGateway, EmailProviderSES, ""
	case EmailProviderStub:
		return messaging.NewStubGateway(string(messaging.ChannelEmail), logger), EmailProviderStub, ""
	case EmailProviderAuto:
		if sendgridGateway != nil {
			return sendgridGateway, EmailProviderSendGrid, ""
		}
		if sesGateway != nil {
			return sesGateway, EmailProviderSES, ""
		}
		return messaging.NewStubGateway(string(messaging.ChannelEmail), logger), EmailProviderStub, "no email provider configured"
	default:
		return nil, "", fmt.Sprintf("unknown email provider %q", preference)
	}
}
