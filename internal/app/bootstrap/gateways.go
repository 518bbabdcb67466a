package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/wolfman30/messaging-service/internal/config"
	"github.com/wolfman30/messaging-service/internal/delivery"
	"github.com/wolfman30/messaging-service/internal/messaging"
	"github.com/wolfman30/messaging-service/internal/notify"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

// BuildGateways registers the sms/mms and email gateways. Outside production a
// missing sms provider falls back to the logging stub; in production the sms
// family stays unregistered and sends fail as an unsupported channel.
func BuildGateways(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*delivery.Gateways, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	gateways := delivery.NewGateways()

	smsGateway, smsProvider, reason := messaging.BuildSMSGateway(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TelnyxBaseURL:    cfg.TelnyxBaseURL,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		Timeout:          cfg.ProviderTimeout,
	}, logger)
	switch {
	case smsGateway != nil:
		logger.Info("sms gateway configured", "provider", smsProvider)
	case !isProduction(cfg):
		logger.Warn("sms provider unavailable; using stub gateway", "reason", reason)
		smsGateway = messaging.NewStubGateway(string(messaging.ChannelSMS), logger)
	default:
		logger.Error("sms provider unavailable", "reason", reason)
	}
	if smsGateway != nil {
		gateways.Register(messaging.ChannelSMS, smsGateway)
	}

	emailGateway, emailProvider, reason := notify.BuildEmailGateway(notify.EmailSelectionConfig{
		Preference:     cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		FromEmail:      cfg.EmailFromAddress,
		FromName:       cfg.EmailFromName,
		SES:            buildSESClient(cfg, awsCfg),
	}, logger)
	if emailGateway == nil {
		logger.Error("email provider unavailable", "reason", reason)
	} else {
		logger.Info("email gateway configured", "provider", emailProvider, "note", reason)
		gateways.Register(messaging.ChannelEmail, emailGateway)
	}
	return gateways, nil
}

// buildSESClient returns an SES client when SES is requested explicitly, or in
// auto mode when AWS credentials or an endpoint override are configured. The
// SDK's own retries are disabled; the delivery machine owns retry policy.
func buildSESClient(cfg *appconfig.Config, awsCfg *aws.Config) *sesv2.Client {
	if awsCfg == nil {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EmailProvider)) {
	case notify.EmailProviderSES:
	case notify.EmailProviderAuto, "":
		if cfg.AWSAccessKeyID == "" && cfg.AWSEndpointOverride == "" {
			return nil
		}
	default:
		return nil
	}
	return sesv2.NewFromConfig(*awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	})
}

func isProduction(cfg *appconfig.Config) bool {
	env := strings.ToLower(strings.TrimSpace(cfg.Env))
	return env == "production" || env == "prod"
}
