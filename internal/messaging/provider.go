package messaging

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/messaging-service/internal/messaging/telnyxclient"
	"github.com/wolfman30/messaging-service/pkg/logging"
)

const (
	// SMSProviderAuto tries Telnyx first, then Twilio.
	SMSProviderAuto = "auto"
	// SMSProviderTelnyx forces the Telnyx gateway when credentials exist.
	SMSProviderTelnyx = "telnyx"
	// SMSProviderTwilio forces the Twilio gateway when credentials exist.
	SMSProviderTwilio = "twilio"
	// SMSProviderStub logs messages instead of sending them.
	SMSProviderStub = "stub"
)

// ProviderSelectionConfig captures the credentials required to build the sms gateway.
type ProviderSelectionConfig struct {
	Preference       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TelnyxBaseURL    string
	TwilioAccountSID string
	TwilioAuthToken  string
	Timeout          time.Duration
}

// BuildSMSGateway instantiates the sms/mms gateway for the preferred provider.
// It returns the gateway, the provider that was selected, and a reason when no
// provider could be initialized.
func BuildSMSGateway(cfg ProviderSelectionConfig, logger *logging.Logger) (Gateway, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}
	if preference == SMSProviderStub {
		return NewStubGateway(string(ChannelSMS), logger), SMSProviderStub, ""
	}

	missing := map[string]string{}
	var telnyxGateway, twilioGateway Gateway

	if cfg.TelnyxAPIKey != "" && cfg.TelnyxProfileID != "" {
		client, err := telnyxclient.New(telnyxclient.Config{
			BaseURL:            cfg.TelnyxBaseURL,
			APIKey:             cfg.TelnyxAPIKey,
			MessagingProfileID: cfg.TelnyxProfileID,
			Timeout:            cfg.Timeout,
			Logger:             logger.Logger,
		})
		if err != nil {
			missing[SMSProviderTelnyx] = err.Error()
		} else {
			telnyxGateway = NewTelnyxGateway(client, logger)
		}
	} else {
		var reasons []string
		if cfg.TelnyxAPIKey == "" {
			reasons = append(reasons, "TELNYX_API_KEY missing")
		}
		if cfg.TelnyxProfileID == "" {
			reasons = append(reasons, "TELNYX_MESSAGING_PROFILE_ID missing")
		}
		missing[SMSProviderTelnyx] = strings.Join(reasons, ", ")
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilioGateway = NewTwilioGateway(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.Timeout, logger)
	} else {
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		missing[SMSProviderTwilio] = strings.Join(reasons, ", ")
	}

	if preference != SMSProviderAuto {
		if preference == SMSProviderTelnyx && telnyxGateway != nil {
			return telnyxGateway, SMSProviderTelnyx, ""
		}
		if preference == SMSProviderTwilio && twilioGateway != nil {
			return twilioGateway, SMSProviderTwilio, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s gateway not configured", preference)
		}
		return nil, "", reason
	}

	if telnyxGateway != nil && twilioGateway != nil {
		return NewFailoverGateway(telnyxGateway, SMSProviderTelnyx, twilioGateway, SMSProviderTwilio, logger), SMSProviderTelnyx + "+" + SMSProviderTwilio, ""
	}
	if telnyxGateway != nil {
		return telnyxGateway, SMSProviderTelnyx, ""
	}
	if twilioGateway != nil {
		return twilioGateway, SMSProviderTwilio, ""
	}

	var reasons []string
	for _, provider := range []string{SMSProviderTelnyx, SMSProviderTwilio} {
		if msg := missing[provider]; msg != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", provider, msg))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no SMS providers configured")
	}
	return nil, "", strings.Join(reasons, "; ")
}
