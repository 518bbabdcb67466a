package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string
	APIJWTSecret   string

	// Delivery pipeline
	MaxSendAttempts        int
	SendBaseDelay          time.Duration
	SendMaxDelay           time.Duration
	UnknownStatusAsSuccess bool
	AttemptLease           time.Duration
	ReconcileInterval      time.Duration
	ReconcileGrace         time.Duration
	ReconcileBatchSize     int
	DeliveryQueueURL       string

	// Providers
	SMSProvider              string
	EmailProvider            string
	ProviderTimeout          time.Duration
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxBaseURL            string
	TelnyxWebhookSecret      string
	TwilioAccountSID         string
	TwilioAuthToken          string
	SendGridAPIKey           string
	EmailFromAddress         string
	EmailFromName            string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	ParticipantCacheTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		APIJWTSecret:   getEnv("API_JWT_SECRET", ""),

		MaxSendAttempts:        getEnvAsInt("MAX_SEND_ATTEMPTS", 3),
		SendBaseDelay:          getEnvAsSeconds("SEND_BASE_DELAY", 3*time.Second),
		SendMaxDelay:           getEnvAsSeconds("SEND_MAX_DELAY", 24*time.Hour),
		UnknownStatusAsSuccess: getEnvAsBool("UNKNOWN_STATUS_AS_SUCCESS", true),
		AttemptLease:           getEnvAsSeconds("DELIVERY_ATTEMPT_LEASE", 2*time.Minute),
		ReconcileInterval:      getEnvAsSeconds("RECONCILE_INTERVAL", time.Minute),
		ReconcileGrace:         getEnvAsSeconds("RECONCILE_GRACE", 2*time.Minute),
		ReconcileBatchSize:     getEnvAsInt("RECONCILE_BATCH_SIZE", 100),
		DeliveryQueueURL:       getEnv("DELIVERY_QUEUE_URL", ""),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		EmailProvider:            strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		ProviderTimeout:          getEnvAsSeconds("PROVIDER_TIMEOUT", 10*time.Second),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxBaseURL:            getEnv("TELNYX_BASE_URL", ""),
		TelnyxWebhookSecret:      getEnv("TELNYX_WEBHOOK_SECRET", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Messaging Service"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		ParticipantCacheTTL: getEnvAsSeconds("PARTICIPANT_CACHE_TTL", time.Hour),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsSeconds accepts either a bare number of seconds ("3") or a Go duration ("1m30s").
func getEnvAsSeconds(key string, defaultValue time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		if secs < 0 {
			return defaultValue
		}
		return time.Duration(secs) * time.Second
	}
	return getEnvAsDuration(key, defaultValue)
}
