package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	AIConfigCacheTTL time.Duration

	UseMemoryQueue       bool
	WorkerCount          int
	ConversationQueueURL string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// WhatsApp gateway (HTTP bridge in front of the WhatsApp Web session)
	WhatsAppGatewayURL    string
	WhatsAppGatewayToken  string
	WhatsAppWebhookSecret string
	WhatsAppSessionID     string
	DispatchTimeout       time.Duration
	WebhookRateLimit      int

	// AI gating and response generation
	GatingMode     string
	LLMProvider    string
	LLMTimeout     time.Duration
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string
	OpenAIAPIKey   string
	OpenAIModel    string

	// Clinic profile used by canned replies
	ClinicName       string
	ClinicPhone      string
	ClinicWebsite    string
	ClinicAddress    string
	ClinicBookingURL string

	// Admin API
	AdminJWTSecret     string
	AdminJWTIssuer     string
	CORSAllowedOrigins []string

	// Urgency alerts
	NATSURL               string
	NATSSubjectPrefix     string
	EmailProvider         string
	SendGridAPIKey        string
	SendGridFromEmail     string
	SendGridFromName      string
	SESFromEmail          string
	SESConfigurationSet   string
	UrgentAlertRecipients []string
	UrgentAlertPhones     []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		AIConfigCacheTTL: getEnvAsDuration("AI_CONFIG_CACHE_TTL", 30*time.Second),

		UseMemoryQueue:       getEnvAsBool("USE_MEMORY_QUEUE", true),
		WorkerCount:          getEnvAsInt("WORKER_COUNT", 4),
		ConversationQueueURL: getEnv("CONVERSATION_QUEUE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WhatsAppGatewayURL:    getEnv("WHATSAPP_GATEWAY_URL", "http://localhost:3001"),
		WhatsAppGatewayToken:  getEnv("WHATSAPP_GATEWAY_TOKEN", ""),
		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),
		WhatsAppSessionID:     getEnv("WHATSAPP_SESSION_ID", "clinic"),
		DispatchTimeout:       getEnvAsDuration("DISPATCH_TIMEOUT", 10*time.Second),
		WebhookRateLimit:      getEnvAsInt("WEBHOOK_RATE_LIMIT_PER_MIN", 600),

		GatingMode:     strings.ToLower(strings.TrimSpace(getEnv("AI_GATING_MODE", "legacy"))),
		LLMProvider:    strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "none"))),
		LLMTimeout:     getEnvAsDuration("LLM_TIMEOUT", 8*time.Second),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),

		ClinicName:       getEnv("CLINIC_NAME", "Clínica Dental"),
		ClinicPhone:      getEnv("CLINIC_PHONE", ""),
		ClinicWebsite:    getEnv("CLINIC_WEBSITE", ""),
		ClinicAddress:    getEnv("CLINIC_ADDRESS", ""),
		ClinicBookingURL: getEnv("CLINIC_BOOKING_URL", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		AdminJWTIssuer:     getEnv("ADMIN_JWT_ISSUER", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		NATSURL:               getEnv("NATS_URL", ""),
		NATSSubjectPrefix:     getEnv("NATS_SUBJECT_PREFIX", "clinicdesk"),
		EmailProvider:         strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "none"))),
		SendGridAPIKey:        getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:     getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:      getEnv("SENDGRID_FROM_NAME", "ClinicDesk"),
		SESFromEmail:          getEnv("SES_FROM_EMAIL", ""),
		SESConfigurationSet:   getEnv("SES_CONFIGURATION_SET", ""),
		UrgentAlertRecipients: getEnvAsList("URGENT_ALERT_RECIPIENTS"),
		UrgentAlertPhones:     getEnvAsList("URGENT_ALERT_PHONES"),
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

// getEnvAsList splits a comma-separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
