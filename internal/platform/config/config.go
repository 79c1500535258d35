package config

import (
	"os"
	"strings"
	"time"
)

// Server captures everything main needs to wire the gateway. Values are read
// once at startup and injected at construction time; nothing reads the
// environment mid-request.
type Server struct {
	Addr          string
	JWTSigningKey string

	// DatabaseURL selects the postgres ledger when set; empty falls back to
	// the in-memory store (dev mode).
	DatabaseURL string
	// RedisURL enables the distributed provisioning lock when set.
	RedisURL string
	// KafkaBrokers enables the Kafka audit publisher when non-empty.
	KafkaBrokers []string
	AuditTopic   string

	Processor Processor
}

// Processor holds the payment-processor integration settings.
type Processor struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	// ReturnURL and RefreshURL are where the processor sends the user after
	// finishing or abandoning onboarding.
	ReturnURL  string
	RefreshURL string
	Timeout    time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CONNECT_GATEWAY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		for _, b := range strings.Split(raw, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	topic := os.Getenv("AUDIT_TOPIC")
	if topic == "" {
		topic = "connect-gateway.audit"
	}

	baseURL := os.Getenv("PROCESSOR_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.processor.example"
	}
	returnURL := os.Getenv("ONBOARDING_RETURN_URL")
	if returnURL == "" {
		returnURL = "https://app.example.com/payment-setup?success=true"
	}
	refreshURL := os.Getenv("ONBOARDING_REFRESH_URL")
	if refreshURL == "" {
		refreshURL = "https://app.example.com/payment-setup?refresh=true"
	}

	return Server{
		Addr:          addr,
		JWTSigningKey: jwtSigningKey,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  brokers,
		AuditTopic:    topic,
		Processor: Processor{
			BaseURL:       baseURL,
			APIKey:        os.Getenv("PROCESSOR_API_KEY"),
			WebhookSecret: os.Getenv("PROCESSOR_WEBHOOK_SECRET"),
			ReturnURL:     returnURL,
			RefreshURL:    refreshURL,
			Timeout:       15 * time.Second,
		},
	}
}
