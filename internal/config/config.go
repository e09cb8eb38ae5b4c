package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "COACH"

type Config struct {
	StoreProvider string `envconfig:"STORE_PROVIDER" default:"postgres"`

	DBUser  string `envconfig:"POSTGRES_USER"`
	DBPass  string `envconfig:"POSTGRES_PASSWORD"`
	DBHost  string `envconfig:"POSTGRES_HOST"`
	DBPort  string `envconfig:"POSTGRES_PORT" default:"5432"`
	DBName  string `envconfig:"POSTGRES_DB"`
	SSLMode string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	MongoURI string `envconfig:"MONGO_URI"`
	MongoDB  string `envconfig:"MONGO_DB" default:"coachpay"`

	RedisHost string        `envconfig:"REDIS_HOST"`
	RedisPort string        `envconfig:"REDIS_PORT" default:"6379"`
	ClaimTTL  time.Duration `envconfig:"CLAIM_TTL" default:"30s"`

	BusProvider    string `envconfig:"BUS_PROVIDER" default:"nats"`
	WorkerProvider string `envconfig:"WORKER_PROVIDER"`
	NatsHost       string `envconfig:"NATS_HOST"`
	NatsPort       string `envconfig:"NATS_PORT" default:"4222"`
	GRPCHost       string `envconfig:"GRPC_HOST"`
	GRPCPort       string `envconfig:"GRPC_PORT"`
	GRPCListen     string `envconfig:"GRPC_LISTEN" default:":50051"`

	ApiEnabled string `envconfig:"API_ENABLED" default:"true"`
	ApiPort    string `envconfig:"API_PORT" default:"8080"`

	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"text"`
	OtelEndpoint string `envconfig:"OTEL_ENDPOINT"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"coachpay"`

	Providers Providers `ignored:"true"`
}

// Providers holds third-party credentials. None of them are required at
// start-up; a missing value surfaces as a configuration error on the request
// that needs it.
type Providers struct {
	JWTSecret string `envconfig:"JWT_SECRET"`

	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeSuccessURL    string `envconfig:"STRIPE_SUCCESS_URL"`
	StripeCancelURL     string `envconfig:"STRIPE_CANCEL_URL"`

	RazorpayKeyID         string `envconfig:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string `envconfig:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string `envconfig:"RAZORPAY_WEBHOOK_SECRET"`

	CalendlySigningKey string `envconfig:"CALENDLY_WEBHOOK_SIGNING_KEY"`

	MailchimpAPIKey     string `envconfig:"MAILCHIMP_API_KEY"`
	MailchimpServer     string `envconfig:"MAILCHIMP_SERVER_PREFIX"`
	MailchimpAudienceID string `envconfig:"MAILCHIMP_AUDIENCE_ID"`

	WelcomeTemplate string `envconfig:"WELCOME_TEMPLATE" default:"welcome"`
}

// New loads and validates configuration from environment variables (and a
// .env file when present). Infrastructure settings are validated here;
// provider credentials are not.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := envconfig.Process(envPrefix, &cfg.Providers); err != nil {
		return nil, fmt.Errorf("parse provider env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreProvider {
	case "postgres":
		if c.DBUser == "" || c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("missing required env for database: COACH_POSTGRES_USER/HOST/DB")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("missing required env for mongo store: COACH_MONGO_URI")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid store provider %q, must be 'postgres', 'mongo' or 'memory'", c.StoreProvider)
	}

	if c.BusProvider != "nats" && c.BusProvider != "grpc" && c.BusProvider != "none" {
		return fmt.Errorf("invalid bus provider %q, must be 'nats', 'grpc' or 'none'", c.BusProvider)
	}
	// Worker provider defaults to the bus provider.
	if c.WorkerProvider == "" {
		c.WorkerProvider = c.BusProvider
	}
	if c.BusProvider == "nats" && c.NatsHost == "" {
		return fmt.Errorf("missing required env for nats bus: COACH_NATS_HOST")
	}
	if c.BusProvider == "grpc" && (c.GRPCHost == "" || c.GRPCPort == "") {
		return fmt.Errorf("missing required env for grpc bus: COACH_GRPC_HOST/PORT")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// RedisAddr returns "" when the claim guard is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if COACH_API_ENABLED != "true"; callers skip the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if c.ApiEnabled == "true" {
		if c.ApiPort == "" {
			return "", fmt.Errorf("COACH_API_PORT is required when COACH_API_ENABLED=true")
		}
		return ":" + c.ApiPort, nil
	}
	return "", fmt.Errorf("HTTP API is disabled (COACH_API_ENABLED != true)")
}
