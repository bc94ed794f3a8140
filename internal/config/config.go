// Package config defines the global configuration structure for the
// RelayPoint handlers. Configuration is loaded once at process
// initialization (Lambda cold start) and is immutable thereafter; components
// receive only the specific config subsets they require.
package config

import (
	"time"

	"relaypoint/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"relaypoint"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	AWS       AWSConfig
	Mail      MailConfig
	Push      PushConfig
	Identity  IdentityConfig
	Billing   BillingConfig
	Limits    LimitsConfig
	Broadcast BroadcastConfig
}

// ServerConfig holds HTTP server settings for the callable API.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`

	// AdminTokenHash is the bcrypt hash of the shared admin service token.
	// Privileged callable actions additionally require an admin role lookup.
	AdminTokenHash SecretString `envconfig:"ADMIN_TOKEN_HASH"`
}

// DatabaseConfig holds document-store connection and pool parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	MailQueue    string `envconfig:"SQS_MAIL_REQUESTS"`
	PushQueue    string `envconfig:"SQS_PUSH_REQUESTS"`
	BillingQueue string `envconfig:"SQS_BILLING_EVENTS"`

	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"RelayPoint"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// MailConfig holds outbound mail transport settings.
type MailConfig struct {
	APIKey      SecretString `envconfig:"MAIL_API_KEY"`
	FromAddress string       `envconfig:"MAIL_FROM_ADDRESS" default:"no-reply@relaypoint.app"`
	FromName    string       `envconfig:"MAIL_FROM_NAME" default:"RelayPoint"`
	BaseURL     string       `envconfig:"MAIL_API_BASE_URL"`
}

// PushConfig holds push-messaging transport settings.
type PushConfig struct {
	ProjectID    string       `envconfig:"PUSH_PROJECT_ID"`
	APIKey       SecretString `envconfig:"PUSH_API_KEY"`
	BaseURL      string       `envconfig:"PUSH_API_BASE_URL"`
	DefaultTopic string       `envconfig:"PUSH_DEFAULT_TOPIC" default:"all_users"`
	ChannelID    string       `envconfig:"PUSH_ANDROID_CHANNEL_ID" default:"relaypoint_general"`
}

// IdentityConfig holds authentication-provider settings.
type IdentityConfig struct {
	APIKey  SecretString `envconfig:"IDENTITY_API_KEY"`
	BaseURL string       `envconfig:"IDENTITY_API_BASE_URL"`
}

// BillingConfig holds the billing webhook source credentials.
type BillingConfig struct {
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

// LimitsConfig holds the governor's rate and volume ceilings.
type LimitsConfig struct {
	// DailyMailCap is the per-recipient calendar-day ceiling on mail
	// requests created (not just sent).
	DailyMailCap int `envconfig:"LIMIT_DAILY_MAIL_CAP" default:"10"`

	// CooldownWindow applies to cooldown-designated kinds (payment_failed).
	CooldownWindow time.Duration `envconfig:"LIMIT_COOLDOWN_WINDOW" default:"24h"`

	// IntakeBurstCap is the rolling-hour ceiling on public-intake records
	// from one logical source before quarantine.
	IntakeBurstCap int `envconfig:"LIMIT_INTAKE_BURST_CAP" default:"10"`

	// OTPBurstCap is the rolling-hour ceiling on OTP records per address.
	OTPBurstCap int `envconfig:"LIMIT_OTP_BURST_CAP" default:"5"`
}

// BroadcastConfig holds broadcast-email settings.
type BroadcastConfig struct {
	// TestRecipient is the fallback address for waitlist test sends when the
	// request body names none.
	TestRecipient string `envconfig:"BROADCAST_TEST_RECIPIENT"`
}
