// Package config defines the global configuration structure for the Zenvoice
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes startup to fail
// immediately (fail fast).
package config

import (
	"time"

	"zenvoice/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the Zenvoice platform.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"zenvoice-billing"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Notify   NotifyConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// DashboardURL is the tenant dashboard base URL (no trailing slash),
	// used to construct payment redirect targets server-side.
	DashboardURL string `envconfig:"DASHBOARD_URL" validate:"required,url"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// GatewayConfig holds payment gateway credentials and plan code mappings.
type GatewayConfig struct {
	SecretKey SecretString `envconfig:"GATEWAY_SECRET_KEY" validate:"required"`
	BaseURL   string       `envconfig:"GATEWAY_BASE_URL" default:"https://api.paystack.co"`

	// Provider billing-plan codes, one per paid tier. The FREE tier has no
	// gateway plan code by design.
	EssentialsPlanCode string `envconfig:"GATEWAY_PLAN_CODE_ESSENTIALS" validate:"required"`
	BusinessPlanCode   string `envconfig:"GATEWAY_PLAN_CODE_BUSINESS" validate:"required"`

	// MockMode substitutes a deterministic in-process gateway transport at
	// wiring time. Production code paths contain no mock branches.
	MockMode bool `envconfig:"GATEWAY_MOCK_MODE" default:"false"`

	// Transport tuning.
	CallTimeout      time.Duration `envconfig:"GATEWAY_CALL_TIMEOUT" default:"20s"`
	MaxRetries       int           `envconfig:"GATEWAY_MAX_RETRIES" default:"3"`
	RetryBackoffBase time.Duration `envconfig:"GATEWAY_RETRY_BACKOFF_BASE" default:"500ms"`
}

// NotifyConfig holds the outbound notification queue settings.
type NotifyConfig struct {
	// QueueURL is the SQS queue downstream notification workers consume.
	// Empty disables publishing (decisions are still logged).
	QueueURL string `envconfig:"SQS_BILLING_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
	AWSRegion      string `envconfig:"AWS_REGION" default:"us-east-1"`
}
