// Package config loads the engine's configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries everything main() needs to wire the process. Secrets come
// in through the environment only; nothing here is ever logged verbatim.
type Config struct {
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/storefront.db"`

	// RedisAddr is optional: empty disables the tracking projection cache.
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	TrackingCacheTTL time.Duration `envconfig:"TRACKING_CACHE_TTL" default:"30s"`

	GatewayBaseURL       string        `envconfig:"GATEWAY_BASE_URL" required:"true"`
	GatewayAPIKey        string        `envconfig:"GATEWAY_API_KEY" required:"true"`
	GatewayWebhookSecret string        `envconfig:"GATEWAY_WEBHOOK_SECRET" required:"true"`
	GatewayTimeout       time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	// WebhookUnmatchedGrace is how long an event that matches no order is
	// answered with a retryable status before being dropped.
	WebhookUnmatchedGrace time.Duration `envconfig:"WEBHOOK_UNMATCHED_GRACE" default:"5m"`

	// MailAPIURL is optional: empty switches to the log-only mailer.
	MailAPIURL   string        `envconfig:"MAIL_API_URL"`
	MailAPIToken string        `envconfig:"MAIL_API_TOKEN"`
	MailFrom     string        `envconfig:"MAIL_FROM" default:"orders@localhost"`
	MailTimeout  time.Duration `envconfig:"MAIL_TIMEOUT" default:"10s"`

	Currency string `envconfig:"CURRENCY" default:"USD"`

	// TracingEnabled gates the OTLP exporter; dev setups without a
	// collector run with tracing off.
	TracingEnabled bool `envconfig:"TRACING_ENABLED" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("storefront", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}
