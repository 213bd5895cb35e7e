package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ClientConfig configures the onboarding client
type ClientConfig struct {
	APIBaseURL string        `env:"ONBOARD_API_URL" env-default:"http://localhost:4000"`
	Timeout    time.Duration `env:"ONBOARD_HTTP_TIMEOUT" env-default:"15s"`
	SessionDir string        `env:"ONBOARD_SESSION_DIR" env-default:".onboard"`
	// Origin is reported by the software authenticator in its client data
	Origin         string `env:"ONBOARD_ORIGIN" env-default:"http://localhost:4000"`
	ResendInterval string `env:"ONBOARD_OTP_RESEND_INTERVAL" env-default:"PT30S"`
	UserAgent      string `env:"ONBOARD_USER_AGENT"`
}

// ParseResendInterval parses the minimum time between two code sends
func (c ClientConfig) ParseResendInterval() (time.Duration, error) {
	return ParseDuration(c.ResendInterval)
}

// Validate checks the client configuration
func (c ClientConfig) Validate() error {
	return Validate(func() ValidationErrors {
		errs := CollectErrors(
			RequireValidURL("ONBOARD_API_URL", c.APIBaseURL),
			RequireValidURL("ONBOARD_ORIGIN", c.Origin),
			RequirePositiveDuration("ONBOARD_HTTP_TIMEOUT", c.Timeout),
			RequireNonEmpty("ONBOARD_SESSION_DIR", c.SessionDir),
		)
		if _, err := c.ParseResendInterval(); err != nil {
			errs = append(errs, ValidationError{Field: "ONBOARD_OTP_RESEND_INTERVAL", Message: err.Error()})
		}
		return errs
	})
}

// LoadClientConfig reads the client configuration from the environment
func LoadClientConfig() (ClientConfig, error) {
	var cfg ClientConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read client config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
