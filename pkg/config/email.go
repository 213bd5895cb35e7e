package config

import (
	"time"

	"github.com/jinzhu/copier"
	"github.com/tendant/simple-onboard/pkg/notification"
)

// EmailConfig holds SMTP configuration for one-time code emails.
// Host empty means codes are written to the log instead.
type EmailConfig struct {
	Host          string        `env:"EMAIL_HOST"`
	Port          int           `env:"EMAIL_PORT" env-default:"1025"`
	Username      string        `env:"EMAIL_USERNAME"`
	Password      string        `env:"EMAIL_PASSWORD"`
	From          string        `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	TLS           bool          `env:"EMAIL_TLS" env-default:"false"`
	SkipTLSVerify bool          `env:"EMAIL_SKIP_TLS_VERIFY" env-default:"false"`
	Timeout       time.Duration `env:"EMAIL_TIMEOUT" env-default:"30s"`
}

// Enabled reports whether an SMTP server was configured
func (e EmailConfig) Enabled() bool {
	return e.Host != ""
}

// ToSMTPConfig converts the config to a notification.SMTPConfig
func (e EmailConfig) ToSMTPConfig() notification.SMTPConfig {
	var smtp notification.SMTPConfig
	copier.Copy(&smtp, &e)
	return smtp
}

func (e EmailConfig) validate() ValidationErrors {
	if !e.Enabled() {
		return nil
	}
	return CollectErrors(
		RequireValidEmail("EMAIL_FROM", e.From),
		RequirePositive("EMAIL_PORT", e.Port),
	)
}
