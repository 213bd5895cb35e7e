package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// WebAuthnConfig describes the relying party passkeys are enrolled with
type WebAuthnConfig struct {
	RPID          string   `env:"WEBAUTHN_RP_ID" env-default:"localhost"`
	RPDisplayName string   `env:"WEBAUTHN_RP_DISPLAY_NAME" env-default:"Simple Onboard"`
	RPOrigins     []string `env:"WEBAUTHN_RP_ORIGINS" env-default:"http://localhost:4000"`
	// EnrollmentTTL bounds the time between issuing options and completing enrollment
	EnrollmentTTL string `env:"WEBAUTHN_ENROLLMENT_TTL" env-default:"PT5M"`
}

// OTPConfig controls the codes mailed by the backend
type OTPConfig struct {
	Digits      int    `env:"OTP_DIGITS" env-default:"6"`
	TTL         string `env:"OTP_TTL" env-default:"PT10M"`
	MinInterval string `env:"OTP_MIN_INTERVAL" env-default:"PT30S"`
	// StaticCode replaces generated codes; for local demos only
	StaticCode string `env:"OTP_STATIC_CODE"`
}

// BackendConfig configures the reference backend
type BackendConfig struct {
	JWT       JWTConfig
	Email     EmailConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	WebAuthn  WebAuthnConfig
	OTP       OTPConfig
}

// Durations holds the parsed ISO 8601 durations of a BackendConfig
type Durations struct {
	AccessToken   time.Duration
	RefreshToken  time.Duration
	OTPTTL        time.Duration
	OTPInterval   time.Duration
	EnrollmentTTL time.Duration
}

// ParseDurations parses every duration setting
func (c BackendConfig) ParseDurations() (Durations, error) {
	var d Durations
	var err error
	for _, p := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"ACCESS_TOKEN_EXPIRY", c.JWT.AccessTokenExpiry, &d.AccessToken},
		{"REFRESH_TOKEN_EXPIRY", c.JWT.RefreshTokenExpiry, &d.RefreshToken},
		{"OTP_TTL", c.OTP.TTL, &d.OTPTTL},
		{"OTP_MIN_INTERVAL", c.OTP.MinInterval, &d.OTPInterval},
		{"WEBAUTHN_ENROLLMENT_TTL", c.WebAuthn.EnrollmentTTL, &d.EnrollmentTTL},
	} {
		if *p.dst, err = ParseDuration(p.value); err != nil {
			return d, fmt.Errorf("invalid %s %q: %w", p.name, p.value, err)
		}
	}
	return d, nil
}

// Validate checks the backend configuration
func (c BackendConfig) Validate() error {
	return Validate(
		c.JWT.validate,
		c.Email.validate,
		c.Database.validate,
		c.RateLimit.validate,
		func() ValidationErrors {
			errs := CollectErrors(
				RequireNonEmpty("WEBAUTHN_RP_ID", c.WebAuthn.RPID),
				RequireNonEmptySlice("WEBAUTHN_RP_ORIGINS", c.WebAuthn.RPOrigins),
				RequirePositive("OTP_DIGITS", c.OTP.Digits),
				WhenSet(c.OTP.StaticCode, func() *ValidationError {
					if IsProduction() {
						return &ValidationError{Field: "OTP_STATIC_CODE", Message: "must not be set in production"}
					}
					if len(c.OTP.StaticCode) != c.OTP.Digits {
						return &ValidationError{Field: "OTP_STATIC_CODE", Message: fmt.Sprintf("must have %d digits", c.OTP.Digits)}
					}
					return nil
				}),
			)
			if _, err := c.ParseDurations(); err != nil {
				errs = append(errs, ValidationError{Field: "durations", Message: err.Error()})
			}
			return errs
		},
	)
}

// LoadBackendConfig reads the backend configuration from the environment
func LoadBackendConfig() (BackendConfig, error) {
	var cfg BackendConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to read backend config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
