package config

import (
	"net/http"

	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
)

// RateLimitConfig holds the backend request limits. The OTP limits apply
// per client IP to the send and resend routes on top of the per-email
// interval enforced by the OTP service.
type RateLimitConfig struct {
	Enabled         bool    `env:"RATELIMIT_ENABLED" env-default:"true"`
	PerIPCapacity   int     `env:"RATELIMIT_PER_IP_CAPACITY" env-default:"100"`
	PerIPRefillRate float64 `env:"RATELIMIT_PER_IP_REFILL_RATE" env-default:"1.67"`
	OTPCapacity     int     `env:"RATELIMIT_OTP_CAPACITY" env-default:"5"`
	OTPRefillRate   float64 `env:"RATELIMIT_OTP_REFILL_RATE" env-default:"0.017"`
	// Comma separated IPs or CIDRs of reverse proxies whose forwarding headers are believed
	TrustedProxies []string `env:"RATELIMIT_TRUSTED_PROXIES" env-separator:","`
}

// ToMiddlewareConfig converts the config to a ratelimit.Config
func (r RateLimitConfig) ToMiddlewareConfig() *ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.PerIPEnabled = r.Enabled
	cfg.PerIPCapacity = r.PerIPCapacity
	cfg.PerIPRefillRate = r.PerIPRefillRate
	cfg.TrustedProxies = r.TrustedProxies
	if r.Enabled {
		otp := ratelimit.EndpointLimit{Capacity: r.OTPCapacity, RefillRate: r.OTPRefillRate}
		cfg.EndpointLimits[http.MethodPost+" "+api.PathOTPSend] = otp
		cfg.EndpointLimits[http.MethodPost+" "+api.PathOTPResend] = otp
	}
	return cfg
}

func (r RateLimitConfig) validate() ValidationErrors {
	if !r.Enabled {
		return nil
	}
	errs := CollectErrors(
		RequirePositive("RATELIMIT_PER_IP_CAPACITY", r.PerIPCapacity),
		RequirePositive("RATELIMIT_OTP_CAPACITY", r.OTPCapacity),
	)
	for _, proxy := range r.TrustedProxies {
		if _, err := ratelimit.ParseProxy(proxy); err != nil {
			errs = append(errs, *invalid("RATELIMIT_TRUSTED_PROXIES", "invalid proxy %q", proxy))
		}
	}
	return errs
}
