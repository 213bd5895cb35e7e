package config

import (
	"time"
)

// JWTConfig holds the settings of the tokens issued on email verification
type JWTConfig struct {
	Secret             string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	Issuer             string `env:"JWT_ISSUER" env-default:"simple-onboard"`
	Audience           string `env:"JWT_AUDIENCE" env-default:"simple-onboard"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" env-default:"PT15M"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" env-default:"P1D"`
}

// ParseAccessTokenExpiry parses the access token expiry duration
func (j JWTConfig) ParseAccessTokenExpiry() (time.Duration, error) {
	return ParseDuration(j.AccessTokenExpiry)
}

// ParseRefreshTokenExpiry parses the refresh token expiry duration
func (j JWTConfig) ParseRefreshTokenExpiry() (time.Duration, error) {
	return ParseDuration(j.RefreshTokenExpiry)
}

func (j JWTConfig) validate() ValidationErrors {
	var errs []*ValidationError
	errs = append(errs, RequireMinLength("JWT_SECRET", j.Secret, 16))
	for field, value := range map[string]string{
		"ACCESS_TOKEN_EXPIRY":  j.AccessTokenExpiry,
		"REFRESH_TOKEN_EXPIRY": j.RefreshTokenExpiry,
	} {
		d, err := ParseDuration(value)
		if err != nil {
			errs = append(errs, &ValidationError{Field: field, Message: err.Error()})
			continue
		}
		errs = append(errs, RequirePositiveDuration(field, d))
	}
	return CollectErrors(errs...)
}
