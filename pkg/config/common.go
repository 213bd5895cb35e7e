package config

import (
	"os"
	"time"

	"github.com/sosodev/duration"
)

// ParseDuration parses an ISO 8601 duration first, then a Go duration
func ParseDuration(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}

// Environment is the deployment the process runs in
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// GetEnvironment reads APP_ENV, defaulting to development
func GetEnvironment() Environment {
	switch os.Getenv("APP_ENV") {
	case "production", "prod":
		return Production
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether APP_ENV names production
func IsProduction() bool {
	return GetEnvironment() == Production
}
