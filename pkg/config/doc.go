// Package config loads the settings of the onboarding client and of the
// reference backend from the environment.
//
// # Overview
//
// Settings are plain structs tagged for cleanenv. Durations are written in
// ISO 8601 ("PT30S", "P1D") and Go form ("30s") is accepted as a fallback.
//
//	cfg, err := config.LoadClientConfig()
//	interval, _ := cfg.ParseResendInterval()
//
//	backend, err := config.LoadBackendConfig()
//	durations, _ := backend.ParseDurations()
//	smtp := backend.Email.ToSMTPConfig()
//	pool, _ := dbutils.NewDbPool(ctx, backend.Database.ToDbConfig())
//
// Load functions validate what they read and return ValidationErrors listing
// every offending variable.
//
// # Environment
//
// APP_ENV selects the deployment. In production the backend refuses
// OTP_STATIC_CODE.
package config
