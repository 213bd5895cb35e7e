// Package main runs the reference onboarding backend.
//
// Without ONBOARD_PG_HOST accounts are kept in memory, and without EMAIL_HOST
// one-time codes are written to the log. Set OTP_STATIC_CODE to make every
// code predictable for local demos.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-onboard/pkg/config"
	"github.com/tendant/simple-onboard/pkg/devbackend"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
)

type Config struct {
	AppConfig app.AppConfig
	Backend   config.BackendConfig
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed reading config", "err", err)
		os.Exit(-1)
	}
	if err := cfg.Backend.Validate(); err != nil {
		slog.Error("Invalid backend configuration", "err", err)
		os.Exit(-1)
	}
	durations, err := cfg.Backend.ParseDurations()
	if err != nil {
		slog.Error("Invalid durations", "err", err)
		os.Exit(-1)
	}

	ctx := context.Background()
	repo, err := accountRepository(ctx, cfg.Backend.Database)
	if err != nil {
		slog.Error("Failed creating account repository", "err", err)
		os.Exit(-1)
	}
	accounts := devbackend.NewAccountService(repo)

	notifications, err := notificationManager(cfg.Backend.Email)
	if err != nil {
		slog.Error("Failed creating notification manager", "err", err)
		os.Exit(-1)
	}

	jwt := cfg.Backend.JWT
	tokens := devbackend.NewTokenIssuer(jwt.Secret,
		devbackend.WithIssuer(jwt.Issuer),
		devbackend.WithAudience(jwt.Audience),
		devbackend.WithTokenTTL(durations.AccessToken, durations.RefreshToken),
	)

	var generator devbackend.CodeGenerator = devbackend.NewTOTPGenerator(cfg.Backend.OTP.Digits, durations.OTPTTL)
	if cfg.Backend.OTP.StaticCode != "" {
		slog.Warn("Using a static one-time code, do not run this in production")
		generator = devbackend.StaticCodeGenerator{Code: cfg.Backend.OTP.StaticCode}
	}
	otpService := devbackend.NewOTPService(accounts, tokens, notifications,
		devbackend.WithCodeTTL(durations.OTPTTL),
		devbackend.WithSendInterval(durations.OTPInterval),
		devbackend.WithCodeGenerator(generator),
	)

	wa := cfg.Backend.WebAuthn
	var rp devbackend.RelyingParty
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPID:          wa.RPID,
		RPDisplayName: wa.RPDisplayName,
		RPOrigins:     wa.RPOrigins,
	})
	if err != nil {
		// Enrollment answers server_misconfigured; the rest of the flow still works
		slog.Error("Failed creating webauthn relying party", "rp_id", wa.RPID, "err", err)
	} else {
		rp = webAuthn
	}
	enrollment := devbackend.NewEnrollmentService(rp, accounts, devbackend.WithEnrollmentTTL(durations.EnrollmentTTL))

	tokenAuth := jwtauth.New("HS256", []byte(jwt.Secret), nil)
	handle := devbackend.NewHandle(accounts, otpService, devbackend.NewSkillCatalog(devbackend.DefaultSkills), enrollment, tokenAuth,
		devbackend.WithRateLimit(ratelimit.NewMiddleware(cfg.Backend.RateLimit.ToMiddlewareConfig())),
	)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	handle.Routes(server.R)

	slog.Info("Onboarding backend ready",
		"database", cfg.Backend.Database.Enabled(),
		"smtp", cfg.Backend.Email.Enabled(),
		"rp_id", wa.RPID,
		"rate_limit", cfg.Backend.RateLimit.Enabled,
	)
	server.Run()
}

func accountRepository(ctx context.Context, db config.DatabaseConfig) (devbackend.AccountRepository, error) {
	if !db.Enabled() {
		slog.Info("No database configured, accounts are kept in memory")
		return devbackend.NewInMemoryAccountRepository(), nil
	}

	dbConfig := db.ToDbConfig()
	pool, err := dbutils.NewDbPool(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed creating dbpool", "db", dbConfig.Database, "host", dbConfig.Host, "port", dbConfig.Port, "user", dbConfig.User)
		return nil, err
	}
	repo := devbackend.NewPostgresAccountRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func notificationManager(email config.EmailConfig) (*notification.NotificationManager, error) {
	if email.Enabled() {
		return notification.NewNotificationManagerWithOptions(
			notification.WithSMTP(email.ToSMTPConfig()),
			notification.WithOTPCodeTemplate(notification.EmailSystem),
		)
	}
	slog.Info("No SMTP host configured, one-time codes are logged")
	return notification.NewNotificationManagerWithOptions(
		notification.WithNotifier(notification.LogSystem, notification.NewLogNotifier(slog.Default())),
		notification.WithOTPCodeTemplate(notification.LogSystem),
	)
}
