// Package devbackend is a reference implementation of the onboarding API.
//
// It is what cmd/devbackend serves and what the end-to-end tests run the
// client against. Accounts live in memory or in PostgreSQL, codes are emailed
// through a notification.NotificationManager and passkeys are verified with
// go-webauthn.
//
// # Routes
//
//	POST /api/v1/accounts          create an account, 409 for a taken email
//	POST /api/v1/otp/send          email a code, 429 inside the send interval
//	POST /api/v1/otp/resend        same as send
//	POST /api/v1/otp/verify        exchange a code for a session
//	GET  /api/v1/skills            list the skills catalog
//	POST /api/v1/skills            add a skill
//	POST /api/v1/passkeys/options  creation options (bearer)
//	POST /api/v1/passkeys          register the attestation (bearer)
//
// Errors are written as api.ErrorResponse with the wire code of the
// *errors.Error returned by the service.
//
// # Basic Usage
//
//	accounts := devbackend.NewAccountService(devbackend.NewInMemoryAccountRepository())
//	tokens := devbackend.NewTokenIssuer(secret)
//	otpService := devbackend.NewOTPService(accounts, tokens, notifications)
//	rp, _ := webauthn.New(&webauthn.Config{RPID: "localhost", RPDisplayName: "Onboard", RPOrigins: origins})
//	enrollment := devbackend.NewEnrollmentService(rp, accounts)
//
//	handle := devbackend.NewHandle(accounts, otpService, devbackend.NewSkillCatalog(devbackend.DefaultSkills),
//	    enrollment, jwtauth.New("HS256", []byte(secret), nil))
//	handle.Routes(router)
package devbackend
