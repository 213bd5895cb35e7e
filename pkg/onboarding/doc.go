// Package onboarding drives a new marketplace account from role selection to
// an authenticated session.
//
// # Overview
//
// The Controller is a state machine over six steps:
//
//	Role -> Details -> Verification -> [Skills] -> Passkey -> Complete
//
// Skills is visited by freelancers only. Every move goes through one
// transition table keyed by step and role, so the client path is
// Verification -> Passkey and Passkey retreats to Verification.
//
// The Controller owns the registration Draft. Each draft field is changed by
// the step that shows it, and role and email are frozen once the account
// exists. Navigation never clears draft fields.
//
// Details submission creates the account and sends the first code. The code
// exchange is delegated to a Verifier (otp.Manager) and the passkey step to
// an Enroller (passkey.Ceremony). Skills and Passkey can always be skipped.
//
// # Concurrency
//
// Network calls run without the controller lock held. Each one takes the
// in-flight flag and a request token with a cancellable context; a second
// call while one runs fails with ErrCodeInFlight. Retreat and Skip cancel the
// running request, and its late result is reported as ErrCodeStaleResponse
// without touching the flow.
//
// # Errors
//
// Every failure is recorded as the step error and published to the
// notification channel as one message plus an optional inline field. Use
// errors.UserMessage and errors.FieldOf, or the State snapshot, to render it.
//
// # Basic Usage
//
//	client := api.NewClient(baseURL, api.WithSessionStore(store))
//	verifier := otp.NewManager(client, sessionstore.NewBootstrapper(store))
//	ceremony := passkey.NewCeremony(adapter, client, store)
//	flow := onboarding.NewController(client, verifier, ceremony,
//	    onboarding.WithNotificationChannel(broadcaster),
//	)
//
//	flow.SelectRole(onboarding.RoleFreelancer)
//	flow.Advance(ctx)
//	flow.UpdateDetails(details)
//	flow.Advance(ctx) // creates the account and sends the code
//	flow.SubmitCode(ctx, "123456")
//	...
//	destination, _ := flow.Complete()
package onboarding
