// Package errors provides structured error handling with error codes for simple-onboard.
//
// Every failure in the onboarding flow is handled at the step boundary and surfaced
// as a single human-readable message plus an optional inline field. The coded
// Error type carries both, so callers never have to parse error strings.
//
// # Basic Usage
//
//	import "github.com/tendant/simple-onboard/pkg/errors"
//
//	// Local validation, bound to an input field
//	err := errors.Validation("confirm_password", "Passwords do not match")
//
//	// Wrap a transport failure
//	err := errors.Network(httpErr)
//
//	// Inspect
//	if errors.IsCode(err, errors.ErrCodeConflict) {
//		field := errors.FieldOf(err)     // "email"
//		msg := errors.UserMessage(err)   // "An account with this email already exists"
//	}
//
// # Error Codes
//
// Local input:
//   - ErrCodeValidationFailed, ErrCodeMissingRequired, ErrCodeFieldFrozen
//
// Remote submission:
//   - ErrCodeConflict, ErrCodeSubmission, ErrCodeNetwork, ErrCodeRateLimitExceeded
//
// Verification:
//   - ErrCodeInvalidCode
//
// Passkey enrollment:
//   - ErrCodeUnsupportedPlatform, ErrCodeUnauthenticated, ErrCodeChallengeExpired,
//     ErrCodeDataFormat, ErrCodeServerConfiguration, ErrCodeUserCancelled
//
// Flow control:
//   - ErrCodeInFlight, ErrCodeStaleResponse, ErrCodeInvalidTransition, ErrCodeTerminal
//
// None of these is fatal: every code leaves the user able to retry, go back,
// or skip an optional step.
//
// # HTTP Mapping
//
// MapErrorCodeToHTTPStatus is used by the reference backend to choose response
// statuses; MapHTTPStatusToErrorCode is its inverse, used by the API client when
// a response body carries no explicit code.
package errors
