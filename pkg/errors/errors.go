package errors

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes surfaced at an onboarding step boundary
const (
	// Generic errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeNetwork           ErrorCode = "NETWORK_ERROR"
	ErrCodeSubmission        ErrorCode = "SUBMISSION_FAILED"

	// Local input errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED"
	ErrCodeFieldFrozen      ErrorCode = "FIELD_FROZEN"

	// Verification errors
	ErrCodeInvalidCode ErrorCode = "INVALID_CODE"

	// Enrollment errors
	ErrCodeUnsupportedPlatform ErrorCode = "UNSUPPORTED_PLATFORM"
	ErrCodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	ErrCodeChallengeExpired    ErrorCode = "CHALLENGE_EXPIRED"
	ErrCodeDataFormat          ErrorCode = "DATA_FORMAT"
	ErrCodeServerConfiguration ErrorCode = "SERVER_CONFIGURATION"
	ErrCodeUserCancelled       ErrorCode = "USER_CANCELLED"

	// Flow control errors
	ErrCodeInFlight          ErrorCode = "IN_FLIGHT"
	ErrCodeStaleResponse     ErrorCode = "STALE_RESPONSE"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeTerminal          ErrorCode = "TERMINAL_STEP"
)

// Error represents a structured error with code, message, optional field and details
type Error struct {
	Code    ErrorCode              // Unique error code
	Message string                 // Human-readable error message
	Field   string                 // Optional input field the message belongs to
	Details map[string]interface{} // Optional additional details
	Err     error                  // Wrapped underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithField attaches the inline field the message refers to
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithDetail adds a detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	return MapErrorCodeToHTTPStatus(e.Code)
}

// New creates a new Error with the given code and message
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new Error with formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
// Returns ErrCodeInternal if the error is not a structured Error
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// GetDetails extracts the details from an error
// Returns nil if the error is not a structured Error
func GetDetails(err error) map[string]interface{} {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// UserMessage returns the single human-readable message shown for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Something went wrong. Please try again."
}

// FieldOf returns the inline field an error refers to, or "".
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// MapErrorCodeToHTTPStatus maps error codes to HTTP status codes
func MapErrorCodeToHTTPStatus(code ErrorCode) int {
	switch code {
	// 400 Bad Request
	case ErrCodeValidationFailed, ErrCodeMissingRequired, ErrCodeFieldFrozen,
		ErrCodeInvalidCode, ErrCodeChallengeExpired:
		return http.StatusBadRequest

	// 401 Unauthorized
	case ErrCodeUnauthenticated:
		return http.StatusUnauthorized

	// 404 Not Found
	case ErrCodeNotFound:
		return http.StatusNotFound

	// 409 Conflict
	case ErrCodeConflict, ErrCodeInFlight, ErrCodeInvalidTransition, ErrCodeTerminal:
		return http.StatusConflict

	// 422 Unprocessable Entity
	case ErrCodeDataFormat:
		return http.StatusUnprocessableEntity

	// 429 Too Many Requests
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	// 503 Service Unavailable
	case ErrCodeServerConfiguration, ErrCodeNetwork:
		return http.StatusServiceUnavailable

	// 500 Internal Server Error (default)
	case ErrCodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// MapHTTPStatusToErrorCode is the client-side inverse of MapErrorCodeToHTTPStatus,
// used when the response body carries no explicit code.
func MapHTTPStatusToErrorCode(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeValidationFailed
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCodeUnauthenticated
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeConflict
	case http.StatusUnprocessableEntity:
		return ErrCodeDataFormat
	case http.StatusTooManyRequests:
		return ErrCodeRateLimitExceeded
	case http.StatusServiceUnavailable:
		return ErrCodeServerConfiguration
	default:
		return ErrCodeInternal
	}
}

// Common error constructors for the onboarding taxonomy

// Validation creates a local validation error bound to an input field
func Validation(field, message string) *Error {
	return New(ErrCodeValidationFailed, message).WithField(field)
}

// MissingRequired creates an error for an empty required field
func MissingRequired(field, label string) *Error {
	return Newf(ErrCodeMissingRequired, "%s is required", label).WithField(field)
}

// FieldFrozen creates an error for edits to a field that can no longer change
func FieldFrozen(field string) *Error {
	return Newf(ErrCodeFieldFrozen, "%s can no longer be changed", field).WithField(field)
}

// Conflict creates a duplicate-resource error
func Conflict(field, message string) *Error {
	return New(ErrCodeConflict, message).WithField(field)
}

// RateLimitExceeded creates a "rate limit exceeded" error. A positive wait
// is kept as the retry_after detail in whole seconds.
func RateLimitExceeded(wait time.Duration) *Error {
	err := New(ErrCodeRateLimitExceeded, "Please wait before requesting another code.")
	if wait > 0 {
		err.WithDetail("retry_after", RetryAfterSeconds(wait))
	}
	return err
}

// RetryAfterSeconds formats wait as a Retry-After value: whole seconds, rounded up, at least 1
func RetryAfterSeconds(wait time.Duration) string {
	return strconv.Itoa(max(int(math.Ceil(wait.Seconds())), 1))
}

// InvalidCode creates a wrong or expired one-time code error
func InvalidCode(attempts int) *Error {
	return New(ErrCodeInvalidCode, "The code is invalid or has expired.").
		WithField("code").
		WithDetail("attempts", attempts)
}

// UnsupportedPlatform creates an enrollment precondition error
func UnsupportedPlatform() *Error {
	return New(ErrCodeUnsupportedPlatform, "This device does not support passkeys.")
}

// Unauthenticated creates an authentication-required error
func Unauthenticated(message string) *Error {
	return New(ErrCodeUnauthenticated, message)
}

// ChallengeExpired creates an error for an enrollment challenge the server no longer holds
func ChallengeExpired() *Error {
	return New(ErrCodeChallengeExpired, "The passkey request expired. Please try again.")
}

// DataFormat wraps a credential or response that could not be parsed
func DataFormat(err error) *Error {
	e := New(ErrCodeDataFormat, "The passkey response could not be read.")
	e.Err = err
	return e
}

// ServerConfiguration creates an error for a relying party that is not set up
func ServerConfiguration(err error) *Error {
	e := New(ErrCodeServerConfiguration, "Passkeys are not available right now.")
	e.Err = err
	return e
}

// Terminal creates an error for an action attempted after onboarding completed
func Terminal() *Error {
	return New(ErrCodeTerminal, "Onboarding is already complete.")
}

// UserCancelled creates a cancelled-by-user error
func UserCancelled(err error) *Error {
	e := New(ErrCodeUserCancelled, "Passkey creation was cancelled.")
	e.Err = err
	return e
}

// Network wraps a transport failure
func Network(err error) *Error {
	return Wrap(err, ErrCodeNetwork, "Network error. Check your connection and try again.")
}

// InFlight creates an error for re-invocation of a running operation
func InFlight(operation string) *Error {
	return Newf(ErrCodeInFlight, "%s is already in progress", operation)
}

// StaleResponse creates an error for a response that arrived after its step was left
func StaleResponse(operation string) *Error {
	return Newf(ErrCodeStaleResponse, "%s response discarded: step changed", operation)
}

// InvalidTransition creates an error for a transition the current step does not allow
func InvalidTransition(action, step string) *Error {
	return Newf(ErrCodeInvalidTransition, "cannot %s from %s", action, step)
}

// Internal creates an "internal error"
func Internal(message string) *Error {
	return New(ErrCodeInternal, message)
}

// InternalWrap wraps an internal error
func InternalWrap(err error, message string) *Error {
	return Wrap(err, ErrCodeInternal, message)
}

// Submission wraps a generic remote failure of a step submission
func Submission(err error, message string) *Error {
	return Wrap(err, ErrCodeSubmission, message)
}

// IsValidation reports whether err is a local input error
func IsValidation(err error) bool {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeMissingRequired, ErrCodeFieldFrozen:
		var e *Error
		return errors.As(err, &e)
	}
	return false
}

// Error codes carried in API error bodies
const (
	WireChallengeExpired    = "challenge_expired"
	WireInvalidAttestation  = "invalid_attestation"
	WireServerMisconfigured = "server_misconfigured"
	WireUnauthenticated     = "unauthenticated"
	WireConflict            = "conflict"
	WireRateLimited         = "rate_limited"
	WireInvalidCode         = "invalid_code"
	WireValidationFailed    = "validation_failed"
	WireNotFound            = "not_found"
	WireInternal            = "internal"
)

var wireCodes = map[string]ErrorCode{
	WireChallengeExpired:    ErrCodeChallengeExpired,
	WireInvalidAttestation:  ErrCodeDataFormat,
	WireServerMisconfigured: ErrCodeServerConfiguration,
	WireUnauthenticated:     ErrCodeUnauthenticated,
	WireConflict:            ErrCodeConflict,
	WireRateLimited:         ErrCodeRateLimitExceeded,
	WireInvalidCode:         ErrCodeInvalidCode,
	WireValidationFailed:    ErrCodeValidationFailed,
	WireNotFound:            ErrCodeNotFound,
	WireInternal:            ErrCodeInternal,
}

// FromWireCode maps an API error body code to an ErrorCode.
// The second result is false for unknown codes.
func FromWireCode(code string) (ErrorCode, bool) {
	c, ok := wireCodes[code]
	return c, ok
}

// ToWireCode maps an ErrorCode to the code written in API error bodies
func ToWireCode(code ErrorCode) string {
	for wire, c := range wireCodes {
		if c == code {
			return wire
		}
	}
	switch code {
	case ErrCodeMissingRequired, ErrCodeFieldFrozen:
		return WireValidationFailed
	}
	return WireInternal
}
