package passkey

import "errors"

var (
	// ErrCancelled is returned by adapters when the user dismisses the platform prompt
	ErrCancelled = errors.New("credential prompt cancelled")

	// ErrNoEnrollment is returned when enrolling outside a begun enrollment
	ErrNoEnrollment = errors.New("no active enrollment")
)
