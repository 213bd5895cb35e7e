package devbackend

import "errors"

var (
	// ErrAccountExists is returned by repositories for a duplicate email
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned by repositories for an unknown account
	ErrAccountNotFound = errors.New("account not found")

	// ErrNoChallenge is returned when a code is verified without a pending challenge
	ErrNoChallenge = errors.New("no pending code")

	// ErrNoEnrollment is returned when enrollment completes without pending options
	ErrNoEnrollment = errors.New("no pending enrollment")
)
