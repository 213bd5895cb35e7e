package otp

import "errors"

var (
	// ErrNoChallenge is returned when send, resend or verify runs without an active challenge
	ErrNoChallenge = errors.New("no active verification challenge")

	// ErrEmailMismatch is returned when the email differs from the active challenge
	ErrEmailMismatch = errors.New("email does not match the active challenge")

	// ErrMissingSession is returned when the backend verified the code but issued no session
	ErrMissingSession = errors.New("verified response carried no session")
)
