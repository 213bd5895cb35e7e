package sessionstore

import "errors"

var (
	// ErrNoSession is returned when no authenticated session has been persisted
	ErrNoSession = errors.New("no session")

	// ErrAlreadyBootstrapped is returned when a Bootstrapper is asked to write a second session
	ErrAlreadyBootstrapped = errors.New("session already bootstrapped")

	// ErrInvalidSession is returned for a session missing its user id or access token
	ErrInvalidSession = errors.New("invalid session")
)
