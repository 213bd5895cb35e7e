// Package otp owns the one-time email code exchange: send, resend and verify.
//
// A Manager holds at most one Challenge. Sends and resends share a per-email
// minimum interval; calling either too early fails with ErrCodeRateLimitExceeded
// and a retry_after detail. A wrong code counts an attempt and leaves the
// challenge usable. Nothing is retried automatically.
//
//	m := otp.NewManager(apiClient, sessionstore.NewBootstrapper(store),
//	    otp.WithMinInterval(30*time.Second),
//	    otp.WithNotificationChannel(broadcaster),
//	)
//	m.Begin("ada@example.com")
//	if err := m.Send(ctx, "ada@example.com"); err != nil {
//	    // surface errors.UserMessage(err)
//	}
//	session, err := m.Verify(ctx, "ada@example.com", "123456")
package otp

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

// Remote is the backend side of the code exchange
type Remote interface {
	SendOTP(ctx context.Context, email string) error
	ResendOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (*api.VerifyResponse, error)
}

// SessionBootstrapper persists the session issued on verification
type SessionBootstrapper interface {
	Bootstrap(ctx context.Context, session sessionstore.Session) error
}

// Challenge is the state of one email verification
type Challenge struct {
	Email      string
	Attempts   int
	Resends    int
	LastSentAt time.Time
}

type Manager struct {
	remote       Remote
	bootstrapper SessionBootstrapper
	notices      notification.Channel
	limiter      *ratelimit.RateLimiter
	minInterval  time.Duration
	clock        ratelimit.Clock

	mu        sync.Mutex
	challenge *Challenge
	inFlight  bool
}

// Option is a function that configures a Manager
type Option func(*Manager)

// WithMinInterval sets the minimum time between two sends to the same email.
// Zero disables the guard.
func WithMinInterval(interval time.Duration) Option {
	return func(m *Manager) {
		m.minInterval = interval
	}
}

// WithClock sets the time source for LastSentAt and the interval guard
func WithClock(clock ratelimit.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithNotificationChannel sets where success notices are published
func WithNotificationChannel(ch notification.Channel) Option {
	return func(m *Manager) {
		m.notices = ch
	}
}

func NewManager(remote Remote, bootstrapper SessionBootstrapper, opts ...Option) *Manager {
	m := &Manager{
		remote:       remote,
		bootstrapper: bootstrapper,
		notices:      notification.NopChannel{},
		minInterval:  30 * time.Second,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.minInterval > 0 {
		m.limiter = ratelimit.NewIntervalLimiter(m.minInterval, ratelimit.WithClock(m.clock))
	}
	return m
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Begin creates the challenge for email. An existing challenge for the same
// email is kept so its counters survive re-entry.
func (m *Manager) Begin(email string) Challenge {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = normalizeEmail(email)
	if m.challenge == nil || m.challenge.Email != email {
		m.challenge = &Challenge{Email: email}
	}
	return *m.challenge
}

// Discard destroys the active challenge
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challenge = nil
}

// Challenge returns a copy of the active challenge
func (m *Manager) Challenge() (Challenge, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.challenge == nil {
		return Challenge{}, false
	}
	return *m.challenge, true
}

// InFlight reports whether a send, resend or verify is running
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// start claims the in-flight flag for the active challenge of email
func (m *Manager) start(operation, email string) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return nil, errors.InFlight(operation)
	}
	if m.challenge == nil {
		return nil, errors.Wrap(ErrNoChallenge, errors.ErrCodeInternal, "Start verification again.")
	}
	if m.challenge.Email != email {
		return nil, errors.Wrap(ErrEmailMismatch, errors.ErrCodeValidationFailed, "The email changed. Start verification again.").WithField("email")
	}
	m.inFlight = true
	return m.challenge, nil
}

func (m *Manager) finish() {
	m.mu.Lock()
	m.inFlight = false
	m.mu.Unlock()
}

// current reports whether ch is still the active challenge; the caller holds mu
func (m *Manager) current(ch *Challenge) bool {
	return m.challenge == ch
}

// guard consumes the interval allowance for email or returns a rate limit error
func (m *Manager) guard(email string) error {
	if m.limiter == nil {
		return nil
	}
	if m.limiter.Allow(email) {
		return nil
	}
	wait := m.limiter.RetryAfter(email)
	slog.Info("OTP send throttled", "email", email, "retry_after", wait)
	return errors.RateLimitExceeded(wait)
}

// release gives back the allowance consumed by a send that did not go out
func (m *Manager) release(email string) {
	if m.limiter != nil {
		m.limiter.Reset(email)
	}
}

// Send emails a code. It fails with ErrCodeRateLimitExceeded when called again
// before the minimum interval since the last successful send.
func (m *Manager) Send(ctx context.Context, email string) error {
	return m.deliver(ctx, normalizeEmail(email), false)
}

// Resend is the user-initiated "send me a new code" action. It goes through
// the same interval guard as Send and counts the resend.
func (m *Manager) Resend(ctx context.Context, email string) error {
	return m.deliver(ctx, normalizeEmail(email), true)
}

func (m *Manager) deliver(ctx context.Context, email string, resend bool) error {
	operation := "Sending the code"
	if resend {
		operation = "Resending the code"
	}

	ch, err := m.start(operation, email)
	if err != nil {
		return err
	}
	defer m.finish()

	if err := m.guard(email); err != nil {
		return err
	}

	if resend {
		err = m.remote.ResendOTP(ctx, email)
	} else {
		err = m.remote.SendOTP(ctx, email)
	}
	if err != nil {
		m.release(email)
		slog.Error("Failed to send OTP", "email", email, "resend", resend, "err", err)
		return err
	}

	m.mu.Lock()
	if m.current(ch) {
		ch.Attempts = 0
		ch.LastSentAt = m.clock()
		if resend {
			ch.Resends++
		}
	}
	m.mu.Unlock()

	slog.Info("OTP sent", "email", email, "resend", resend)
	notification.Success(m.notices, "We sent a code to "+email)
	return nil
}

// Verify submits code. On success the issued session is bootstrapped and the
// challenge destroyed. A rejected code counts an attempt and fails with
// ErrCodeInvalidCode; the challenge stays usable.
func (m *Manager) Verify(ctx context.Context, email, code string) (*sessionstore.Session, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.Validation("code", "Enter the code from your email.")
	}

	ch, err := m.start("Verifying the code", email)
	if err != nil {
		return nil, err
	}
	defer m.finish()

	resp, err := m.remote.VerifyOTP(ctx, email, code)
	if err != nil {
		if !errors.IsCode(err, errors.ErrCodeInvalidCode) {
			slog.Error("Failed to verify OTP", "email", email, "err", err)
			return nil, err
		}

		m.mu.Lock()
		attempts := ch.Attempts + 1
		if m.current(ch) {
			ch.Attempts = attempts
		}
		m.mu.Unlock()

		slog.Info("OTP rejected", "email", email, "attempts", attempts)
		e := errors.InvalidCode(attempts)
		e.Err = err
		return nil, e
	}

	if resp.Session == nil {
		return nil, errors.Wrap(ErrMissingSession, errors.ErrCodeDataFormat, "Unexpected response from server.")
	}

	if err := m.bootstrapper.Bootstrap(ctx, *resp.Session); err != nil {
		slog.Error("Failed to bootstrap session", "email", email, "err", err)
		return nil, errors.InternalWrap(err, "Could not save your session. Please try again.")
	}

	m.mu.Lock()
	if m.current(ch) {
		m.challenge = nil
	}
	m.mu.Unlock()

	session := *resp.Session
	slog.Info("Email verified", "session", session)
	notification.Success(m.notices, "Email verified")
	return &session, nil
}
