// Package passkey runs the public-key credential enrollment ceremony:
// fetch creation options, prompt the platform authenticator, submit the
// attestation.
//
// # Phases
//
//	Idle -> Requesting -> Prompting -> Submitting -> Succeeded
//
// Any failure returns the ceremony to Idle with a classified error
// (challenge expired, data format, server configuration, unauthenticated,
// user cancelled or network). Preconditions are checked before any request:
// an unsupported platform or a missing session fails without touching the
// backend.
//
// Skip is available at every phase. It cancels the running attempt, and a
// response that arrives afterwards is discarded.
//
// # Basic Usage
//
//	ceremony := passkey.NewCeremony(adapter, apiClient, store,
//	    passkey.WithUserAgent(r.UserAgent()),
//	)
//	ceremony.Begin()
//	if err := ceremony.Enroll(ctx, ""); err != nil {
//	    // retry or ceremony.Skip()
//	}
package passkey

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/device"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

// Phase is the ceremony sub-state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRequesting
	PhasePrompting
	PhaseSubmitting
	PhaseSucceeded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequesting:
		return "requesting"
	case PhasePrompting:
		return "prompting"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSucceeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Busy reports whether an attempt is running
func (p Phase) Busy() bool {
	return p == PhaseRequesting || p == PhasePrompting || p == PhaseSubmitting
}

// Remote is the backend side of enrollment
type Remote interface {
	InitiateEnrollment(ctx context.Context, deviceLabel string) (*protocol.CredentialCreation, error)
	CompleteEnrollment(ctx context.Context, deviceLabel string, attestation *protocol.CredentialCreationResponse) error
}

// EnrollmentContext is the ephemeral data of one enrollment
type EnrollmentContext struct {
	DeviceLabel string
	Options     *protocol.CredentialCreation
	Attestation *protocol.CredentialCreationResponse
}

// State is a snapshot of the ceremony
type State struct {
	Phase       Phase
	DeviceLabel string
	Err         error
}

type Ceremony struct {
	adapter   Adapter
	remote    Remote
	store     sessionstore.Store
	notices   notification.Channel
	userAgent string

	mu         sync.Mutex
	phase      Phase
	enrollment *EnrollmentContext
	lastErr    error
	token      uuid.UUID
	cancel     context.CancelFunc
}

// Option is a function that configures a Ceremony
type Option func(*Ceremony)

// WithUserAgent sets the user agent used to detect the device label
func WithUserAgent(userAgent string) Option {
	return func(c *Ceremony) {
		c.userAgent = userAgent
	}
}

// WithNotificationChannel sets where success notices are published
func WithNotificationChannel(ch notification.Channel) Option {
	return func(c *Ceremony) {
		c.notices = ch
	}
}

// NewCeremony creates a ceremony. The store is only read, to find the session.
func NewCeremony(adapter Adapter, remote Remote, store sessionstore.Store, opts ...Option) *Ceremony {
	c := &Ceremony{
		adapter: adapter,
		remote:  remote,
		store:   store,
		notices: notification.NopChannel{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin creates the enrollment context with a detected device label
func (c *Ceremony) Begin() EnrollmentContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enrollment == nil {
		c.enrollment = &EnrollmentContext{DeviceLabel: device.DetectLabel(c.userAgent)}
		c.phase = PhaseIdle
		c.lastErr = nil
	}
	return *c.enrollment
}

// Skip cancels any running attempt and discards the enrollment context
func (c *Ceremony) Skip() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase.Busy() {
		slog.Info("Passkey enrollment abandoned", "phase", c.phase)
	}
	c.rotate()
	c.enrollment = nil
	c.phase = PhaseIdle
	c.lastErr = nil
}

// rotate invalidates the running attempt; the caller holds mu
func (c *Ceremony) rotate() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.token = uuid.Nil
}

// State returns a snapshot of the ceremony
func (c *Ceremony) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{Phase: c.phase, Err: c.lastErr}
	if c.enrollment != nil {
		s.DeviceLabel = c.enrollment.DeviceLabel
	}
	return s
}

// Enrollment returns a copy of the enrollment context
func (c *Ceremony) Enrollment() (EnrollmentContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enrollment == nil {
		return EnrollmentContext{}, false
	}
	return *c.enrollment, true
}

// Enroll runs one attempt. label overrides the detected device label when not blank.
func (c *Ceremony) Enroll(ctx context.Context, label string) error {
	runCtx, token, deviceLabel, err := c.start(ctx, label)
	if err != nil {
		return err
	}

	options, err := c.remote.InitiateEnrollment(runCtx, deviceLabel)
	if err != nil {
		return c.fail(token, err)
	}
	if err := c.advance(token, PhasePrompting, func(ec *EnrollmentContext) { ec.Options = options }); err != nil {
		return err
	}

	attestation, err := c.adapter.CreateCredential(runCtx, options)
	if err != nil {
		return c.fail(token, err)
	}
	if attestation == nil {
		return c.fail(token, errors.New(errors.ErrCodeDataFormat, "The passkey could not be created on this device."))
	}
	if err := c.advance(token, PhaseSubmitting, func(ec *EnrollmentContext) { ec.Attestation = attestation }); err != nil {
		return err
	}

	if err := c.remote.CompleteEnrollment(runCtx, deviceLabel, attestation); err != nil {
		return c.fail(token, err)
	}
	if err := c.advance(token, PhaseSucceeded, nil); err != nil {
		return err
	}

	c.mu.Lock()
	if c.token == token && c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()

	slog.Info("Passkey enrolled", "device_label", deviceLabel)
	notification.Success(c.notices, "Passkey added for "+deviceLabel)
	return nil
}

// start checks preconditions and claims the ceremony for a new attempt
func (c *Ceremony) start(ctx context.Context, label string) (context.Context, uuid.UUID, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enrollment == nil {
		return nil, uuid.Nil, "", errors.Wrap(ErrNoEnrollment, errors.ErrCodeInvalidTransition, "Passkey enrollment has not started.")
	}
	if c.phase.Busy() {
		return nil, uuid.Nil, "", errors.InFlight("Passkey enrollment")
	}
	if c.phase == PhaseSucceeded {
		return nil, uuid.Nil, "", errors.New(errors.ErrCodeInvalidTransition, "A passkey was already added.")
	}

	c.enrollment.DeviceLabel = device.LabelOrDetect(label, c.userAgent)
	c.enrollment.Options = nil
	c.enrollment.Attestation = nil

	if !c.adapter.Supported() {
		c.lastErr = errors.UnsupportedPlatform()
		return nil, uuid.Nil, "", c.lastErr
	}
	if !sessionstore.HasSession(ctx, c.store) {
		c.lastErr = errors.Unauthenticated("Verify your email before adding a passkey.")
		return nil, uuid.Nil, "", c.lastErr
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.token = uuid.New()
	c.cancel = cancel
	c.phase = PhaseRequesting
	c.lastErr = nil
	return runCtx, c.token, c.enrollment.DeviceLabel, nil
}

// advance moves to the next phase unless the attempt was abandoned
func (c *Ceremony) advance(token uuid.UUID, next Phase, update func(*EnrollmentContext)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != token || c.enrollment == nil {
		return errors.StaleResponse("Passkey enrollment")
	}
	if update != nil {
		update(c.enrollment)
	}
	c.phase = next
	return nil
}

// fail classifies err and returns the ceremony to Idle
func (c *Ceremony) fail(token uuid.UUID, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != token || c.enrollment == nil {
		slog.Debug("Discarding failure of abandoned enrollment", "err", err)
		return errors.StaleResponse("Passkey enrollment")
	}

	classified := Classify(err)
	slog.Warn("Passkey enrollment failed", "phase", c.phase, "code", errors.GetCode(classified), "err", err)

	c.rotate()
	c.phase = PhaseIdle
	c.enrollment.Options = nil
	c.enrollment.Attestation = nil
	c.lastErr = classified
	return classified
}

// Classify maps an enrollment failure to the error shown to the user
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, ErrCancelled) || stderrors.Is(err, context.Canceled) {
		return errors.UserCancelled(err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Network(err)
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeChallengeExpired,
		errors.ErrCodeDataFormat,
		errors.ErrCodeServerConfiguration,
		errors.ErrCodeUnauthenticated,
		errors.ErrCodeUnsupportedPlatform,
		errors.ErrCodeUserCancelled,
		errors.ErrCodeNetwork,
		errors.ErrCodeRateLimitExceeded:
		return err
	case errors.ErrCodeValidationFailed:
		return errors.Wrap(err, errors.ErrCodeDataFormat, "The passkey response could not be read.")
	case errors.ErrCodeNotFound:
		return errors.Wrap(err, errors.ErrCodeServerConfiguration, "Passkeys are not available right now.")
	}

	var coded *errors.Error
	if stderrors.As(err, &coded) {
		return errors.Wrap(err, errors.ErrCodeServerConfiguration, "Passkeys are not available right now.")
	}
	return errors.Wrap(err, errors.ErrCodeDataFormat, "The passkey could not be created on this device.")
}
