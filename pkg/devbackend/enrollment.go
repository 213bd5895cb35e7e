package devbackend

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/errors"
)

// RelyingParty is the registration half of *webauthn.WebAuthn
type RelyingParty interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
}

// PasskeyCredential is a registered public-key credential
type PasskeyCredential struct {
	AccountID   uuid.UUID
	DeviceLabel string
	Fingerprint string
	Credential  webauthn.Credential
	CreatedAt   time.Time
}

// EncodedID returns the credential id in base64url form
func (c PasskeyCredential) EncodedID() string {
	return base64.RawURLEncoding.EncodeToString(c.Credential.ID)
}

type passkeyUser struct {
	account     Account
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte {
	return []byte(u.account.ID.String())
}

func (u *passkeyUser) WebAuthnName() string {
	return u.account.Email
}

func (u *passkeyUser) WebAuthnDisplayName() string {
	return u.account.DisplayName()
}

func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

type pendingEnrollment struct {
	deviceLabel string
	session     webauthn.SessionData
	expiresAt   time.Time
}

// EnrollmentService registers passkeys for verified accounts
type EnrollmentService struct {
	rp       RelyingParty
	accounts *AccountService
	ttl      time.Duration
	clock    func() time.Time

	mu          sync.Mutex
	pending     map[uuid.UUID]pendingEnrollment
	credentials map[uuid.UUID][]PasskeyCredential
}

// EnrollmentOption configures an EnrollmentService
type EnrollmentOption func(*EnrollmentService)

// WithEnrollmentTTL sets how long creation options stay redeemable
func WithEnrollmentTTL(ttl time.Duration) EnrollmentOption {
	return func(s *EnrollmentService) {
		s.ttl = ttl
	}
}

func WithEnrollmentClock(clock func() time.Time) EnrollmentOption {
	return func(s *EnrollmentService) {
		s.clock = clock
	}
}

// NewEnrollmentService creates the service. A nil rp makes every call fail
// with ErrCodeServerConfiguration.
func NewEnrollmentService(rp RelyingParty, accounts *AccountService, opts ...EnrollmentOption) *EnrollmentService {
	s := &EnrollmentService{
		rp:          rp,
		accounts:    accounts,
		ttl:         5 * time.Minute,
		clock:       time.Now,
		pending:     make(map[uuid.UUID]pendingEnrollment),
		credentials: make(map[uuid.UUID][]PasskeyCredential),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EnrollmentService) user(account Account) *passkeyUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &passkeyUser{account: account}
	for _, c := range s.credentials[account.ID] {
		u.credentials = append(u.credentials, c.Credential)
	}
	return u
}

func (s *EnrollmentService) verifiedAccount(ctx context.Context, accountID uuid.UUID) (Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeNotFound) {
			return Account{}, errors.Unauthenticated("Sign in again to continue.")
		}
		return Account{}, err
	}
	if !account.EmailVerified {
		return Account{}, errors.Unauthenticated("Verify your email before adding a passkey.")
	}
	return account, nil
}

// Begin returns creation options for the account. Credentials already
// registered are excluded so the same authenticator is not enrolled twice.
func (s *EnrollmentService) Begin(ctx context.Context, accountID uuid.UUID, deviceLabel string) (*protocol.CredentialCreation, error) {
	if s.rp == nil {
		return nil, errors.ServerConfiguration(nil)
	}
	account, err := s.verifiedAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	user := s.user(account)
	var opts []webauthn.RegistrationOption
	if len(user.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, session, err := s.rp.BeginRegistration(user, opts...)
	if err != nil {
		slog.Error("Failed to begin passkey registration", "account", accountID, "err", err)
		return nil, errors.ServerConfiguration(err)
	}

	s.mu.Lock()
	s.pending[accountID] = pendingEnrollment{
		deviceLabel: deviceLabel,
		session:     *session,
		expiresAt:   s.clock().Add(s.ttl),
	}
	s.mu.Unlock()

	slog.Info("Passkey registration started", "account", accountID, "device_label", deviceLabel)
	return creation, nil
}

// take removes and returns the pending enrollment of the account
func (s *EnrollmentService) take(accountID uuid.UUID) (pendingEnrollment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[accountID]
	delete(s.pending, accountID)
	if !ok || !s.clock().Before(p.expiresAt) {
		return pendingEnrollment{}, false
	}
	return p, true
}

// Finish verifies the attestation in raw and stores the credential. Options
// are single use: any outcome other than a parse failure consumes them.
func (s *EnrollmentService) Finish(ctx context.Context, accountID uuid.UUID, deviceLabel, fingerprint string, raw []byte) (PasskeyCredential, error) {
	if s.rp == nil {
		return PasskeyCredential{}, errors.ServerConfiguration(nil)
	}
	account, err := s.verifiedAccount(ctx, accountID)
	if err != nil {
		return PasskeyCredential{}, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBytes(raw)
	if err != nil {
		slog.Info("Unreadable attestation", "account", accountID, "err", err)
		return PasskeyCredential{}, errors.DataFormat(err)
	}

	pending, ok := s.take(accountID)
	if !ok {
		slog.Info("Passkey registration challenge expired", "account", accountID)
		return PasskeyCredential{}, errors.ChallengeExpired()
	}

	credential, err := s.rp.CreateCredential(s.user(account), pending.session, parsed)
	if err != nil {
		slog.Warn("Attestation rejected", "account", accountID, "err", err)
		return PasskeyCredential{}, errors.DataFormat(err)
	}

	if deviceLabel == "" {
		deviceLabel = pending.deviceLabel
	}
	record := PasskeyCredential{
		AccountID:   accountID,
		DeviceLabel: deviceLabel,
		Fingerprint: fingerprint,
		Credential:  *credential,
		CreatedAt:   s.clock().UTC(),
	}

	s.mu.Lock()
	s.credentials[accountID] = append(s.credentials[accountID], record)
	s.mu.Unlock()

	slog.Info("Passkey registered", "account", accountID, "device_label", deviceLabel, "credential", record.EncodedID())
	return record, nil
}

// Credentials returns the passkeys registered for the account
func (s *EnrollmentService) Credentials(accountID uuid.UUID) []PasskeyCredential {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PasskeyCredential, len(s.credentials[accountID]))
	copy(out, s.credentials[accountID])
	return out
}
