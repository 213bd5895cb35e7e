package devbackend

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

const totpIssuer = "simple-onboard"

// CodeGenerator creates and checks one-time codes
type CodeGenerator interface {
	// Generate returns a per-challenge secret and the code derived from it at issuedAt
	Generate(email string, issuedAt time.Time) (secret, code string, err error)
	// Validate reports whether code belongs to the challenge issued at issuedAt
	Validate(code, secret string, issuedAt time.Time) bool
}

// TOTPGenerator derives codes from a fresh TOTP secret per challenge.
// The period equals the code lifetime, so a code is evaluated at its own
// issue time and expiry is enforced by the caller.
type TOTPGenerator struct {
	digits otp.Digits
	period uint
}

func NewTOTPGenerator(digits int, ttl time.Duration) *TOTPGenerator {
	period := uint(ttl / time.Second)
	if period == 0 {
		period = 30
	}
	d := otp.DigitsSix
	if digits == 8 {
		d = otp.DigitsEight
	}
	return &TOTPGenerator{digits: d, period: period}
}

func (g *TOTPGenerator) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    g.period,
		Skew:      0,
		Digits:    g.digits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

func (g *TOTPGenerator) Generate(email string, issuedAt time.Time) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	code, err := totp.GenerateCodeCustom(key.Secret(), issuedAt.UTC(), g.opts())
	if err != nil {
		return "", "", fmt.Errorf("failed to generate code: %w", err)
	}
	return key.Secret(), code, nil
}

func (g *TOTPGenerator) Validate(code, secret string, issuedAt time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, issuedAt.UTC(), g.opts())
	if err != nil {
		slog.Debug("Code validation failed", "err", err)
		return false
	}
	return valid
}

// StaticCodeGenerator always issues the same code. For local development only.
type StaticCodeGenerator struct {
	Code string
}

func (g StaticCodeGenerator) Generate(email string, issuedAt time.Time) (string, string, error) {
	return "", g.Code, nil
}

func (g StaticCodeGenerator) Validate(code, secret string, issuedAt time.Time) bool {
	return subtle.ConstantTimeCompare([]byte(code), []byte(g.Code)) == 1
}

// Sender delivers an outbound notification; *notification.NotificationManager satisfies it
type Sender interface {
	Send(noticeType notification.NoticeType, data notification.NotificationData) error
}

type pendingCode struct {
	secret    string
	issuedAt  time.Time
	expiresAt time.Time
	attempts  int
}

// OTPService emails verification codes and exchanges a valid code for a session
type OTPService struct {
	accounts    *AccountService
	tokens      *TokenIssuer
	sender      Sender
	generator   CodeGenerator
	limiter     *ratelimit.RateLimiter
	interval    time.Duration
	ttl         time.Duration
	maxAttempts int
	clock       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingCode
}

// OTPOption configures an OTPService
type OTPOption func(*OTPService)

// WithCodeTTL sets how long an emailed code stays valid
func WithCodeTTL(ttl time.Duration) OTPOption {
	return func(s *OTPService) {
		s.ttl = ttl
	}
}

// WithSendInterval sets the minimum time between two codes to the same email
func WithSendInterval(interval time.Duration) OTPOption {
	return func(s *OTPService) {
		s.interval = interval
	}
}

// WithMaxAttempts sets how many wrong codes invalidate a challenge. Zero means unlimited.
func WithMaxAttempts(n int) OTPOption {
	return func(s *OTPService) {
		s.maxAttempts = n
	}
}

func WithCodeGenerator(g CodeGenerator) OTPOption {
	return func(s *OTPService) {
		s.generator = g
	}
}

// WithOTPClock sets the time source for expiry and the send interval
func WithOTPClock(clock func() time.Time) OTPOption {
	return func(s *OTPService) {
		s.clock = clock
	}
}

func NewOTPService(accounts *AccountService, tokens *TokenIssuer, sender Sender, opts ...OTPOption) *OTPService {
	s := &OTPService{
		accounts:    accounts,
		tokens:      tokens,
		sender:      sender,
		interval:    30 * time.Second,
		ttl:         10 * time.Minute,
		maxAttempts: 5,
		clock:       time.Now,
		pending:     make(map[string]*pendingCode),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval > 0 {
		s.limiter = ratelimit.NewIntervalLimiter(s.interval, ratelimit.WithClock(s.clock))
	}
	if s.generator == nil {
		s.generator = NewTOTPGenerator(6, s.ttl)
	}
	return s
}

// Send emails a new code, replacing any pending one
func (s *OTPService) Send(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return errors.MissingRequired("email", "Email")
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return err
	}

	if s.limiter != nil && !s.limiter.Allow(email) {
		wait := s.limiter.RetryAfter(email)
		slog.Info("Code request throttled", "email", email, "retry_after", wait)
		return errors.RateLimitExceeded(wait)
	}

	now := s.clock().UTC()
	secret, code, err := s.generator.Generate(email, now)
	if err != nil {
		s.release(email)
		return errors.InternalWrap(err, "failed to generate code")
	}

	err = s.sender.Send(notification.OTPCodeNotice, notification.NotificationData{
		To: email,
		Data: map[string]string{
			"Name":      account.FirstName,
			"Code":      code,
			"ExpiresIn": humanizeDuration(s.ttl),
		},
	})
	if err != nil {
		s.release(email)
		slog.Error("Failed to deliver code", "email", email, "err", err)
		return errors.InternalWrap(err, "failed to deliver code")
	}

	s.mu.Lock()
	s.pending[email] = &pendingCode{secret: secret, issuedAt: now, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()

	slog.Info("Code sent", "email", email, "expires_in", s.ttl)
	return nil
}

func (s *OTPService) release(email string) {
	if s.limiter != nil {
		s.limiter.Reset(email)
	}
}

// Verify checks code and, when it matches, marks the email verified and
// issues a session. Codes are single use.
func (s *OTPService) Verify(ctx context.Context, email, code string) (sessionstore.Session, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return sessionstore.Session{}, errors.InvalidCode(0)
	}

	if err := s.check(email, code); err != nil {
		return sessionstore.Session{}, err
	}

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return sessionstore.Session{}, err
	}
	if err := s.accounts.MarkVerified(ctx, account.ID); err != nil {
		return sessionstore.Session{}, errors.InternalWrap(err, "failed to mark email verified")
	}
	account.EmailVerified = true

	session, err := s.tokens.Issue(account)
	if err != nil {
		return sessionstore.Session{}, errors.InternalWrap(err, "failed to issue session")
	}

	slog.Info("Email verified", "email", email, "account", account.ID)
	return session, nil
}

// check consumes the pending code for email when code matches
func (s *OTPService) check(email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[email]
	if !ok {
		return errors.Wrap(ErrNoChallenge, errors.ErrCodeInvalidCode, "The code is invalid or has expired.").WithField("code")
	}
	if !s.clock().Before(p.expiresAt) {
		delete(s.pending, email)
		slog.Info("Expired code rejected", "email", email)
		return errors.InvalidCode(p.attempts)
	}
	if !s.generator.Validate(code, p.secret, p.issuedAt) {
		p.attempts++
		if s.maxAttempts > 0 && p.attempts >= s.maxAttempts {
			delete(s.pending, email)
			slog.Warn("Code invalidated after too many attempts", "email", email, "attempts", p.attempts)
		}
		return errors.InvalidCode(p.attempts)
	}
	delete(s.pending, email)
	return nil
}

// Pending reports whether email has an unexpired code outstanding
func (s *OTPService) Pending(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[normalizeEmail(email)]
	return ok && s.clock().Before(p.expiresAt)
}

func humanizeDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return plural(int(math.Ceil(d.Seconds())), "second")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
