package devbackend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type otpFixture struct {
	accounts *AccountService
	tokens   *TokenIssuer
	notifier *notification.MockNotifier
	clock    *fakeClock
	service  *OTPService
	account  Account
}

func newOTPFixture(t *testing.T, opts ...OTPOption) *otpFixture {
	t.Helper()
	f := &otpFixture{
		accounts: newAccountService(),
		tokens:   NewTokenIssuer("0123456789abcdef0123456789abcdef"),
		notifier: &notification.MockNotifier{},
		clock:    newFakeClock(),
	}
	manager, err := notification.NewNotificationManagerWithOptions(
		notification.WithNotifier(notification.EmailSystem, f.notifier),
		notification.WithOTPCodeTemplate(),
	)
	require.NoError(t, err)

	opts = append([]OTPOption{WithOTPClock(f.clock.Now)}, opts...)
	f.service = NewOTPService(f.accounts, f.tokens, manager, opts...)

	f.account, err = f.accounts.Create(context.Background(), accountRequest())
	require.NoError(t, err)
	return f
}

func (f *otpFixture) lastCode(t *testing.T) string {
	t.Helper()
	sent := f.notifier.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Data["Code"]
}

func TestTOTPGenerator(t *testing.T) {
	g := NewTOTPGenerator(6, 10*time.Minute)
	issued := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	secret, code, err := g.Generate("ada@example.com", issued)
	require.NoError(t, err)
	assert.NotEmpty(t, secret)
	assert.Len(t, code, 6)
	assert.True(t, g.Validate(code, secret, issued))

	other, _, err := g.Generate("ada@example.com", issued)
	require.NoError(t, err)
	assert.NotEqual(t, secret, other)
}

func TestOTPService_SendAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t)

	require.NoError(t, f.service.Send(ctx, "ada@example.com"))
	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, "Ada", sent[0].Data["Name"])
	assert.Equal(t, "10 minutes", sent[0].Data["ExpiresIn"])
	assert.True(t, f.service.Pending("ada@example.com"))

	session, err := f.service.Verify(ctx, "ADA@example.com", f.lastCode(t))
	require.NoError(t, err)
	assert.Equal(t, f.account.ID.String(), session.UserID)
	assert.Equal(t, "freelancer", session.Role)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	account, err := f.accounts.FindByID(ctx, f.account.ID)
	require.NoError(t, err)
	assert.True(t, account.EmailVerified)

	t.Run("SingleUse", func(t *testing.T) {
		_, err := f.service.Verify(ctx, "ada@example.com", f.lastCode(t))
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode))
	})
}

func TestOTPService_SendInterval(t *testing.T) {
	ctx := context.Background()
	f := newOTPFixture(t, WithSendInterval(30*time.Second))

	require.NoError(t, f.service.Send(ctx, "ada@example.com"))
	first := f.lastCode(t)

	err := f.service.Send(ctx, "ada@example.com")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeRateLimitExceeded))
	assert.Equal(t, "30", errors.GetDetails(err)["retry_after"])

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.service.Send(ctx, "ada@example.com"))
	assert.Len(t, f.notifier.Sent(), 2)

	second := f.lastCode(t)
	if first != second {
		_, err = f.service.Verify(ctx, "ada@example.com", first)
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode), "a resend replaces the earlier code")
	}
	_, err = f.service.Verify(ctx, "ada@example.com", second)
	assert.NoError(t, err)
}

func TestOTPService_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("UnknownEmail", func(t *testing.T) {
		f := newOTPFixture(t)
		err := f.service.Send(ctx, "nobody@example.com")
		assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound))
		assert.Empty(t, f.notifier.Sent())
	})

	t.Run("NoPendingCode", func(t *testing.T) {
		f := newOTPFixture(t)
		_, err := f.service.Verify(ctx, "ada@example.com", "123456")
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode))
	})

	t.Run("Expired", func(t *testing.T) {
		f := newOTPFixture(t, WithCodeTTL(time.Minute))
		require.NoError(t, f.service.Send(ctx, "ada@example.com"))
		f.clock.Advance(time.Minute)
		_, err := f.service.Verify(ctx, "ada@example.com", f.lastCode(t))
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode))
		assert.False(t, f.service.Pending("ada@example.com"))
	})

	t.Run("TooManyAttempts", func(t *testing.T) {
		f := newOTPFixture(t, WithMaxAttempts(2), WithCodeGenerator(StaticCodeGenerator{Code: "424242"}))
		require.NoError(t, f.service.Send(ctx, "ada@example.com"))

		_, err := f.service.Verify(ctx, "ada@example.com", "000000")
		assert.Equal(t, 1, errors.GetDetails(err)["attempts"])
		_, err = f.service.Verify(ctx, "ada@example.com", "000000")
		assert.Equal(t, 2, errors.GetDetails(err)["attempts"])

		_, err = f.service.Verify(ctx, "ada@example.com", "424242")
		assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode))
	})

	t.Run("DeliveryFailureReleasesInterval", func(t *testing.T) {
		f := newOTPFixture(t)
		broken := NewOTPService(f.accounts, f.tokens, notification.NewNotificationManager(), WithOTPClock(f.clock.Now))
		err := broken.Send(ctx, "ada@example.com")
		assert.True(t, errors.IsCode(err, errors.ErrCodeInternal))
		assert.False(t, broken.Pending("ada@example.com"))

		err = broken.Send(ctx, "ada@example.com")
		assert.False(t, errors.IsCode(err, errors.ErrCodeRateLimitExceeded))
	})
}

func TestStaticCodeGenerator(t *testing.T) {
	g := StaticCodeGenerator{Code: "111111"}
	_, code, err := g.Generate("ada@example.com", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "111111", code)
	assert.True(t, g.Validate("111111", "", time.Now()))
	assert.False(t, g.Validate("111112", "", time.Now()))
}

func TestHumanizeDuration(t *testing.T) {
	assert.Equal(t, "10 minutes", humanizeDuration(10*time.Minute))
	assert.Equal(t, "1 hour", humanizeDuration(time.Hour))
	assert.Equal(t, "90 seconds", humanizeDuration(90*time.Second))
	assert.Equal(t, "1 minute", humanizeDuration(time.Minute))
}
