package otp

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRemote accepts a single valid code per email
type fakeRemote struct {
	mu       sync.Mutex
	codes    map[string]string
	sends    int
	resends  int
	verifies int
	sendErr  error
	block    chan struct{}
}

func newFakeRemote(codes map[string]string) *fakeRemote {
	return &fakeRemote{codes: codes}
}

func (f *fakeRemote) SendOTP(ctx context.Context, email string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return f.sendErr
}

func (f *fakeRemote) ResendOTP(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends++
	return f.sendErr
}

func (f *fakeRemote) VerifyOTP(ctx context.Context, email, code string) (*api.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	if f.codes[email] != code {
		return nil, errors.New(errors.ErrCodeInvalidCode, "invalid code")
	}
	return &api.VerifyResponse{Verified: true, Session: &sessionstore.Session{
		UserID: "user-1", Email: email, Role: "client", AccessToken: "at", RefreshToken: "rt",
	}}, nil
}

func setup(t *testing.T, codes map[string]string) (*Manager, *fakeRemote, *fakeClock, sessionstore.Store, *notification.MockChannel) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	remote := newFakeRemote(codes)
	store := sessionstore.NewInMemoryStore()
	notices := &notification.MockChannel{}
	m := NewManager(remote, sessionstore.NewBootstrapper(store),
		WithMinInterval(30*time.Second),
		WithClock(clock.Now),
		WithNotificationChannel(notices),
	)
	return m, remote, clock, store, notices
}

func TestManager_FailedVerifyThenSuccess(t *testing.T) {
	ctx := context.Background()
	m, remote, _, store, _ := setup(t, map[string]string{"ada@example.com": "654321"})

	m.Begin("ada@example.com")
	require.NoError(t, m.Send(ctx, "ada@example.com"))

	_, err := m.Verify(ctx, "ada@example.com", "000000")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidCode))
	assert.Equal(t, "code", errors.FieldOf(err))

	ch, ok := m.Challenge()
	require.True(t, ok, "challenge survives a wrong code")
	assert.Equal(t, 1, ch.Attempts)

	session, err := m.Verify(ctx, "ada@example.com", "654321")
	require.NoError(t, err)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, 2, remote.verifies)

	_, ok = m.Challenge()
	assert.False(t, ok, "challenge destroyed on success")

	persisted, err := sessionstore.CurrentSession(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "at", persisted.AccessToken)
}

func TestManager_IntervalGuard(t *testing.T) {
	ctx := context.Background()
	m, remote, clock, _, notices := setup(t, nil)

	m.Begin("ada@example.com")
	require.NoError(t, m.Send(ctx, "ada@example.com"))
	assert.Equal(t, 1, notices.Count(notification.LevelSuccess))

	t.Run("SendTooSoon", func(t *testing.T) {
		err := m.Send(ctx, "ada@example.com")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeRateLimitExceeded))
		assert.Equal(t, "30", errors.GetDetails(err)["retry_after"])
		assert.Equal(t, 1, remote.sends)
	})

	t.Run("ResendBeforeIntervalFails", func(t *testing.T) {
		clock.Advance(10 * time.Second)
		err := m.Resend(ctx, "ada@example.com")
		assert.True(t, errors.IsCode(err, errors.ErrCodeRateLimitExceeded))
		assert.Equal(t, 0, remote.resends)
	})

	t.Run("ResendAfterIntervalResetsAttempts", func(t *testing.T) {
		_, err := m.Verify(ctx, "ada@example.com", "999999")
		require.Error(t, err)
		ch, _ := m.Challenge()
		require.Equal(t, 1, ch.Attempts)

		clock.Advance(21 * time.Second)
		require.NoError(t, m.Resend(ctx, "ada@example.com"))

		ch, _ = m.Challenge()
		assert.Equal(t, 0, ch.Attempts)
		assert.Equal(t, 1, ch.Resends)
		assert.Equal(t, clock.Now(), ch.LastSentAt)
		assert.Equal(t, 1, remote.resends)
	})
}

func TestManager_FailedSendReleasesGuard(t *testing.T) {
	ctx := context.Background()
	m, remote, _, _, _ := setup(t, nil)
	m.Begin("ada@example.com")

	remote.sendErr = errors.Network(stderrors.New("connection refused"))
	err := m.Send(ctx, "ada@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetwork))

	remote.sendErr = nil
	assert.NoError(t, m.Send(ctx, "ada@example.com"), "a failed send does not start the interval")
}

func TestManager_RequiresChallenge(t *testing.T) {
	ctx := context.Background()
	m, _, _, _, _ := setup(t, nil)

	err := m.Send(ctx, "ada@example.com")
	assert.ErrorIs(t, err, ErrNoChallenge)

	m.Begin("ada@example.com")
	err = m.Send(ctx, "other@example.com")
	assert.ErrorIs(t, err, ErrEmailMismatch)

	m.Discard()
	_, err = m.Verify(ctx, "ada@example.com", "123456")
	assert.ErrorIs(t, err, ErrNoChallenge)
}

func TestManager_BeginKeepsCountersForSameEmail(t *testing.T) {
	ctx := context.Background()
	m, _, _, _, _ := setup(t, nil)

	m.Begin("Ada@Example.com ")
	_, _ = m.Verify(ctx, "ada@example.com", "1")
	ch := m.Begin("ada@example.com")
	assert.Equal(t, 1, ch.Attempts)

	ch = m.Begin("bob@example.com")
	assert.Equal(t, 0, ch.Attempts)
	assert.Equal(t, "bob@example.com", ch.Email)
}

func TestManager_EmptyCode(t *testing.T) {
	m, remote, _, _, _ := setup(t, nil)
	m.Begin("ada@example.com")

	_, err := m.Verify(context.Background(), "ada@example.com", "   ")
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 0, remote.verifies)
}

func TestManager_InFlight(t *testing.T) {
	ctx := context.Background()
	m, remote, _, _, _ := setup(t, nil)
	remote.block = make(chan struct{})
	m.Begin("ada@example.com")

	done := make(chan error, 1)
	go func() { done <- m.Send(ctx, "ada@example.com") }()

	require.Eventually(t, m.InFlight, time.Second, 5*time.Millisecond)
	err := m.Send(ctx, "ada@example.com")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInFlight))

	close(remote.block)
	assert.NoError(t, <-done)
	assert.False(t, m.InFlight())
}

func TestManager_DisabledGuard(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(nil)
	m := NewManager(remote, sessionstore.NewBootstrapper(sessionstore.NewInMemoryStore()), WithMinInterval(0))
	m.Begin("ada@example.com")

	require.NoError(t, m.Send(ctx, "ada@example.com"))
	require.NoError(t, m.Resend(ctx, "ada@example.com"))
	assert.Equal(t, 1, remote.sends)
	assert.Equal(t, 1, remote.resends)
}

func TestManager_MissingSession(t *testing.T) {
	m := NewManager(missingSessionRemote{newFakeRemote(nil)}, sessionstore.NewBootstrapper(sessionstore.NewInMemoryStore()))
	m.Begin("ada@example.com")

	_, err := m.Verify(context.Background(), "ada@example.com", "123456")
	assert.True(t, errors.IsCode(err, errors.ErrCodeDataFormat))
	_, ok := m.Challenge()
	assert.True(t, ok)
}

type missingSessionRemote struct{ *fakeRemote }

func (missingSessionRemote) VerifyOTP(ctx context.Context, email, code string) (*api.VerifyResponse, error) {
	return &api.VerifyResponse{Verified: true}, nil
}
