package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Bootstrapper is the only writer of session state during onboarding.
// It persists exactly one session; later calls fail with ErrAlreadyBootstrapped.
type Bootstrapper struct {
	store Store
	mutex sync.Mutex
	done  bool
}

func NewBootstrapper(store Store) *Bootstrapper {
	return &Bootstrapper{store: store}
}

// Bootstrap persists the access token, refresh token and user record.
// A failed write removes whatever was written and may be retried.
func (b *Bootstrapper) Bootstrap(ctx context.Context, session Session) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.done {
		return ErrAlreadyBootstrapped
	}
	if err := session.Validate(); err != nil {
		return err
	}

	user, err := json.Marshal(session.User())
	if err != nil {
		return fmt.Errorf("failed to marshal user record: %w", err)
	}

	writes := []struct{ key, value string }{
		{ACCESS_TOKEN_NAME, session.AccessToken},
		{REFRESH_TOKEN_NAME, session.RefreshToken},
		{USER_RECORD_NAME, string(user)},
	}
	for i, w := range writes {
		if err := b.store.Set(ctx, w.key, w.value); err != nil {
			for _, written := range writes[:i] {
				if derr := b.store.Delete(ctx, written.key); derr != nil {
					slog.Error("Failed to roll back session key", "key", written.key, "err", derr)
				}
			}
			return fmt.Errorf("failed to persist %s: %w", w.key, err)
		}
	}

	b.done = true
	slog.Info("Session bootstrapped", "session", session)
	return nil
}

// Bootstrapped reports whether a session has been written
func (b *Bootstrapper) Bootstrapped() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.done
}
