package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Store is a persisted key/value store for tokens and the user record
type Store interface {
	// Get returns the value and whether the key was present
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key
	Clear(ctx context.Context) error
}

// InMemoryStore is a Store that lives as long as the process
type InMemoryStore struct {
	values map[string]string
	mutex  sync.RWMutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{values: make(map[string]string)}
}

func (s *InMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *InMemoryStore) Set(ctx context.Context, key, value string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.values[key] = value
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.values, key)
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.values = make(map[string]string)
	return nil
}

// CurrentSession rebuilds the persisted session, or returns ErrNoSession
func CurrentSession(ctx context.Context, store Store) (*Session, error) {
	if store == nil {
		return nil, ErrNoSession
	}

	access, ok, err := store.Get(ctx, ACCESS_TOKEN_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	if !ok || access == "" {
		return nil, ErrNoSession
	}

	refresh, _, err := store.Get(ctx, REFRESH_TOKEN_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	raw, ok, err := store.Get(ctx, USER_RECORD_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}
	if !ok {
		return nil, ErrNoSession
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	return &Session{
		UserID:       user.ID,
		DisplayName:  user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// AccessToken returns the persisted access token, or ErrNoSession
func AccessToken(ctx context.Context, store Store) (string, error) {
	session, err := CurrentSession(ctx, store)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// HasSession reports whether an authenticated session is persisted
func HasSession(ctx context.Context, store Store) bool {
	_, err := CurrentSession(ctx, store)
	return err == nil
}

// Logout clears every persisted key
func Logout(ctx context.Context, store Store) error {
	if store == nil {
		return errors.New("nil store")
	}
	return store.Clear(ctx)
}
