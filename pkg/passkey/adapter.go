package passkey

import (
	"context"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
)

// Adapter wraps the platform's public-key credential API
type Adapter interface {
	// Supported reports whether the platform can create credentials at all
	Supported() bool
	// CreateCredential prompts the user and returns the attestation.
	// A user who dismisses the prompt yields an error wrapping ErrCancelled.
	CreateCredential(ctx context.Context, options *protocol.CredentialCreation) (*protocol.CredentialCreationResponse, error)
}

// ScriptedAdapter is an Adapter whose answers are set up front
type ScriptedAdapter struct {
	Unsupported bool
	Response    *protocol.CredentialCreationResponse
	Err         error
	// Block, when set, holds CreateCredential until it is closed or ctx ends
	Block chan struct{}

	mu      sync.Mutex
	calls   int
	options []*protocol.CredentialCreation
}

func (s *ScriptedAdapter) Supported() bool {
	return !s.Unsupported
}

func (s *ScriptedAdapter) CreateCredential(ctx context.Context, options *protocol.CredentialCreation) (*protocol.CredentialCreationResponse, error) {
	s.mu.Lock()
	s.calls++
	s.options = append(s.options, options)
	block := s.Block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Response, nil
}

// Calls returns how many prompts were shown
func (s *ScriptedAdapter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// LastOptions returns the options passed to the latest prompt
func (s *ScriptedAdapter) LastOptions() *protocol.CredentialCreation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.options) == 0 {
		return nil
	}
	return s.options[len(s.options)-1]
}
