package main

import (
	"bufio"
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/onboarding"
	"github.com/tendant/simple-onboard/pkg/otp"
	"github.com/tendant/simple-onboard/pkg/passkey"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

// backend answers every call from memory except the skill catalog, which is down
type backend struct {
	mu         sync.Mutex
	listSkills int
}

func (b *backend) CreateAccount(ctx context.Context, req api.CreateAccountRequest) (*api.CreateAccountResponse, error) {
	return &api.CreateAccountResponse{ID: "acct-1"}, nil
}

func (b *backend) ListSkills(ctx context.Context) ([]api.Skill, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listSkills++
	return nil, errors.New(errors.ErrCodeNetwork, "connection refused")
}

func (b *backend) AddSkill(ctx context.Context, name string) (*api.AddSkillResponse, error) {
	return &api.AddSkillResponse{ID: "custom-" + name}, nil
}

func (b *backend) SendOTP(ctx context.Context, email string) error   { return nil }
func (b *backend) ResendOTP(ctx context.Context, email string) error { return nil }

func (b *backend) VerifyOTP(ctx context.Context, email, code string) (*api.VerifyResponse, error) {
	if code != "123456" {
		return nil, errors.New(errors.ErrCodeInvalidCode, "invalid code")
	}
	return &api.VerifyResponse{Verified: true, Session: &sessionstore.Session{
		UserID:      "acct-1",
		Email:       email,
		Role:        "freelancer",
		AccessToken: "at-acct-1",
	}}, nil
}

func (b *backend) InitiateEnrollment(ctx context.Context, deviceLabel string) (*protocol.CredentialCreation, error) {
	return &protocol.CredentialCreation{}, nil
}

func (b *backend) CompleteEnrollment(ctx context.Context, deviceLabel string, attestation *protocol.CredentialCreationResponse) error {
	return nil
}

func (b *backend) skillLoads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listSkills
}

func newController(b *backend, notices notification.Channel) *onboarding.Controller {
	store := sessionstore.NewInMemoryStore()
	verifier := otp.NewManager(b, sessionstore.NewBootstrapper(store), otp.WithNotificationChannel(notices))
	ceremony := passkey.NewCeremony(&passkey.ScriptedAdapter{}, b, store, passkey.WithNotificationChannel(notices))
	return onboarding.NewController(b, verifier, ceremony, onboarding.WithNotificationChannel(notices))
}

func TestRun_SkillCatalogUnavailable(t *testing.T) {
	b := &backend{}
	broadcaster := notification.NewBroadcaster(16)
	notices, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()

	input := strings.Join([]string{
		"Ada", "Lovelace", "ada@example.com", "analytical-engine", "analytical-engine", "London", "",
		"123456",
		"r",
		"s",
		"n",
	}, "\n") + "\n"
	var out bytes.Buffer
	p := &prompter{in: bufio.NewReader(strings.NewReader(input)), out: &out, notices: notices}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	destination, err := run(ctx, newController(b, broadcaster), p, "freelancer")
	require.NoError(t, err)

	assert.Equal(t, onboarding.DestinationFreelancerDashboard, destination)
	// one load on entering the step and one for the explicit reload
	assert.Equal(t, 2, b.skillLoads())
	assert.Equal(t, 2, strings.Count(out.String(), "Skills could not be loaded"))
	assert.Contains(t, out.String(), "r to reload")
}

func TestRun_EndOfInput(t *testing.T) {
	b := &backend{}
	p := &prompter{in: bufio.NewReader(strings.NewReader("")), out: &bytes.Buffer{}}

	_, err := run(context.Background(), newController(b, notification.NopChannel{}), p, "")
	assert.Error(t, err)
	assert.Equal(t, 0, b.skillLoads())
}
