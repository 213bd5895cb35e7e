package devbackend

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/passkey/softauthn"
)

const testOrigin = "http://localhost:4000"

func newRelyingParty(t *testing.T) *webauthn.WebAuthn {
	t.Helper()
	rp, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Onboard",
		RPID:          "localhost",
		RPOrigins:     []string{testOrigin},
	})
	require.NoError(t, err)
	return rp
}

type enrollmentFixture struct {
	accounts *AccountService
	clock    *fakeClock
	service  *EnrollmentService
	account  Account
	auth     *softauthn.Authenticator
}

func newEnrollmentFixture(t *testing.T, rp RelyingParty, verified bool) *enrollmentFixture {
	t.Helper()
	ctx := context.Background()
	f := &enrollmentFixture{accounts: newAccountService(), clock: newFakeClock()}
	f.service = NewEnrollmentService(rp, f.accounts,
		WithEnrollmentTTL(time.Minute),
		WithEnrollmentClock(f.clock.Now),
	)

	var err error
	f.account, err = f.accounts.Create(ctx, accountRequest())
	require.NoError(t, err)
	if verified {
		require.NoError(t, f.accounts.MarkVerified(ctx, f.account.ID))
	}

	f.auth, err = softauthn.New(testOrigin)
	require.NoError(t, err)
	return f
}

// attest runs the authenticator over options as a client would after a JSON round trip
func (f *enrollmentFixture) attest(t *testing.T, options *protocol.CredentialCreation) []byte {
	t.Helper()
	raw, err := json.Marshal(options)
	require.NoError(t, err)
	var received protocol.CredentialCreation
	require.NoError(t, json.Unmarshal(raw, &received))

	resp, err := f.auth.CreateCredential(context.Background(), &received)
	require.NoError(t, err)
	body, err := json.Marshal(resp)
	require.NoError(t, err)
	return body
}

func TestEnrollmentService_Register(t *testing.T) {
	ctx := context.Background()
	f := newEnrollmentFixture(t, newRelyingParty(t), true)

	options, err := f.service.Begin(ctx, f.account.ID, "Chrome on macOS")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", options.Response.User.Name)
	assert.Empty(t, options.Response.CredentialExcludeList)

	record, err := f.service.Finish(ctx, f.account.ID, "", "fp-1", f.attest(t, options))
	require.NoError(t, err)
	assert.Equal(t, "Chrome on macOS", record.DeviceLabel)
	assert.Equal(t, "fp-1", record.Fingerprint)
	assert.NotEmpty(t, record.EncodedID())
	assert.Len(t, f.service.Credentials(f.account.ID), 1)

	t.Run("ExcludesRegisteredCredentials", func(t *testing.T) {
		options, err := f.service.Begin(ctx, f.account.ID, "Chrome on macOS")
		require.NoError(t, err)
		require.Len(t, options.Response.CredentialExcludeList, 1)
		assert.Equal(t, record.Credential.ID, []byte(options.Response.CredentialExcludeList[0].CredentialID))
	})
}

func TestEnrollmentService_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("NoRelyingParty", func(t *testing.T) {
		f := newEnrollmentFixture(t, nil, true)
		_, err := f.service.Begin(ctx, f.account.ID, "")
		assert.True(t, errors.IsCode(err, errors.ErrCodeServerConfiguration))
		_, err = f.service.Finish(ctx, f.account.ID, "", "", []byte(`{}`))
		assert.True(t, errors.IsCode(err, errors.ErrCodeServerConfiguration))
	})

	t.Run("Unverified", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), false)
		_, err := f.service.Begin(ctx, f.account.ID, "")
		assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthenticated))
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), true)
		_, err := f.service.Begin(ctx, uuid.New(), "")
		assert.True(t, errors.IsCode(err, errors.ErrCodeUnauthenticated))
	})

	t.Run("ChallengeExpired", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), true)
		options, err := f.service.Begin(ctx, f.account.ID, "")
		require.NoError(t, err)
		body := f.attest(t, options)

		f.clock.Advance(time.Minute)
		_, err = f.service.Finish(ctx, f.account.ID, "", "", body)
		assert.True(t, errors.IsCode(err, errors.ErrCodeChallengeExpired))
	})

	t.Run("NoPendingOptions", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), true)
		options, err := f.service.Begin(ctx, f.account.ID, "")
		require.NoError(t, err)
		body := f.attest(t, options)

		_, err = f.service.Finish(ctx, f.account.ID, "", "", body)
		require.NoError(t, err)
		_, err = f.service.Finish(ctx, f.account.ID, "", "", body)
		assert.True(t, errors.IsCode(err, errors.ErrCodeChallengeExpired))
	})

	t.Run("UnreadableAttestation", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), true)
		_, err := f.service.Begin(ctx, f.account.ID, "")
		require.NoError(t, err)

		_, err = f.service.Finish(ctx, f.account.ID, "", "", []byte(`{"id":"abc"}`))
		assert.True(t, errors.IsCode(err, errors.ErrCodeDataFormat))
	})

	t.Run("WrongChallenge", func(t *testing.T) {
		f := newEnrollmentFixture(t, newRelyingParty(t), true)
		stale, err := f.service.Begin(ctx, f.account.ID, "")
		require.NoError(t, err)
		body := f.attest(t, stale)

		_, err = f.service.Begin(ctx, f.account.ID, "")
		require.NoError(t, err)
		_, err = f.service.Finish(ctx, f.account.ID, "", "", body)
		assert.True(t, errors.IsCode(err, errors.ErrCodeDataFormat))
	})
}
