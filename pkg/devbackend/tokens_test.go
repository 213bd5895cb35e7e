package devbackend

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer(t *testing.T) {
	issuer := NewTokenIssuer("0123456789abcdef0123456789abcdef",
		WithIssuer("onboard-test"),
		WithAudience("onboard-cli"),
		WithTokenTTL(time.Minute, time.Hour),
	)
	account := Account{ID: uuid.New(), FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Role: "client"}

	session, err := issuer.Issue(account)
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), session.UserID)
	assert.Equal(t, "Ada Lovelace", session.DisplayName)
	require.NoError(t, session.Validate())

	access, err := issuer.Parse(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, access.TokenType)
	assert.Equal(t, account.ID.String(), access.Subject)
	assert.Equal(t, "client", access.Role)
	assert.Equal(t, "onboard-test", access.Issuer)

	refresh, err := issuer.Parse(session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, refresh.TokenType)
	assert.True(t, refresh.ExpiresAt.After(access.ExpiresAt.Time))

	t.Run("WrongSecret", func(t *testing.T) {
		other := NewTokenIssuer("ffffffffffffffffffffffffffffffff", WithIssuer("onboard-test"), WithAudience("onboard-cli"))
		_, err := other.Parse(session.AccessToken)
		assert.Error(t, err)
	})

	t.Run("Expired", func(t *testing.T) {
		late := NewTokenIssuer("0123456789abcdef0123456789abcdef", WithIssuer("onboard-test"), WithAudience("onboard-cli"))
		late.clock = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err := late.Parse(session.AccessToken)
		assert.Error(t, err)
	})
}
