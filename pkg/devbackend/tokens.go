package devbackend

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims are the JWT claims of access and refresh tokens
type Claims struct {
	Email     string `json:"email"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs HS256 tokens for verified accounts
type TokenIssuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      func() time.Time
}

// TokenOption configures a TokenIssuer
type TokenOption func(*TokenIssuer)

func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) {
		t.issuer = issuer
	}
}

func WithAudience(audience string) TokenOption {
	return func(t *TokenIssuer) {
		t.audience = audience
	}
}

// WithTokenTTL sets the lifetime of access and refresh tokens
func WithTokenTTL(access, refresh time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		t.accessTTL = access
		t.refreshTTL = refresh
	}
}

func NewTokenIssuer(secret string, opts ...TokenOption) *TokenIssuer {
	t := &TokenIssuer{
		secret:     []byte(secret),
		issuer:     "simple-onboard",
		accessTTL:  15 * time.Minute,
		refreshTTL: 24 * time.Hour,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TokenIssuer) sign(account Account, tokenType string, ttl time.Duration) (string, error) {
	now := t.clock().UTC()
	claims := Claims{
		Email:     account.Email,
		Role:      account.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   account.ID.String(),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if t.audience != "" {
		claims.Audience = jwt.ClaimStrings{t.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// Issue creates the session handed to the client once the email is verified
func (t *TokenIssuer) Issue(account Account) (sessionstore.Session, error) {
	access, err := t.sign(account, TokenTypeAccess, t.accessTTL)
	if err != nil {
		return sessionstore.Session{}, err
	}
	refresh, err := t.sign(account, TokenTypeRefresh, t.refreshTTL)
	if err != nil {
		return sessionstore.Session{}, err
	}

	return sessionstore.Session{
		UserID:       account.ID.String(),
		DisplayName:  account.DisplayName(),
		Email:        account.Email,
		Role:         account.Role,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Parse verifies a token signed by this issuer and returns its claims
func (t *TokenIssuer) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.clock),
	}
	if t.audience != "" {
		opts = append(opts, jwt.WithAudience(t.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
