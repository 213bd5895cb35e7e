package devbackend

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/notification"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testBackend struct {
	handle     *Handle
	accounts   *AccountService
	enrollment *EnrollmentService
	tokens     *TokenIssuer
	notifier   *notification.MockNotifier
	server     *httptest.Server
}

func newTestBackend(t *testing.T, opts ...HandleOption) *testBackend {
	t.Helper()
	b := &testBackend{
		accounts: newAccountService(),
		tokens:   NewTokenIssuer(testSecret),
		notifier: &notification.MockNotifier{},
	}
	manager, err := notification.NewNotificationManagerWithOptions(
		notification.WithNotifier(notification.EmailSystem, b.notifier),
		notification.WithOTPCodeTemplate(),
	)
	require.NoError(t, err)

	otpService := NewOTPService(b.accounts, b.tokens, manager)
	b.enrollment = NewEnrollmentService(newRelyingParty(t), b.accounts)
	b.handle = NewHandle(b.accounts, otpService, NewSkillCatalog(DefaultSkills), b.enrollment,
		jwtauth.New("HS256", []byte(testSecret), nil), opts...)

	b.server = httptest.NewServer(b.handle.Router())
	t.Cleanup(b.server.Close)
	return b
}

// lastCode returns the code of the most recent email
func (b *testBackend) lastCode(t *testing.T) string {
	t.Helper()
	sent := b.notifier.Sent()
	require.NotEmpty(t, sent)
	return sent[len(sent)-1].Data["Code"]
}

func (b *testBackend) post(t *testing.T, path, bearer string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, b.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeErrorBody(t *testing.T, resp *http.Response) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHandle_CreateAccount(t *testing.T) {
	b := newTestBackend(t)

	resp := b.post(t, api.PathAccounts, "", accountRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created api.CreateAccountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)

	resp = b.post(t, api.PathAccounts, "", accountRequest())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "conflict", decodeErrorBody(t, resp).Code)

	bad := accountRequest()
	bad.Email = "not-an-email"
	resp = b.post(t, api.PathAccounts, "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation_failed", decodeErrorBody(t, resp).Code)
}

func TestHandle_CodeExchange(t *testing.T) {
	b := newTestBackend(t)
	require.Equal(t, http.StatusCreated, b.post(t, api.PathAccounts, "", accountRequest()).StatusCode)

	resp := b.post(t, api.PathOTPSend, "", api.EmailRequest{Email: "ada@example.com"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = b.post(t, api.PathOTPResend, "", api.EmailRequest{Email: "ada@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeErrorBody(t, resp).Code)

	resp = b.post(t, api.PathOTPVerify, "", api.VerifyRequest{Email: "ada@example.com", Code: "not-it"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_code", decodeErrorBody(t, resp).Code)

	resp = b.post(t, api.PathOTPVerify, "", api.VerifyRequest{Email: "ada@example.com", Code: b.lastCode(t)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var verified api.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verified))
	assert.True(t, verified.Verified)
	require.NotNil(t, verified.Session)
	assert.Equal(t, "ada@example.com", verified.Session.Email)
}

func TestHandle_Skills(t *testing.T) {
	b := newTestBackend(t)

	resp, err := http.Get(b.server.URL + api.PathSkills)
	require.NoError(t, err)
	defer resp.Body.Close()
	var skills []api.Skill
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&skills))
	assert.Len(t, skills, len(DefaultSkills))

	added := b.post(t, api.PathSkills, "", api.AddSkillRequest{Name: "Rust"})
	require.Equal(t, http.StatusCreated, added.StatusCode)

	empty := b.post(t, api.PathSkills, "", api.AddSkillRequest{Name: " "})
	assert.Equal(t, http.StatusBadRequest, empty.StatusCode)
}

func TestHandle_PasskeyRoutesRequireAccessToken(t *testing.T) {
	b := newTestBackend(t)
	resp := b.post(t, api.PathAccounts, "", accountRequest())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	account, err := b.accounts.FindByEmail(t.Context(), "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, b.accounts.MarkVerified(t.Context(), account.ID))
	account.EmailVerified = true
	session, err := b.tokens.Issue(account)
	require.NoError(t, err)

	tests := []struct {
		name   string
		bearer string
		status int
		code   string
	}{
		{"NoToken", "", http.StatusUnauthorized, "unauthenticated"},
		{"Garbage", "not-a-jwt", http.StatusUnauthorized, "unauthenticated"},
		{"RefreshToken", session.RefreshToken, http.StatusUnauthorized, "unauthenticated"},
		{"AccessToken", session.AccessToken, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := b.post(t, api.PathPasskeyOptions, tt.bearer, api.EnrollmentOptionsRequest{DeviceLabel: "Laptop"})
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.code != "" {
				assert.Equal(t, tt.code, decodeErrorBody(t, resp).Code)
			}
		})
	}

	t.Run("MissingCredential", func(t *testing.T) {
		resp := b.post(t, api.PathPasskeyRegister, session.AccessToken, map[string]string{"device_label": "Laptop"})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "invalid_attestation", decodeErrorBody(t, resp).Code)
	})
}

func TestHandle_RateLimitMiddleware(t *testing.T) {
	limits := ratelimit.NewMiddleware(&ratelimit.Config{
		EndpointLimits: map[string]ratelimit.EndpointLimit{
			http.MethodPost + " " + api.PathOTPSend: {Capacity: 1, RefillRate: 1.0 / 3600},
		},
		BucketTTL: time.Hour,
	})
	b := newTestBackend(t, WithRateLimit(limits))

	resp := b.post(t, api.PathOTPSend, "", api.EmailRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = b.post(t, api.PathOTPSend, "", api.EmailRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", decodeErrorBody(t, resp).Code)

	resp = b.post(t, api.PathOTPVerify, "", api.VerifyRequest{Email: "nobody@example.com", Code: "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
