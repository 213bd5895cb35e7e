// Package api is the HTTP client for the onboarding backend.
//
// Every method returns a *errors.Error: remote failures carry the code from
// the response body (or one derived from the status), transport failures are
// ErrCodeNetwork and keep the underlying error for errors.Is.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

const maxErrorBody = 64 << 10

// TokenSource returns the bearer token for authenticated calls
type TokenSource func(ctx context.Context) (string, error)

type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	userAgent  string
}

// Option is a function that configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the transport timeout of the default HTTP client
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// WithTokenSource sets where bearer tokens come from
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithSessionStore reads bearer tokens from the persisted session
func WithSessionStore(store sessionstore.Store) Option {
	return func(c *Client) {
		c.tokens = func(ctx context.Context) (string, error) {
			return sessionstore.AccessToken(ctx, store)
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "simple-onboard",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateAccount registers a new account
func (c *Client) CreateAccount(ctx context.Context, req CreateAccountRequest) (*CreateAccountResponse, error) {
	var resp CreateAccountResponse
	if err := c.do(ctx, http.MethodPost, PathAccounts, false, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendOTP asks the backend to email a one-time code
func (c *Client) SendOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, PathOTPSend, false, EmailRequest{Email: email}, nil)
}

// ResendOTP asks the backend to email a fresh one-time code
func (c *Client) ResendOTP(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, PathOTPResend, false, EmailRequest{Email: email}, nil)
}

// VerifyOTP submits a code. A wrong code is ErrCodeInvalidCode whether the
// backend answers with an error status or with verified=false.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.do(ctx, http.MethodPost, PathOTPVerify, false, VerifyRequest{Email: email, Code: code}, &resp); err != nil {
		if errors.IsCode(err, errors.ErrCodeValidationFailed) || errors.IsCode(err, errors.ErrCodeUnauthenticated) {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidCode, "The code is invalid or has expired.").WithField("code")
		}
		return nil, err
	}
	if !resp.Verified {
		return nil, errors.New(errors.ErrCodeInvalidCode, "The code is invalid or has expired.").WithField("code")
	}
	return &resp, nil
}

func (c *Client) ListSkills(ctx context.Context) ([]Skill, error) {
	var skills []Skill
	if err := c.do(ctx, http.MethodGet, PathSkills, false, nil, &skills); err != nil {
		return nil, err
	}
	return skills, nil
}

func (c *Client) AddSkill(ctx context.Context, name string) (*AddSkillResponse, error) {
	var resp AddSkillResponse
	if err := c.do(ctx, http.MethodPost, PathSkills, false, AddSkillRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitiateEnrollment fetches credential creation options for the authenticated user
func (c *Client) InitiateEnrollment(ctx context.Context, deviceLabel string) (*protocol.CredentialCreation, error) {
	var options protocol.CredentialCreation
	if err := c.do(ctx, http.MethodPost, PathPasskeyOptions, true, EnrollmentOptionsRequest{DeviceLabel: deviceLabel}, &options); err != nil {
		return nil, err
	}
	return &options, nil
}

// CompleteEnrollment submits the attestation produced by the authenticator
func (c *Client) CompleteEnrollment(ctx context.Context, deviceLabel string, attestation *protocol.CredentialCreationResponse) error {
	req := CompleteEnrollmentRequest{DeviceLabel: deviceLabel, Credential: attestation}
	return c.do(ctx, http.MethodPost, PathPasskeyRegister, true, req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, authenticated bool, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.InternalWrap(err, "failed to encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.InternalWrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		if c.tokens == nil {
			return errors.Unauthenticated("Sign in again to continue.")
		}
		token, err := c.tokens(ctx)
		if err != nil || token == "" {
			e := errors.Unauthenticated("Sign in again to continue.")
			e.Err = err
			return e
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("Request failed", "method", method, "path", path, "err", err)
		return errors.Network(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrCodeDataFormat, "Unexpected response from server.")
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body ErrorResponse
	_ = json.Unmarshal(data, &body)

	code, ok := errors.FromWireCode(body.Code)
	if !ok {
		code = errors.MapHTTPStatusToErrorCode(resp.StatusCode)
	}

	var e *errors.Error
	if code == errors.ErrCodeRateLimitExceeded {
		seconds, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		e = errors.RateLimitExceeded(time.Duration(seconds) * time.Second)
	} else {
		e = errors.New(code, defaultMessage(code))
	}
	if body.Message != "" {
		e.Message = body.Message
	}
	e.WithDetail("status", resp.StatusCode)
	e.Err = fmt.Errorf("%s: status %d", resp.Request.URL.Path, resp.StatusCode)
	return e
}

func defaultMessage(code errors.ErrorCode) string {
	switch code {
	case errors.ErrCodeConflict:
		return "This resource already exists."
	case errors.ErrCodeUnauthenticated:
		return "Sign in again to continue."
	case errors.ErrCodeChallengeExpired:
		return "The passkey request expired. Please try again."
	case errors.ErrCodeDataFormat:
		return "The passkey response could not be read."
	case errors.ErrCodeServerConfiguration:
		return "Passkeys are not available right now."
	case errors.ErrCodeInvalidCode:
		return "The code is invalid or has expired."
	case errors.ErrCodeValidationFailed:
		return "The request was invalid."
	case errors.ErrCodeNotFound:
		return "Not found."
	default:
		return "Something went wrong. Please try again."
	}
}
