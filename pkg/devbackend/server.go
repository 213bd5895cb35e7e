package devbackend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/tendant/simple-onboard/pkg/api"
	"github.com/tendant/simple-onboard/pkg/device"
	"github.com/tendant/simple-onboard/pkg/errors"
	"github.com/tendant/simple-onboard/pkg/ratelimit"
)

type contextKey string

// AccountIDKey holds the uuid.UUID of the authenticated account
const AccountIDKey contextKey = "account_id"

// Handle serves the onboarding API
type Handle struct {
	accounts   *AccountService
	otp        *OTPService
	skills     *SkillCatalog
	enrollment *EnrollmentService
	tokenAuth  *jwtauth.JWTAuth
	limits     *ratelimit.Middleware
}

// HandleOption configures a Handle
type HandleOption func(*Handle)

// WithRateLimit guards the code routes with m
func WithRateLimit(m *ratelimit.Middleware) HandleOption {
	return func(h *Handle) {
		h.limits = m
	}
}

// NewHandle wires the services. tokenAuth verifies the bearer tokens issued
// by the OTP service and must share its secret.
func NewHandle(accounts *AccountService, otp *OTPService, skills *SkillCatalog, enrollment *EnrollmentService, tokenAuth *jwtauth.JWTAuth, opts ...HandleOption) *Handle {
	h := &Handle{
		accounts:   accounts,
		otp:        otp,
		skills:     skills,
		enrollment: enrollment,
		tokenAuth:  tokenAuth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers every route on r
func (h *Handle) Routes(r chi.Router) {
	r.Post(api.PathAccounts, h.CreateAccount)

	r.Group(func(r chi.Router) {
		if h.limits != nil {
			r.Use(h.limits.Handler)
		}
		r.Post(api.PathOTPSend, h.SendCode)
		r.Post(api.PathOTPResend, h.ResendCode)
	})
	r.Post(api.PathOTPVerify, h.VerifyCode)

	r.Get(api.PathSkills, h.ListSkills)
	r.Post(api.PathSkills, h.AddSkill)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(h.tokenAuth))
		r.Use(authenticate)
		r.Post(api.PathPasskeyOptions, h.PasskeyOptions)
		r.Post(api.PathPasskeyRegister, h.RegisterPasskey)
	})
}

// Router returns a standalone router serving Routes
func (h *Handle) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	h.Routes(r)
	return r
}

// authenticate admits access tokens only and stores the account id in the context
func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			slog.Debug("Rejected bearer token", "err", err)
			writeError(w, r, errors.Unauthenticated("Sign in again to continue."))
			return
		}
		if tokenType, _ := claims["token_type"].(string); tokenType != TokenTypeAccess {
			writeError(w, r, errors.Unauthenticated("Sign in again to continue."))
			return
		}
		sub, _ := claims["sub"].(string)
		accountID, err := uuid.Parse(sub)
		if err != nil {
			writeError(w, r, errors.Unauthenticated("Sign in again to continue."))
			return
		}
		ctx := context.WithValue(r.Context(), AccountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decode(r *http.Request, v interface{}) error {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		slog.Debug("Failed to decode request body", "path", r.URL.Path, "err", err)
		return errors.Wrap(err, errors.ErrCodeValidationFailed, "The request body is not valid JSON.")
	}
	return nil
}

// writeError renders err as an api.ErrorResponse with the mapped status
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errors.Error
	if !stderrors.As(err, &e) {
		e = errors.InternalWrap(err, "Something went wrong. Please try again.")
	}

	status := errors.MapErrorCodeToHTTPStatus(e.Code)
	message := e.Message
	if status >= http.StatusInternalServerError && e.Code == errors.ErrCodeInternal {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		message = "Something went wrong. Please try again."
	}
	if retry, ok := e.Details["retry_after"].(string); ok && retry != "" {
		w.Header().Set("Retry-After", retry)
	}

	render.Status(r, status)
	render.JSON(w, r, api.ErrorResponse{Code: errors.ToWireCode(e.Code), Message: message})
}

// (POST /api/v1/accounts)
func (h *Handle) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAccountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	account, err := h.accounts.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.CreateAccountResponse{ID: account.ID.String()})
}

// (POST /api/v1/otp/send)
func (h *Handle) SendCode(w http.ResponseWriter, r *http.Request) {
	h.deliverCode(w, r)
}

// (POST /api/v1/otp/resend)
func (h *Handle) ResendCode(w http.ResponseWriter, r *http.Request) {
	h.deliverCode(w, r)
}

func (h *Handle) deliverCode(w http.ResponseWriter, r *http.Request) {
	var req api.EmailRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.otp.Send(r.Context(), req.Email); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// (POST /api/v1/otp/verify)
func (h *Handle) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req api.VerifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.otp.Verify(r.Context(), req.Email, req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, api.VerifyResponse{Verified: true, Session: &session})
}

// (GET /api/v1/skills)
func (h *Handle) ListSkills(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, h.skills.List(r.Context()))
}

// (POST /api/v1/skills)
func (h *Handle) AddSkill(w http.ResponseWriter, r *http.Request) {
	var req api.AddSkillRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	skill, err := h.skills.Add(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.AddSkillResponse{ID: skill.ID})
}

func accountID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(AccountIDKey).(uuid.UUID)
	return id, ok
}

// (POST /api/v1/passkeys/options)
func (h *Handle) PasskeyOptions(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, r, errors.Unauthenticated("Sign in again to continue."))
		return
	}

	var req api.EnrollmentOptionsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	options, err := h.enrollment.Begin(r.Context(), id, device.LabelOrDetect(req.DeviceLabel, r.UserAgent()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, options)
}

type registerPasskeyRequest struct {
	DeviceLabel string          `json:"device_label"`
	Credential  json.RawMessage `json:"credential"`
}

// (POST /api/v1/passkeys)
func (h *Handle) RegisterPasskey(w http.ResponseWriter, r *http.Request) {
	id, ok := accountID(r)
	if !ok {
		writeError(w, r, errors.Unauthenticated("Sign in again to continue."))
		return
	}

	var req registerPasskeyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, errors.DataFormat(err))
		return
	}
	if len(req.Credential) == 0 || string(req.Credential) == "null" {
		writeError(w, r, errors.DataFormat(nil))
		return
	}

	if _, err := h.enrollment.Finish(r.Context(), id, req.DeviceLabel, device.Fingerprint(r), req.Credential); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
