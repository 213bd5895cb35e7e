package api

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/tendant/simple-onboard/pkg/sessionstore"
)

// Route paths shared by the client and the reference backend
const (
	PathAccounts        = "/api/v1/accounts"
	PathOTPSend         = "/api/v1/otp/send"
	PathOTPResend       = "/api/v1/otp/resend"
	PathOTPVerify       = "/api/v1/otp/verify"
	PathSkills          = "/api/v1/skills"
	PathPasskeyOptions  = "/api/v1/passkeys/options"
	PathPasskeyRegister = "/api/v1/passkeys"
)

type CreateAccountRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	Location  string `json:"location,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type CreateAccountResponse struct {
	ID string `json:"id"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type VerifyResponse struct {
	Verified bool                  `json:"verified"`
	Session  *sessionstore.Session `json:"session,omitempty"`
}

// Skill is one entry of the skills catalog
type Skill struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
}

type AddSkillRequest struct {
	Name string `json:"name"`
}

type AddSkillResponse struct {
	ID string `json:"id"`
}

type EnrollmentOptionsRequest struct {
	DeviceLabel string `json:"device_label"`
}

type CompleteEnrollmentRequest struct {
	DeviceLabel string                               `json:"device_label"`
	Credential  *protocol.CredentialCreationResponse `json:"credential"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
