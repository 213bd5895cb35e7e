package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestError_Wrapping(t *testing.T) {
	err := Network(context.Canceled)

	assert.True(t, IsCode(err, ErrCodeNetwork))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Contains(t, err.Error(), "[NETWORK_ERROR]")
	assert.Nil(t, Network(nil))
}

func TestUserMessageAndField(t *testing.T) {
	err := Conflict("email", "An account with this email already exists.")
	assert.Equal(t, "An account with this email already exists.", UserMessage(err))
	assert.Equal(t, "email", FieldOf(err))

	assert.Equal(t, "", UserMessage(nil))
	assert.Equal(t, "Something went wrong. Please try again.", UserMessage(errors.New("boom")))
	assert.Equal(t, "", FieldOf(errors.New("boom")))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name  string
		err   *Error
		code  ErrorCode
		field string
	}{
		{"Validation", Validation("email", "Enter a valid email address."), ErrCodeValidationFailed, "email"},
		{"MissingRequired", MissingRequired("first_name", "First name"), ErrCodeMissingRequired, "first_name"},
		{"FieldFrozen", FieldFrozen("role"), ErrCodeFieldFrozen, "role"},
		{"InvalidCode", InvalidCode(2), ErrCodeInvalidCode, "code"},
		{"RateLimit", RateLimitExceeded(30 * time.Second), ErrCodeRateLimitExceeded, ""},
		{"Unsupported", UnsupportedPlatform(), ErrCodeUnsupportedPlatform, ""},
		{"ChallengeExpired", ChallengeExpired(), ErrCodeChallengeExpired, ""},
		{"DataFormat", DataFormat(errors.New("bad cbor")), ErrCodeDataFormat, ""},
		{"ServerConfiguration", ServerConfiguration(nil), ErrCodeServerConfiguration, ""},
		{"Terminal", Terminal(), ErrCodeTerminal, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.field, tt.err.Field)
			assert.NotEmpty(t, tt.err.Message)
		})
	}

	assert.Equal(t, "First name is required", MissingRequired("first_name", "First name").Message)
	assert.Equal(t, 2, GetDetails(InvalidCode(2))["attempts"])
	assert.Equal(t, "30", GetDetails(RateLimitExceeded(30*time.Second))["retry_after"])
	assert.Equal(t, "2", GetDetails(RateLimitExceeded(1500*time.Millisecond))["retry_after"])
	assert.Equal(t, "1", GetDetails(RateLimitExceeded(time.Nanosecond))["retry_after"])
	assert.Nil(t, GetDetails(RateLimitExceeded(0)))
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(Validation("x", "bad")))
	assert.True(t, IsValidation(MissingRequired("x", "X")))
	assert.True(t, IsValidation(FieldFrozen("email")))
	assert.False(t, IsValidation(Conflict("email", "dup")))
	assert.False(t, IsValidation(errors.New("plain")))
}

func TestHTTPMapping(t *testing.T) {
	assert.Equal(t, http.StatusConflict, Conflict("email", "dup").HTTPStatusCode())
	assert.Equal(t, http.StatusTooManyRequests, MapErrorCodeToHTTPStatus(ErrCodeRateLimitExceeded))
	assert.Equal(t, http.StatusInternalServerError, MapErrorCodeToHTTPStatus("UNKNOWN"))

	assert.Equal(t, ErrCodeConflict, MapHTTPStatusToErrorCode(http.StatusConflict))
	assert.Equal(t, ErrCodeUnauthenticated, MapHTTPStatusToErrorCode(http.StatusForbidden))
	assert.Equal(t, ErrCodeInternal, MapHTTPStatusToErrorCode(http.StatusBadGateway))
}

func TestWireCodes(t *testing.T) {
	code, ok := FromWireCode(WireInvalidAttestation)
	assert.True(t, ok)
	assert.Equal(t, ErrCodeDataFormat, code)

	_, ok = FromWireCode("mystery")
	assert.False(t, ok)

	assert.Equal(t, WireChallengeExpired, ToWireCode(ErrCodeChallengeExpired))
	assert.Equal(t, WireValidationFailed, ToWireCode(ErrCodeMissingRequired))
	assert.Equal(t, WireInternal, ToWireCode(ErrCodeInFlight))
}
