package sessionstore

import (
	"fmt"
	"log/slog"
	"strings"
)

const (
	ACCESS_TOKEN_NAME  = "access_token"
	REFRESH_TOKEN_NAME = "refresh_token"
	USER_RECORD_NAME   = "user"
)

// User is the minimal authenticated-user record kept next to the tokens
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email"`
	Role        string `json:"role"`
}

// Session is the authenticated identity issued once the email is verified
type Session struct {
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name,omitempty"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// LogValue keeps tokens out of logs
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", s.UserID),
		slog.String("email", s.Email),
		slog.String("role", s.Role),
		slog.Bool("has_refresh_token", s.RefreshToken != ""),
	)
}

func (s Session) User() User {
	return User{
		ID:          s.UserID,
		DisplayName: s.DisplayName,
		Email:       s.Email,
		Role:        s.Role,
	}
}

// Validate reports whether the session can authenticate later calls
func (s Session) Validate() error {
	var missing []string
	if strings.TrimSpace(s.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		missing = append(missing, "access_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidSession, strings.Join(missing, ", "))
	}
	return nil
}
