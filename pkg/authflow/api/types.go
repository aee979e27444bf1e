package api

import "github.com/tangpian/melody-auth/pkg/authflow"

// PasswordRequest is the POST /authorize-password body.
type PasswordRequest struct {
	authflow.AuthorizeParams
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the POST /authorize-account body.
type SignupRequest struct {
	authflow.AuthorizeParams
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// SessionRequest carries just the session code, for steps with no other
// input.
type SessionRequest struct {
	Code string `json:"code"`
}

// MfaEnrollRequest is the POST /authorize-mfa-enroll body.
type MfaEnrollRequest struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

// MfaCodeRequest carries a one-time code for the verify endpoints.
type MfaCodeRequest struct {
	Code    string `json:"code"`
	MfaCode string `json:"mfaCode"`
}

// SetupSmsRequest is the POST /setup-sms-mfa body.
type SetupSmsRequest struct {
	Code        string `json:"code"`
	PhoneNumber string `json:"phoneNumber"`
}

// VerifyEmailRequest is the POST /verify-email body.
type VerifyEmailRequest struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

// MessageResponse acknowledges a side-effect-only endpoint.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the error payload for every identity endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}
