// Package session manages in-flight authorization sessions. A session is
// created when the authorize endpoint accepts a request and lives in the
// TTL key-value store until the token exchange consumes it. The session
// token doubles as the OAuth authorization code handed back to the client.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuthRequest is the snapshot of the original authorize request. It is
// echoed back to the client alongside the code and checked again at token
// exchange.
type AuthRequest struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	ResponseType        string   `json:"responseType"`
	State               string   `json:"state"`
	Nonce               string   `json:"nonce,omitempty"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
	Scopes              []string `json:"scopes"`
	Locale              string   `json:"locale,omitempty"`
	// Org is the tenant slug the client asked to brand the flow with.
	Org string `json:"org,omitempty"`
}

// UserSnapshot captures the user fields the flow needs so that MFA
// decisions do not reread the directory on every step. The snapshot is
// refreshed whenever a step mutates the user (enrollment, verification
// flag flips).
type UserSnapshot struct {
	ID                     uuid.UUID `json:"id"`
	Email                  string    `json:"email"`
	EmailVerified          bool      `json:"emailVerified"`
	MfaTypes               []string  `json:"mfaTypes"`
	OtpSecret              string    `json:"otpSecret,omitempty"`
	OtpVerified            bool      `json:"otpVerified"`
	SmsPhoneNumber         string    `json:"smsPhoneNumber,omitempty"`
	SmsPhoneNumberVerified bool      `json:"smsPhoneNumberVerified"`
	Roles                  []string  `json:"roles"`
}

// AuthSession is one in-flight login. Token is the opaque handle; it is not
// serialized into the record because it is the storage key.
type AuthSession struct {
	Token string `json:"-"`

	AppID   uuid.UUID `json:"appId"`
	AppName string    `json:"appName"`

	Request AuthRequest  `json:"request"`
	User    UserSnapshot `json:"user"`

	// MfaVerified lists the factors verified during this session, in
	// verification order.
	MfaVerified []string `json:"mfaVerified,omitempty"`

	// RememberedEnrollChoice is the factor the user picked on the
	// enrollment screen, before its verification completes.
	RememberedEnrollChoice string `json:"rememberedEnrollChoice,omitempty"`

	// FullyAuthorized is set once every required step of the flow has
	// passed. Only then may the token endpoint redeem the code.
	FullyAuthorized bool `json:"isFullyAuthorized"`

	CreatedAt time.Time `json:"createdAt"`
}

// IsFullyAuthorized reports whether the session finished its flow.
func (s *AuthSession) IsFullyAuthorized() bool { return s.FullyAuthorized }

// MfaVerifiedFor reports whether the factor was verified in this session.
func (s *AuthSession) MfaVerifiedFor(mfaType string) bool {
	for _, t := range s.MfaVerified {
		if t == mfaType {
			return true
		}
	}
	return false
}

// MarkMfaVerified records a verified factor, once.
func (s *AuthSession) MarkMfaVerified(mfaType string) {
	if !s.MfaVerifiedFor(mfaType) {
		s.MfaVerified = append(s.MfaVerified, mfaType)
	}
}

// NewToken returns a fresh opaque session token: 32 random bytes, hex
// encoded.
func NewToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
