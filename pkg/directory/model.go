// Package directory holds the durable identity records: user accounts and
// the OAuth apps allowed to authenticate them. Everything transient about a
// login lives in the session store instead.
package directory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MFA type names as stored on the user record and in policy config.
const (
	MfaTypeOtp   = "otp"
	MfaTypeSms   = "sms"
	MfaTypeEmail = "email"
)

// App client types.
const (
	AppTypeSPA = "spa"
	AppTypeS2S = "s2s"
)

// User is an account in the directory. DeletedAt implements soft delete:
// a deleted user is invisible to every lookup.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string

	EmailVerified bool

	// MfaTypes lists the factors the user enrolled in, in enrollment order.
	MfaTypes []string

	OtpSecret   string
	OtpVerified bool

	SmsPhoneNumber         string
	SmsPhoneNumberVerified bool

	Roles  []string
	Locale string

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// MfaEnrolled reports whether the user enrolled the given factor.
func (u *User) MfaEnrolled(mfaType string) bool {
	for _, t := range u.MfaTypes {
		if t == mfaType {
			return true
		}
	}
	return false
}

// EnrollMfa appends the factor if not already present.
func (u *User) EnrollMfa(mfaType string) {
	if !u.MfaEnrolled(mfaType) {
		u.MfaTypes = append(u.MfaTypes, mfaType)
	}
}

// UnenrollMfa removes the factor from the enrollment list.
func (u *User) UnenrollMfa(mfaType string) {
	kept := u.MfaTypes[:0]
	for _, t := range u.MfaTypes {
		if t != mfaType {
			kept = append(kept, t)
		}
	}
	u.MfaTypes = kept
}

// App is a registered OAuth client.
type App struct {
	ID           uuid.UUID
	ClientID     string
	Name         string
	Type         string
	Secret       string
	RedirectURIs []string
	Scopes       []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// AllowsRedirectURI reports whether uri is registered for the app. Matching
// ignores case and a trailing slash, which covers the usual copy-paste
// variations without weakening the check.
func (a *App) AllowsRedirectURI(uri string) bool {
	normalized := normalizeRedirectURI(uri)
	for _, registered := range a.RedirectURIs {
		if normalizeRedirectURI(registered) == normalized {
			return true
		}
	}
	return false
}

func normalizeRedirectURI(uri string) string {
	return strings.ToLower(strings.TrimRight(uri, "/"))
}
