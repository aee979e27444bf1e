package config

import (
	"fmt"
	"sync"
	"time"
)

// AuthConfig holds the runtime policy knobs of the authorization engine.
// Flow decisions read a fresh snapshot through a Provider on every call, so
// an operator can flip an MFA requirement mid-flight and in-progress
// sessions pick it up at their next step.
type AuthConfig struct {
	// Issuer is the base URL of this server, used as the iss claim and to
	// build redirect targets.
	Issuer string `env:"AUTH_ISSUER" env-default:"http://localhost:8787"`

	// AppName is shown in authenticator apps as the TOTP account label.
	AppName string `env:"AUTH_APP_NAME" env-default:"Melody Auth"`

	// MFA policy. Required flags force verification on every login; the
	// enrollment list offers a choice when a user has nothing enrolled.
	OtpMfaRequired       bool     `env:"OTP_MFA_IS_REQUIRED" env-default:"false"`
	SmsMfaRequired       bool     `env:"SMS_MFA_IS_REQUIRED" env-default:"false"`
	EmailMfaRequired     bool     `env:"EMAIL_MFA_IS_REQUIRED" env-default:"false"`
	EnforceMfaEnrollment []string `env:"ENFORCE_ONE_MFA_ENROLLMENT" env-default:"otp,email"`

	// AllowEmailMfaAsBackup lets users who cannot reach their OTP app or
	// phone fall back to an email code.
	AllowEmailMfaAsBackup bool `env:"ALLOW_EMAIL_MFA_AS_BACKUP" env-default:"true"`

	// AccountLockoutThreshold is the number of failed password attempts per
	// (email, ip) before login is blocked. Zero disables lockout.
	AccountLockoutThreshold int64         `env:"ACCOUNT_LOCKOUT_THRESHOLD" env-default:"5"`
	AccountLockoutWindow    time.Duration `env:"ACCOUNT_LOCKOUT_EXPIRES_IN" env-default:"24h"`

	// Send-rate ceilings for code deliveries. Zero disables the ceiling.
	SmsMfaMessageThreshold int64 `env:"SMS_MFA_MESSAGE_THRESHOLD" env-default:"5"`
	EmailMfaEmailThreshold int64 `env:"EMAIL_MFA_EMAIL_THRESHOLD" env-default:"10"`

	// EnableUserAppConsent inserts a consent step for apps the user has not
	// yet approved.
	EnableUserAppConsent bool `env:"ENABLE_USER_APP_CONSENT" env-default:"true"`

	// EnableEmailVerification sends new accounts a verification code so the
	// emailVerified claim can eventually turn true. Verification never
	// blocks the flow.
	EnableEmailVerification    bool          `env:"ENABLE_EMAIL_VERIFICATION" env-default:"true"`
	EmailVerificationExpiresIn time.Duration `env:"EMAIL_VERIFICATION_EXPIRES_IN" env-default:"24h"`

	// Lifetimes.
	AuthorizationCodeExpiresIn time.Duration `env:"AUTHORIZATION_CODE_EXPIRES_IN" env-default:"5m"`
	MfaCodeExpiresIn           time.Duration `env:"MFA_CODE_EXPIRES_IN" env-default:"5m"`
	AccessTokenExpiresIn       time.Duration `env:"ACCESS_TOKEN_EXPIRES_IN" env-default:"30m"`
	IDTokenExpiresIn           time.Duration `env:"ID_TOKEN_EXPIRES_IN" env-default:"30m"`
	RefreshTokenExpiresIn      time.Duration `env:"REFRESH_TOKEN_EXPIRES_IN" env-default:"720h"`

	// SmsCountryCode is prefixed to enrolled phone numbers that carry no
	// country code of their own.
	SmsCountryCode string `env:"SMS_MFA_COUNTRY_CODE" env-default:"+1"`
}

// DefaultAuthConfig returns an AuthConfig with the documented defaults.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Issuer:                     "http://localhost:8787",
		AppName:                    "Melody Auth",
		EnforceMfaEnrollment:       []string{"otp", "email"},
		AllowEmailMfaAsBackup:      true,
		AccountLockoutThreshold:    5,
		AccountLockoutWindow:       24 * time.Hour,
		SmsMfaMessageThreshold:     5,
		EmailMfaEmailThreshold:     10,
		EnableUserAppConsent:       true,
		EnableEmailVerification:    true,
		EmailVerificationExpiresIn: 24 * time.Hour,
		AuthorizationCodeExpiresIn: 5 * time.Minute,
		MfaCodeExpiresIn:           5 * time.Minute,
		AccessTokenExpiresIn:       30 * time.Minute,
		IDTokenExpiresIn:           30 * time.Minute,
		RefreshTokenExpiresIn:      720 * time.Hour,
		SmsCountryCode:             "+1",
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *AuthConfig) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer must not be empty")
	}
	if c.AccountLockoutThreshold < 0 {
		return fmt.Errorf("account lockout threshold must be non-negative, got %d", c.AccountLockoutThreshold)
	}
	if c.AccountLockoutWindow < 0 {
		return fmt.Errorf("account lockout window must be non-negative, got %v", c.AccountLockoutWindow)
	}
	if c.AuthorizationCodeExpiresIn <= 0 {
		return fmt.Errorf("authorization code lifetime must be positive, got %v", c.AuthorizationCodeExpiresIn)
	}
	if c.AccessTokenExpiresIn <= 0 {
		return fmt.Errorf("access token lifetime must be positive, got %v", c.AccessTokenExpiresIn)
	}
	if c.RefreshTokenExpiresIn <= 0 {
		return fmt.Errorf("refresh token lifetime must be positive, got %v", c.RefreshTokenExpiresIn)
	}
	for _, m := range c.EnforceMfaEnrollment {
		switch m {
		case "otp", "sms", "email":
		default:
			return fmt.Errorf("unknown mfa type %q in enrollment enforcement list", m)
		}
	}
	return nil
}

// Provider hands out the current AuthConfig snapshot. Flow code must call
// Current at each decision point rather than caching the result.
type Provider interface {
	Current() AuthConfig
}

// StaticProvider serves one fixed snapshot.
type StaticProvider struct {
	cfg AuthConfig
}

func NewStaticProvider(cfg AuthConfig) *StaticProvider {
	return &StaticProvider{cfg: cfg}
}

func (p *StaticProvider) Current() AuthConfig { return p.cfg }

// MutableProvider allows the snapshot to be swapped at runtime. Tests use it
// to change policy between steps of a flow.
type MutableProvider struct {
	mu  sync.RWMutex
	cfg AuthConfig
}

func NewMutableProvider(cfg AuthConfig) *MutableProvider {
	return &MutableProvider{cfg: cfg}
}

func (p *MutableProvider) Current() AuthConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *MutableProvider) Set(cfg AuthConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Update applies fn to a copy of the current snapshot and installs the
// result.
func (p *MutableProvider) Update(fn func(*AuthConfig)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg
	fn(&cfg)
	p.cfg = cfg
}
