package kv

import "fmt"

// Key namespaces. Every record type owns a distinct prefix so one logical
// store can hold sessions, codes and counters without collisions.
const (
	prefixAuthSession        = "AC"
	prefixRefreshToken       = "RT"
	prefixSmsMfaCode         = "SMC"
	prefixEmailMfaCode       = "EMC"
	prefixEmailVerification  = "EVC"
	prefixFailedLogin        = "FLA"
	prefixFailedOtpAttempts  = "FOA"
	prefixSmsMfaMsgAttempts  = "SMA"
	prefixEmailMfaMsgAttempt = "EMA"
)

// AuthSessionKey keys the in-flight authorization session record. The token
// doubles as the OAuth authorization code.
func AuthSessionKey(token string) string {
	return fmt.Sprintf("%s-%s", prefixAuthSession, token)
}

// RefreshTokenKey keys a stored refresh-token record by the token value.
func RefreshTokenKey(token string) string {
	return fmt.Sprintf("%s-%s", prefixRefreshToken, token)
}

// SmsMfaCodeKey binds an issued SMS code to its authorization session.
func SmsMfaCodeKey(sessionToken string) string {
	return fmt.Sprintf("%s-%s", prefixSmsMfaCode, sessionToken)
}

// EmailMfaCodeKey binds an issued Email code to its authorization session.
func EmailMfaCodeKey(sessionToken string) string {
	return fmt.Sprintf("%s-%s", prefixEmailMfaCode, sessionToken)
}

// EmailVerificationKey binds a signup verification code to the user. Keyed
// by user, not session, so the code outlives the login that triggered it.
func EmailVerificationKey(userID string) string {
	return fmt.Sprintf("%s-%s", prefixEmailVerification, userID)
}

// FailedLoginKey counts failed password logins per (email, ip).
func FailedLoginKey(email, ip string) string {
	return fmt.Sprintf("%s-%s-%s", prefixFailedLogin, email, ip)
}

// FailedOtpKey counts failed OTP submissions per (user, ip).
func FailedOtpKey(userID, ip string) string {
	return fmt.Sprintf("%s-%s-%s", prefixFailedOtpAttempts, userID, ip)
}

// SmsSendKey counts SMS deliveries per (user, ip).
func SmsSendKey(userID, ip string) string {
	return fmt.Sprintf("%s-%s-%s", prefixSmsMfaMsgAttempts, userID, ip)
}

// EmailSendKey counts Email MFA deliveries per (user, ip).
func EmailSendKey(userID, ip string) string {
	return fmt.Sprintf("%s-%s-%s", prefixEmailMfaMsgAttempt, userID, ip)
}
