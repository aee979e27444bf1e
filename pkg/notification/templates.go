package notification

import (
	"fmt"
	"html"
)

// MfaEmailSubject is the subject line for email MFA codes.
func MfaEmailSubject(appName string) string {
	return fmt.Sprintf("%s - Your verification code", appName)
}

// MfaEmailBody renders the HTML body carrying an email MFA code.
func MfaEmailBody(appName, code string) string {
	return fmt.Sprintf(
		`<html><body><p>Use the code below to sign in to %s.</p><h2>%s</h2><p>The code expires in 5 minutes. If you did not request it, you can ignore this email.</p></body></html>`,
		html.EscapeString(appName), html.EscapeString(code))
}

// VerificationEmailSubject is the subject line for signup verification.
func VerificationEmailSubject(appName string) string {
	return fmt.Sprintf("%s - Welcome, please verify your email address", appName)
}

// VerificationEmailBody renders the signup verification email. It carries
// both the code and a link to the verification page.
func VerificationEmailBody(appName, verifyURL, code string) string {
	return fmt.Sprintf(
		`<html><body><p>Welcome to %s. Use the code below to verify your email address.</p><h2>%s</h2><p><a href=%q>Verify your email</a></p><p>If you did not create this account, you can ignore this email.</p></body></html>`,
		html.EscapeString(appName), html.EscapeString(code), verifyURL)
}

// MfaSmsBody renders the text of an SMS MFA code message.
func MfaSmsBody(appName, code string) string {
	return fmt.Sprintf("%s verification code: %s", appName, code)
}
