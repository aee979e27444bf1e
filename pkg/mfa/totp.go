package mfa

import (
	"fmt"
	"net/url"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// otpIssuer is the issuer reported to authenticator apps.
const otpIssuer = "melody-auth"

// GenerateOtpSecret mints a fresh TOTP secret for a user.
func (s *Service) GenerateOtpSecret(email string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      otpIssuer,
		AccountName: email,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate otp secret: %w", err)
	}
	return key.Secret(), nil
}

// OtpAuthURI renders the otpauth URI the setup screen shows as a QR code.
func OtpAuthURI(appName, email, secret string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", appName, email))
	return fmt.Sprintf(
		"otpauth://totp/%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=30",
		label, secret, otpIssuer)
}

// VerifyTotp checks a 6-digit authenticator code against the secret. A skew
// of one period is tolerated in both directions.
func (s *Service) VerifyTotp(secret, code string) bool {
	valid, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
