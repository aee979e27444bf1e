// Package pkce implements RFC 7636 proof-key verification for the
// authorization code grant.
package pkce

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// ChallengeMethod names a code challenge transformation.
type ChallengeMethod string

const (
	MethodPlain ChallengeMethod = "plain"
	MethodS256  ChallengeMethod = "S256"
)

// ParseMethod normalizes a wire value to a ChallengeMethod. Lowercase s256
// is accepted since some clients send it that way.
func ParseMethod(s string) (ChallengeMethod, error) {
	switch {
	case s == string(MethodPlain):
		return MethodPlain, nil
	case strings.EqualFold(s, string(MethodS256)):
		return MethodS256, nil
	default:
		return "", fmt.Errorf("unsupported code challenge method %q", s)
	}
}

// Challenge computes the code challenge for a verifier under the given
// method.
func Challenge(verifier string, method ChallengeMethod) (string, error) {
	switch method {
	case MethodPlain:
		return verifier, nil
	case MethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	default:
		return "", fmt.Errorf("unsupported code challenge method %q", method)
	}
}

// Verify checks a token-request verifier against the challenge captured at
// authorization time. The comparison is constant time.
func Verify(verifier, challenge string, method ChallengeMethod) error {
	if verifier == "" {
		return fmt.Errorf("code verifier is empty")
	}
	if challenge == "" {
		return fmt.Errorf("code challenge is empty")
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("code verifier length %d outside 43..128", len(verifier))
	}
	if !validVerifierCharset(verifier) {
		return fmt.Errorf("code verifier contains invalid characters")
	}

	computed, err := Challenge(verifier, method)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code verifier does not match challenge")
	}
	return nil
}

// Unreserved characters per RFC 7636 section 4.1.
func validVerifierCharset(verifier string) bool {
	for _, r := range verifier {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return false
		}
	}
	return true
}
