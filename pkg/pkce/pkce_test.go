package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("S256")
	require.NoError(t, err)
	assert.Equal(t, MethodS256, m)

	m, err = ParseMethod("s256")
	require.NoError(t, err)
	assert.Equal(t, MethodS256, m)

	m, err = ParseMethod("plain")
	require.NoError(t, err)
	assert.Equal(t, MethodPlain, m)

	_, err = ParseMethod("S512")
	assert.Error(t, err)
}

func TestVerifyS256(t *testing.T) {
	sum := sha256.Sum256([]byte(testVerifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	// Known pair from RFC 7636 appendix B.
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", challenge)

	require.NoError(t, Verify(testVerifier, challenge, MethodS256))
	assert.Error(t, Verify(testVerifier, "wrong-challenge", MethodS256))
}

func TestVerifyPlain(t *testing.T) {
	require.NoError(t, Verify(testVerifier, testVerifier, MethodPlain))
	assert.Error(t, Verify(testVerifier, testVerifier+"x", MethodPlain))
}

func TestVerifyRejectsMalformedVerifier(t *testing.T) {
	challenge, err := Challenge(testVerifier, MethodS256)
	require.NoError(t, err)

	assert.Error(t, Verify("", challenge, MethodS256), "empty verifier")
	assert.Error(t, Verify("short", challenge, MethodS256), "below 43 chars")
	assert.Error(t, Verify(strings.Repeat("a", 129), challenge, MethodS256), "above 128 chars")
	assert.Error(t, Verify(strings.Repeat("a", 42)+"!", challenge, MethodS256), "invalid character")
}
