// Package token issues and exchanges the OAuth tokens of the server:
// RS256-signed access and ID tokens, opaque refresh tokens, and the grants
// that produce them.
package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tangpian/melody-auth/pkg/jwks"
)

// AccessClaims is the claim set of an access token.
type AccessClaims struct {
	Scope string   `json:"scope,omitempty"`
	Roles []string `json:"roles,omitempty"`
	Azp   string   `json:"azp,omitempty"`
	jwt.RegisteredClaims
}

// IDClaims is the claim set of an OIDC ID token.
type IDClaims struct {
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified,omitempty"`
	FirstName     string   `json:"first_name,omitempty"`
	LastName      string   `json:"last_name,omitempty"`
	Locale        string   `json:"locale,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Nonce         string   `json:"nonce,omitempty"`
	jwt.RegisteredClaims
}

// Generator signs tokens with the current key of the signing key set and
// verifies against any key still in the set.
type Generator struct {
	keys   *jwks.Service
	issuer string
	now    func() time.Time
}

func NewGenerator(keys *jwks.Service, issuer string) *Generator {
	return &Generator{keys: keys, issuer: issuer, now: time.Now}
}

func (g *Generator) sign(ctx context.Context, claims jwt.Claims) (string, error) {
	key, err := g.keys.CurrentKey(ctx)
	if err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid

	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// SignAccessToken issues an access token for the subject.
func (g *Generator) SignAccessToken(ctx context.Context, subject, clientID string, scopes, roles []string, expiry time.Duration) (string, error) {
	now := g.now().UTC()
	return g.sign(ctx, AccessClaims{
		Scope: strings.Join(scopes, " "),
		Roles: roles,
		Azp:   clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	})
}

// SignIDToken issues an OIDC ID token.
func (g *Generator) SignIDToken(ctx context.Context, claims IDClaims, clientID string, expiry time.Duration) (string, error) {
	now := g.now().UTC()
	claims.RegisteredClaims.Issuer = g.issuer
	claims.RegisteredClaims.Audience = jwt.ClaimStrings{clientID}
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	return g.sign(ctx, claims)
}

// VerifyAccessToken parses and validates an access token, resolving the
// verification key by the kid header. Tokens signed by deprecated keys
// verify until those keys are cleaned up.
func (g *Generator) VerifyAccessToken(ctx context.Context, tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		key, err := g.keys.KeyByKid(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("unknown signing key %s: %w", kid, err)
		}
		return key.PublicKey, nil
	}, jwt.WithIssuer(g.issuer), jwt.WithTimeFunc(func() time.Time { return g.now().UTC() }))
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	return claims, nil
}
