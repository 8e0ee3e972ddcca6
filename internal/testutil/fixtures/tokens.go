// Package fixtures mints Keycloak-shaped tokens for tests.
package fixtures

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenFixture signs test tokens with a throwaway ES256 key. Nothing in the
// service verifies these signatures; they exist so tokens look real.
type TokenFixture struct {
	Key      *ecdsa.PrivateKey
	KeyID    string
	Issuer   string
	ClientID string
	Now      func() time.Time
}

// NewTokenFixture creates a fixture for issuer and clientID.
func NewTokenFixture(issuer, clientID string) (*TokenFixture, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &TokenFixture{
		Key:      key,
		KeyID:    "test-key-id",
		Issuer:   issuer,
		ClientID: clientID,
		Now:      time.Now,
	}, nil
}

// MustTokenFixture is NewTokenFixture for tests.
func MustTokenFixture(t testing.TB, issuer, clientID string) *TokenFixture {
	t.Helper()
	f, err := NewTokenFixture(issuer, clientID)
	if err != nil {
		t.Fatalf("token fixture: %v", err)
	}
	return f
}

// DefaultClaims returns the claims every minted token starts from.
func (f *TokenFixture) DefaultClaims() jwt.MapClaims {
	now := f.Now()
	return jwt.MapClaims{
		"iss":                f.Issuer,
		"aud":                f.ClientID,
		"azp":                f.ClientID,
		"sub":                "test-subject",
		"email":              "user@example.com",
		"email_verified":     true,
		"name":               "Test User",
		"preferred_username": "test.user",
		"exp":                now.Add(time.Hour).Unix(),
		"iat":                now.Unix(),
		"jti":                generateJTI(),
	}
}

// Mint signs DefaultClaims with overrides applied. An override whose value is
// nil removes the claim.
func (f *TokenFixture) Mint(overrides map[string]any) (string, error) {
	claims := f.DefaultClaims()
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	tok.Header["kid"] = f.KeyID
	return tok.SignedString(f.Key)
}

// MustMint is Mint for tests.
func (f *TokenFixture) MustMint(t testing.TB, overrides map[string]any) string {
	t.Helper()
	s, err := f.Mint(overrides)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return s
}

// Grants describes the Keycloak role claims of an access token.
type Grants struct {
	RealmRoles []string
	Resources  map[string][]string
	Groups     []string
}

// Claims converts the grants to claim overrides.
func (g Grants) Claims() map[string]any {
	out := map[string]any{}
	if g.RealmRoles != nil {
		out["realm_access"] = map[string]any{"roles": g.RealmRoles}
	}
	if g.Resources != nil {
		ra := map[string]any{}
		for resource, roles := range g.Resources {
			ra[resource] = map[string]any{"roles": roles}
		}
		out["resource_access"] = ra
	}
	if g.Groups != nil {
		out["groups"] = g.Groups
	}
	return out
}

// AccessToken mints an access token carrying grants and expiring after ttl.
func (f *TokenFixture) AccessToken(g Grants, ttl time.Duration) (string, error) {
	overrides := g.Claims()
	overrides["typ"] = "Bearer"
	overrides["exp"] = f.Now().Add(ttl).Unix()
	return f.Mint(overrides)
}

// IDToken mints an identity token for email.
func (f *TokenFixture) IDToken(email string) (string, error) {
	return f.Mint(map[string]any{"typ": "ID", "email": email})
}

// JWKS returns the public key set matching Key.
func (f *TokenFixture) JWKS() map[string]any {
	return map[string]any{
		"keys": []map[string]any{{
			"kty": "EC",
			"crv": "P-256",
			"kid": f.KeyID,
			"use": "sig",
			"alg": "ES256",
			"x":   encodeCoord(f.Key.PublicKey.X),
			"y":   encodeCoord(f.Key.PublicKey.Y),
		}},
	}
}

func encodeCoord(n *big.Int) string {
	b := make([]byte, 32)
	n.FillBytes(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func generateJTI() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
