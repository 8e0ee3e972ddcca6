package fixtures

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint_SignedAndParseable(t *testing.T) {
	f := MustTokenFixture(t, "https://idp.example.com/realms/test", "web")

	raw, err := f.Mint(map[string]any{"email": "a@example.com", "jti": nil})
	require.NoError(t, err)

	parsed, err := jwt.Parse(raw, func(tok *jwt.Token) (any, error) {
		return &f.Key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)

	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "a@example.com", claims["email"])
	assert.Equal(t, "https://idp.example.com/realms/test", claims["iss"])
	_, hasJTI := claims["jti"]
	assert.False(t, hasJTI)
	assert.Equal(t, "test-key-id", parsed.Header["kid"])
}

func TestAccessToken_Grants(t *testing.T) {
	f := MustTokenFixture(t, "https://idp.example.com/realms/test", "web")
	fixed := time.Unix(1700000000, 0)
	f.Now = func() time.Time { return fixed }

	raw, err := f.AccessToken(Grants{
		RealmRoles: []string{"offline_access"},
		Resources:  map[string][]string{"web": {"managers"}},
		Groups:     []string{"employees"},
	}, 5*time.Minute)
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(raw, claims)
	require.NoError(t, err)

	assert.Equal(t, float64(fixed.Add(5*time.Minute).Unix()), claims["exp"])
	assert.Equal(t, []any{"employees"}, claims["groups"])
	assert.Equal(t, map[string]any{"roles": []any{"offline_access"}}, claims["realm_access"])
}

func TestJWKS(t *testing.T) {
	f := MustTokenFixture(t, "iss", "aud")
	keys, ok := f.JWKS()["keys"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
	assert.Equal(t, "EC", keys[0]["kty"])
	assert.Len(t, keys[0]["x"], 43)
}
