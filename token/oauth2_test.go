package token

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/oidcsession/internal/testutil/servers"
)

func newTestExchanger(k *servers.Keycloak) *OAuth2Exchanger {
	base := k.Issuer() + "/protocol/openid-connect"
	return NewOAuth2Exchanger(Endpoints{AuthURL: base + "/auth", TokenURL: base + "/token"},
		"web", "s3cret", "https://app.example.com/auth/callback", nil, &http.Client{Timeout: 2 * time.Second})
}

func TestOAuth2Exchanger_RefreshFormAndResponse(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	k.SetRefreshResponse(map[string]any{
		"access_token":  "new-access",
		"refresh_token": "new-refresh",
		"id_token":      "new-id",
		"token_type":    "Bearer",
		"expires_in":    120,
	})

	resp, err := newTestExchanger(k).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, &Response{AccessToken: "new-access", RefreshToken: "new-refresh", IDToken: "new-id", ExpiresIn: 120 * time.Second}, resp)

	forms := k.Forms()
	require.Len(t, forms, 1)
	assert.Equal(t, "refresh_token", forms[0].Get("grant_type"))
	assert.Equal(t, "old-refresh", forms[0].Get("refresh_token"))
	assert.Equal(t, "web", forms[0].Get("client_id"))
	assert.Equal(t, "s3cret", forms[0].Get("client_secret"))
}

func TestOAuth2Exchanger_RefreshWithoutExpiresIn(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	k.SetRefreshResponse(map[string]any{"access_token": "new-access", "token_type": "Bearer"})

	resp, err := newTestExchanger(k).Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), resp.ExpiresIn)
	assert.Empty(t, resp.IDToken)
}

func TestOAuth2Exchanger_InvalidGrant(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	k.SetRefreshError(http.StatusBadRequest, "invalid_grant", "Token is not active")

	_, err := newTestExchanger(k).Refresh(context.Background(), "old-refresh")
	assert.ErrorIs(t, err, ErrInvalidGrant)
	assert.Contains(t, err.Error(), "Token is not active")
}

func TestOAuth2Exchanger_OtherErrorsAreNotInvalidGrant(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()

	k.SetRefreshError(http.StatusServiceUnavailable, "temporarily_unavailable", "")
	_, err := newTestExchanger(k).Refresh(context.Background(), "old-refresh")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidGrant)

	k.SetRefreshResponse(nil)
	k.SetDropConnection(true)
	_, err = newTestExchanger(k).Refresh(context.Background(), "old-refresh")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidGrant)
}

func TestOAuth2Exchanger_Exchange(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	k.SetCodeResponse(map[string]any{
		"access_token":  "a",
		"refresh_token": "r",
		"id_token":      "i",
		"token_type":    "Bearer",
		"expires_in":    300,
	})

	resp, err := newTestExchanger(k).Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "a", resp.AccessToken)
	assert.Equal(t, "i", resp.IDToken)
	assert.Equal(t, 5*time.Minute, resp.ExpiresIn)

	form := k.Forms()[0]
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "code-1", form.Get("code"))
	assert.Equal(t, "https://app.example.com/auth/callback", form.Get("redirect_uri"))
}

func TestOAuth2Exchanger_AuthCodeURL(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	ex := newTestExchanger(k)

	u, err := url.Parse(ex.AuthCodeURL("state-1", PromptLogin))
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, k.Issuer()+"/protocol/openid-connect/auth", u.Scheme+"://"+u.Host+u.Path)
	assert.Equal(t, "web", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, "login", q.Get("prompt"))
	assert.Equal(t, "state-1", q.Get("state"))

	u, err = url.Parse(ex.AuthCodeURL("state-2", ""))
	require.NoError(t, err)
	assert.False(t, u.Query().Has("prompt"))
}

func TestExpiresIn(t *testing.T) {
	assert.Equal(t, 60*time.Second, expiresIn(float64(60)))
	assert.Equal(t, 60*time.Second, expiresIn(int64(60)))
	assert.Equal(t, 60*time.Second, expiresIn("60"))
	assert.Equal(t, time.Duration(0), expiresIn(nil))
	assert.Equal(t, time.Duration(0), expiresIn(float64(-1)))
}

func TestMachineWithOAuth2Exchanger_EndToEnd(t *testing.T) {
	k := servers.NewKeycloak("test")
	defer k.Close()
	k.SetRefreshError(http.StatusBadRequest, "invalid_grant", "Session not active")

	m := NewMachine(newTestExchanger(k), Config{}, nil, WithClock(fixedClock()))
	got, err := m.Authorize(context.Background(), "s1", staleSet())

	assert.ErrorIs(t, err, ErrReauthenticationRequired)
	assert.Equal(t, Set{Error: ReauthenticationRequired}, got)
	assert.Equal(t, 1, k.RefreshCalls())
}
