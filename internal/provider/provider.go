// Package provider resolves the identity provider endpoints, either from the
// Keycloak path convention or from OpenID discovery.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/lukaszraczylo/oidcsession/token"
)

// ErrNoEndSession is returned when the provider has no end-session endpoint.
var ErrNoEndSession = errors.New("provider has no end_session_endpoint")

// Endpoints are the provider URLs used by the service.
type Endpoints struct {
	Issuer        string
	AuthURL       string
	TokenURL      string
	EndSessionURL string
}

// Keycloak derives the endpoints from a Keycloak realm issuer URL.
func Keycloak(issuer string) Endpoints {
	issuer = strings.TrimRight(issuer, "/")
	base := issuer + "/protocol/openid-connect"
	return Endpoints{
		Issuer:        issuer,
		AuthURL:       base + "/auth",
		TokenURL:      base + "/token",
		EndSessionURL: base + "/logout",
	}
}

// Discover reads the endpoints from the issuer's discovery document.
func Discover(ctx context.Context, issuer string, client *http.Client) (Endpoints, error) {
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	p, err := oidc.NewProvider(ctx, strings.TrimRight(issuer, "/"))
	if err != nil {
		return Endpoints{}, fmt.Errorf("discover OIDC provider %s: %w", issuer, err)
	}

	var extra struct {
		Issuer             string `json:"issuer"`
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := p.Claims(&extra); err != nil {
		return Endpoints{}, fmt.Errorf("read provider metadata: %w", err)
	}

	ep := p.Endpoint()
	return Endpoints{
		Issuer:        extra.Issuer,
		AuthURL:       ep.AuthURL,
		TokenURL:      ep.TokenURL,
		EndSessionURL: extra.EndSessionEndpoint,
	}, nil
}

// OAuth2 returns the endpoints used by the token exchanger.
func (e Endpoints) OAuth2() token.Endpoints {
	return token.Endpoints{AuthURL: e.AuthURL, TokenURL: e.TokenURL}
}

// LogoutURL builds the end-session URL that ends the provider session.
// Empty idToken or postLogoutRedirect are left out.
func (e Endpoints) LogoutURL(idToken, postLogoutRedirect, clientID string) (string, error) {
	if e.EndSessionURL == "" {
		return "", ErrNoEndSession
	}
	u, err := url.Parse(e.EndSessionURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse end session URL: %w", err)
	}

	q := u.Query()
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if postLogoutRedirect != "" {
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
	}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
