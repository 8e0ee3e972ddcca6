package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
)

// DefaultScopes are requested on every login.
var DefaultScopes = []string{"openid", "email", "profile"}

// Prompt values for the authorization request.
const (
	PromptLogin         = "login"
	PromptSelectAccount = "select_account"
)

// Endpoints are the provider URLs the exchanger talks to.
type Endpoints struct {
	AuthURL  string
	TokenURL string
}

// OAuth2Exchanger performs code and refresh grants with client credentials
// sent in the form body.
type OAuth2Exchanger struct {
	config     oauth2.Config
	httpClient *http.Client
}

// NewOAuth2Exchanger creates an exchanger. A nil httpClient uses a client
// with a 30 second timeout.
func NewOAuth2Exchanger(ep Endpoints, clientID, clientSecret, redirectURL string, scopes []string, httpClient *http.Client) *OAuth2Exchanger {
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &OAuth2Exchanger{
		config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   ep.AuthURL,
				TokenURL:  ep.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// AuthCodeURL builds the authorization endpoint URL. prompt may be empty.
func (e *OAuth2Exchanger) AuthCodeURL(state, prompt string) string {
	var opts []oauth2.AuthCodeOption
	if prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", prompt))
	}
	return e.config.AuthCodeURL(state, opts...)
}

// Exchange redeems an authorization code.
func (e *OAuth2Exchanger) Exchange(ctx context.Context, code string) (*Response, error) {
	tok, err := e.config.Exchange(e.clientContext(ctx), code)
	if err != nil {
		return nil, classify(err)
	}
	return fromOAuth2(tok), nil
}

// Refresh implements Exchanger.
func (e *OAuth2Exchanger) Refresh(ctx context.Context, refreshToken string) (*Response, error) {
	src := e.config.TokenSource(e.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classify(err)
	}
	return fromOAuth2(tok), nil
}

func (e *OAuth2Exchanger) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// classify marks provider rejections of the grant itself as ErrInvalidGrant.
func classify(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		if re.ErrorDescription != "" {
			return fmt.Errorf("%w: %s", ErrInvalidGrant, re.ErrorDescription)
		}
		return ErrInvalidGrant
	}
	return err
}

func fromOAuth2(tok *oauth2.Token) *Response {
	resp := &Response{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    expiresIn(tok.Extra("expires_in")),
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = id
	}
	return resp
}

func expiresIn(v any) time.Duration {
	var secs int64
	switch n := v.(type) {
	case float64:
		secs = int64(n)
	case int64:
		secs = n
	case json.Number:
		secs, _ = n.Int64()
	case string:
		secs, _ = strconv.ParseInt(n, 10, 64)
	}
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
