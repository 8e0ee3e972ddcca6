// Package claims decodes the body of JWT-shaped tokens into an open claim map.
//
// Signatures are NOT verified. Decoded claims drive display and role
// derivation only; the backend that accepts the bearer token remains the
// authorization boundary and validates it independently.
package claims

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	oidcerrors "github.com/lukaszraczylo/oidcsession/internal/errors"
)

// Recognized claim names.
const (
	Subject           = "sub"
	Expiry            = "exp"
	IssuedAt          = "iat"
	Email             = "email"
	Name              = "name"
	PreferredUsername = "preferred_username"
	EmailVerified     = "email_verified"
	RealmAccess       = "realm_access"
	ResourceAccess    = "resource_access"
	Groups            = "groups"
)

// Claims is a decoded token payload. A nil *Claims means "no claims" and every
// accessor returns a zero value for it.
type Claims struct {
	values map[string]any
	// resourceOrder holds resource_access keys in document order.
	resourceOrder []string
}

// New wraps an existing map. resource_access keys are taken in sorted order
// since a Go map carries none.
func New(values map[string]any) *Claims {
	if values == nil {
		return nil
	}
	c := &Claims{values: values}
	if ra, ok := values[ResourceAccess].(map[string]any); ok {
		c.resourceOrder = sortedKeys(ra)
	}
	return c
}

// Decode returns the claims carried by token, or nil when the token is not
// three dot-separated segments, the body is not base64url, or the body is not
// a JSON object.
func Decode(token string) *Claims {
	c, _ := DecodeWithError(token)
	return c
}

// DecodeWithError is Decode with the failure reason, for diagnostics.
func DecodeWithError(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, oidcerrors.New(oidcerrors.ErrCodeDecodeFailure, "token must have three segments")
	}

	payload, err := decodeSegment(parts[1])
	if err != nil {
		return nil, oidcerrors.Wrap(oidcerrors.ErrCodeDecodeFailure, "token body is not base64url", err)
	}

	var values map[string]any
	if err := json.Unmarshal(payload, &values); err != nil {
		return nil, oidcerrors.Wrap(oidcerrors.ErrCodeDecodeFailure, "token body is not a JSON object", err)
	}
	if values == nil {
		return nil, oidcerrors.New(oidcerrors.ErrCodeDecodeFailure, "token body is null")
	}

	var order struct {
		ResourceAccess objectKeys `json:"resource_access"`
	}
	_ = json.Unmarshal(payload, &order)

	c := &Claims{values: values}
	if _, ok := values[ResourceAccess].(map[string]any); ok {
		c.resourceOrder = order.ResourceAccess
	}
	return c, nil
}

func decodeSegment(seg string) ([]byte, error) {
	seg = strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	if rem := len(seg) % 4; rem != 0 {
		seg += strings.Repeat("=", 4-rem)
	}
	return base64.StdEncoding.DecodeString(seg)
}

// Encode builds an unsigned three-segment token whose body is values. It is
// the inverse of Decode and is used for fixtures.
func Encode(values map[string]any) (string, error) {
	body, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + base64.RawURLEncoding.EncodeToString(body) + ".", nil
}

// objectKeys captures the keys of a JSON object in document order. Non-object
// values leave it empty.
type objectKeys []string

func (k *objectKeys) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil
	}

	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return err
		}
		if !seen[key] {
			seen[key] = true
			*k = append(*k, key)
		}
	}
	return nil
}
