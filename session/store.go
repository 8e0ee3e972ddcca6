package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"

	"github.com/lukaszraczylo/oidcsession/internal/logger"
	"github.com/lukaszraczylo/oidcsession/token"
)

const (
	// DefaultCookieName prefixes every cookie the store writes.
	DefaultCookieName = "_oidc_session"

	// DefaultMaxAge bounds the session lifetime regardless of activity.
	DefaultMaxAge = 30 * 24 * time.Hour

	// MinSecretLength is the minimum session secret length in bytes.
	MinSecretLength = 32

	// maxChunkSize keeps every encrypted, encoded chunk under the 4096 byte
	// browser cookie limit.
	maxChunkSize = 1800
)

// token cookie kinds
const (
	kindAccess  = "a"
	kindRefresh = "r"
	kindID      = "i"
)

// ErrSecretTooShort is returned by NewStore for secrets under MinSecretLength.
var ErrSecretTooShort = fmt.Errorf("session secret must be at least %d bytes long", MinSecretLength)

// Options configures cookie attributes.
type Options struct {
	CookieName string
	Domain     string
	ForceHTTPS bool
	MaxAge     time.Duration
}

// Store reads and writes session records as encrypted cookies. The main
// cookie carries metadata; each token is gzipped and split across its own
// numbered chunk cookies.
type Store struct {
	store  *sessions.CookieStore
	opts   Options
	logger logger.Logger
}

// NewStore creates a store whose signing and encryption keys are derived from
// secret.
func NewStore(secret string, opts Options, log logger.Logger) (*Store, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}

	hashKey := deriveKey(secret, "cookie-signing")
	blockKey := deriveKey(secret, "cookie-encryption")

	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.MaxAge(int(opts.MaxAge.Seconds()))

	return &Store{store: cs, opts: opts, logger: logger.OrNoOp(log)}, nil
}

func deriveKey(secret, label string) []byte {
	sum := sha256.Sum256([]byte(label + ":" + secret))
	return sum[:]
}

// CookieName returns the main cookie name. Every cookie the store writes
// starts with it.
func (s *Store) CookieName() string { return s.opts.CookieName }

// Owns reports whether a cookie name belongs to this store.
func (s *Store) Owns(name string) bool {
	return name == s.opts.CookieName || strings.HasPrefix(name, s.opts.CookieName+"_")
}

func (s *Store) chunkName(kind string, i int) string {
	return fmt.Sprintf("%s_%s_%d", s.opts.CookieName, kind, i)
}

func (s *Store) options(r *http.Request) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		Domain:   s.opts.Domain,
		MaxAge:   int(s.opts.MaxAge.Seconds()),
		Secure:   s.secure(r),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Store) secure(r *http.Request) bool {
	if s.opts.ForceHTTPS || r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

// Load returns the request's record. A request without a session yields an
// empty record and no error. Undecodable or expired cookies yield an empty
// record and an error; callers treat it as no session.
func (s *Store) Load(r *http.Request) (*Record, error) {
	main, err := s.store.Get(r, s.opts.CookieName)
	if err != nil {
		return &Record{}, fmt.Errorf("failed to decode session cookie: %w", err)
	}
	if main.IsNew {
		return &Record{}, nil
	}

	rec := &Record{}
	rec.ID, _ = main.Values["id"].(string)
	if created, ok := main.Values["created_at"].(int64); ok {
		rec.CreatedAt = time.Unix(created, 0)
		if time.Since(rec.CreatedAt) > s.opts.MaxAge {
			return &Record{}, errors.New("session expired")
		}
	}
	rec.Roles, _ = main.Values["roles"].([]string)
	rec.State, _ = main.Values["state"].(string)
	rec.ReturnTo, _ = main.Values["return_to"].(string)
	rec.Tokens.ExpiresAt, _ = main.Values["expires_at"].(int64)
	if kind, ok := main.Values["error"].(string); ok {
		rec.Tokens.Error = token.ErrorKind(kind)
	}

	for _, t := range []struct {
		kind string
		dst  *string
	}{
		{kindAccess, &rec.Tokens.AccessToken},
		{kindRefresh, &rec.Tokens.RefreshToken},
		{kindID, &rec.Tokens.IDToken},
	} {
		n, _ := main.Values["chunks_"+t.kind].(int)
		value, err := s.readToken(r, t.kind, n)
		if err != nil {
			return &Record{}, err
		}
		*t.dst = value
	}

	return rec, nil
}

func (s *Store) readToken(r *http.Request, kind string, n int) (string, error) {
	if n == 0 {
		return "", nil
	}
	var data []byte
	for i := 0; i < n; i++ {
		sess, err := s.store.Get(r, s.chunkName(kind, i))
		if err != nil || sess.IsNew {
			return "", fmt.Errorf("token chunk %s is missing or invalid", s.chunkName(kind, i))
		}
		chunk, _ := sess.Values["chunk"].([]byte)
		data = append(data, chunk...)
	}
	return decompressToken(data)
}

// Save writes rec to the response. Chunk cookies left over from a longer
// previous token are expired.
func (s *Store) Save(w http.ResponseWriter, r *http.Request, rec *Record) error {
	main := sessions.NewSession(s.store, s.opts.CookieName)
	opts := s.options(r)
	main.Options = opts

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	main.Values = map[interface{}]interface{}{
		"id":         rec.ID,
		"created_at": rec.CreatedAt.Unix(),
		"state":      rec.State,
		"return_to":  rec.ReturnTo,
		"expires_at": rec.Tokens.ExpiresAt,
		"error":      string(rec.Tokens.Error),
	}
	if len(rec.Roles) > 0 {
		main.Values["roles"] = rec.Roles
	}

	for _, t := range []struct {
		kind  string
		value string
	}{
		{kindAccess, rec.Tokens.AccessToken},
		{kindRefresh, rec.Tokens.RefreshToken},
		{kindID, rec.Tokens.IDToken},
	} {
		n, err := s.writeToken(w, r, t.kind, t.value, opts)
		if err != nil {
			return err
		}
		main.Values["chunks_"+t.kind] = n
	}

	if err := s.store.Save(r, w, main); err != nil {
		return fmt.Errorf("failed to save session cookie: %w", err)
	}
	return nil
}

func (s *Store) writeToken(w http.ResponseWriter, r *http.Request, kind, value string, opts *sessions.Options) (int, error) {
	var chunks [][]byte
	if value != "" {
		data, err := compressToken(value)
		if err != nil {
			return 0, fmt.Errorf("failed to compress token: %w", err)
		}
		chunks = splitIntoChunks(data, maxChunkSize)
	}

	for i, chunk := range chunks {
		sess := sessions.NewSession(s.store, s.chunkName(kind, i))
		sess.Options = opts
		sess.Values["chunk"] = chunk
		if err := s.store.Save(r, w, sess); err != nil {
			return 0, fmt.Errorf("failed to save token chunk: %w", err)
		}
	}

	s.expireChunks(w, r, kind, len(chunks))
	return len(chunks), nil
}

// expireChunks expires chunk cookies of kind present on the request with an
// index at or above from.
func (s *Store) expireChunks(w http.ResponseWriter, r *http.Request, kind string, from int) {
	prefix := fmt.Sprintf("%s_%s_", s.opts.CookieName, kind)
	for _, c := range r.Cookies() {
		if !strings.HasPrefix(c.Name, prefix) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(c.Name, prefix))
		if err != nil || idx < from {
			continue
		}
		s.expire(w, r, c.Name)
	}
}

func (s *Store) expire(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   s.opts.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   s.secure(r),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Destroy expires the main cookie and every chunk cookie on the request.
func (s *Store) Destroy(w http.ResponseWriter, r *http.Request) {
	s.expire(w, r, s.opts.CookieName)
	for _, c := range r.Cookies() {
		if c.Name != s.opts.CookieName && s.Owns(c.Name) {
			s.expire(w, r, c.Name)
		}
	}
	s.logger.Debug("Session cookies expired")
}

// IsDecodeError reports whether err came from a tampered or foreign cookie.
func IsDecodeError(err error) bool {
	var scErr securecookie.Error
	return errors.As(err, &scErr) && scErr.IsDecode()
}
