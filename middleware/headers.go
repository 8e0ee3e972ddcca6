package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// SecurityHeadersConfig lists the response headers added to every response.
// Empty values are skipped.
type SecurityHeadersConfig struct {
	FrameOptions            string
	ContentTypeOptions      string
	ReferrerPolicy          string
	CrossOriginOpenerPolicy string
	PermissionsPolicy       string

	// HSTS is only sent over HTTPS.
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool
}

// DefaultSecurityHeaders returns strict settings. No Content-Security-Policy
// is set: the logout bridge page relies on an inline script.
func DefaultSecurityHeaders() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		FrameOptions:            "DENY",
		ContentTypeOptions:      "nosniff",
		ReferrerPolicy:          "strict-origin-when-cross-origin",
		CrossOriginOpenerPolicy: "same-origin",
		PermissionsPolicy:       "geolocation=(), microphone=(), camera=()",
		HSTSMaxAge:              31536000,
		HSTSIncludeSubdomains:   true,
	}
}

// SecurityHeaders wraps next and sets the configured headers before it runs.
func SecurityHeaders(cfg SecurityHeadersConfig, next http.Handler) http.Handler {
	hsts := cfg.hsts()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		set := func(name, value string) {
			if value != "" {
				h.Set(name, value)
			}
		}
		set("X-Frame-Options", cfg.FrameOptions)
		set("X-Content-Type-Options", cfg.ContentTypeOptions)
		set("Referrer-Policy", cfg.ReferrerPolicy)
		set("Cross-Origin-Opener-Policy", cfg.CrossOriginOpenerPolicy)
		set("Permissions-Policy", cfg.PermissionsPolicy)
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			set("Strict-Transport-Security", hsts)
		}
		next.ServeHTTP(w, r)
	})
}

func (c SecurityHeadersConfig) hsts() string {
	if c.HSTSMaxAge <= 0 {
		return ""
	}
	parts := []string{"max-age=" + strconv.Itoa(c.HSTSMaxAge)}
	if c.HSTSIncludeSubdomains {
		parts = append(parts, "includeSubDomains")
	}
	return strings.Join(parts, "; ")
}
