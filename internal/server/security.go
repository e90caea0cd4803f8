package server

import (
	"fmt"
	"net/http"
	"strings"
)

type SecurityConfig struct {
	BaseURL string
	// MediaEndpoint is the object storage origin signed track URLs point at.
	MediaEndpoint string
}

// securityHeaders locks down responses for a JSON API whose only
// cross-origin fetches are caption tracks from object storage.
func securityHeaders(cfg SecurityConfig) func(http.Handler) http.Handler {
	strictTransport := strings.HasPrefix(cfg.BaseURL, "https://")

	mediaSuffix := ""
	if cfg.MediaEndpoint != "" {
		mediaSuffix = " " + cfg.MediaEndpoint
	}
	csp := fmt.Sprintf(
		"default-src 'none'; media-src 'self'%s; connect-src 'self'%s; frame-ancestors 'none';",
		mediaSuffix, mediaSuffix,
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Cache-Control", "no-store")
			w.Header().Set("Content-Security-Policy", csp)

			if strictTransport {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
