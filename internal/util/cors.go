package util

import (
	"net/http"
	"strings"
)

// CORSOptions configures WithCORS.
type CORSOptions struct {
	// AllowedOrigins lists exact origins; "*" reflects any origin.
	AllowedOrigins []string
	// AllowCredentials lets browsers send the session cookie cross-origin.
	AllowCredentials bool
}

// WithCORS answers preflight requests and sets CORS headers for allowed
// origins. With credentials enabled the request origin is echoed back
// instead of "*".
func WithCORS(opts CORSOptions, next http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			allowAll = true
			continue
		}
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		_, ok := allowed[origin]
		if origin != "" && (ok || allowAll) {
			h := w.Header()
			if opts.AllowCredentials || !allowAll {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			} else {
				h.Set("Access-Control-Allow-Origin", "*")
			}
			if opts.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-Id")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Expose-Headers", "X-Request-Id")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
