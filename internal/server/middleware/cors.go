package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, OPTIONS"
	// corsHeaders are the request headers Auth and the JSON handlers read.
	corsHeaders = "Content-Type, Authorization, X-API-Key"
	// corsExposed lets browser clients see RateLimit's headers.
	corsExposed = "Retry-After, X-RateLimit-Limit"
)

// CORS answers preflights and tags responses for the allowed origins. An
// empty list, or "*", allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			anyOrigin = true
		}
		origins[strings.ToLower(o)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" {
				h := w.Header()
				h.Add("Vary", "Origin")
				if anyOrigin || origins[strings.ToLower(origin)] {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Expose-Headers", corsExposed)
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
