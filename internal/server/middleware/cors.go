package middleware

import (
	"net/http"
	"strings"
)

// Browser-facing headers for the read-only API. Clients read request IDs
// and rate-limit back-off from the exposed headers.
const (
	corsAllowMethods  = "GET, HEAD"
	corsAllowHeaders  = "Authorization, X-API-Key, " + RequestIDHeader
	corsExposeHeaders = RequestIDHeader + ", Retry-After"
)

// CORS answers cross-origin requests from allowedOrigins. An empty list or
// "*" allows any origin. Preflights from other origins get 403 and
// preflights for methods other than GET or HEAD get 405, since nothing on
// the API mutates state.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			anyOrigin = true
		}
		origins[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if !anyOrigin {
				w.Header().Add("Vary", "Origin")
			}
			allowed := origin != "" && (anyOrigin || origins[strings.ToLower(origin)])
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			method := r.Header.Get("Access-Control-Request-Method")
			switch {
			case origin != "" && !allowed:
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			case method != "" && method != http.MethodGet && method != http.MethodHead:
				w.Header().Set("Allow", corsAllowMethods+", OPTIONS")
				http.Error(w, "read-only API", http.StatusMethodNotAllowed)
				return
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
