package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// corsMiddleware is FluxForge's CORSMiddleware verbatim: the frontend-facing
// policy (allow everything) transfers unchanged since this dispatcher, like
// the teacher's control plane, is fronted by a separate bot/web UI.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// adminAuth gates an admin handler behind a static bearer token, compared in
// constant time the way the teacher's auth package compares JWT-derived
// secrets — there is no tenant/claims model in this single-tenant system, so
// a single shared secret replaces the JWT, but the comparison idiom carries
// over unchanged.
func (a *API) adminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.AdminToken == "" {
			writeErrorEnvelope(w, http.StatusForbidden, "authentication_error", "admin surface disabled (ADMIN_TOKEN not configured)", "invalid_token")
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "missing or malformed Authorization header", "invalid_token")
			return
		}
		got := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(got), []byte(a.cfg.AdminToken)) != 1 {
			writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", "invalid admin token", "invalid_token")
			return
		}
		next(w, r)
	}
}
