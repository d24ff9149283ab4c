package middleware

import "net/http"

// Preflight answers every OPTIONS request with 204 before any auth runs.
// Mount it after the CORS handler so the CORS headers are already set.
func Preflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
