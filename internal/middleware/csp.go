package middleware

import (
	"net/http"

	"github.com/ashureev/vade/internal/preview"
)

// SandboxCSP serves the response as a sandboxed document. Scripts run, but
// the document gets an opaque origin with no access to the host page, its
// storage or cookies.
func SandboxCSP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "sandbox "+preview.SandboxPolicy)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
