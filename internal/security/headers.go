package security

import (
	"net/http"
	"time"

	"roomchat/internal/constants"
)

// SecurityHeaders adds the response headers every endpoint carries.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		// JSON and websocket only, nothing to render
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// RequestTimeout bounds REST handlers. Websocket upgrades must not go
// through it.
func RequestTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, `{"success":false,"error":"`+constants.MsgTimeout+`"}`)
	}
}
