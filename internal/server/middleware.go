package server

import (
	"compress/gzip"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"roomchat/internal/constants"
	"roomchat/internal/security"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies mws so that the first one is outermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// CorsMiddleware echoes allowed origins. An empty list allows any origin.
func CorsMiddleware(allowed []string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && security.ValidateOrigin(r, allowed) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+constants.AdminTokenHeader)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.gz.Write(b)
}

func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") ||
			strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzipPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gzipPool.Put(gz)
		}()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
	})
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("🔥 panic recovered", "path", r.URL.Path, "panic", err, "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, constants.MsgInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards REST overrides with the configured admin token.
// Repeated bad tokens from one IP are blocked for a while.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := s.proxies.ClientIP(r)
		if !s.bruteForce.Check(ip) {
			writeError(w, http.StatusTooManyRequests, constants.MsgTooManyAttempts)
			return
		}

		token := r.Header.Get(constants.AdminTokenHeader)
		if s.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			attempts, blocked := s.bruteForce.RecordFailure(ip)
			s.audit.LogAuthFailure(ip, "invalid admin token")
			if blocked {
				s.audit.LogBruteForce(ip, attempts)
				s.log.Warn("🚫 admin token brute force blocked", "ip", ip, "attempts", attempts)
			}
			writeError(w, http.StatusUnauthorized, constants.MsgUnauthorized)
			return
		}

		s.bruteForce.RecordSuccess(ip)
		next(w, r)
	}
}
