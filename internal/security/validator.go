package security

import (
	"net/http"
	"strings"
	"unicode"
)

const maxIdentifierLen = 64

// ValidateIdentifier checks user and room ids before they become part of a
// store key.
func ValidateIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLen {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '*' || r == '?' || r == '[' {
			return false
		}
	}
	return true
}

// ValidateOrigin checks if request origin is allowed
func ValidateOrigin(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // No origin header = same origin or direct request
	}

	if len(allowedOrigins) == 0 {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}

	return false
}

// SanitizeInput strips null bytes and control characters except
// newline and tab from chat text.
func SanitizeInput(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// MaxBodySize middleware limits request body size
func MaxBodySize(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}
