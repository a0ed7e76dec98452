// Package auth protects the status server with a single bearer API key
// whose bcrypt hash is configured at startup.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type contextKey int

const ctxRemoteIP contextKey = iota

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// Verifier checks bearer keys against a bcrypt hash. The digest of the
// last accepted key is remembered so repeat requests skip bcrypt.
type Verifier struct {
	hash []byte

	mu       sync.Mutex
	accepted [sha256.Size]byte
	ok       bool
}

// NewVerifier creates a verifier for a bcrypt hash.
func NewVerifier(hash string) (*Verifier, error) {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, err
	}

	return &Verifier{hash: []byte(hash)}, nil
}

// Verify reports whether key matches the configured hash.
func (v *Verifier) Verify(key string) bool {
	digest := sha256.Sum256([]byte(key))

	v.mu.Lock()
	cached := v.ok && subtle.ConstantTimeCompare(digest[:], v.accepted[:]) == 1
	v.mu.Unlock()

	if cached {
		return true
	}

	if bcrypt.CompareHashAndPassword(v.hash, []byte(key)) != nil {
		return false
	}

	v.mu.Lock()
	v.accepted, v.ok = digest, true
	v.mu.Unlock()

	return true
}

// Middleware returns HTTP middleware that requires a valid bearer key.
func Middleware(v *Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				logger.Debug("middleware: no bearer token",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			if !v.Verify(strings.TrimPrefix(authHeader, "Bearer ")) {
				logger.Debug("middleware: invalid API key",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				w.WriteHeader(http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxRemoteIP, ip)))
		})
	}
}
