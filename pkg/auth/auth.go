package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid token")

// Guard authenticates API requests against a single shared token. The
// configuration stores only the bcrypt hash, never the plaintext.
type Guard struct {
	hash []byte
}

// NewGuard builds a guard from a bcrypt token hash. An empty hash
// disables authentication entirely.
func NewGuard(tokenHash string) (*Guard, error) {
	if tokenHash == "" {
		return &Guard{}, nil
	}
	if _, err := bcrypt.Cost([]byte(tokenHash)); err != nil {
		return nil, fmt.Errorf("invalid api_token_hash: %w", err)
	}
	return &Guard{hash: []byte(tokenHash)}, nil
}

// Enabled reports whether requests must carry a token
func (g *Guard) Enabled() bool {
	return len(g.hash) > 0
}

// Validate checks a presented token against the stored hash
func (g *Guard) Validate(token string) error {
	if !g.Enabled() {
		return nil
	}
	if token == "" {
		return ErrInvalidToken
	}
	if err := bcrypt.CompareHashAndPassword(g.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Middleware rejects requests that do not present the token as a
// Bearer credential or an X-API-Token header. The websocket endpoint
// also accepts ?token= because browser clients cannot set headers.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		if err := g.Validate(tokenFromRequest(r)); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get("X-API-Token"); h != "" {
		return h
	}
	return r.URL.Query().Get("token")
}

// GenerateToken produces a random token plus its bcrypt hash, for
// provisioning a new deployment.
func GenerateToken() (token, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate token: %w", err)
	}
	token = base64.URLEncoding.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("failed to hash token: %w", err)
	}
	return token, string(hashed), nil
}
