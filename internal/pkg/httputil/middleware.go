package httputil

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the shared secret on every protected request.
const APIKeyHeader = "X-API-Key"

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (originsSet[origin] || originsSet["*"]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+APIKeyHeader)
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyValidator checks a presented API key.
type APIKeyValidator interface {
	ValidateAPIKey(key string) bool
}

// StaticAPIKey validates against one configured key, either in plain form or
// as a bcrypt hash.
type StaticAPIKey struct {
	key  []byte
	hash []byte
}

// NewStaticAPIKey creates a validator. hash wins when both are set.
func NewStaticAPIKey(key, hash string) *StaticAPIKey {
	if hash != "" {
		return &StaticAPIKey{hash: []byte(hash)}
	}
	return &StaticAPIKey{key: []byte(key)}
}

// ValidateAPIKey implements APIKeyValidator.
func (k *StaticAPIKey) ValidateAPIKey(candidate string) bool {
	if candidate == "" {
		return false
	}
	if k.hash != nil {
		return bcrypt.CompareHashAndPassword(k.hash, []byte(candidate)) == nil
	}
	if len(k.key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(k.key, []byte(candidate)) == 1
}

// APIKeyMiddleware rejects requests without a valid X-API-Key header.
func APIKeyMiddleware(validator APIKeyValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				Error(w, http.StatusUnauthorized, "missing api key")
				return
			}

			if !validator.ValidateAPIKey(key) {
				Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
