package httputil

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

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

			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// APIKey is a named caller credential. The key material is stored as a bcrypt
// hash; the caller name ends up in logs and the enrolled_by audit field.
type APIKey struct {
	Name string
	Hash string
}

type contextKey string

// CallerKey stores the authenticated caller name in the request context.
const CallerKey contextKey = "caller"

// APIKeyMiddleware authenticates requests with a bearer API key compared
// against the configured bcrypt hashes. Callers are internal systems (webhook
// ingestion, CRM glue), not end users.
func APIKeyMiddleware(keys []APIKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				respondError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			caller, ok := matchAPIKey(keys, parts[1])
			if !ok {
				respondError(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			ctx := context.WithValue(r.Context(), CallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func matchAPIKey(keys []APIKey, presented string) (string, bool) {
	for _, k := range keys {
		if strings.HasPrefix(k.Hash, "$2") {
			if err := bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(presented)); err == nil {
				return k.Name, true
			}
			continue
		}
		// Raw key fallback used by local dev and test fixtures.
		if subtle.ConstantTimeCompare([]byte(k.Hash), []byte(presented)) == 1 {
			return k.Name, true
		}
	}
	return "", false
}

// GetCaller extracts the authenticated caller name from context.
func GetCaller(ctx context.Context) string {
	if caller, ok := ctx.Value(CallerKey).(string); ok {
		return caller
	}
	return ""
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": message},
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
