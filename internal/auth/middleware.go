package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// Middleware enforces JWT/API key auth on every request it wraps. When service is nil
// or not Enabled, requests pass through unauthenticated, matching a deployment running
// without auth configured.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r.Header.Get("Authorization")); token != "" {
				user, err := service.ValidateJWT(token)
				if err != nil {
					if logger != nil {
						logger.Warn("jwt validation failed", "error", err)
					}
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			if apiKey := extractAPIKey(r); apiKey != "" {
				user, err := service.ValidateAPIKey(apiKey)
				if err != nil {
					if logger != nil {
						logger.Warn("api key validation failed", "error", err)
					}
					http.Error(w, "invalid api key", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
				return
			}

			http.Error(w, "missing credentials", http.StatusUnauthorized)
		})
	}
}

func extractBearer(header string) string {
	lower := strings.ToLower(header)
	if strings.HasPrefix(lower, "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return ""
}

func extractAPIKey(r *http.Request) string {
	for _, header := range []string{"X-Api-Key", "Api-Key"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}
