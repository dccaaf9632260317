package httputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fisioflow/fisioflow-backend/pkg/actor"
	"github.com/fisioflow/fisioflow-backend/pkg/authtoken"
	"github.com/fisioflow/fisioflow-backend/pkg/errors"
	"github.com/fisioflow/fisioflow-backend/pkg/logger"
	"github.com/fisioflow/fisioflow-backend/pkg/permissions"
	"github.com/fisioflow/fisioflow-backend/pkg/tenant"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)

			userID := ""
			if a := actor.FromContext(r.Context()); a != nil {
				userID = a.ID
			}

			log.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", duration).
				Str("user_id", userID).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// Auth validates the Bearer token and attaches the acting user and tenant
// context to the request. Requests without a valid token get UNAUTHENTICATED.
//
// Health endpoints are mounted outside this middleware for monitoring.
func Auth(tokens *authtoken.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				Error(w, errors.Unauthenticated("missing bearer token"))
				return
			}

			claims, err := tokens.ValidateAccessToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				Error(w, err)
				return
			}

			ctx := actor.WithActor(r.Context(), &actor.Actor{
				ID:          claims.UserID,
				Name:        claims.Name,
				Email:       claims.Email,
				TenantID:    claims.TenantID,
				Role:        claims.Role,
				Permissions: claims.Permissions,
			})
			ctx = tenant.WithTenantContext(ctx, claims.TenantID, claims.TenantSlug)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission rejects requests whose actor does not hold the given
// permission. Admins pass regardless of their explicit grants.
func RequirePermission(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a := actor.FromContext(r.Context())
			if a == nil {
				Error(w, errors.Unauthenticated("missing caller identity"))
				return
			}
			if !a.IsAdmin() && !permissions.HasPermission(a.Permissions, required) {
				Error(w, errors.PermissionDenied("missing permission: "+required))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
