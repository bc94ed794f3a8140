package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"relaypoint/internal/types"
)

// serviceActorUID identifies calls authenticated with the shared admin
// service token rather than an end-user identity token.
const serviceActorUID = "service"

// Authenticator resolves a bearer identity token to an Actor.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RoleChecker verifies the admin role against the persisted user record.
// Privileged actions never trust role claims carried by the token alone.
type RoleChecker interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Auth holds the authentication dependencies for the callable surface.
type Auth struct {
	authenticator  Authenticator
	roles          RoleChecker
	adminTokenHash string
	logger         types.Logger
}

// NewAuth creates the Auth middleware set. adminTokenHash is the bcrypt hash
// of the shared admin service token; empty disables service-token auth.
func NewAuth(authenticator Authenticator, roles RoleChecker, adminTokenHash string, logger types.Logger) *Auth {
	return &Auth{
		authenticator:  authenticator,
		roles:          roles,
		adminTokenHash: adminTokenHash,
		logger:         logger,
	}
}

// RequireAuth resolves the bearer token to an Actor and injects it into the
// request context. The shared admin service token short-circuits to a
// service actor; anything else goes through the identity provider.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated,
				"bearer token is required", nil))
			return
		}

		if a.isServiceToken(token) {
			ctx := types.WithActor(r.Context(), types.Actor{UID: serviceActorUID, IsAdmin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if a.authenticator == nil {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid,
				"invalid authentication token", nil))
			return
		}

		actor, err := a.authenticator.ResolveToken(r.Context(), token)
		if err != nil || actor == nil {
			a.logger.Warn("authentication failed", "path", r.URL.Path)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid,
				"invalid authentication token", err))
			return
		}

		ctx := types.WithActor(r.Context(), *actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates privileged actions. The service actor passes; user
// actors require a live admin-role lookup against the store.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := types.GetActor(r.Context())
		if !ok {
			Error(w, r, types.NewAppError(types.ErrCodeAuthUnauthenticated,
				"authentication required", nil))
			return
		}

		if actor.UID == serviceActorUID && actor.IsAdmin {
			next.ServeHTTP(w, r)
			return
		}

		isAdmin, err := a.roles.IsAdmin(r.Context(), actor.UID)
		if err != nil {
			Error(w, r, err)
			return
		}
		if !isAdmin {
			a.logger.Warn("admin action denied", "uid", actor.UID, "path", r.URL.Path)
			Error(w, r, types.NewAppError(types.ErrCodePermissionAdminRequired,
				"admin role required", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isServiceToken compares the presented token against the bcrypt hash of the
// shared admin service token.
func (a *Auth) isServiceToken(token string) bool {
	if a.adminTokenHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.adminTokenHash), []byte(token)) == nil
}

// extractBearerToken parses "Bearer <token>" (case-insensitive scheme per
// RFC 7235). Returns empty string on any other shape.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// RequestIDMiddleware generates or propagates a request correlation ID. The
// ID is stored in the context and echoed in the X-Request-Id response header.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "fallback-" + hex.EncodeToString([]byte(time.Now().String()))
	}
	return hex.EncodeToString(b)
}

// ContextTimeoutMiddleware sets a deadline on the request context. The
// duration should be the platform hard timeout minus one second so handlers
// can settle cleanly.
func ContextTimeoutMiddleware(duration time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), duration)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Recoverer converts handler panics into structured 500 responses.
func Recoverer(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic recovered",
						"panic", rec,
						"method", r.Method,
						"path", r.URL.Path,
					)
					Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected,
						"an unexpected error occurred", nil))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// RequestLogger logs one structured line per request.
func RequestLogger(logger types.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", types.GetRequestID(r.Context()),
			)
		})
	}
}
