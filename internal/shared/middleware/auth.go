package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bankline/internal/shared/auth"
)

// SessionCookie carries the signed session for browser clients. API
// clients send the same token as a bearer credential instead.
const SessionCookie = "bankline_session"

type ContextKey string

const UserIDKey ContextKey = "user_id"

// SessionValidator checks a session token and returns its claims.
type SessionValidator interface {
	Validate(token string) (*auth.JWTClaims, error)
}

var (
	errNoSession    = errors.New("authentication required")
	errBearerFormat = errors.New("authorization header must be a bearer token")
)

// Auth rejects requests without a valid session and stores the user id for
// handlers. The cookie wins when both credentials are present.
func Auth(sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := sessionToken(r)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			claims, err := sessions.Validate(token)
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				unauthorized(w, "session expired")
				return
			case err != nil, claims.UserID <= 0:
				unauthorized(w, "invalid session")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

func sessionToken(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoSession
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errBearerFormat
	}
	return strings.TrimSpace(token), nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="bankline"`)
	http.Error(w, msg, http.StatusUnauthorized)
}

// WithUserID returns a context carrying an authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext returns the authenticated user id set by Auth.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
