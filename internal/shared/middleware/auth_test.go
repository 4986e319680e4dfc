package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bankline/internal/shared/auth"
)

// MockSessions implements SessionValidator for testing
type MockSessions struct {
	ValidateFunc func(token string) (*auth.JWTClaims, error)
}

func (m *MockSessions) Validate(token string) (*auth.JWTClaims, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(token)
	}
	return nil, auth.ErrInvalidToken
}

func sessionsFor(tokens map[string]int64) *MockSessions {
	return &MockSessions{ValidateFunc: func(token string) (*auth.JWTClaims, error) {
		if token == "expired" {
			return nil, auth.ErrTokenExpired
		}
		id, ok := tokens[token]
		if !ok {
			return nil, fmt.Errorf("%w: signature mismatch", auth.ErrInvalidToken)
		}
		return &auth.JWTClaims{UserID: id}, nil
	}}
}

func TestAuth(t *testing.T) {
	tokens := map[string]int64{"session-7": 7, "session-9": 9, "session-zero": 0}

	tests := []struct {
		name         string
		cookie       string
		header       string
		expectedUser int64
		expectedBody string
	}{
		{name: "Session Cookie", cookie: "session-7", expectedUser: 7},
		{name: "Bearer Header", header: "Bearer session-9", expectedUser: 9},
		{name: "Lowercase Scheme", header: "bearer session-9", expectedUser: 9},
		{name: "Cookie Wins Over Header", cookie: "session-7", header: "Bearer session-9", expectedUser: 7},
		{name: "No Credentials", expectedBody: "authentication required"},
		{name: "Basic Scheme", header: "Basic dXNlcjpwYXNz", expectedBody: "bearer token"},
		{name: "Bearer Without Token", header: "Bearer ", expectedBody: "bearer token"},
		{name: "Expired Session", header: "Bearer expired", expectedBody: "session expired"},
		{name: "Forged Session", cookie: "forged", expectedBody: "invalid session"},
		{name: "Claims Without User", header: "Bearer session-zero", expectedBody: "invalid session"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser int64
			var reached bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				userID, ok := UserIDFromContext(r.Context())
				if !ok {
					t.Error("Expected user ID in context, got none")
				}
				gotUser = userID
				w.WriteHeader(http.StatusOK)
			})
			handler := Auth(sessionsFor(tokens))(next)

			req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookie, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if tt.expectedUser != 0 {
				if rr.Code != http.StatusOK || gotUser != tt.expectedUser {
					t.Errorf("status %d user %d, want 200 user %d", rr.Code, gotUser, tt.expectedUser)
				}
				return
			}

			if reached {
				t.Error("request reached the handler without a valid session")
			}
			if rr.Code != http.StatusUnauthorized {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedBody) {
				t.Errorf("body = %q, want it to mention %q", rr.Body.String(), tt.expectedBody)
			}
			if rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate challenge")
			}
		})
	}
}

func TestAuth_SignedSession(t *testing.T) {
	jwt := auth.NewJWT("test-secret")
	token, err := jwt.Generate(42, "leslie@example.com")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	var gotUser int64
	handler := Auth(jwt)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/transfers", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || gotUser != 42 {
		t.Errorf("status %d user %d, want 200 user 42", rr.Code, gotUser)
	}

	other := Auth(auth.NewJWT("rotated-secret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("session signed with a rotated secret was accepted")
	}))
	rr = httptest.NewRecorder()
	other.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(httptest.NewRequest(http.MethodGet, "/", nil).Context(), 5)
	if id, ok := UserIDFromContext(ctx); !ok || id != 5 {
		t.Errorf("UserIDFromContext() = %d %t, want 5 true", id, ok)
	}
	if _, ok := UserIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); ok {
		t.Error("UserIDFromContext() found a user in an anonymous context")
	}
}
