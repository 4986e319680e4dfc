package http

import (
	"context"
	"encoding/json"
	"net/http"

	"bankline/internal/domain/user"
	"bankline/internal/shared/middleware"
)

type UserService interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
	SetIdentityCheck(ctx context.Context, id int64, enabled bool) (*user.User, error)
}

type UserHandler struct {
	users UserService
}

func NewUserHandler(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// HandleMe returns the authenticated user.
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	u, err := h.users.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, err, "loading current user")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// IdentityCheckRequest toggles owner verification for the caller.
type IdentityCheckRequest struct {
	IdentityCheck *bool `json:"identityCheck"`
}

// HandleIdentityCheck turns owner verification on or off for items the
// caller links from now on.
func (h *UserHandler) HandleIdentityCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req IdentityCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityCheck == nil {
		writeError(w, badRequest("identityCheck is required"))
		return
	}

	u, err := h.users.SetIdentityCheck(r.Context(), userID, *req.IdentityCheck)
	if err != nil {
		respondError(w, err, "updating identity check")
		return
	}

	writeJSON(w, http.StatusOK, u)
}
