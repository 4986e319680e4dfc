package http

import (
	"context"
	"net/http"

	"bankline/internal/domain/account"
	"bankline/internal/shared/middleware"
)

// AccountReader is the read side of the account service.
type AccountReader interface {
	GetAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
	ListAccountsByUserID(ctx context.Context, userID int64) ([]*account.Account, error)
	ListAccountsByItemID(ctx context.Context, itemID int64) ([]*account.Account, error)
}

type AccountHandler struct {
	accountService AccountReader
}

func NewAccountHandler(accountService AccountReader) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// HandleListAccounts returns all accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.accountService.ListAccountsByUserID(r.Context(), userID)
	if err != nil {
		respondError(w, err, "listing accounts")
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// HandleAccountByID returns one account owned by the caller.
func (h *AccountHandler) HandleAccountByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := r.Context().Value(middleware.UserIDKey).(int64)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Use PathValue to extract the account ID
	accountID := r.PathValue("id")
	if accountID == "" {
		writeError(w, badRequest("Account ID is required"))
		return
	}

	acc, err := h.accountService.GetAccount(r.Context(), accountID, userID)
	if err != nil {
		respondError(w, err, "loading account")
		return
	}

	writeJSON(w, http.StatusOK, acc)
}
