package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"bankline/internal/domain/account"
	"bankline/internal/domain/item"
	"bankline/internal/domain/linktoken"
	"bankline/internal/shared/middleware"
)

const maxItemBodySize = 1 << 16

// ItemService is the item lifecycle surface exposed over HTTP.
type ItemService interface {
	ListItemsByUser(ctx context.Context, userID int64) ([]*item.Item, error)
	GetOwnedItem(ctx context.Context, id, userID int64) (*item.Item, error)
	DeleteItem(ctx context.Context, id, userID int64) error
	ResetLogin(ctx context.Context, id, userID int64) (*item.Item, error)
}

// LinkCompleter finishes a link flow started with a link token.
type LinkCompleter interface {
	CompleteLink(ctx context.Context, req linktoken.CompleteRequest) (*linktoken.LinkResult, error)
}

// ItemAccounts is the account surface the item endpoints need.
type ItemAccounts interface {
	AccountReader
	RefreshBalances(ctx context.Context, itemID, userID int64, accountIDs ...string) ([]*account.Account, error)
}

type ItemHandler struct {
	items    ItemService
	links    LinkCompleter
	accounts ItemAccounts
	sandbox  bool
}

// NewItemHandler creates the item handler. Sandbox-only endpoints answer 404
// unless sandbox is set.
func NewItemHandler(items ItemService, links LinkCompleter, accounts ItemAccounts, sandbox bool) *ItemHandler {
	return &ItemHandler{
		items:    items,
		links:    links,
		accounts: accounts,
		sandbox:  sandbox,
	}
}

// CompleteLinkRequest is sent by the client after the aggregator's link UI
// returns a public token. PublicToken is empty in update mode.
type CompleteLinkRequest struct {
	LinkToken       string `json:"linkToken"`
	PublicToken     string `json:"publicToken"`
	InstitutionID   string `json:"institutionId"`
	InstitutionName string `json:"institutionName"`
}

// HandleItems handles GET (list) and POST (complete link) on /api/items
func (h *ItemHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.handleListItems(w, r, userID)
	case http.MethodPost:
		h.handleCompleteLink(w, r, userID)
	default:
		methodNotAllowed(w)
	}
}

func (h *ItemHandler) handleListItems(w http.ResponseWriter, r *http.Request, userID int64) {
	items, err := h.items.ListItemsByUser(r.Context(), userID)
	if err != nil {
		respondError(w, err, "listing items")
		return
	}
	if items == nil {
		items = []*item.Item{}
	}

	writeJSON(w, http.StatusOK, items)
}

func (h *ItemHandler) handleCompleteLink(w http.ResponseWriter, r *http.Request, userID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)
	var req CompleteLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}

	res, err := h.links.CompleteLink(r.Context(), linktoken.CompleteRequest{
		UserID:          userID,
		LinkToken:       req.LinkToken,
		PublicToken:     req.PublicToken,
		InstitutionID:   req.InstitutionID,
		InstitutionName: req.InstitutionName,
	})
	if err != nil {
		respondError(w, err, "completing link")
		return
	}

	status := http.StatusCreated
	if res.Mode == linktoken.ModeUpdate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// HandleItemByID handles GET and DELETE on /api/items/{id}
func (h *ItemHandler) HandleItemByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		it, err := h.items.GetOwnedItem(r.Context(), itemID, userID)
		if err != nil {
			respondError(w, err, "loading item")
			return
		}
		writeJSON(w, http.StatusOK, it)
	case http.MethodDelete:
		if err := h.items.DeleteItem(r.Context(), itemID, userID); err != nil {
			respondError(w, err, "deleting item")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

// HandleItemAccounts lists the accounts surfaced by one owned item.
func (h *ItemHandler) HandleItemAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	if _, err := h.items.GetOwnedItem(r.Context(), itemID, userID); err != nil {
		respondError(w, err, "loading item")
		return
	}

	accounts, err := h.accounts.ListAccountsByItemID(r.Context(), itemID)
	if err != nil {
		respondError(w, err, "listing item accounts")
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// RefreshBalanceRequest optionally narrows a refresh to one account.
type RefreshBalanceRequest struct {
	AccountID string `json:"accountId"`
}

// HandleRefreshBalance pulls live balances from the aggregator for an owned
// item and returns the refreshed accounts.
func (h *ItemHandler) HandleRefreshBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	var req RefreshBalanceRequest
	if r.ContentLength != 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, badRequest("Invalid request body"))
			return
		}
	}

	var ids []string
	if req.AccountID != "" {
		ids = append(ids, req.AccountID)
	}
	accounts, err := h.accounts.RefreshBalances(r.Context(), itemID, userID, ids...)
	if err != nil {
		respondError(w, err, "refreshing balances")
		return
	}
	if accounts == nil {
		accounts = []*account.Account{}
	}

	writeJSON(w, http.StatusOK, accounts)
}

// HandleResetLogin forces a sandbox item into the login-required state.
func (h *ItemHandler) HandleResetLogin(w http.ResponseWriter, r *http.Request) {
	if !h.sandbox {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	itemID, ok := itemIDFromPath(w, r)
	if !ok {
		return
	}

	it, err := h.items.ResetLogin(r.Context(), itemID, userID)
	if err != nil {
		respondError(w, err, "resetting sandbox login")
		return
	}

	writeJSON(w, http.StatusOK, it)
}

func itemIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, badRequest("Invalid item ID"))
		return 0, false
	}
	return id, true
}
