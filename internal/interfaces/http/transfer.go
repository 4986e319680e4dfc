package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"bankline/internal/domain/transfer"
	"bankline/internal/shared/middleware"
)

// TransferService authorizes transfers and reads the ledger.
type TransferService interface {
	Authorize(ctx context.Context, req transfer.Request) (*transfer.Result, error)
	GetTransfer(ctx context.Context, id string, userID int64) (*transfer.Transfer, error)
	ListTransfers(ctx context.Context, userID int64) ([]*transfer.Transfer, error)
	GetAppFund(ctx context.Context, userID int64) (*transfer.AppFund, error)
}

type TransferHandler struct {
	transfers TransferService
}

func NewTransferHandler(transfers TransferService) *TransferHandler {
	return &TransferHandler{transfers: transfers}
}

// AuthorizeTransferRequest accepts the amount as a JSON number or string.
type AuthorizeTransferRequest struct {
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
}

// HandleTransfers handles POST (authorize) and GET (history) on /api/transfers
func (h *TransferHandler) HandleTransfers(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handleAuthorize(w, r, userID)
	case http.MethodGet:
		transfers, err := h.transfers.ListTransfers(r.Context(), userID)
		if err != nil {
			respondError(w, err, "listing transfers")
			return
		}
		if transfers == nil {
			transfers = []*transfer.Transfer{}
		}
		writeJSON(w, http.StatusOK, transfers)
	default:
		methodNotAllowed(w)
	}
}

func (h *TransferHandler) handleAuthorize(w http.ResponseWriter, r *http.Request, userID int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxItemBodySize)
	var req AuthorizeTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, badRequest("Invalid request body"))
		return
	}

	res, err := h.transfers.Authorize(r.Context(), transfer.Request{
		UserID:    userID,
		AccountID: req.AccountID,
		Amount:    req.Amount,
	})
	if err != nil {
		respondError(w, err, "authorizing transfer")
		return
	}

	writeJSON(w, resultStatus(res), res)
}

// resultStatus keeps blocked and failed results on 200 so clients can tell
// them apart from transport or server errors.
func resultStatus(res *transfer.Result) int {
	switch res.Status {
	case transfer.ResultConfirmed:
		return http.StatusCreated
	case transfer.ResultInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

// HandleTransferByID handles GET /api/transfers/{id}
func (h *TransferHandler) HandleTransferByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	t, err := h.transfers.GetTransfer(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		respondError(w, err, "loading transfer")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleAppFund handles GET /api/app-funds. A user without confirmed
// transfers has a zero balance.
func (h *TransferHandler) HandleAppFund(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	fund, err := h.transfers.GetAppFund(r.Context(), userID)
	if err != nil {
		respondError(w, err, "loading app fund")
		return
	}

	writeJSON(w, http.StatusOK, fund)
}
