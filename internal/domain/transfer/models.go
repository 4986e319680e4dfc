package transfer

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal state of a stored transfer.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusBlocked   Status = "BLOCKED"
	StatusFailed    Status = "FAILED"
)

// Outcome is the risk service verdict.
type Outcome string

const (
	OutcomeAccept  Outcome = "ACCEPT"
	OutcomeReview  Outcome = "REVIEW"
	OutcomeReroute Outcome = "REROUTE"
)

// NormalizeOutcome upper-cases and trims a raw risk outcome.
func NormalizeOutcome(raw string) Outcome {
	return Outcome(strings.ToUpper(strings.TrimSpace(raw)))
}

var (
	ErrTransferNotFound = errors.New("transfer not found")
	ErrNotOwned         = errors.New("account not owned by user")
	ErrAccountNotFound  = errors.New("account not found")
)

// Transfer is immutable once written. Amount is the confirmed amount for
// CONFIRMED transfers and the requested amount otherwise.
type Transfer struct {
	ID           string          `json:"id"`
	UserID       int64           `json:"userId"`
	ItemID       int64           `json:"itemId"`
	AccountID    string          `json:"accountId"`
	Amount       decimal.Decimal `json:"amount"`
	RiskOutcome  string          `json:"riskOutcome,omitempty"`
	RiskPayload  json.RawMessage `json:"riskPayload,omitempty"`
	ProcessorRef *string         `json:"processorRef,omitempty"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// AppFund is a user's running balance inside this system.
type AppFund struct {
	UserID    int64           `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ResultStatus discriminates the answer to an authorization request.
type ResultStatus string

const (
	ResultConfirmed ResultStatus = "confirmed"
	ResultBlocked   ResultStatus = "blocked"
	ResultFailed    ResultStatus = "failed"
	ResultInvalid   ResultStatus = "invalid"
)

// Result is returned for every authorization that got past ownership checks.
type Result struct {
	Status     ResultStatus     `json:"status"`
	TransferID string           `json:"transferId,omitempty"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Outcome    string           `json:"outcome,omitempty"`
	Reason     string           `json:"reason,omitempty"`
}

func invalid(reason string) *Result {
	return &Result{Status: ResultInvalid, Reason: reason}
}

// Request asks to move Amount from AccountID into the user's app fund.
type Request struct {
	UserID    int64
	AccountID string
	Amount    decimal.Decimal
}

// validate returns a reason when the request is malformed.
func (r Request) validate() string {
	switch {
	case r.UserID <= 0:
		return "valid user ID is required"
	case strings.TrimSpace(r.AccountID) == "":
		return "account ID is required"
	case !r.Amount.IsPositive():
		return "amount must be greater than zero"
	case !r.Amount.Equal(r.Amount.Round(2)):
		return "amount must have at most two decimal places"
	}
	return ""
}

// blockReason explains a non-accepting risk outcome.
func blockReason(o Outcome) string {
	switch o {
	case OutcomeReview:
		return "transfer requires manual review"
	case OutcomeReroute:
		return "transfer must be rerouted to another payment method"
	case "":
		return "risk evaluation returned no outcome"
	default:
		return "risk evaluation returned unrecognized outcome " + string(o)
	}
}
