package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankline/internal/domain/account"
	"bankline/internal/domain/audit"
	"bankline/internal/shared/retry"
	"bankline/internal/shared/upstream"
)

var (
	meter             = otel.Meter("bankline/transfer")
	resultsCounter, _ = meter.Int64Counter("transfer.results",
		metric.WithDescription("Transfer authorizations by result"),
	)
	riskLatency, _ = meter.Float64Histogram("transfer.risk.duration",
		metric.WithDescription("Risk evaluation latency"),
		metric.WithUnit("s"),
	)
)

const (
	DefaultRiskTimeout      = 5 * time.Second
	DefaultProcessorTimeout = 15 * time.Second
	defaultListLimit        = 100
)

type Config struct {
	RiskTimeout      time.Duration
	RiskRetry        retry.Policy
	ProcessorTimeout time.Duration
	// EnforceBalanceCeiling rejects amounts above the account's available
	// balance and reserves the amount before funds move.
	EnforceBalanceCeiling bool
	// ProcessorMode requires a funding source on the account.
	ProcessorMode bool
}

// Authorizer runs the transfer pipeline: validation, risk evaluation, funds
// movement and reconciliation.
type Authorizer struct {
	repo      Repository
	tx        Transactor
	accounts  AccountReader
	risk      RiskEvaluator
	processor Processor
	recorder  audit.Recorder
	notifier  Notifier
	identity  IdentityGate
	balances  BalanceRefresher
	cfg       Config
	now       func() time.Time
}

func NewAuthorizer(repo Repository, tx Transactor, accounts AccountReader, risk RiskEvaluator, processor Processor, recorder audit.Recorder, cfg Config) *Authorizer {
	if cfg.RiskTimeout <= 0 {
		cfg.RiskTimeout = DefaultRiskTimeout
	}
	if cfg.RiskRetry.Attempts <= 0 {
		cfg.RiskRetry.Attempts = 2
	}
	if cfg.ProcessorTimeout <= 0 {
		cfg.ProcessorTimeout = DefaultProcessorTimeout
	}
	if processor == nil {
		processor = LocalSettlement{}
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Authorizer{
		repo:      repo,
		tx:        tx,
		accounts:  accounts,
		risk:      risk,
		processor: processor,
		recorder:  recorder,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetNotifier enables push alerts for stored transfers.
func (a *Authorizer) SetNotifier(n Notifier) {
	a.notifier = n
}

// SetIdentityGate blocks transfers from items whose owners did not match
// the user.
func (a *Authorizer) SetIdentityGate(g IdentityGate) {
	a.identity = g
}

// SetBalanceRefresher makes the balance ceiling use a balance fetched from
// the bank instead of the stored one.
func (a *Authorizer) SetBalanceRefresher(r BalanceRefresher) {
	a.balances = r
}

// Authorize runs one transfer to a terminal result. Errors are returned only
// for ownership problems and storage failures; every other outcome is a
// Result. Once risk has accepted, caller cancellation no longer stops the
// pipeline.
func (a *Authorizer) Authorize(ctx context.Context, req Request) (*Result, error) {
	if reason := req.validate(); reason != "" {
		return a.finish(ctx, invalid(reason)), nil
	}

	acc, err := a.accounts.GetAccount(ctx, req.AccountID, req.UserID)
	if err != nil {
		switch {
		case errors.Is(err, account.ErrForbidden):
			return nil, ErrNotOwned
		case errors.Is(err, account.ErrAccountNotFound):
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	if a.identity != nil {
		ok, reason, err := a.identity.TransfersAllowed(ctx, req.UserID, acc.ItemID)
		if err != nil {
			return nil, fmt.Errorf("failed to check account ownership: %w", err)
		}
		if !ok {
			return a.finish(ctx, invalid(reason)), nil
		}
	}

	t := &Transfer{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		ItemID:    acc.ItemID,
		AccountID: acc.ID,
		Amount:    req.Amount,
	}

	if a.cfg.EnforceBalanceCeiling {
		if a.balances != nil {
			fresh, err := a.balances.RefreshAccount(ctx, acc.ID, req.UserID)
			if err != nil {
				log.Printf("Error refreshing balance for transfer %s: %v", t.ID, err)
				return a.fail(ctx, t, "available balance could not be refreshed")
			}
			acc = fresh
		}
		if acc.AvailableBalance == nil {
			return a.finish(ctx, invalid("available balance is unknown")), nil
		}
		if req.Amount.GreaterThan(*acc.AvailableBalance) {
			return a.finish(ctx, invalid("amount exceeds available balance")), nil
		}
	}

	decision, err := a.evaluate(ctx, t)
	if err != nil {
		log.Printf("Error evaluating risk for transfer %s: %v", t.ID, err)
		return a.fail(ctx, t, "risk evaluation unavailable")
	}
	t.RiskOutcome = decision.Outcome
	t.RiskPayload = decision.Payload

	outcome := NormalizeOutcome(decision.Outcome)
	if outcome != OutcomeAccept {
		return a.block(ctx, t, outcome)
	}

	// Approved: run to a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	reserved := false
	if a.cfg.EnforceBalanceCeiling {
		ok, err := a.reserve(ctx, acc.ID, req.Amount)
		if err != nil {
			log.Printf("Error reserving balance for transfer %s: %v", t.ID, err)
			return a.fail(ctx, t, "balance reservation failed")
		}
		if !ok {
			return a.fail(ctx, t, "insufficient available balance")
		}
		reserved = true
	}

	conf, reason := a.submit(ctx, t, acc)
	if conf == nil {
		if reserved {
			a.release(ctx, t, req.Amount)
		}
		return a.fail(ctx, t, reason)
	}
	t.ProcessorRef = &conf.Reference
	t.Amount = conf.Amount

	// The reservation now covers only what the processor confirmed.
	if reserved && conf.Amount.LessThan(req.Amount) {
		a.release(ctx, t, req.Amount.Sub(conf.Amount))
	}

	if err := a.reconcile(ctx, t); err != nil {
		log.Printf("Error reconciling transfer %s (processor ref %s): %v", t.ID, conf.Reference, err)
		if reserved {
			a.release(ctx, t, decimal.Min(conf.Amount, req.Amount))
		}
		t.Amount = req.Amount
		return a.fail(ctx, t, "reconciliation failed")
	}

	amount := t.Amount
	a.completed(ctx, t)
	return a.finish(ctx, &Result{Status: ResultConfirmed, TransferID: t.ID, Amount: &amount}), nil
}

// evaluate calls the risk service with a per-attempt timeout and retries
// transient failures.
func (a *Authorizer) evaluate(ctx context.Context, t *Transfer) (*RiskDecision, error) {
	req := RiskRequest{
		TransferID: t.ID,
		UserID:     t.UserID,
		ItemID:     t.ItemID,
		AccountID:  t.AccountID,
		Amount:     t.Amount,
	}

	var decision *RiskDecision
	start := a.now()
	err := retry.Do(ctx, a.cfg.RiskRetry, upstream.IsRetryable, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.RiskTimeout)
		defer cancel()

		d, err := a.risk.Evaluate(attemptCtx, req)
		if err != nil {
			return err
		}
		if d == nil {
			d = &RiskDecision{}
		}
		decision = d
		return nil
	})
	riskLatency.Record(ctx, a.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	return decision, nil
}

func (a *Authorizer) reserve(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	var ok bool
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.repo.LockAccount(ctx, accountID); err != nil {
			return err
		}
		var err error
		ok, err = a.repo.ReserveBalance(ctx, accountID, amount)
		return err
	})
	return ok, err
}

// release returns amount of t's reservation to the account.
func (a *Authorizer) release(ctx context.Context, t *Transfer, amount decimal.Decimal) {
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.repo.LockAccount(ctx, t.AccountID); err != nil {
			return err
		}
		return a.repo.ReleaseBalance(ctx, t.AccountID, amount)
	})
	if err != nil {
		log.Printf("Error releasing reservation for transfer %s: %v", t.ID, err)
	}
}

// submit moves the funds. A nil confirmation comes with the failure reason.
func (a *Authorizer) submit(ctx context.Context, t *Transfer, acc *account.Account) (*Confirmation, string) {
	if a.cfg.ProcessorMode && acc.FundingSourceURL == "" {
		return nil, "account has no funding source"
	}

	submitCtx, cancel := context.WithTimeout(ctx, a.cfg.ProcessorTimeout)
	defer cancel()

	conf, err := a.processor.Submit(submitCtx, Submission{
		TransferID:       t.ID,
		UserID:           t.UserID,
		ItemID:           t.ItemID,
		AccountID:        t.AccountID,
		FundingSourceURL: acc.FundingSourceURL,
		Amount:           t.Amount,
	})
	switch {
	case err != nil:
		log.Printf("Error submitting transfer %s: %v", t.ID, err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "processor timed out"
		}
		return nil, "processor submission failed"
	case conf == nil:
		return nil, "processor returned no confirmation"
	case !conf.Amount.IsPositive():
		return nil, "processor confirmed no amount"
	}
	return conf, ""
}

// reconcile records the confirmed transfer and credits the app fund in one
// transaction serialized per account.
func (a *Authorizer) reconcile(ctx context.Context, t *Transfer) error {
	return a.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := a.repo.LockAccount(ctx, t.AccountID); err != nil {
			return err
		}
		t.Status = StatusConfirmed
		t.CreatedAt = a.now().UTC()
		if err := a.repo.Insert(ctx, t); err != nil {
			return fmt.Errorf("failed to insert transfer: %w", err)
		}
		if _, err := a.repo.CreditAppFund(ctx, t.UserID, t.Amount); err != nil {
			return fmt.Errorf("failed to credit app fund: %w", err)
		}
		if err := a.repo.IncrementAccountTransfers(ctx, t.AccountID); err != nil {
			return fmt.Errorf("failed to increment transfer count: %w", err)
		}
		return nil
	})
}

func (a *Authorizer) block(ctx context.Context, t *Transfer, outcome Outcome) (*Result, error) {
	t.Status = StatusBlocked
	t.Reason = blockReason(outcome)
	if err := a.store(ctx, t); err != nil {
		return nil, err
	}
	a.completed(ctx, t)
	return a.finish(ctx, &Result{Status: ResultBlocked, TransferID: t.ID, Outcome: t.RiskOutcome, Reason: t.Reason}), nil
}

func (a *Authorizer) fail(ctx context.Context, t *Transfer, reason string) (*Result, error) {
	t.Status = StatusFailed
	t.Reason = reason
	if err := a.store(ctx, t); err != nil {
		return nil, err
	}
	a.completed(ctx, t)
	return a.finish(ctx, &Result{Status: ResultFailed, TransferID: t.ID, Reason: reason}), nil
}

// store writes a BLOCKED or FAILED transfer with a context the caller cannot
// cancel.
func (a *Authorizer) store(ctx context.Context, t *Transfer) error {
	t.CreatedAt = a.now().UTC()
	if err := a.repo.Insert(context.WithoutCancel(ctx), t); err != nil {
		return fmt.Errorf("failed to record %s transfer: %w", t.Status, err)
	}
	return nil
}

func (a *Authorizer) completed(ctx context.Context, t *Transfer) {
	a.recorder.Record(ctx, audit.NewEvent(audit.TypeTransferResult, t.UserID, t.ItemID, map[string]any{
		"transferId":  t.ID,
		"accountId":   t.AccountID,
		"amount":      t.Amount.String(),
		"status":      string(t.Status),
		"riskOutcome": t.RiskOutcome,
		"reason":      t.Reason,
	}))
	if a.notifier != nil {
		snapshot := *t
		go a.notifier.TransferCompleted(context.WithoutCancel(ctx), &snapshot)
	}
}

func (a *Authorizer) finish(ctx context.Context, res *Result) *Result {
	resultsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(res.Status))))
	return res
}

// GetTransfer returns one of the user's transfers.
func (a *Authorizer) GetTransfer(ctx context.Context, id string, userID int64) (*Transfer, error) {
	t, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrTransferNotFound
	}
	return t, nil
}

func (a *Authorizer) ListTransfers(ctx context.Context, userID int64) ([]*Transfer, error) {
	return a.repo.ListByUserID(ctx, userID, defaultListLimit)
}

// GetAppFund returns the user's fund, zero if nothing was ever credited.
func (a *Authorizer) GetAppFund(ctx context.Context, userID int64) (*AppFund, error) {
	fund, err := a.repo.GetAppFund(ctx, userID)
	if err != nil {
		return nil, err
	}
	if fund == nil {
		fund = &AppFund{UserID: userID, Balance: decimal.Zero}
	}
	return fund, nil
}
