package linktoken

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankline/internal/domain/account"
	"bankline/internal/domain/audit"
	"bankline/internal/domain/identity"
	"bankline/internal/domain/item"
	"bankline/internal/shared/retry"
	"bankline/internal/shared/upstream"
)

var (
	meter            = otel.Meter("bankline/linktoken")
	issuedCounter, _ = meter.Int64Counter("linktoken.issued",
		metric.WithDescription("Link tokens issued by mode"),
	)
	consumeCounter, _ = meter.Int64Counter("linktoken.consumed",
		metric.WithDescription("Link token consume attempts by outcome"),
	)
)

const DefaultTTL = 30 * time.Minute

type Config struct {
	TTL   time.Duration
	Retry retry.Policy
}

// Broker issues and redeems link tokens.
type Broker struct {
	repo       Repository
	tx         Transactor
	aggregator Aggregator
	items      ItemStore
	accounts   AccountStore
	recorder   audit.Recorder
	funding    FundingLinker
	owners     IdentitySource
	verifier   IdentityVerifier
	cfg        Config
	now        func() time.Time
}

func NewBroker(repo Repository, tx Transactor, aggregator Aggregator, items ItemStore, accounts AccountStore, recorder audit.Recorder, cfg Config) *Broker {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry.Attempts = 3
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Broker{
		repo:       repo,
		tx:         tx,
		aggregator: aggregator,
		items:      items,
		accounts:   accounts,
		recorder:   recorder,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetFundingLinker enables funding source registration for new accounts.
func (b *Broker) SetFundingLinker(l FundingLinker) {
	b.funding = l
}

// SetIdentityVerifier enables owner verification on initial links for users
// who asked for it.
func (b *Broker) SetIdentityVerifier(src IdentitySource, v IdentityVerifier) {
	b.owners = src
	b.verifier = v
}

// Issue creates a link token for userID. A non-nil itemID requests update
// mode for an item the user owns. Any unconsumed token for the same target
// is replaced.
func (b *Broker) Issue(ctx context.Context, userID int64, itemID *int64) (*LinkToken, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: valid user ID is required", ErrInvalidInput)
	}

	req := TokenRequest{UserID: userID}
	if itemID != nil {
		it, err := b.items.GetOwnedItem(ctx, *itemID, userID)
		if err != nil {
			if errors.Is(err, item.ErrNotOwned) {
				return nil, ErrNotOwned
			}
			return nil, err
		}
		req.AccessToken = it.AccessToken
	}

	var issued *IssuedToken
	err := b.callUpstream(ctx, func(ctx context.Context) error {
		var err error
		issued, err = b.aggregator.CreateLinkToken(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	now := b.now()
	t := &LinkToken{
		Value:     issued.Value,
		UserID:    userID,
		ItemID:    itemID,
		IssuedAt:  now,
		ExpiresAt: now.Add(b.cfg.TTL),
	}
	if !issued.Expiration.IsZero() && issued.Expiration.Before(t.ExpiresAt) {
		t.ExpiresAt = issued.Expiration
	}

	err = b.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := b.repo.DeleteUnconsumed(ctx, userID, itemID); err != nil {
			return fmt.Errorf("failed to invalidate previous link token: %w", err)
		}
		if err := b.repo.Insert(ctx, t); err != nil {
			return fmt.Errorf("failed to store link token: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	issuedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(t.Mode()))))
	return t, nil
}

// Inspect validates a token for userID without consuming it.
func (b *Broker) Inspect(ctx context.Context, value string, userID int64) (*ExchangeContext, error) {
	t, err := b.repo.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := b.check(t, userID); err != nil {
		return nil, err
	}
	return exchangeContext(t), nil
}

// Consume redeems a token exactly once. When ctx carries a transaction the
// consumption commits or rolls back with it.
func (b *Broker) Consume(ctx context.Context, value string, userID int64) (*ExchangeContext, error) {
	var ec *ExchangeContext

	err := b.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := b.repo.GetForUpdate(ctx, value)
		if err != nil {
			return err
		}
		if err := b.check(t, userID); err != nil {
			return err
		}

		ok, err := b.repo.MarkConsumed(ctx, value, b.now())
		if err != nil {
			return fmt.Errorf("failed to consume link token: %w", err)
		}
		if !ok {
			return ErrAlreadyConsumed
		}

		ec = exchangeContext(t)
		return nil
	})

	consumeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", consumeOutcome(err))))
	if err != nil {
		return nil, err
	}
	return ec, nil
}

// check applies ownership, single use and expiry, in that order.
func (b *Broker) check(t *LinkToken, userID int64) error {
	if t.UserID != userID {
		return ErrNotOwned
	}
	if t.ConsumedAt != nil {
		return ErrAlreadyConsumed
	}
	if t.Expired(b.now()) {
		return ErrExpired
	}
	return nil
}

// LinkResult is the outcome of a completed link flow.
type LinkResult struct {
	Mode     Mode               `json:"mode"`
	Item     *item.Item         `json:"item"`
	Accounts []*account.Account `json:"accounts,omitempty"`
	Identity *identity.Check    `json:"identity,omitempty"`
}

// CompleteLink finishes a link flow. Initial mode exchanges the public token
// and then, in one transaction, consumes the link token and stores the new
// item with its accounts. Update mode consumes the token and repairs the
// item in one transaction.
func (b *Broker) CompleteLink(ctx context.Context, req CompleteRequest) (*LinkResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	ec, err := b.Inspect(ctx, req.LinkToken, req.UserID)
	if err != nil {
		return nil, err
	}

	if ec.Mode == ModeUpdate {
		return b.completeUpdate(ctx, req)
	}
	return b.completeInitial(ctx, req)
}

func (b *Broker) completeUpdate(ctx context.Context, req CompleteRequest) (*LinkResult, error) {
	var res *item.TransitionResult

	err := b.tx.WithinTx(ctx, func(ctx context.Context) error {
		ec, err := b.Consume(ctx, req.LinkToken, req.UserID)
		if err != nil {
			return err
		}
		res, err = b.items.ApplyTransition(ctx, *ec.ItemID, item.EventLoginRepaired)
		return err
	})
	if err != nil {
		return nil, err
	}

	b.items.PublishTransition(ctx, res)
	b.recorder.Record(ctx, audit.NewEvent(audit.TypeLinkCompleted, req.UserID, res.Item.ID, map[string]any{
		"mode": string(ModeUpdate),
	}))

	return &LinkResult{Mode: ModeUpdate, Item: res.Item}, nil
}

func (b *Broker) completeInitial(ctx context.Context, req CompleteRequest) (*LinkResult, error) {
	if req.PublicToken == "" {
		return nil, fmt.Errorf("%w: public token is required", ErrInvalidInput)
	}
	if req.InstitutionID == "" {
		return nil, fmt.Errorf("%w: institution ID is required", ErrInvalidInput)
	}

	var exchange *Exchange
	err := b.callUpstream(ctx, func(ctx context.Context) error {
		var err error
		exchange, err = b.aggregator.ExchangePublicToken(ctx, req.PublicToken)
		return err
	})
	if err != nil {
		return nil, err
	}

	var remote []RemoteAccount
	err = b.callUpstream(ctx, func(ctx context.Context) error {
		var err error
		remote, err = b.aggregator.GetAccounts(ctx, exchange.AccessToken)
		return err
	})
	if err != nil {
		b.discardExchange(ctx, exchange)
		return nil, err
	}

	owners, verify, err := b.fetchOwners(ctx, req.UserID, exchange.AccessToken)
	if err != nil {
		b.discardExchange(ctx, exchange)
		return nil, err
	}

	fundingURLs := b.linkFundingSources(ctx, req.UserID, exchange.AccessToken, remote)

	result := &LinkResult{Mode: ModeInitial}
	err = b.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := b.Consume(ctx, req.LinkToken, req.UserID); err != nil {
			return err
		}

		it, err := b.items.CreateItem(ctx, item.CreateParams{
			UserID:          req.UserID,
			InstitutionID:   req.InstitutionID,
			InstitutionName: req.InstitutionName,
			ProviderItemID:  exchange.ProviderItemID,
			AccessToken:     exchange.AccessToken,
		})
		if err != nil {
			return err
		}

		params := make([]account.CreateParams, 0, len(remote))
		for _, ra := range remote {
			params = append(params, account.CreateParams{
				ID:               ra.ID,
				ItemID:           it.ID,
				UserID:           req.UserID,
				Name:             ra.Name,
				Mask:             ra.Mask,
				Type:             ra.Type,
				Subtype:          ra.Subtype,
				Currency:         ra.Currency,
				AvailableBalance: ra.Available,
				CurrentBalance:   ra.Current,
				FundingSourceURL: fundingURLs[ra.ID],
			})
		}
		accounts, err := b.accounts.CreateForItem(ctx, params)
		if err != nil {
			return err
		}

		result.Item = it
		result.Accounts = accounts

		if verify {
			check, err := b.verifier.Record(ctx, req.UserID, it.ID, owners)
			if err != nil {
				return err
			}
			result.Identity = check
		}
		return nil
	})
	if err != nil {
		b.discardExchange(ctx, exchange)
		return nil, err
	}

	details := map[string]any{
		"mode":          string(ModeInitial),
		"institutionId": req.InstitutionID,
		"accounts":      len(result.Accounts),
	}
	if result.Identity != nil {
		details["identityPassed"] = result.Identity.Passed
	}
	b.recorder.Record(ctx, audit.NewEvent(audit.TypeLinkCompleted, req.UserID, result.Item.ID, details))

	return result, nil
}

// fetchOwners loads the bank's owner data when the user opted into
// verification. verify is false when no check should be recorded.
func (b *Broker) fetchOwners(ctx context.Context, userID int64, accessToken string) (owners []identity.Owner, verify bool, err error) {
	if b.verifier == nil || b.owners == nil {
		return nil, false, nil
	}
	required, err := b.verifier.Required(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load identity preference: %w", err)
	}
	if !required {
		return nil, false, nil
	}

	err = b.callUpstream(ctx, func(ctx context.Context) error {
		var err error
		owners, err = b.owners.GetIdentity(ctx, accessToken)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return owners, true, nil
}

func (b *Broker) linkFundingSources(ctx context.Context, userID int64, accessToken string, remote []RemoteAccount) map[string]string {
	urls := make(map[string]string)
	if b.funding == nil {
		return urls
	}
	for _, ra := range remote {
		if ra.Type != "depository" {
			continue
		}
		url, err := b.funding.LinkFundingSource(ctx, userID, accessToken, ra.ID)
		if err != nil {
			log.Printf("Warning: failed to create funding source for account %s: %v", ra.ID, err)
			continue
		}
		urls[ra.ID] = url
	}
	return urls
}

// discardExchange releases access obtained for a link that was not stored.
func (b *Broker) discardExchange(ctx context.Context, exchange *Exchange) {
	if err := b.aggregator.RemoveItem(context.WithoutCancel(ctx), exchange.AccessToken); err != nil {
		log.Printf("Warning: failed to remove orphaned item %s: %v", exchange.ProviderItemID, err)
	}
}

// Sweep deletes tokens that expired or were consumed more than one TTL ago.
// Expiry is enforced at consume time; this only reclaims storage.
func (b *Broker) Sweep(ctx context.Context) (int64, error) {
	return b.repo.DeleteStale(ctx, b.now().Add(-b.cfg.TTL))
}

// callUpstream retries transient failures and maps the final error onto the
// broker's error taxonomy.
func (b *Broker) callUpstream(ctx context.Context, fn func(ctx context.Context) error) error {
	err := retry.Do(ctx, b.cfg.Retry, upstream.IsRetryable, fn)
	if err == nil {
		return nil
	}
	if upstream.IsRetryable(err) {
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	if upstream.IsMisconfigured(err) {
		return fmt.Errorf("%w: %w", ErrUpstreamMisconfigured, err)
	}
	var ue *upstream.Error
	if errors.As(err, &ue) {
		// The aggregator refused this particular request (bad public token,
		// item needs re-login); the client can act on ue.Code.
		return fmt.Errorf("%w: %w", ErrUpstreamRejected, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

func consumeOutcome(err error) string {
	switch {
	case err == nil:
		return "consumed"
	case errors.Is(err, ErrAlreadyConsumed):
		return "already_consumed"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrNotOwned):
		return "not_owned"
	case errors.Is(err, ErrTokenNotFound):
		return "not_found"
	default:
		return "error"
	}
}
