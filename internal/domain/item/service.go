package item

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bankline/internal/domain/audit"
	"bankline/internal/domain/liveupdate"
)

var (
	meter                = otel.Meter("bankline/item")
	transitionCounter, _ = meter.Int64Counter("item.transitions",
		metric.WithDescription("Item state transitions by event and outcome"),
	)
)

var ErrProviderUnavailable = errors.New("item provider not configured")

// Service owns the item lifecycle.
type Service struct {
	repo      Repository
	tx        Transactor
	publisher liveupdate.Publisher
	recorder  audit.Recorder
	provider  Provider
	alerter   Alerter
}

func NewService(repo Repository, tx Transactor, publisher liveupdate.Publisher, recorder audit.Recorder) *Service {
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Service{
		repo:      repo,
		tx:        tx,
		publisher: publisher,
		recorder:  recorder,
	}
}

// SetProvider enables remote removal and sandbox login resets.
func (s *Service) SetProvider(p Provider) {
	s.provider = p
}

// SetAlerter enables push alerts on state changes.
func (s *Service) SetAlerter(a Alerter) {
	s.alerter = a
}

// TransitionResult describes one processed event. Applied is false for
// combinations outside the transition table.
type TransitionResult struct {
	Item     *Item
	Previous State
	Event    Event
	Applied  bool
}

// CreateItem stores a freshly linked item in state GOOD.
func (s *Service) CreateItem(ctx context.Context, params CreateParams) (*Item, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.Create(ctx, params, StateGood)
}

func (s *Service) GetItem(ctx context.Context, id int64) (*Item, error) {
	return s.repo.GetByID(ctx, id)
}

// GetOwnedItem returns the item only if it belongs to userID.
func (s *Service) GetOwnedItem(ctx context.Context, id, userID int64) (*Item, error) {
	it, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.UserID != userID {
		return nil, ErrNotOwned
	}
	return it, nil
}

func (s *Service) GetByProviderItemID(ctx context.Context, providerItemID string) (*Item, error) {
	return s.repo.GetByProviderItemID(ctx, providerItemID)
}

func (s *Service) ListItemsByUser(ctx context.Context, userID int64) ([]*Item, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

// Transition applies event to the item and publishes the change once the
// write has committed.
func (s *Service) Transition(ctx context.Context, itemID int64, event Event) (*Item, error) {
	res, err := s.ApplyTransition(ctx, itemID, event)
	if err != nil {
		return nil, err
	}
	s.PublishTransition(ctx, res)
	return res.Item, nil
}

// ApplyTransition locks the item row and writes the next state. When ctx
// already carries a transaction the write joins it and the caller must call
// PublishTransition after that transaction commits.
func (s *Service) ApplyTransition(ctx context.Context, itemID int64, event Event) (*TransitionResult, error) {
	var res *TransitionResult

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, itemID)
		if err != nil {
			return err
		}

		next, applied := Next(current.State, event)
		if !applied {
			log.Printf("Warning: item %d ignored event %s in state %s", itemID, event, current.State)
		}

		// No-ops still refresh updated_at.
		updated, err := s.repo.UpdateState(ctx, itemID, next)
		if err != nil {
			return fmt.Errorf("failed to update item state: %w", err)
		}

		res = &TransitionResult{
			Item:     updated,
			Previous: current.State,
			Event:    event,
			Applied:  applied,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// PublishTransition fans out a committed transition.
func (s *Service) PublishTransition(ctx context.Context, res *TransitionResult) {
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", string(res.Event)),
		attribute.Bool("applied", res.Applied),
	))
	if !res.Applied {
		return
	}

	it := res.Item
	if s.publisher != nil {
		s.publisher.Publish(ctx, liveupdate.ItemStateChanged(it.UserID, it.ID, string(it.State)))
	}

	s.recorder.Record(ctx, audit.NewEvent(audit.TypeItemTransition, it.UserID, it.ID, map[string]any{
		"event":    string(res.Event),
		"previous": string(res.Previous),
		"state":    string(it.State),
	}))

	if s.alerter != nil && res.Previous != it.State {
		go s.alerter.ItemStateChanged(context.WithoutCancel(ctx), it, res.Previous)
	}
}

// DeleteItem removes the item at the aggregator (best effort) and then
// locally, cascading to its accounts and link tokens.
func (s *Service) DeleteItem(ctx context.Context, id, userID int64) error {
	it, err := s.GetOwnedItem(ctx, id, userID)
	if err != nil {
		return err
	}

	if s.provider != nil {
		if err := s.provider.RemoveItem(ctx, it.AccessToken); err != nil {
			log.Printf("Warning: failed to remove item %d at provider: %v", id, err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	s.recorder.Record(ctx, audit.NewEvent(audit.TypeItemDeleted, userID, id, nil))
	return nil
}

// ResetLogin forces the item into a login-required state at the sandbox
// provider and mirrors that locally.
func (s *Service) ResetLogin(ctx context.Context, id, userID int64) (*Item, error) {
	it, err := s.GetOwnedItem(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, ErrProviderUnavailable
	}

	if err := s.provider.ResetLogin(ctx, it.AccessToken); err != nil {
		return nil, err
	}

	return s.Transition(ctx, id, EventLoginError)
}
