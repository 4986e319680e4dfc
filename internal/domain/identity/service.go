package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bankline/internal/domain/user"
)

// Refusal reasons reported to transfer callers.
const (
	ReasonNotVerified = "account ownership not verified"
	ReasonFailed      = "account ownership verification failed"
)

// UserLookup loads the user an item belongs to.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*user.User, error)
}

type Service struct {
	repo  Repository
	users UserLookup
	now   func() time.Time
}

func NewService(repo Repository, users UserLookup) *Service {
	return &Service{repo: repo, users: users, now: time.Now}
}

// Required reports whether the user opted into owner verification.
func (s *Service) Required(ctx context.Context, userID int64) (bool, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return u.VerifyIdentity, nil
}

// Record matches the owners reported for a freshly linked item against its
// user and stores the outcome. It runs inside the caller's transaction when
// ctx carries one.
func (s *Service) Record(ctx context.Context, userID, itemID int64, owners []Owner) (*Check, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	c := Match(u.Name, u.Email, owners)
	c.ItemID = itemID
	c.UserID = userID
	c.CheckedAt = s.now()

	saved, err := s.repo.Save(ctx, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to save identity check: %w", err)
	}
	if !saved.Passed {
		log.Printf("Identity check failed for item %d (name match %t, email match %t)", itemID, saved.NameMatch, saved.EmailMatch)
	}
	return saved, nil
}

// GetCheck returns the stored check for an item the user owns.
func (s *Service) GetCheck(ctx context.Context, itemID, userID int64) (*Check, error) {
	c, err := s.repo.GetByItemID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrCheckNotFound
	}
	return c, nil
}

// TransfersAllowed gates transfers out of an item. Users who never opted in
// are not gated. For the rest the item needs a passing check.
func (s *Service) TransfersAllowed(ctx context.Context, userID, itemID int64) (bool, string, error) {
	c, err := s.repo.GetByItemID(ctx, itemID)
	switch {
	case errors.Is(err, ErrCheckNotFound):
		required, err := s.Required(ctx, userID)
		if err != nil {
			return false, "", err
		}
		if required {
			return false, ReasonNotVerified, nil
		}
		return true, "", nil
	case err != nil:
		return false, "", err
	}

	if !c.Passed {
		return false, ReasonFailed, nil
	}
	return true, "", nil
}
