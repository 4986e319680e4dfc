// Package linkevent stores client-side link flow events for support and
// debugging. Events never change item state.
package linkevent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	TypeSuccess = "success"
	TypeExit    = "exit"
	TypeEvent   = "event"
)

var validTypes = map[string]struct{}{
	TypeSuccess: {},
	TypeExit:    {},
	TypeEvent:   {},
}

var ErrInvalidInput = errors.New("invalid input")

type Event struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	UserID        int64     `json:"userId"`
	LinkSessionID string    `json:"linkSessionId"`
	RequestID     string    `json:"requestId,omitempty"`
	ErrorType     string    `json:"errorType,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
	Status        string    `json:"status,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (e *Event) Validate() error {
	if e.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if _, ok := validTypes[e.Type]; !ok {
		return fmt.Errorf("type must be one of success, exit, event")
	}
	if e.LinkSessionID == "" {
		return errors.New("link session ID is required")
	}
	return nil
}

type Repository interface {
	Create(ctx context.Context, e *Event) (*Event, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, e *Event) (*Event, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.Create(ctx, e)
}
