package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bankline/internal/shared/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Register creates a password user.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*User, error) {
	params.normalize()
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	_, err := s.repo.GetByEmail(ctx, params.Email)
	if err == nil {
		return nil, ErrEmailTaken
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(params.Password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return s.repo.Create(ctx, CreateUserParams{
		Email:          params.Email,
		Name:           params.Name,
		PasswordHash:   hash,
		VerifyIdentity: params.VerifyIdentity,
	})
}

// Authenticate checks an email and password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.VerifyPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("user %d: %w", u.ID, err)
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// SetIdentityCheck turns owner verification on or off for future links.
// Items linked earlier keep the check they were linked with.
func (s *Service) SetIdentityCheck(ctx context.Context, id int64, enabled bool) (*User, error) {
	return s.repo.SetVerifyIdentity(ctx, id, enabled)
}
