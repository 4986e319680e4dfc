package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bankline/internal/domain/user"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, verify_identity, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func scanUser(row rowScanner) (*user.User, error) {
	var u user.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.VerifyIdentity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) Create(ctx context.Context, params user.CreateUserParams) (*user.User, error) {
	query := `
		INSERT INTO users (email, name, password_hash, verify_identity)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	u, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, params.Email, params.Name, params.PasswordHash, params.VerifyIdentity))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, user.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*user.User, error) {
	return r.getOne(ctx, `WHERE id = $1`, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `WHERE email = $1`, email)
}

func (r *UserRepository) SetVerifyIdentity(ctx context.Context, id int64, enabled bool) (*user.User, error) {
	query := `UPDATE users SET verify_identity = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + userColumns

	u, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, id, enabled))
	if err == sql.ErrNoRows {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg any) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ` + where

	u, err := scanUser(r.db.conn(ctx).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, user.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
