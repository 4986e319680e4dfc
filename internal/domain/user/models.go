package user

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
)

const minPasswordLength = 8

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	// VerifyIdentity makes transfers depend on the bank's owner data
	// matching this user.
	VerifyIdentity bool      `json:"verifyIdentity"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type CreateUserParams struct {
	Email          string
	Name           string
	PasswordHash   string
	VerifyIdentity bool
}

type RegisterParams struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`

	VerifyIdentity bool `json:"verifyIdentity"`
}

func (p *RegisterParams) normalize() {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Name = strings.TrimSpace(p.Name)
}

func (p RegisterParams) Validate() error {
	if p.Email == "" || p.Password == "" || p.Name == "" {
		return errors.New("email, password, and name are required")
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return errors.New("email is not valid")
	}
	if len(p.Password) < minPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
