package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword_StoredForm(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	if strings.Contains(hash, "correct-horse") {
		t.Fatal("hash contains the password")
	}
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("hash is not bcrypt: %v", err)
	}
	if cost != passwordCost {
		t.Errorf("cost = %d, want %d", cost, passwordCost)
	}

	again, _ := HashPassword("correct-horse-battery")
	if again == hash {
		t.Error("same password hashed twice to the same value")
	}
}

func TestHashPassword_TooLong(t *testing.T) {
	if _, err := HashPassword(strings.Repeat("a", maxPasswordBytes)); err != nil {
		t.Errorf("HashPassword(72 bytes) failed: %v", err)
	}
	// multi-byte runes count by byte
	if _, err := HashPassword(strings.Repeat("é", 37)); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("HashPassword(74 bytes) error = %v, want ErrPasswordTooLong", err)
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct-horse-battery")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		wantErr  error
		wantAny  bool
	}{
		{name: "correct", hash: hash, password: "correct-horse-battery"},
		{name: "wrong", hash: hash, password: "correct-horse-batterY", wantErr: ErrPasswordMismatch},
		{name: "empty", hash: hash, password: "", wantErr: ErrPasswordMismatch},
		{name: "corrupt hash", hash: "$2a$12$truncated", password: "correct-horse-battery", wantAny: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyPassword(tt.hash, tt.password)
			switch {
			case tt.wantAny:
				if err == nil || errors.Is(err, ErrPasswordMismatch) {
					t.Errorf("VerifyPassword() error = %v, want a hash error", err)
				}
			case !errors.Is(err, tt.wantErr):
				t.Errorf("VerifyPassword() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
