package crypto

import (
	"errors"
	"strings"
	"testing"
)

const (
	testKey     = "bankline-test-key-0123456789abcd"
	accessToken = "access-sandbox-de3ce8ef-33f8-452c-a685-8671031fc0f6"
	itemID      = "M5eVJqLnv3tbzdngLDp9FL5OlDNxlNhlE55op"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(testKey)
	if err != nil {
		t.Fatalf("NewVault() failed: %v", err)
	}
	return v
}

func TestNewVault_KeyLength(t *testing.T) {
	for _, key := range []string{"", "too-short", testKey + "x"} {
		if _, err := NewVault(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("NewVault(%d bytes) error = %v, want ErrInvalidKey", len(key), err)
		}
	}
}

func TestSealOpen_AccessToken(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Seal(accessToken, itemID)
	if err != nil {
		t.Fatalf("Seal() failed: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") {
		t.Errorf("sealed = %q, want v1 prefix", sealed)
	}
	if strings.Contains(sealed, "access-sandbox") {
		t.Error("sealed value leaks the access token")
	}

	got, err := v.Open(sealed, itemID)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if got != accessToken {
		t.Errorf("Open() = %q, want %q", got, accessToken)
	}
}

func TestSeal_FreshNonce(t *testing.T) {
	v := newTestVault(t)

	a, _ := v.Seal(accessToken, itemID)
	b, _ := v.Seal(accessToken, itemID)
	if a == b {
		t.Error("two seals of the same token are identical")
	}
}

func TestSealOpen_EmptyToken(t *testing.T) {
	v := newTestVault(t)

	sealed, err := v.Seal("", itemID)
	if err != nil || sealed != "" {
		t.Errorf("Seal(\"\") = %q, %v, want empty", sealed, err)
	}
	token, err := v.Open("", itemID)
	if err != nil || token != "" {
		t.Errorf("Open(\"\") = %q, %v, want empty", token, err)
	}
}

func TestOpen_Rejects(t *testing.T) {
	v := newTestVault(t)
	sealed, _ := v.Seal(accessToken, itemID)
	other, _ := NewVault("another-key-0123456789abcdefghij")

	tests := []struct {
		name    string
		vault   *Vault
		sealed  string
		itemID  string
		wantErr error
	}{
		{"copied onto another item", v, sealed, "another-provider-item", ErrMismatch},
		{"tampered ciphertext", v, sealed[:len(sealed)-4] + "AAA=", itemID, ErrMismatch},
		{"rotated key", other, sealed, itemID, ErrMismatch},
		{"unversioned value", v, strings.TrimPrefix(sealed, "v1:"), itemID, ErrMalformed},
		{"not base64", v, "v1:not-base64!!!", itemID, ErrMalformed},
		{"shorter than nonce and tag", v, "v1:YWNjZXNz", itemID, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := tt.vault.Open(tt.sealed, tt.itemID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open() error = %v, want %v", err, tt.wantErr)
			}
			if token != "" {
				t.Errorf("Open() leaked %q on failure", token)
			}
		})
	}
}
