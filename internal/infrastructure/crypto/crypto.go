// Package crypto seals aggregator access tokens before they are stored.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// sealPrefix versions the stored format so the key or cipher can change
// without guessing at old rows.
const sealPrefix = "v1:"

var (
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	ErrMalformed  = errors.New("sealed token is malformed")
	ErrMismatch   = errors.New("sealed token was altered or belongs to another item")
)

// Vault seals access tokens with AES-256-GCM. Each token is bound to the
// provider item id it was issued for, so a sealed value copied onto
// another item row does not open.
type Vault struct {
	gcm cipher.AEAD
}

func NewVault(key string) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Vault{gcm: gcm}, nil
}

// Seal returns "v1:" + base64(nonce || ciphertext). An empty token seals
// to an empty string.
func (v *Vault) Seal(accessToken, providerItemID string) (string, error) {
	if accessToken == "" {
		return "", nil
	}

	nonce := make([]byte, v.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := v.gcm.Seal(nonce, nonce, []byte(accessToken), []byte(providerItemID))
	return sealPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal for the same provider item id.
func (v *Vault) Open(sealed, providerItemID string) (string, error) {
	if sealed == "" {
		return "", nil
	}

	encoded, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown format", ErrMalformed)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	nonceSize := v.gcm.NonceSize()
	if len(data) < nonceSize+v.gcm.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrMalformed)
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	token, err := v.gcm.Open(nil, nonce, ciphertext, []byte(providerItemID))
	if err != nil {
		return "", ErrMismatch
	}
	return string(token), nil
}
