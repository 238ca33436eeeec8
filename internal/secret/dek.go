package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// KDF derives, via scrypt, the key used to encrypt and decrypt values
// stored with the "encrypted:" prefix. The key comes from the
// configured passphrase, or from a built-in default passphrase when
// none is configured; the salt is fixed. Values are sealed directly
// with this derived key; no separate data encryption key is stored or
// wrapped.
type KDF struct {
	passphrase string
}

// NewKDF builds a KDF. An empty passphrase still produces a usable
// (but well-known) key, matching the "default KDF-derived key" case
// in the glossary's DEK definition.
func NewKDF(passphrase string) *KDF {
	return &KDF{passphrase: passphrase}
}

var defaultSalt = []byte("flow-execution-engine-default-salt")

func (k *KDF) deriveKey() ([]byte, error) {
	pass := k.passphrase
	if pass == "" {
		pass = "flow-execution-engine-default-passphrase"
	}
	return scrypt.Key([]byte(pass), defaultSalt, 1<<15, 8, 1, chacha20poly1305.KeySize)
}

// Encrypt wraps plaintext, returning a value suitable for storage
// behind the "encrypted:" prefix (base64 of nonce||ciphertext).
func (k *KDF) Encrypt(plaintext string) (string, error) {
	key, err := k.deriveKey()
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt unwraps a value stored behind the "encrypted:" prefix.
func (k *KDF) Decrypt(encoded string) (string, error) {
	key, err := k.deriveKey()
	if err != nil {
		return "", fmt.Errorf("derive key: %w", err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}
