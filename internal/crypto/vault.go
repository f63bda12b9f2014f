package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32

	// sealedPrefix marks a vault ciphertext:
	// ENC[v1]:base64(salt || nonce || ciphertext).
	sealedPrefix = "ENC[v1]:"
)

// Vault encrypts secrets with AES-256-GCM under a key derived from a
// passphrase with PBKDF2-HMAC-SHA256 and a random per-secret salt.
type Vault struct {
	passphrase []byte
	iterations int
	keys       sync.Map // string(salt) -> []byte
}

// NewVault creates a Vault for passphrase.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: vault passphrase must not be empty")
	}
	return &Vault{passphrase: []byte(passphrase), iterations: pbkdf2Iterations}, nil
}

// IsSealed reports whether s looks like a vault ciphertext.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, sealedPrefix)
}

// Seal encrypts plaintext and returns the ENC[v1] string form.
func (v *Vault) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := make([]byte, 0, saltLen+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a string produced by Seal.
func (v *Vault) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", errors.New("crypto: value is not vault-encrypted")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}
	if len(raw) < saltLen {
		return "", errors.New("crypto: ciphertext too short")
	}
	salt, rest := raw[:saltLen], raw[saltLen:]

	gcm, err := v.gcm(salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize() {
		return "", errors.New("crypto: ciphertext too short")
	}
	nonce, ct := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}

// gcm returns the AEAD for salt. Derived keys are cached per salt so repeated
// opens of the same secret skip the key derivation.
func (v *Vault) gcm(salt []byte) (cipher.AEAD, error) {
	var key []byte
	if k, ok := v.keys.Load(string(salt)); ok {
		key = k.([]byte)
	} else {
		key = pbkdf2.Key(v.passphrase, salt, v.iterations, aesKeyLen, sha256.New)
		v.keys.Store(string(salt), key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
