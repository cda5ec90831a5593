package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// EnvEncryptionKey names the environment variable carrying the credential
// encryption key as standard base64 of 32 raw bytes.
const EnvEncryptionKey = "HEARTH_ENCRYPTION_KEY"

// keyFileName is the fallback key file written next to the catalog when the
// environment does not supply a key. Persisting the key keeps stored
// credentials readable across restarts.
const keyFileName = "hearth.key"

// CredentialCipher encrypts and decrypts service credential material using
// AES-256-GCM. Ciphertexts are base64-encoded with the nonce prepended.
type CredentialCipher struct {
	aead cipher.AEAD
}

// NewCredentialCipher builds a cipher from a 32-byte key.
func NewCredentialCipher(key []byte) (*CredentialCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d: %w", len(key), ErrInvalidConfiguration)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &CredentialCipher{aead: aead}, nil
}

// LoadOrCreateKey resolves the credential encryption key.
// Resolution order:
//  1. HEARTH_ENCRYPTION_KEY environment variable (base64, 32 bytes)
//  2. Existing key file under dataDir
//  3. A freshly generated key, persisted to dataDir with mode 0600
func LoadOrCreateKey(dataDir string) ([]byte, error) {
	if env := strings.TrimSpace(os.Getenv(EnvEncryptionKey)); env != "" {
		key, err := base64.StdEncoding.DecodeString(env)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", EnvEncryptionKey, ErrInvalidConfiguration)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("%s must decode to 32 bytes, got %d: %w", EnvEncryptionKey, len(key), ErrInvalidConfiguration)
		}
		return key, nil
	}

	path := filepath.Join(dataDir, keyFileName)
	if data, err := os.ReadFile(path); err == nil {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("key file %s is corrupt: %w", path, ErrInvalidConfiguration)
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating encryption key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("persisting encryption key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext and returns a base64 string with the nonce prepended.
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered or garbage input
// is reported as ErrDecryptionFailed, never silently ignored.
func (c *CredentialCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", ErrDecryptionFailed)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short: %w", ErrDecryptionFailed)
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("opening ciphertext: %w", ErrDecryptionFailed)
	}
	return string(plaintext), nil
}
