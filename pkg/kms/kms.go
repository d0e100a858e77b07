// Package kms derives the custody encryption key from the operator's master
// secret and seals treasury secrets with it.
//
// The master secret is supplied once at process start through Config; there
// is no built-in development key. Records are sealed with AES-256-GCM, so a
// wrong master secret or a tampered ciphertext is detected on Open instead
// of producing plausible garbage.
package kms

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

const (
	keyLen      = 32
	minSaltLen  = 16
	fingerprint = "treasury-custody-fingerprint"
)

// KDFParams are the scrypt cost parameters.
type KDFParams struct {
	N int `yaml:"n" json:"n"`
	R int `yaml:"r" json:"r"`
	P int `yaml:"p" json:"p"`
}

// DefaultKDFParams returns the interactive-login scrypt costs.
func DefaultKDFParams() KDFParams {
	return KDFParams{N: 32768, R: 8, P: 1}
}

// Config carries the master secret and derivation parameters.
type Config struct {
	MasterSecret []byte
	Salt         []byte
	KDF          KDFParams
}

// Validate rejects configurations that would run with a weak or missing key.
func (c Config) Validate() error {
	if len(c.MasterSecret) == 0 {
		return errors.New("kms: master secret is required")
	}
	if len(c.Salt) < minSaltLen {
		return fmt.Errorf("kms: salt must be at least %d bytes, got %d", minSaltLen, len(c.Salt))
	}
	if c.KDF.N <= 1 || c.KDF.N&(c.KDF.N-1) != 0 {
		return fmt.Errorf("kms: scrypt N must be a power of two > 1, got %d", c.KDF.N)
	}
	if c.KDF.R <= 0 || c.KDF.P <= 0 {
		return fmt.Errorf("kms: scrypt r and p must be positive (r=%d p=%d)", c.KDF.R, c.KDF.P)
	}
	return nil
}

// Cipher seals and opens custody records. It is read-only after
// construction and safe for concurrent use.
type Cipher struct {
	aead        cipher.AEAD
	fingerprint string
}

// NewCipher runs the slow KDF once and prepares the AEAD.
func NewCipher(cfg Config) (*Cipher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := scrypt.Key(cfg.MasterSecret, cfg.Salt, cfg.KDF.N, cfg.KDF.R, cfg.KDF.P, keyLen)
	if err != nil {
		return nil, fmt.Errorf("kms: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("kms: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("kms: gcm: %w", err)
	}

	fp, err := deriveFingerprint(key)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: gcm, fingerprint: fp}, nil
}

// Seal encrypts plaintext under a fresh random nonce. aad binds the
// ciphertext to the record it belongs to.
func (c *Cipher) Seal(plaintext, aad []byte) (iv, ciphertext []byte, err error) {
	if len(plaintext) == 0 {
		return nil, nil, errors.New("kms: refusing to seal empty plaintext")
	}
	iv = make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("kms: nonce: %w", err)
	}
	return iv, c.aead.Seal(nil, iv, plaintext, aad), nil
}

// Open decrypts a sealed record. Any authentication failure is reported as
// contracts.ErrCorruptedKey.
func (c *Cipher) Open(iv, ciphertext, aad []byte) ([]byte, error) {
	if len(iv) != c.aead.NonceSize() {
		return nil, fmt.Errorf("kms: %w: nonce length %d", contracts.ErrCorruptedKey, len(iv))
	}
	if len(ciphertext) < c.aead.Overhead() {
		return nil, fmt.Errorf("kms: %w: ciphertext too short", contracts.ErrCorruptedKey)
	}
	pt, err := c.aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("kms: %w: authentication failed", contracts.ErrCorruptedKey)
	}
	return pt, nil
}

// Fingerprint identifies the derived key without revealing it. Records
// store it so a master-secret mismatch can be named precisely.
func (c *Cipher) Fingerprint() string {
	return c.fingerprint
}

func deriveFingerprint(key []byte) (string, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(fingerprint))
	out := make([]byte, 8)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", fmt.Errorf("kms: fingerprint: %w", err)
	}
	return hex.EncodeToString(out), nil
}
