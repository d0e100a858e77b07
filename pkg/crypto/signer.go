package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// Signer produces transaction signatures for one key.
type Signer interface {
	Sign(message []byte) []byte
	PublicKey() ed25519.PublicKey
	Address() string
}

// Ed25519Signer holds a decrypted key for the duration of one batch.
// Call Zero once the batch is done; the signer is unusable afterwards.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	Role    contracts.Role
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(role contracts.Role) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Ed25519Signer{privKey: priv, pubKey: pub, Role: role}, nil
}

// NewEd25519SignerFromKey wraps an existing private key.
func NewEd25519SignerFromKey(priv ed25519.PrivateKey, role contracts.Role) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		Role:    role,
	}
}

// NewEd25519SignerFromSecret parses raw secret bytes (see ParseSecret).
func NewEd25519SignerFromSecret(secret []byte, role contracts.Role) (*Ed25519Signer, error) {
	priv, err := ParseSecret(secret)
	if err != nil {
		return nil, err
	}
	return NewEd25519SignerFromKey(priv, role), nil
}

func (s *Ed25519Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.privKey, message)
}

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pubKey
}

// Address is the base58 public key.
func (s *Ed25519Signer) Address() string {
	return base58.Encode(s.pubKey)
}

// Zero overwrites the private key material in place.
func (s *Ed25519Signer) Zero() {
	for i := range s.privKey {
		s.privKey[i] = 0
	}
	s.privKey = nil
}

// Zeroed reports whether Zero has been called.
func (s *Ed25519Signer) Zeroed() bool {
	return s.privKey == nil
}

// ParseSecret accepts the encodings wallets commonly export:
//   - 32 raw bytes: Ed25519 seed
//   - 64 raw bytes: seed || public key; the public half must match
//   - a JSON byte array ("[12,34,...]") of 32 or 64 bytes
//   - a base58 string of 32 or 64 bytes
func ParseSecret(secret []byte) (ed25519.PrivateKey, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		priv := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return nil, fmt.Errorf("%w: public half does not match seed", contracts.ErrInvalidSecret)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: length %d", contracts.ErrInvalidSecret, len(raw))
	}
}

func decodeSecret(secret []byte) ([]byte, error) {
	if len(secret) == ed25519.SeedSize || len(secret) == ed25519.PrivateKeySize {
		return secret, nil
	}
	text := strings.TrimSpace(string(secret))
	if text == "" {
		return nil, fmt.Errorf("%w: empty", contracts.ErrInvalidSecret)
	}
	if strings.HasPrefix(text, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(text), &ints); err != nil {
			return nil, fmt.Errorf("%w: json array: %v", contracts.ErrInvalidSecret, err)
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", contracts.ErrInvalidSecret, i)
			}
			out[i] = byte(v)
		}
		return out, nil
	}
	out, err := base58.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("%w: base58: %v", contracts.ErrInvalidSecret, err)
	}
	return out, nil
}

// PublicKeyFromSecret derives the base58 public key for a secret.
func PublicKeyFromSecret(secret []byte) (string, error) {
	priv, err := ParseSecret(secret)
	if err != nil {
		return "", err
	}
	return base58.Encode(priv.Public().(ed25519.PublicKey)), nil
}

// EncodeSignature renders a signature the way the ledger reports it.
func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}

// Verify checks a signature against a base58 public key.
func Verify(address string, message, sig []byte) (bool, error) {
	pub, err := base58.Decode(address)
	if err != nil {
		return false, fmt.Errorf("invalid public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(pub))
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig), nil
}
