// Package txn decodes, signs and re-encodes serialized ledger transactions
// without interpreting their instructions.
//
// Two envelope shapes are supported, told apart structurally: a legacy
// message starts directly with its header, a versioned message starts with
// a prefix byte whose high bit is set.
package txn

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
)

const (
	SignatureSize = ed25519.SignatureSize
	PublicKeySize = ed25519.PublicKeySize
	HashSize      = 32

	versionPrefixMask = 0x80
)

// Errors returned by Decode and Sign.
var (
	ErrMalformed          = errors.New("txn: malformed transaction")
	ErrUnsupportedVersion = errors.New("txn: unsupported message version")
	ErrSignerNotRequired  = errors.New("txn: signer is not a required signer")
)

// Version identifies the envelope shape.
type Version int

const (
	Legacy Version = -1
	V0     Version = 0
)

func (v Version) String() string {
	if v == Legacy {
		return "legacy"
	}
	return fmt.Sprintf("v%d", int(v))
}

// Header is the message header.
type Header struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// Envelope is a decoded transaction: signature slots plus the raw message
// bytes that are signed.
type Envelope struct {
	version     Version
	signatures  [][]byte
	message     []byte
	header      Header
	accountKeys []ed25519.PublicKey
	blockhash   []byte
}

// Decode parses a serialized transaction.
func Decode(raw []byte) (*Envelope, error) {
	n, off, err := decodeLength(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrMalformed, err)
	}
	if len(raw) < off+n*SignatureSize {
		return nil, fmt.Errorf("%w: %d signatures declared, buffer too short", ErrMalformed, n)
	}

	env := &Envelope{version: Legacy, signatures: make([][]byte, n)}
	for i := 0; i < n; i++ {
		start := off + i*SignatureSize
		env.signatures[i] = append([]byte(nil), raw[start:start+SignatureSize]...)
	}
	env.message = append([]byte(nil), raw[off+n*SignatureSize:]...)

	if err := env.parseMessage(); err != nil {
		return nil, err
	}
	if int(env.header.NumRequiredSignatures) != n {
		return nil, fmt.Errorf("%w: header requires %d signatures, envelope has %d slots",
			ErrMalformed, env.header.NumRequiredSignatures, n)
	}
	return env, nil
}

func (e *Envelope) parseMessage() error {
	msg := e.message
	if len(msg) == 0 {
		return fmt.Errorf("%w: empty message", ErrMalformed)
	}
	pos := 0
	if msg[0]&versionPrefixMask != 0 {
		v := Version(msg[0] &^ versionPrefixMask)
		if v != V0 {
			return fmt.Errorf("%w: %d", ErrUnsupportedVersion, int(v))
		}
		e.version = v
		pos = 1
	}

	if len(msg) < pos+3 {
		return fmt.Errorf("%w: short header", ErrMalformed)
	}
	e.header = Header{
		NumRequiredSignatures:       msg[pos],
		NumReadonlySignedAccounts:   msg[pos+1],
		NumReadonlyUnsignedAccounts: msg[pos+2],
	}
	pos += 3

	nKeys, used, err := decodeLength(msg[pos:])
	if err != nil {
		return fmt.Errorf("%w: account count: %v", ErrMalformed, err)
	}
	pos += used
	if len(msg) < pos+nKeys*PublicKeySize+HashSize {
		return fmt.Errorf("%w: %d account keys declared, message too short", ErrMalformed, nKeys)
	}
	if int(e.header.NumRequiredSignatures) > nKeys {
		return fmt.Errorf("%w: %d required signers but %d accounts", ErrMalformed, e.header.NumRequiredSignatures, nKeys)
	}
	e.accountKeys = make([]ed25519.PublicKey, nKeys)
	for i := 0; i < nKeys; i++ {
		e.accountKeys[i] = ed25519.PublicKey(msg[pos : pos+PublicKeySize])
		pos += PublicKeySize
	}
	e.blockhash = msg[pos : pos+HashSize]
	return nil
}

// Version reports the envelope shape.
func (e *Envelope) Version() Version { return e.version }

// Header returns the message header.
func (e *Envelope) Header() Header { return e.header }

// Message returns the bytes covered by signatures.
func (e *Envelope) Message() []byte { return e.message }

// Blockhash returns the recent blockhash in base58.
func (e *Envelope) Blockhash() string { return base58.Encode(e.blockhash) }

// RequiredSigners returns the base58 keys that must sign.
func (e *Envelope) RequiredSigners() []string {
	out := make([]string, e.header.NumRequiredSignatures)
	for i := range out {
		out[i] = base58.Encode(e.accountKeys[i])
	}
	return out
}

// Signature returns slot i in base58, or "" if the slot is still empty.
func (e *Envelope) Signature(i int) string {
	if i < 0 || i >= len(e.signatures) || isZero(e.signatures[i]) {
		return ""
	}
	return base58.Encode(e.signatures[i])
}

// ID returns the transaction identifier: the first signature.
func (e *Envelope) ID() string { return e.Signature(0) }

// FullySigned reports whether every required slot holds a signature.
func (e *Envelope) FullySigned() bool {
	for _, s := range e.signatures {
		if isZero(s) {
			return false
		}
	}
	return true
}

// Sign applies signer's signature to its slot. Other slots are left as
// they are, so a legacy envelope already carrying a co-signature stays
// partially signed by both parties. Re-signing replaces the slot.
func (e *Envelope) Sign(signer crypto.Signer) error {
	idx := e.signerIndex(signer.PublicKey())
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrSignerNotRequired, base58.Encode(signer.PublicKey()))
	}
	e.signatures[idx] = signer.Sign(e.message)
	return nil
}

func (e *Envelope) signerIndex(pub ed25519.PublicKey) int {
	for i := 0; i < int(e.header.NumRequiredSignatures); i++ {
		if bytes.Equal(e.accountKeys[i], pub) {
			return i
		}
	}
	return -1
}

// VerifySignatures checks every non-empty slot against its signer.
func (e *Envelope) VerifySignatures() error {
	for i, s := range e.signatures {
		if isZero(s) {
			continue
		}
		if !ed25519.Verify(e.accountKeys[i], e.message, s) {
			return fmt.Errorf("txn: signature %d does not verify for %s", i, base58.Encode(e.accountKeys[i]))
		}
	}
	return nil
}

// Encode serializes the envelope.
func (e *Envelope) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(encodeLength(len(e.signatures)))
	for _, s := range e.signatures {
		buf.Write(s)
	}
	buf.Write(e.message)
	return buf.Bytes()
}

// DecodePayload decodes a base64 payload as handed over by callers.
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: payload is not base64", ErrMalformed)
}

// EncodePayload renders raw bytes the way the ledger RPC expects them.
func EncodePayload(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
