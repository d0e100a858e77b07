package txn

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
)

// Instruction is an opaque program call referencing account indices.
type Instruction struct {
	ProgramIndex uint8
	Accounts     []uint8
	Data         []byte
}

// Builder assembles an unsigned envelope. It exists for tooling and tests;
// production payloads arrive pre-built.
type Builder struct {
	Version      Version
	Signers      []ed25519.PublicKey
	Accounts     []ed25519.PublicKey
	Blockhash    [HashSize]byte
	Instructions []Instruction
}

// Build returns an envelope with one empty slot per signer.
func (b Builder) Build() (*Envelope, error) {
	if len(b.Signers) == 0 {
		return nil, fmt.Errorf("%w: at least one signer required", ErrMalformed)
	}
	if len(b.Signers) > 0xff {
		return nil, fmt.Errorf("%w: too many signers", ErrMalformed)
	}
	if b.Version != Legacy && b.Version != V0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, int(b.Version))
	}

	var msg bytes.Buffer
	if b.Version == V0 {
		msg.WriteByte(versionPrefixMask | byte(V0))
	}
	msg.WriteByte(byte(len(b.Signers)))
	msg.WriteByte(0)
	msg.WriteByte(0)

	keys := append(append([]ed25519.PublicKey{}, b.Signers...), b.Accounts...)
	msg.Write(encodeLength(len(keys)))
	for _, k := range keys {
		if len(k) != PublicKeySize {
			return nil, fmt.Errorf("%w: bad account key length %d", ErrMalformed, len(k))
		}
		msg.Write(k)
	}
	msg.Write(b.Blockhash[:])

	msg.Write(encodeLength(len(b.Instructions)))
	for _, ix := range b.Instructions {
		msg.WriteByte(ix.ProgramIndex)
		msg.Write(encodeLength(len(ix.Accounts)))
		msg.Write(ix.Accounts)
		msg.Write(encodeLength(len(ix.Data)))
		msg.Write(ix.Data)
	}
	if b.Version == V0 {
		// no address table lookups
		msg.Write(encodeLength(0))
	}

	raw := append(encodeLength(len(b.Signers)), make([]byte, len(b.Signers)*SignatureSize)...)
	raw = append(raw, msg.Bytes()...)
	return Decode(raw)
}
