package contracts

import (
	"errors"
	"fmt"
)

// Payload is one opaque serialized transaction within a batch.
type Payload struct {
	// Data is the serialized transaction (legacy or versioned envelope).
	Data []byte `json:"data"`
	// Critical marks a payload with an irreversible effect (sign-off,
	// vote registration). A critical payload is never attempted after an
	// earlier failure in the same batch, whatever the abort policy.
	Critical bool `json:"critical,omitempty"`
}

// TransactionBatch is an ordered set of payloads sent under one signer and
// one abort policy. It is immutable once handed to the orchestrator.
type TransactionBatch struct {
	Payloads       []Payload `json:"payloads"`
	SignerRole     Role      `json:"signer_role"`
	ContextID      string    `json:"context_id"` // realm / DAO id
	AbortOnFailure bool      `json:"abort_on_failure"`
}

// NewBatch builds a batch with the default abort-on-failure policy.
func NewBatch(role Role, contextID string, payloads ...Payload) TransactionBatch {
	return TransactionBatch{
		Payloads:       payloads,
		SignerRole:     role,
		ContextID:      contextID,
		AbortOnFailure: true,
	}
}

// Len returns the number of payloads.
func (b TransactionBatch) Len() int { return len(b.Payloads) }

// Validate checks the batch shape before any signing happens.
func (b TransactionBatch) Validate() error {
	if len(b.Payloads) == 0 {
		return errors.New("batch: no payloads")
	}
	if !b.SignerRole.Valid() {
		return fmt.Errorf("batch: %w: %s", ErrUnknownRole, b.SignerRole)
	}
	for i, p := range b.Payloads {
		if len(p.Data) == 0 {
			return fmt.Errorf("batch: payload %d is empty", i)
		}
	}
	return nil
}
