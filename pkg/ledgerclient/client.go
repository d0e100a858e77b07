// Package ledgerclient is the boundary to the ledger node: submitting
// signed transactions and awaiting their confirmation.
package ledgerclient

import (
	"context"
	"fmt"
)

// Client is consumed by the orchestrator. Implementations are passed in
// explicitly; there is no package-level connection.
type Client interface {
	// SubmitRaw sends signed transaction bytes and returns the signature
	// the node assigned.
	SubmitRaw(ctx context.Context, raw []byte) (string, error)
	// Confirm blocks until sig reaches the client's commitment level. An
	// on-chain execution error is reported as KindOnChain.
	Confirm(ctx context.Context, sig string, bh BlockhashContext) error
}

// BlockhashContext bounds how long a confirmation can take: once the
// blockhash expires an unconfirmed transaction can never land.
type BlockhashContext struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// Commitment is the confirmation depth awaited after submit.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reached reports whether observed satisfies c.
func (c Commitment) Reached(observed Commitment) bool {
	return observed.rank() >= c.rank() && observed.rank() > 0
}

// ParseCommitment validates a configured commitment level.
func ParseCommitment(s string) (Commitment, error) {
	c := Commitment(s)
	if c.rank() == 0 {
		return "", fmt.Errorf("ledgerclient: unknown commitment %q", s)
	}
	return c, nil
}
