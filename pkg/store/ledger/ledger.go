// Package ledger persists execution records and their transaction
// outcomes. Records are append-only: a terminal outcome is never
// rewritten, and re-running a batch opens a new record.
package ledger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

var (
	// ErrNotFound is returned when a record or outcome does not exist.
	ErrNotFound = errors.New("not found")
	// ErrOutcomeExists is returned when appending an index twice.
	ErrOutcomeExists = errors.New("outcome already recorded")
	// ErrRecordClosed is returned when writing to a finished record.
	ErrRecordClosed = errors.New("execution record closed")
	// ErrIllegalTransition is returned for a backwards or terminal-to-terminal
	// outcome update.
	ErrIllegalTransition = errors.New("illegal outcome transition")
)

// RecordRequest describes one coordinator invocation.
type RecordRequest struct {
	ProposalID    string
	RealmID       string
	ExecutionType contracts.ExecutionType
	SignerRole    contracts.Role
	InputParams   json.RawMessage
	BatchLength   int
}

// Finish closes a record.
type Finish struct {
	Status contracts.ExecutionStatus
	Reason contracts.AbortReason
	Error  string
	// Outcomes, when set, is reconciled into the stored list: missing
	// indices are inserted and stored ones advanced.
	Outcomes []contracts.TransactionOutcome
}

// Ledger is the durable outcome store.
type Ledger interface {
	// Open creates an in-progress record and returns it with ID set.
	Open(ctx context.Context, req RecordRequest) (*contracts.ExecutionRecord, error)

	// AppendOutcome adds a new outcome to an open record.
	AppendOutcome(ctx context.Context, recordID string, o contracts.TransactionOutcome) error

	// AdvanceOutcome moves a stored outcome forward.
	AdvanceOutcome(ctx context.Context, recordID string, o contracts.TransactionOutcome) error

	// Finish closes an open record.
	Finish(ctx context.Context, recordID string, f Finish) error

	// Record writes a complete record for a finished orchestration in one
	// transaction.
	Record(ctx context.Context, req RecordRequest, result *contracts.OrchestrationResult) (*contracts.ExecutionRecord, error)

	// Get returns a record with its outcomes in batch order.
	Get(ctx context.Context, id string) (*contracts.ExecutionRecord, error)

	// ListByProposal returns every record for a proposal, oldest first.
	ListByProposal(ctx context.Context, proposalID string) ([]*contracts.ExecutionRecord, error)
}
