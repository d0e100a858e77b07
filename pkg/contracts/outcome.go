package contracts

import (
	"fmt"
	"time"
)

// OutcomeStatus is the lifecycle of a single transaction within a batch.
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSent      OutcomeStatus = "sent"
	OutcomeConfirmed OutcomeStatus = "confirmed"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s OutcomeStatus) Terminal() bool {
	return s == OutcomeConfirmed || s == OutcomeFailed
}

// CanTransition reports whether s -> next is a forward move.
// Pending may fail directly when signing or a terminal submit error
// happens before anything reached the ledger.
func (s OutcomeStatus) CanTransition(next OutcomeStatus) bool {
	switch s {
	case OutcomePending:
		return next == OutcomeSent || next == OutcomeFailed
	case OutcomeSent:
		return next == OutcomeConfirmed || next == OutcomeFailed
	default:
		return false
	}
}

// ParseOutcomeStatus parses a persisted status value.
func ParseOutcomeStatus(s string) (OutcomeStatus, error) {
	switch st := OutcomeStatus(s); st {
	case OutcomePending, OutcomeSent, OutcomeConfirmed, OutcomeFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown outcome status %q", s)
	}
}

// TransactionOutcome records what happened to payload BatchIndex.
type TransactionOutcome struct {
	BatchIndex  int           `json:"batch_index"`
	Signature   string        `json:"signature,omitempty"`
	Status      OutcomeStatus `json:"status"`
	Error       string        `json:"error,omitempty"`
	Attempts    int           `json:"attempts"`
	Critical    bool          `json:"critical,omitempty"`
	SubmittedAt *time.Time    `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time    `json:"confirmed_at,omitempty"`
}

// Advance moves the outcome to next, refusing regressions.
func (o *TransactionOutcome) Advance(next OutcomeStatus) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("outcome %d: illegal transition %s -> %s", o.BatchIndex, o.Status, next)
	}
	o.Status = next
	return nil
}

// OrchestrationResult is the ordered outcome list of one batch run.
// Outcomes holds only attempted indices; anything after an abort is absent.
type OrchestrationResult struct {
	Success  bool                 `json:"success"`
	Outcomes []TransactionOutcome `json:"outcomes"`
	Error    string               `json:"error,omitempty"`
}

// Partial reports whether the run stopped before reaching every payload.
func (r *OrchestrationResult) Partial(batchLen int) bool {
	return len(r.Outcomes) < batchLen
}

// Confirmed counts confirmed outcomes.
func (r *OrchestrationResult) Confirmed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == OutcomeConfirmed {
			n++
		}
	}
	return n
}
