package contracts

import (
	"encoding/json"
	"time"
)

// ExecutionType names the caller flow that produced a batch.
type ExecutionType string

const (
	ExecProposal   ExecutionType = "proposal_execution"
	ExecVote       ExecutionType = "vote"
	ExecBet        ExecutionType = "bet"
	ExecBorrowLend ExecutionType = "borrow_lend"
	ExecSwap       ExecutionType = "swap"
)

// ExecutionStatus is the overall status of an ExecutionRecord.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionDone       ExecutionStatus = "done"
	ExecutionAborted    ExecutionStatus = "aborted"
)

// Terminal reports whether the record is closed.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionDone || s == ExecutionAborted
}

// AbortReason says why a coordinator run ended Aborted.
type AbortReason string

const (
	ReasonNone            AbortReason = ""
	ReasonNotAuthorized   AbortReason = "NotAuthorized"
	ReasonAuthorityError  AbortReason = "AuthorityError"
	ReasonExecutionFailed AbortReason = "ExecutionFailed"
	ReasonInvalidRequest  AbortReason = "InvalidRequest"
	ReasonInProgress      AbortReason = "InProgress"
)

// ExecutionRecord is the audit entity persisted once per coordinator run.
type ExecutionRecord struct {
	ID            string               `json:"id"`
	ProposalID    string               `json:"proposal_id"`
	RealmID       string               `json:"realm_id"`
	ExecutionType ExecutionType        `json:"execution_type"`
	SignerRole    Role                 `json:"signer_role"`
	InputParams   json.RawMessage      `json:"input_params,omitempty"`
	ParamsHash    string               `json:"params_hash"`
	BatchLength   int                  `json:"batch_length"`
	Outcomes      []TransactionOutcome `json:"outcomes"`
	OverallStatus ExecutionStatus      `json:"overall_status"`
	Reason        AbortReason          `json:"reason,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}
