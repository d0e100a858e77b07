package contracts

import (
	"fmt"
	"strconv"
	"strings"
)

// ProposalState mirrors the on-chain proposal lifecycle. Numeric values
// match the governance program's state codes.
type ProposalState int

const (
	ProposalDraft ProposalState = iota
	ProposalSigningOff
	ProposalVoting
	ProposalSucceeded
	ProposalExecuting
	ProposalCompleted
	ProposalCancelled
	ProposalDefeated
	ProposalExecutingWithErrors
)

// ProposalStates lists the full lifecycle enum.
var ProposalStates = []ProposalState{
	ProposalDraft,
	ProposalSigningOff,
	ProposalVoting,
	ProposalSucceeded,
	ProposalExecuting,
	ProposalCompleted,
	ProposalCancelled,
	ProposalDefeated,
	ProposalExecutingWithErrors,
}

var proposalStateNames = map[ProposalState]string{
	ProposalDraft:               "Draft",
	ProposalSigningOff:          "SigningOff",
	ProposalVoting:              "Voting",
	ProposalSucceeded:           "Succeeded",
	ProposalExecuting:           "Executing",
	ProposalCompleted:           "Completed",
	ProposalCancelled:           "Cancelled",
	ProposalDefeated:            "Defeated",
	ProposalExecutingWithErrors: "ExecutingWithErrors",
}

func (s ProposalState) String() string {
	if name, ok := proposalStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ProposalState(%d)", int(s))
}

// Passed reports whether the proposal reached a state that authorizes
// treasury execution.
func (s ProposalState) Passed() bool {
	switch s {
	case ProposalSucceeded, ProposalExecuting, ProposalCompleted:
		return true
	default:
		return false
	}
}

// ParseProposalState accepts a state name (any case, with or without
// separators) or its numeric code.
func ParseProposalState(raw string) (ProposalState, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("proposal state: empty")
	}
	if code, err := strconv.Atoi(trimmed); err == nil {
		st := ProposalState(code)
		if _, ok := proposalStateNames[st]; !ok {
			return 0, fmt.Errorf("proposal state: unknown code %d", code)
		}
		return st, nil
	}
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(trimmed))
	for st, name := range proposalStateNames {
		if strings.ToLower(name) == norm {
			return st, nil
		}
	}
	return 0, fmt.Errorf("proposal state: unknown %q", raw)
}

// GovernanceDecision is the read-only view the gate consults.
type GovernanceDecision struct {
	ProposalID         string        `json:"proposal_id"`
	State              ProposalState `json:"state"`
	ApprovalPercentage float64       `json:"approval_percentage"`
}
