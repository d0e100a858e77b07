// Package governance gates treasury actions on proposal state.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// Rejection reasons.
const (
	ReasonNotPassed      = "proposal has not passed"
	ReasonUnknownState   = "proposal state not recognised"
	ReasonPolicyDenied   = "approval policy denied"
	ReasonNotRequired    = "treasury authority not required"
	ReasonPassed         = "proposal passed"
	ReasonProposalAbsent = "proposal not found"
)

// Decision is the gate's verdict.
type Decision struct {
	Authorized bool
	Reason     string
	// View is the state the verdict was based on; zero when no read was
	// needed.
	View contracts.GovernanceDecision
}

// Err returns nil for an authorized decision and a wrapped
// contracts.ErrNotAuthorized otherwise.
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	return fmt.Errorf("%w: %s", contracts.ErrNotAuthorized, d.Reason)
}

// Gate authorizes treasury actions. It performs reads only and may be
// called any number of times.
type Gate struct {
	reader ProposalReader
	policy *ApprovalPolicy
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithApprovalPolicy adds a CEL check evaluated after the passed-state
// check.
func WithApprovalPolicy(p *ApprovalPolicy) GateOption {
	return func(g *Gate) { g.policy = p }
}

// WithLogger sets the gate logger.
func WithLogger(l *slog.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// NewGate returns a gate reading proposal state from reader.
func NewGate(reader ProposalReader, opts ...GateOption) *Gate {
	g := &Gate{reader: reader, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize returns a rejected Decision (not an error) for proposals that
// have not passed, are unknown, or fail the approval policy. The error is
// reserved for failures reading the proposal store; callers must treat it
// as a rejection too.
func (g *Gate) Authorize(ctx context.Context, proposalID string, requiresTreasury bool) (Decision, error) {
	if !requiresTreasury {
		return Decision{Authorized: true, Reason: ReasonNotRequired}, nil
	}

	raw, err := g.reader.GetState(ctx, proposalID)
	if err != nil {
		if errors.Is(err, ErrProposalNotFound) {
			return Decision{Reason: ReasonProposalAbsent, View: contracts.GovernanceDecision{ProposalID: proposalID}}, nil
		}
		return Decision{Reason: "proposal state unavailable"}, fmt.Errorf("governance gate: %w", err)
	}

	state, err := contracts.ParseProposalState(raw.State)
	if err != nil {
		g.logger.Warn("governance gate: unrecognised proposal state", "proposal_id", proposalID, "state", raw.State)
		return Decision{Reason: ReasonUnknownState, View: contracts.GovernanceDecision{
			ProposalID: proposalID, ApprovalPercentage: raw.ApprovalPercentage, State: -1,
		}}, nil
	}
	view := contracts.GovernanceDecision{
		ProposalID:         proposalID,
		State:              state,
		ApprovalPercentage: raw.ApprovalPercentage,
	}

	if !state.Passed() {
		return Decision{Reason: ReasonNotPassed, View: view}, nil
	}

	if g.policy != nil {
		ok, err := g.policy.Allow(view)
		if err != nil {
			g.logger.Error("governance gate: approval policy failed", "proposal_id", proposalID, "error", err)
			return Decision{Reason: ReasonPolicyDenied + ": " + err.Error(), View: view}, nil
		}
		if !ok {
			return Decision{Reason: ReasonPolicyDenied, View: view}, nil
		}
	}

	return Decision{Authorized: true, Reason: ReasonPassed, View: view}, nil
}
