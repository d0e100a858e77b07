package governance

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// ApprovalPolicy is a CEL boolean evaluated over a passed proposal. It can
// only narrow what the passed-state check allows.
//
// Variables: state (string), state_code (int), approval_percentage
// (double), proposal_id (string).
type ApprovalPolicy struct {
	expr string
	env  *cel.Env
	mu   sync.RWMutex
	prg  cel.Program
}

// NewApprovalPolicy compiles expr up front so a bad policy fails at
// startup rather than at the first treasury action.
func NewApprovalPolicy(expr string) (*ApprovalPolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("state", cel.StringType),
		cel.Variable("state_code", cel.IntType),
		cel.Variable("approval_percentage", cel.DoubleType),
		cel.Variable("proposal_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("approval policy: environment: %w", err)
	}
	p := &ApprovalPolicy{expr: expr, env: env}
	if _, err := p.program(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ApprovalPolicy) String() string { return p.expr }

func (p *ApprovalPolicy) program() (cel.Program, error) {
	p.mu.RLock()
	prg := p.prg
	p.mu.RUnlock()
	if prg != nil {
		return prg, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prg != nil {
		return p.prg, nil
	}
	ast, issues := p.env.Compile(p.expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("approval policy: compile: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("approval policy: expression must be bool, got %s", ast.OutputType())
	}
	prg, err := p.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("approval policy: program: %w", err)
	}
	p.prg = prg
	return prg, nil
}

// Allow evaluates the policy. Any evaluation failure denies.
func (p *ApprovalPolicy) Allow(d contracts.GovernanceDecision) (bool, error) {
	prg, err := p.program()
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{
		"state":               d.State.String(),
		"state_code":          int64(d.State),
		"approval_percentage": d.ApprovalPercentage,
		"proposal_id":         d.ProposalID,
	})
	if err != nil {
		return false, fmt.Errorf("approval policy: eval: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("approval policy: result not bool")
	}
	return allowed, nil
}
