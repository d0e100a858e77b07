package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/governance"
)

// runProposalCmd implements `treasury proposal`: write the proposal state
// the gate reads. Used when the proposal store is the local database.
func runProposalCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("proposal", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		id         string
		realm      string
		state      string
		approval   float64
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config")
	cmd.StringVar(&id, "id", "", "Proposal id (REQUIRED)")
	cmd.StringVar(&realm, "realm", "", "Realm id")
	cmd.StringVar(&state, "state", "", "Proposal state name or code (REQUIRED)")
	cmd.Float64Var(&approval, "approval", 0, "Approval percentage")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if id == "" || state == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --id and --state are required")
		return 2
	}
	parsed, err := contracts.ParseProposalState(state)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	ctx := context.Background()
	s, err := setup(ctx, cfg, stderr, false)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer s.Close(ctx)

	if err := s.proposals.Upsert(ctx, id, realm, governance.RawState{State: parsed.String(), ApprovalPercentage: approval}); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	passed := ColorYellow + "not passed" + ColorReset
	if parsed.Passed() {
		passed = ColorGreen + "passed" + ColorReset
	}
	_, _ = fmt.Fprintf(stdout, "Proposal %s is %s (%s, %.1f%%)\n", id, parsed, passed, approval)
	return 0
}
