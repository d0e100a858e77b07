package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/audit"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/execution"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/txn"
)

// requestFile is the on-disk form of an execution request. Payload data
// is base64 (standard or URL alphabet, padded or not).
type requestFile struct {
	ProposalID       string          `json:"proposal_id"`
	RealmID          string          `json:"realm_id"`
	ExecutionType    string          `json:"execution_type"`
	Role             string          `json:"role"`
	RequiresTreasury bool            `json:"requires_treasury"`
	AbortOnFailure   *bool           `json:"abort_on_failure,omitempty"`
	InputParams      json.RawMessage `json:"input_params,omitempty"`
	Actor            string          `json:"actor,omitempty"`
	Payloads         []struct {
		Data     string `json:"data"`
		Critical bool   `json:"critical,omitempty"`
	} `json:"payloads"`
}

func (f requestFile) toRequest() (execution.Request, error) {
	role, err := contracts.ParseRole(f.Role)
	if err != nil {
		return execution.Request{}, err
	}
	req := execution.Request{
		ProposalID:       f.ProposalID,
		RealmID:          f.RealmID,
		ExecutionType:    contracts.ExecutionType(f.ExecutionType),
		Role:             role,
		RequiresTreasury: f.RequiresTreasury,
		InputParams:      f.InputParams,
	}
	if f.AbortOnFailure != nil {
		req.ContinueOnFailure = !*f.AbortOnFailure
	}
	for i, p := range f.Payloads {
		data, err := txn.DecodePayload(p.Data)
		if err != nil {
			return execution.Request{}, fmt.Errorf("payload %d: %w", i, err)
		}
		req.Payloads = append(req.Payloads, contracts.Payload{Data: data, Critical: p.Critical})
	}
	return req, nil
}

// executeOutput is what `treasury execute` prints.
type executeOutput struct {
	Status           contracts.ExecutionStatus      `json:"status"`
	Reason           contracts.AbortReason          `json:"reason,omitempty"`
	Error            string                         `json:"error,omitempty"`
	RecordID         string                         `json:"record_id,omitempty"`
	BatchLength      int                            `json:"batch_length"`
	Attempted        int                            `json:"attempted"`
	Confirmed        int                            `json:"confirmed"`
	Partial          bool                           `json:"partial"`
	NeedsRemediation bool                           `json:"needs_remediation"`
	States           []execution.State              `json:"states"`
	Outcomes         []contracts.TransactionOutcome `json:"outcomes"`
}

func newExecuteOutput(res *execution.Result) executeOutput {
	out := executeOutput{
		Status:           res.Status,
		Reason:           res.Reason,
		RecordID:         res.RecordID,
		BatchLength:      res.BatchLength,
		Attempted:        res.Attempted,
		Confirmed:        res.Confirmed,
		Partial:          res.Partial,
		NeedsRemediation: res.NeedsRemediation(),
		States:           res.States,
		Outcomes:         res.Outcomes,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// runExecuteCmd implements `treasury execute`. Exit code 0 means Done,
// 1 Aborted, 2 a usage or setup error.
func runExecuteCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("execute", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath  string
		requestPath string
		secretFile  string
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config")
	cmd.StringVar(&requestPath, "request", "", "Execution request JSON file (REQUIRED)")
	cmd.StringVar(&secretFile, "secret-file", "", "Caller key for agent or delegated runs")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if requestPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --request is required")
		return 2
	}

	raw, err := os.ReadFile(requestPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	var rf requestFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: parse request: %v\n", err)
		return 2
	}
	req, err := rf.toRequest()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if secretFile != "" {
		if req.SuppliedSecret, err = readSecretFile(secretFile); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		defer wipe(req.SuppliedSecret)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	// A signal stops new transactions from starting; one in flight is
	// still followed to its outcome.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := setup(ctx, cfg, stderr, true)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer s.Close(context.WithoutCancel(ctx))

	coord, err := s.coordinator(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if rf.Actor != "" {
		ctx = audit.WithActor(ctx, rf.Actor)
	}
	res, err := coord.Execute(ctx, req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%sWARNING:%s outcome not fully recorded: %v\n", ColorYellow+ColorBold, ColorReset, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(newExecuteOutput(res))

	if res.Status == contracts.ExecutionDone {
		return 0
	}
	if res.NeedsRemediation() {
		_, _ = fmt.Fprintf(stderr, "%sPARTIAL EXECUTION:%s %d of %d transactions confirmed; manual remediation required (record %s)\n",
			ColorRed+ColorBold, ColorReset, res.Confirmed, res.BatchLength, res.RecordID)
	}
	return 1
}
