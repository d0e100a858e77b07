package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// runRecordsCmd implements `treasury records`.
func runRecordsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("records", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		proposalID string
		recordID   string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config")
	cmd.StringVar(&proposalID, "proposal", "", "Proposal id")
	cmd.StringVar(&recordID, "id", "", "Single record id")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if proposalID == "" && recordID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --proposal or --id is required")
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

	var records []*contracts.ExecutionRecord
	if recordID != "" {
		rec, err := s.ledger.Get(ctx, recordID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		records = append(records, rec)
	} else {
		records, err = s.ledger.ListByProposal(ctx, proposalID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(records)
		return 0
	}
	printRecords(stdout, records)
	return 0
}

func printRecords(w io.Writer, records []*contracts.ExecutionRecord) {
	if len(records) == 0 {
		fmt.Fprintf(w, "%sNo execution records.%s\n", ColorGray, ColorReset)
		return
	}
	for _, r := range records {
		color := ColorGreen
		if r.OverallStatus == contracts.ExecutionAborted {
			color = ColorRed
		} else if r.OverallStatus == contracts.ExecutionInProgress {
			color = ColorYellow
		}
		fmt.Fprintf(w, "\n%s%s%s  %s%s%s", ColorBold, r.ID, ColorReset, color, r.OverallStatus, ColorReset)
		if r.Reason != contracts.ReasonNone {
			fmt.Fprintf(w, " (%s)", r.Reason)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s %s by %s, %s\n", r.ExecutionType, r.RealmID, r.SignerRole, r.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
		fmt.Fprintf(w, "  %d of %d transactions recorded, params %s\n", len(r.Outcomes), r.BatchLength, r.ParamsHash)
		if r.Error != "" {
			fmt.Fprintf(w, "  %serror: %s%s\n", ColorRed, r.Error, ColorReset)
		}
		for _, o := range r.Outcomes {
			icon := "✅"
			switch o.Status {
			case contracts.OutcomeFailed:
				icon = "❌"
			case contracts.OutcomeSent, contracts.OutcomePending:
				icon = "⏳"
			}
			fmt.Fprintf(w, "    %s #%d %-9s %s%s%s\n", icon, o.BatchIndex, o.Status, ColorGray, o.Signature, ColorReset)
			if o.Error != "" {
				fmt.Fprintf(w, "        %s%s%s\n", ColorRed, o.Error, ColorReset)
			}
		}
	}
	fmt.Fprintln(w)
}
