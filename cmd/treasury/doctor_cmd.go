package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/config"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/database"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/governance"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/lock"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kms"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// runDoctorCmd implements `treasury doctor`.
func runDoctorCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("doctor", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var configPath string
	cmd.StringVar(&configPath, "config", "", "Path to YAML config")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	results := []checkResult{{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}}

	cfg, err := config.Load(configPath)
	if err != nil {
		results = append(results, checkResult{Name: "config", Status: "fail", Detail: err.Error()})
		return printDoctor(stdout, results)
	}
	results = append(results, doctorChecks(ctx, cfg)...)
	return printDoctor(stdout, results)
}

func doctorChecks(ctx context.Context, cfg *config.Config) []checkResult {
	var results []checkResult
	add := func(name, status, detail string) {
		results = append(results, checkResult{Name: name, Status: status, Detail: detail})
	}

	if err := cfg.Validate(); err != nil {
		add("config", "fail", err.Error())
	} else {
		add("config", "ok", "valid")
	}

	if kc, err := cfg.KMSConfig(); err != nil {
		add("custody_secret", "fail", err.Error())
	} else if c, err := kms.NewCipher(kc); err != nil {
		add("custody_secret", "fail", err.Error())
	} else {
		add("custody_secret", "ok", "fingerprint "+c.Fingerprint())
	}

	if cfg.Governance.ApprovalPolicy != "" {
		if _, err := governance.NewApprovalPolicy(cfg.Governance.ApprovalPolicy); err != nil {
			add("approval_policy", "fail", err.Error())
		} else {
			add("approval_policy", "ok", cfg.Governance.ApprovalPolicy)
		}
	}

	if cfg.DatabaseURL == "" {
		add("database_url", "warn", "DATABASE_URL not set, lite mode (SQLite) under "+cfg.DataDir)
		if _, err := os.Stat(cfg.DataDir); err != nil {
			add("data_dir", "warn", fmt.Sprintf("%s does not exist (will be created on first run)", cfg.DataDir))
		}
	}
	if cfg.DatabaseURL != "" {
		if h, err := database.Open(ctx, cfg.DatabaseURL, cfg.DataDir, nil); err != nil {
			add("database", "fail", err.Error())
		} else {
			add("database", "ok", string(h.Driver))
			_ = h.Close()
		}
	}

	if s, err := (&subsystems{cfg: cfg, logger: slog.Default()}).rpcClient(); err != nil {
		add("rpc", "fail", err.Error())
	} else if err := s.Health(ctx); err != nil {
		add("rpc", "fail", fmt.Sprintf("%s: %v", cfg.Ledger.RPCURL, err))
	} else {
		add("rpc", "ok", cfg.Ledger.RPCURL)
	}

	if cfg.Redis.Addr == "" {
		add("redis", "warn", "REDIS_ADDR not set, execution lock is per process")
	} else {
		rl := lock.DialRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rl.Ping(ctx); err != nil {
			add("redis", "fail", err.Error())
		} else {
			add("redis", "ok", cfg.Redis.Addr)
		}
		_ = rl.Close()
	}
	return results
}

func printDoctor(w io.Writer, results []checkResult) int {
	allOK := true
	fmt.Fprintf(w, "\n%sTreasury Doctor%s\n", ColorBold+ColorPurple, ColorReset)
	fmt.Fprintln(w, "───────────────")
	for _, r := range results {
		icon := "✅"
		if r.Status == "warn" {
			icon = "⚠️ "
		} else if r.Status == "fail" {
			icon = "❌"
			allOK = false
		}
		fmt.Fprintf(w, "  %s  %-20s %s%s%s\n", icon, r.Name, ColorGray, r.Detail, ColorReset)
	}

	if allOK {
		fmt.Fprintf(w, "\n%sAll checks passed. Ready to execute.%s\n", ColorGreen+ColorBold, ColorReset)
		return 0
	}
	return 1
}
