package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/audit"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/authority"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/config"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/custody"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/database"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/execution"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/governance"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/lock"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kms"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/observability"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/orchestrator"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/store/ledger"
)

// subsystems is everything a command may need, built from one Config.
type subsystems struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *database.Handle
	ledger    *ledger.SQLLedger
	proposals *governance.SQLProposalReader
	custody   *custody.Store // nil unless opened with keys
	closers   []func(context.Context) error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// setup opens the database and initializes every schema. withKeys derives
// the custody cipher, which requires the master secret.
func setup(ctx context.Context, cfg *config.Config, stderr io.Writer, withKeys bool) (*subsystems, error) {
	logger := newLogger(cfg.LogLevel, stderr)
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		log.Printf("[treasury] lite mode: using sqlite under %s", cfg.DataDir)
	}
	h, err := database.Open(ctx, cfg.DatabaseURL, cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	s := &subsystems{
		cfg:       cfg,
		logger:    logger,
		db:        h,
		ledger:    ledger.NewSQLLedger(h.DB, ledger.WithLogger(logger)),
		proposals: governance.NewSQLProposalReader(h.DB),
		closers:   []func(context.Context) error{func(context.Context) error { return h.Close() }},
	}
	schemas := []database.Initializer{s.ledger, s.proposals}

	if withKeys {
		kc, err := cfg.KMSConfig()
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		cipher, err := kms.NewCipher(kc)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.custody, err = custody.NewStore(h.DB, cipher, custody.WithLogger(logger))
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		schemas = append(schemas, s.custody)
	}

	if err := database.Init(ctx, schemas...); err != nil {
		s.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *subsystems) Close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("shutdown", "error", err)
		}
	}
}

func (s *subsystems) rpcClient() (*ledgerclient.RPCClient, error) {
	commitment, err := ledgerclient.ParseCommitment(s.cfg.Ledger.Commitment)
	if err != nil {
		return nil, err
	}
	return ledgerclient.NewRPCClient(s.cfg.Ledger.RPCURL,
		ledgerclient.WithHTTPClient(&http.Client{Timeout: s.cfg.Ledger.HTTPTimeout}),
		ledgerclient.WithCommitment(commitment),
		ledgerclient.WithRateLimit(s.cfg.Ledger.RateLimit, s.cfg.Ledger.Burst),
		ledgerclient.WithPollInterval(s.cfg.Ledger.PollInterval),
		ledgerclient.WithMaxConfirmWait(s.cfg.Ledger.MaxConfirmWait),
		ledgerclient.WithRPCLogger(s.logger),
	), nil
}

func (s *subsystems) locker(ctx context.Context) (lock.Locker, error) {
	if s.cfg.Redis.Addr == "" {
		return lock.NewMemoryLocker(), nil
	}
	rl := lock.DialRedisLocker(s.cfg.Redis.Addr, s.cfg.Redis.Password, s.cfg.Redis.DB)
	if err := rl.Ping(ctx); err != nil {
		_ = rl.Close()
		return nil, fmt.Errorf("redis %s: %w", s.cfg.Redis.Addr, err)
	}
	s.closers = append(s.closers, func(context.Context) error { return rl.Close() })
	log.Printf("[treasury] redis: execution lock at %s", s.cfg.Redis.Addr)
	return rl, nil
}

func (s *subsystems) firewall() (*execution.Firewall, error) {
	fw := execution.NewFirewall()
	for _, t := range s.cfg.Execution.AllowedTypes {
		typ := contracts.ExecutionType(strings.TrimSpace(t))
		var schema string
		if path := s.cfg.Execution.Schemas[string(typ)]; path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("schema for %s: %w", typ, err)
			}
			schema = string(b)
		}
		if err := fw.Allow(typ, schema); err != nil {
			return nil, fmt.Errorf("schema for %s: %w", typ, err)
		}
	}
	return fw, nil
}

func (s *subsystems) telemetry(ctx context.Context) (*observability.Provider, error) {
	t := s.cfg.Telemetry
	p, err := observability.New(ctx, &observability.Config{
		ServiceName:    t.ServiceName,
		ServiceVersion: t.ServiceVersion,
		Environment:    t.Environment,
		OTLPEndpoint:   t.OTLPEndpoint,
		SampleRate:     t.SampleRate,
		BatchTimeout:   observability.DefaultConfig().BatchTimeout,
		MetricInterval: observability.DefaultConfig().MetricInterval,
		Enabled:        t.Enabled,
		Insecure:       t.Insecure,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, p.Shutdown)
	return p, nil
}

// coordinator wires the full execution pipeline. Requires custody.
func (s *subsystems) coordinator(ctx context.Context, auditOut io.Writer) (*execution.Coordinator, error) {
	if s.custody == nil {
		return nil, fmt.Errorf("coordinator needs custody; open with keys")
	}

	var gateOpts []governance.GateOption
	if expr := s.cfg.Governance.ApprovalPolicy; expr != "" {
		policy, err := governance.NewApprovalPolicy(expr)
		if err != nil {
			return nil, err
		}
		gateOpts = append(gateOpts, governance.WithApprovalPolicy(policy))
	}
	gateOpts = append(gateOpts, governance.WithLogger(s.logger))

	client, err := s.rpcClient()
	if err != nil {
		return nil, err
	}
	locker, err := s.locker(ctx)
	if err != nil {
		return nil, err
	}
	fw, err := s.firewall()
	if err != nil {
		return nil, err
	}
	tel, err := s.telemetry(ctx)
	if err != nil {
		return nil, err
	}

	return execution.New(
		governance.NewGate(s.proposals, gateOpts...),
		authority.NewResolver(s.custody, s.logger),
		client,
		s.ledger,
		execution.WithFirewall(fw),
		execution.WithLocker(locker, s.cfg.Execution.LockTTL),
		execution.WithAuditLogger(audit.NewLoggerWithWriter(auditOut)),
		execution.WithTelemetry(tel),
		execution.WithLogger(s.logger),
		execution.WithOrchestratorOptions(orchestrator.WithRetryPolicy(s.cfg.RetryPolicy())),
	)
}
