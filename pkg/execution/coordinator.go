// Package execution drives one execution request through the gate, key
// resolution, ordered submission and the outcome ledger, and classifies
// the result as Done or Aborted with a reason.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/audit"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/governance"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/lock"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/observability"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/orchestrator"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/store/ledger"
)

const DefaultLockTTL = 2 * time.Minute

// State is a coordinator pipeline stage.
type State string

const (
	StateRequested     State = "Requested"
	StateGateChecked   State = "GateChecked"
	StateKeyResolved   State = "KeyResolved"
	StateOrchestrating State = "Orchestrating"
	StateRecorded      State = "Recorded"
	StateDone          State = "Done"
	StateAborted       State = "Aborted"
	// StateUnrecorded ends a run whose outcome could not be written to the
	// ledger. Result.Status still reports what happened on chain.
	StateUnrecorded State = "Unrecorded"
)

// Gate authorizes treasury actions.
type Gate interface {
	Authorize(ctx context.Context, proposalID string, requiresTreasury bool) (governance.Decision, error)
}

// Resolver produces the signing key for a run.
type Resolver interface {
	Resolve(ctx context.Context, role contracts.Role, contextID string, supplied []byte) (*crypto.Ed25519Signer, error)
}

// Request is one call from a proposal execution, vote or bet flow.
type Request struct {
	ProposalID       string
	RealmID          string
	ExecutionType    contracts.ExecutionType
	Role             contracts.Role
	RequiresTreasury bool
	Payloads         []contracts.Payload
	// SuppliedSecret is the caller's own key for Agent and Delegated runs.
	// It is never stored.
	SuppliedSecret []byte
	// ContinueOnFailure disables abort-on-failure. Only for batches whose
	// payloads are independent.
	ContinueOnFailure bool
	InputParams       json.RawMessage
}

// Result is what the caller gets back for every run.
type Result struct {
	Status      contracts.ExecutionStatus
	Reason      contracts.AbortReason
	Outcomes    []contracts.TransactionOutcome
	BatchLength int
	Attempted   int
	Confirmed   int
	// Partial is set when the run stopped before reaching every payload.
	Partial  bool
	RecordID string
	Err      error
	States   []State
}

// NeedsRemediation reports an aborted run that already moved funds: some
// payloads confirmed, the rest did not.
func (r *Result) NeedsRemediation() bool {
	return r.Status == contracts.ExecutionAborted && r.Confirmed > 0
}

func (r *Result) enter(s State) { r.States = append(r.States, s) }

func (r *Result) abort(reason contracts.AbortReason, err error) {
	r.fail(reason, err)
	r.enter(StateAborted)
}

func (r *Result) fail(reason contracts.AbortReason, err error) {
	r.Status = contracts.ExecutionAborted
	r.Reason = reason
	r.Err = err
}

// Coordinator is safe for concurrent use. Runs share no decrypted key
// material; each resolves, uses and zeroes its own.
type Coordinator struct {
	gate      Gate
	resolver  Resolver
	client    ledgerclient.Client
	ledger    ledger.Ledger
	firewall  *Firewall
	locker    lock.Locker
	lockTTL   time.Duration
	audit     audit.Logger
	telemetry *observability.Provider
	orchOpts  []orchestrator.Option
	logger    *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFirewall restricts execution types and validates input params.
func WithFirewall(f *Firewall) Option {
	return func(c *Coordinator) { c.firewall = f }
}

// WithLocker refuses a second concurrent run for the same proposal.
func WithLocker(l lock.Locker, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.locker = l
		if ttl > 0 {
			c.lockTTL = ttl
		}
	}
}

func WithAuditLogger(l audit.Logger) Option {
	return func(c *Coordinator) { c.audit = l }
}

func WithTelemetry(p *observability.Provider) Option {
	return func(c *Coordinator) { c.telemetry = p }
}

// WithOrchestratorOptions passes retry policy, clock and sleeper through to
// the per-run orchestrator.
func WithOrchestratorOptions(opts ...orchestrator.Option) Option {
	return func(c *Coordinator) { c.orchOpts = append(c.orchOpts, opts...) }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New builds a coordinator. Every collaborator argument is required.
func New(gate Gate, resolver Resolver, client ledgerclient.Client, outcomes ledger.Ledger, opts ...Option) (*Coordinator, error) {
	if gate == nil || resolver == nil || client == nil || outcomes == nil {
		return nil, errors.New("execution: gate, resolver, ledger client and outcome ledger are required")
	}
	c := &Coordinator{
		gate:     gate,
		resolver: resolver,
		client:   client,
		ledger:   outcomes,
		lockTTL:  DefaultLockTTL,
		audit:    audit.Nop{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.telemetry == nil {
		p, err := observability.NewWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("execution: telemetry: %w", err)
		}
		c.telemetry = p
	}
	c.logger = c.logger.With("component", "execution")
	return c, nil
}

// Execute runs the pipeline Requested → GateChecked → KeyResolved →
// Orchestrating → Recorded → Done | Aborted. A run whose outcome cannot be
// written ends in Unrecorded instead of Recorded.
//
// Business outcomes, including every abort, are reported in the Result.
// The error is non-nil only when the outcome ledger could not persist the
// run; the Result is still returned and describes what happened on chain.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Result, error) {
	res := &Result{BatchLength: len(req.Payloads)}
	res.enter(StateRequested)

	ctx, done := c.telemetry.TrackOperation(ctx, "execution.Execute",
		attribute.String("proposal.id", req.ProposalID),
		attribute.String("realm.id", req.RealmID),
		attribute.String("execution.type", string(req.ExecutionType)),
		attribute.String("signer.role", req.Role.String()),
	)
	var ledgerErr error
	defer func(ctx context.Context) {
		c.telemetry.RecordExecution(ctx, req.ExecutionType, res.Status, res.Reason)
		c.record(ctx, audit.EventExecution, "execution.finish", req, map[string]any{
			"status":       res.Status,
			"reason":       res.Reason,
			"attempted":    res.Attempted,
			"batch_length": res.BatchLength,
			"record_id":    res.RecordID,
		})
		if res.Err != nil {
			done(res.Err)
		} else {
			done(ledgerErr)
		}
	}(ctx)

	if err := c.validate(req); err != nil {
		res.abort(contracts.ReasonInvalidRequest, err)
		return res, nil
	}

	if c.locker != nil {
		lease, err := c.locker.Acquire(ctx, lockKey(req), c.lockTTL)
		if err != nil {
			reason := contracts.ReasonExecutionFailed
			if errors.Is(err, lock.ErrHeld) {
				reason = contracts.ReasonInProgress
			}
			res.abort(reason, fmt.Errorf("execution: proposal %s: %w", req.ProposalID, err))
			return res, c.closeEarly(ctx, req, res)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				c.logger.Warn("execution lock release failed", "proposal_id", req.ProposalID, "error", err)
			}
		}()

		var stop func()
		ctx, stop = c.holdLease(ctx, req, lease)
		defer stop()
	}

	// Treasury signing is gated regardless of what the caller claims.
	requiresGate := req.RequiresTreasury || req.Role == contracts.RoleTreasury
	decision, err := c.gate.Authorize(ctx, req.ProposalID, requiresGate)
	if err != nil {
		c.record(ctx, audit.EventAuthorization, "gate.error", req, map[string]any{"error": err.Error()})
		res.abort(contracts.ReasonNotAuthorized, fmt.Errorf("execution: %w: %w", contracts.ErrNotAuthorized, err))
		return res, c.closeEarly(ctx, req, res)
	}
	if !decision.Authorized {
		c.record(ctx, audit.EventAuthorization, "gate.reject", req, map[string]any{"reason": decision.Reason})
		res.abort(contracts.ReasonNotAuthorized, decision.Err())
		return res, c.closeEarly(ctx, req, res)
	}
	if requiresGate {
		c.record(ctx, audit.EventAuthorization, "gate.pass", req, map[string]any{"reason": decision.Reason})
	}
	res.enter(StateGateChecked)

	signer, err := c.resolver.Resolve(ctx, req.Role, req.RealmID, req.SuppliedSecret)
	if err != nil {
		c.record(ctx, audit.EventAuthorization, "authority.reject", req, map[string]any{"error": err.Error()})
		res.abort(contracts.ReasonAuthorityError, err)
		return res, c.closeEarly(ctx, req, res)
	}
	defer signer.Zero()
	c.record(ctx, audit.EventAuthorization, "authority.resolve", req, map[string]any{"signer": signer.Address()})
	res.enter(StateKeyResolved)

	rec, err := c.ledger.Open(ctx, c.recordRequest(req))
	if err != nil {
		// nothing has been signed or sent yet
		res.abort(contracts.ReasonExecutionFailed, fmt.Errorf("execution: open record: %w", err))
		return res, res.Err
	}
	res.RecordID = rec.ID
	res.enter(StateOrchestrating)

	tracker := ledger.NewTracker(c.ledger, rec.ID, c.logger)
	opts := append(append([]orchestrator.Option{}, c.orchOpts...),
		orchestrator.WithLogger(c.logger),
		orchestrator.WithObserver(orchestrator.Observers(tracker, c.telemetry)),
	)
	batch := contracts.TransactionBatch{
		Payloads:       req.Payloads,
		SignerRole:     req.Role,
		ContextID:      req.RealmID,
		AbortOnFailure: !req.ContinueOnFailure,
	}
	out := orchestrator.New(c.client, opts...).Run(ctx, batch, signer)

	res.Outcomes = out.Outcomes
	res.Attempted = len(out.Outcomes)
	res.Confirmed = out.Confirmed()
	res.Partial = out.Partial(batch.Len())
	if err := tracker.Err(); err != nil {
		c.logger.Warn("outcome tracking incomplete, reconciling at finish", "record_id", rec.ID, "error", err)
	}

	finish := ledger.Finish{Status: contracts.ExecutionDone, Outcomes: out.Outcomes}
	if !out.Success {
		finish = ledger.Finish{
			Status:   contracts.ExecutionAborted,
			Reason:   contracts.ReasonExecutionFailed,
			Error:    out.Error,
			Outcomes: out.Outcomes,
		}
	}
	// partial results are recorded even when the caller has gone away
	if err := c.ledger.Finish(context.WithoutCancel(ctx), rec.ID, finish); err != nil {
		ledgerErr = fmt.Errorf("execution: finish record %s: %w", rec.ID, err)
		c.logger.Error("failed to record execution outcome", "record_id", rec.ID, "error", err)
	}

	if out.Success {
		res.Status = contracts.ExecutionDone
	} else {
		res.fail(contracts.ReasonExecutionFailed, errors.New(out.Error))
	}
	switch {
	case ledgerErr != nil:
		res.enter(StateUnrecorded)
	case out.Success:
		res.enter(StateRecorded)
		res.enter(StateDone)
	default:
		res.enter(StateRecorded)
		res.enter(StateAborted)
	}
	if res.NeedsRemediation() {
		c.logger.Error("batch partially executed, manual remediation required",
			"proposal_id", req.ProposalID, "record_id", rec.ID,
			"confirmed", res.Confirmed, "batch_length", res.BatchLength)
	}
	return res, ledgerErr
}

func (c *Coordinator) validate(req Request) error {
	switch {
	case req.ProposalID == "":
		return errors.New("execution: proposal id required")
	case req.RealmID == "":
		return errors.New("execution: realm id required")
	case req.ExecutionType == "":
		return errors.New("execution: execution type required")
	case !req.Role.Valid():
		return fmt.Errorf("execution: %w: %s", contracts.ErrUnknownRole, req.Role)
	case len(req.Payloads) == 0:
		return errors.New("execution: no payloads")
	case len(req.InputParams) > 0 && !json.Valid(req.InputParams):
		return fmt.Errorf("execution: %w: not valid JSON", ErrInvalidParams)
	}
	if c.firewall != nil {
		return c.firewall.Check(req.ExecutionType, req.InputParams)
	}
	return nil
}

func (c *Coordinator) recordRequest(req Request) ledger.RecordRequest {
	return ledger.RecordRequest{
		ProposalID:    req.ProposalID,
		RealmID:       req.RealmID,
		ExecutionType: req.ExecutionType,
		SignerRole:    req.Role,
		InputParams:   req.InputParams,
		BatchLength:   len(req.Payloads),
	}
}

// closeEarly writes a closed record for a run that aborted before any
// transaction was signed.
func (c *Coordinator) closeEarly(ctx context.Context, req Request, res *Result) error {
	ctx = context.WithoutCancel(ctx)
	rec, err := c.ledger.Open(ctx, c.recordRequest(req))
	if err == nil {
		res.RecordID = rec.ID
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		err = c.ledger.Finish(ctx, rec.ID, ledger.Finish{
			Status: contracts.ExecutionAborted,
			Reason: res.Reason,
			Error:  errMsg,
		})
	}
	if err != nil {
		c.logger.Error("failed to record aborted execution", "proposal_id", req.ProposalID, "reason", res.Reason, "error", err)
		return fmt.Errorf("execution: record abort: %w", err)
	}
	return nil
}

func (c *Coordinator) record(ctx context.Context, t audit.EventType, action string, req Request, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["realm_id"] = req.RealmID
	meta["execution_type"] = req.ExecutionType
	meta["role"] = req.Role.String()
	if err := c.audit.Record(ctx, t, action, "proposal/"+req.ProposalID, meta); err != nil {
		c.logger.Warn("audit write failed", "action", action, "error", err)
	}
}

// holdLease extends the execution lock every third of its TTL until stop
// is called. If the lease is lost the returned context is cancelled, so no
// further payload starts while another run may hold the proposal.
func (c *Coordinator) holdLease(ctx context.Context, req Request, lease lock.Lease) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	interval := c.lockTTL / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Extend(context.WithoutCancel(ctx), c.lockTTL); err != nil {
					c.logger.Error("execution lock lost, stopping before the next payload",
						"proposal_id", req.ProposalID, "error", err)
					cancel(fmt.Errorf("execution: lock on proposal %s: %w", req.ProposalID, err))
					return
				}
			}
		}
	}()
	return ctx, func() {
		close(quit)
		wg.Wait()
		cancel(nil)
	}
}

func lockKey(req Request) string {
	return fmt.Sprintf("execution:%s:%s", req.RealmID, req.ProposalID)
}
