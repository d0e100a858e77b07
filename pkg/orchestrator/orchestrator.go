// Package orchestrator signs and submits a transaction batch strictly in
// order, one payload at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/retry"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/txn"
)

// Observer is told about every outcome transition as it happens: Sent once
// the ledger accepted the bytes, then Confirmed or Failed.
type Observer interface {
	OnOutcome(ctx context.Context, o contracts.TransactionOutcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o contracts.TransactionOutcome)

func (f ObserverFunc) OnOutcome(ctx context.Context, o contracts.TransactionOutcome) { f(ctx, o) }

// Observers fans each outcome out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list []Observer
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(ctx context.Context, out contracts.TransactionOutcome) {
		for _, o := range list {
			o.OnOutcome(ctx, out)
		}
	})
}

// Orchestrator holds no state between runs; one instance can serve
// concurrent batches.
type Orchestrator struct {
	client   ledgerclient.Client
	policy   retry.Policy
	sleep    retry.Sleeper
	now      func() time.Time
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetryPolicy sets the per-transaction attempt limit and base delay.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithSleeper replaces the real-time wait between attempts.
func WithSleeper(s retry.Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithClock sets the source of submit and confirm timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogger sets the logger for batch and attempt events.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer for batch and transaction spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithObserver receives every outcome transition.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator submitting through client.
func New(client ledgerclient.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client: client,
		policy: retry.DefaultPolicy(),
		sleep:  retry.Sleep,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer("treasury/orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the batch. It never returns a nil result.
//
// Cancelling ctx only prevents later payloads from starting: a payload
// that has begun is followed through to Confirmed or Failed.
func (o *Orchestrator) Run(ctx context.Context, batch contracts.TransactionBatch, signer crypto.Signer) *contracts.OrchestrationResult {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(
		attribute.String("context_id", batch.ContextID),
		attribute.String("signer_role", batch.SignerRole.String()),
		attribute.Int("batch.length", batch.Len()),
		attribute.Bool("batch.abort_on_failure", batch.AbortOnFailure),
	))
	defer span.End()

	result := &contracts.OrchestrationResult{Outcomes: make([]contracts.TransactionOutcome, 0, batch.Len())}
	if err := batch.Validate(); err != nil {
		result.Error = err.Error()
		span.SetStatus(codes.Error, result.Error)
		return result
	}

	failed := false
	for i, payload := range batch.Payloads {
		if err := ctx.Err(); err != nil {
			if result.Error == "" {
				result.Error = fmt.Sprintf("stopped before payload %d: %v", i, context.Cause(ctx))
			}
			break
		}
		if failed && payload.Critical {
			o.logger.Warn("orchestrator: critical payload skipped after earlier failure",
				"context_id", batch.ContextID, "index", i)
			break
		}

		outcome := o.runOne(ctx, batch, i, payload, signer)
		result.Outcomes = append(result.Outcomes, outcome)

		if outcome.Status == contracts.OutcomeFailed {
			failed = true
			if result.Error == "" {
				result.Error = fmt.Sprintf("payload %d: %s", i, outcome.Error)
			}
			if batch.AbortOnFailure || payload.Critical {
				break
			}
		}
	}

	result.Success = !failed && result.Error == "" && len(result.Outcomes) == batch.Len()
	span.SetAttributes(
		attribute.Int("batch.attempted", len(result.Outcomes)),
		attribute.Int("batch.confirmed", result.Confirmed()),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	o.logger.Info("orchestrator: batch finished",
		"context_id", batch.ContextID,
		"success", result.Success,
		"attempted", len(result.Outcomes),
		"length", batch.Len(),
	)
	return result
}

func (o *Orchestrator) runOne(ctx context.Context, batch contracts.TransactionBatch, i int, payload contracts.Payload, signer crypto.Signer) contracts.TransactionOutcome {
	// a started payload must reach a definitive outcome
	ctx = context.WithoutCancel(ctx)
	ctx, span := o.tracer.Start(ctx, "orchestrator.Transaction", trace.WithAttributes(
		attribute.Int("batch.index", i),
		attribute.Bool("critical", payload.Critical),
	))
	defer span.End()

	out := contracts.TransactionOutcome{BatchIndex: i, Status: contracts.OutcomePending, Critical: payload.Critical}
	fail := func(err error) contracts.TransactionOutcome {
		out.Status = contracts.OutcomeFailed
		out.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, out.Error)
		o.logger.Warn("orchestrator: transaction failed",
			"context_id", batch.ContextID, "index", i, "attempts", out.Attempts, "error", err)
		o.notify(ctx, out)
		return out
	}

	env, err := txn.Decode(payload.Data)
	if err != nil {
		return fail(err)
	}
	if err := env.Sign(signer); err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("tx.version", env.Version().String()))
	raw := env.Encode()
	localSig := env.ID()
	bh := ledgerclient.BlockhashContext{Blockhash: env.Blockhash()}
	key := fmt.Sprintf("%s:%d", batch.ContextID, i)

	var sig string
	attempts, err := retry.Do(ctx, o.policy, key, o.sleep, func(attempt int) error {
		var serr error
		sig, serr = o.client.SubmitRaw(ctx, raw)
		if serr != nil {
			o.logger.Debug("orchestrator: submit attempt failed",
				"context_id", batch.ContextID, "index", i, "attempt", attempt, "error", serr)
		}
		return serr
	}, ledgerclient.IsRetryable)
	out.Attempts = attempts

	switch {
	case err == nil:
	case errors.Is(err, ledgerclient.ErrAlreadyProcessed) && localSig != "":
		// an earlier submit of these exact bytes may have landed; ask the
		// ledger instead of assuming failure
		o.logger.Info("orchestrator: reconciling already-processed transaction",
			"context_id", batch.ContextID, "index", i, "signature", localSig)
		sig = localSig
	default:
		return fail(err)
	}

	out.Signature = sig
	submitted := o.now()
	out.SubmittedAt = &submitted
	_ = out.Advance(contracts.OutcomeSent)
	span.SetAttributes(attribute.String("tx.signature", sig))
	o.notify(ctx, out)

	_, err = retry.Do(ctx, o.policy, key+":confirm", o.sleep, func(int) error {
		return o.client.Confirm(ctx, sig, bh)
	}, ledgerclient.IsRetryable)
	if err != nil {
		return fail(err)
	}

	confirmed := o.now()
	out.ConfirmedAt = &confirmed
	_ = out.Advance(contracts.OutcomeConfirmed)
	o.notify(ctx, out)
	return out
}

func (o *Orchestrator) notify(ctx context.Context, out contracts.TransactionOutcome) {
	if o.observer != nil {
		o.observer.OnOutcome(ctx, out)
	}
}
