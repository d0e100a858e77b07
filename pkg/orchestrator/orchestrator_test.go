package orchestrator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/crypto"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/kernel/retry"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/ledgerclient"
	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/txn"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waits = append(r.waits, d)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []contracts.TransactionOutcome
}

func (r *recordingObserver) OnOutcome(_ context.Context, o contracts.TransactionOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, o)
}

func newSigner(t testing.TB) *crypto.Ed25519Signer {
	t.Helper()
	s, err := crypto.NewEd25519Signer(contracts.RoleTreasury)
	require.NoError(t, err)
	return s
}

// payload builds an unsigned transaction that signer must sign. Each call
// uses a fresh blockhash so signatures never collide.
func payload(t testing.TB, v txn.Version, signers ...ed25519.PublicKey) []byte {
	t.Helper()
	var hash [txn.HashSize]byte
	_, err := rand.Read(hash[:])
	require.NoError(t, err)
	env, err := txn.Builder{Version: v, Signers: signers, Blockhash: hash}.Build()
	require.NoError(t, err)
	return env.Encode()
}

func batchOf(t testing.TB, s crypto.Signer, n int) contracts.TransactionBatch {
	t.Helper()
	payloads := make([]contracts.Payload, n)
	for i := range payloads {
		v := txn.Legacy
		if i%2 == 1 {
			v = txn.V0
		}
		payloads[i] = contracts.Payload{Data: payload(t, v, s.PublicKey())}
	}
	return contracts.NewBatch(contracts.RoleTreasury, "realm-1", payloads...)
}

func newOrchestrator(ledger ledgerclient.Client, opts ...Option) (*Orchestrator, *recordingSleeper) {
	s := &recordingSleeper{}
	base := []Option{WithSleeper(s.sleep)}
	return New(ledger, append(base, opts...)...), s
}

func statuses(res *contracts.OrchestrationResult) []contracts.OutcomeStatus {
	out := make([]contracts.OutcomeStatus, len(res.Outcomes))
	for i, o := range res.Outcomes {
		out[i] = o.Status
	}
	return out
}

func TestRun_AllConfirmed(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory()
	orch, sleeper := newOrchestrator(ledger)

	res := orch.Run(context.Background(), batchOf(t, signer, 3), signer)

	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.Error)
	assert.Equal(t, []contracts.OutcomeStatus{"confirmed", "confirmed", "confirmed"}, statuses(res))
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.BatchIndex)
		assert.NotEmpty(t, o.Signature)
		assert.Equal(t, 1, o.Attempts)
		assert.NotNil(t, o.SubmittedAt)
		assert.NotNil(t, o.ConfirmedAt)
	}
	assert.Len(t, ledger.Submitted(), 3)
	assert.Empty(t, sleeper.waits)
}

func TestRun_AbortOnNonRetryableFailure(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(nil, ledgerclient.ErrInsufficientFunds)
	orch, sleeper := newOrchestrator(ledger)

	res := orch.Run(context.Background(), batchOf(t, signer, 3), signer)

	assert.False(t, res.Success)
	require.Len(t, res.Outcomes, 2)
	assert.Equal(t, []contracts.OutcomeStatus{"confirmed", "failed"}, statuses(res))
	assert.Equal(t, 1, res.Outcomes[1].Attempts)
	assert.Contains(t, res.Error, "payload 1")
	assert.Contains(t, res.Error, "insufficient_funds")
	assert.True(t, res.Partial(3))
	assert.Len(t, ledger.Submitted(), 2, "index 2 is never signed or sent")
	assert.Empty(t, sleeper.waits, "terminal errors consume no retries")
}

func TestRun_ContinueWhenAbortDisabled(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(nil, ledgerclient.ErrBlockhashNotFound)
	orch, _ := newOrchestrator(ledger)

	batch := batchOf(t, signer, 3)
	batch.AbortOnFailure = false
	res := orch.Run(context.Background(), batch, signer)

	assert.False(t, res.Success)
	assert.Equal(t, []contracts.OutcomeStatus{"confirmed", "failed", "confirmed"}, statuses(res))
	assert.Contains(t, res.Error, "payload 1")
}

func TestRun_CriticalNeverFollowsFailure(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(ledgerclient.ErrSimulationFailed)
	orch, _ := newOrchestrator(ledger)

	batch := batchOf(t, signer, 3)
	batch.AbortOnFailure = false
	batch.Payloads[2].Critical = true
	res := orch.Run(context.Background(), batch, signer)

	assert.Equal(t, []contracts.OutcomeStatus{"failed", "confirmed"}, statuses(res))
	assert.Len(t, ledger.Submitted(), 2)
}

func TestRun_CriticalFailureHalts(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(ledgerclient.ErrSimulationFailed)
	orch, _ := newOrchestrator(ledger)

	batch := batchOf(t, signer, 3)
	batch.AbortOnFailure = false
	batch.Payloads[0].Critical = true
	res := orch.Run(context.Background(), batch, signer)

	require.Len(t, res.Outcomes, 1)
	assert.True(t, res.Outcomes[0].Critical)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcomes[0].Status)
}

func TestRun_RetrySucceedsBeforeBudgetExhausted(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(ledgerclient.ErrTimeout, ledgerclient.ErrRateLimited)
	orch, sleeper := newOrchestrator(ledger)

	res := orch.Run(context.Background(), batchOf(t, signer, 1), signer)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Outcomes[0].Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.waits)
}

func TestRun_RetryGivesUp(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(
		ledgerclient.ErrUnavailable, ledgerclient.ErrUnavailable, ledgerclient.ErrUnavailable)
	orch, sleeper := newOrchestrator(ledger, WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Second}))

	res := orch.Run(context.Background(), batchOf(t, signer, 2), signer)

	assert.False(t, res.Success)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcomes[0].Status)
	assert.Equal(t, 3, res.Outcomes[0].Attempts)
	assert.Empty(t, res.Outcomes[0].Signature)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.waits)
}

func TestRun_OnChainErrorAfterSubmit(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailConfirms(ledgerclient.NewError(ledgerclient.KindOnChain, "custom program error: 0x1"))
	obs := &recordingObserver{}
	orch, _ := newOrchestrator(ledger, WithObserver(obs))

	res := orch.Run(context.Background(), batchOf(t, signer, 2), signer)

	require.Len(t, res.Outcomes, 1)
	o := res.Outcomes[0]
	assert.Equal(t, contracts.OutcomeFailed, o.Status)
	assert.NotEmpty(t, o.Signature, "the transaction was sent")
	assert.Contains(t, o.Error, "custom program error")

	require.Len(t, obs.events, 2)
	assert.Equal(t, contracts.OutcomeSent, obs.events[0].Status)
	assert.Equal(t, contracts.OutcomeFailed, obs.events[1].Status)
}

func TestRun_AlreadyProcessedReconciled(t *testing.T) {
	signer := newSigner(t)
	batch := batchOf(t, signer, 1)

	// sign a copy to learn the signature the ledger already holds
	env, err := txn.Decode(batch.Payloads[0].Data)
	require.NoError(t, err)
	require.NoError(t, env.Sign(signer))

	ledger := ledgerclient.NewMemory().MarkLanded(env.ID())
	orch, _ := newOrchestrator(ledger)
	res := orch.Run(context.Background(), batch, signer)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, env.ID(), res.Outcomes[0].Signature)
	assert.Equal(t, []string{env.ID()}, ledger.Confirmed())
}

func TestRun_AlreadyProcessedButNeverLanded(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory().FailSubmits(ledgerclient.ErrAlreadyProcessed)
	orch, _ := newOrchestrator(ledger)

	res := orch.Run(context.Background(), batchOf(t, signer, 1), signer)

	assert.False(t, res.Success)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcomes[0].Status)
	assert.Equal(t, 1, res.Outcomes[0].Attempts)
}

func TestRun_SignerNotRequired(t *testing.T) {
	signer := newSigner(t)
	other := newSigner(t)
	ledger := ledgerclient.NewMemory()
	orch, _ := newOrchestrator(ledger)

	res := orch.Run(context.Background(), batchOf(t, other, 2), signer)

	require.Len(t, res.Outcomes, 1)
	assert.Contains(t, res.Outcomes[0].Error, "not a required signer")
	assert.Equal(t, 0, ledger.Calls())
}

func TestRun_MalformedPayload(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory()
	orch, _ := newOrchestrator(ledger)

	batch := contracts.NewBatch(contracts.RoleAgent, "realm-1", contracts.Payload{Data: []byte{9, 9, 9}})
	res := orch.Run(context.Background(), batch, signer)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, contracts.OutcomeFailed, res.Outcomes[0].Status)
	assert.Equal(t, 0, ledger.Calls())
}

func TestRun_InvalidBatch(t *testing.T) {
	res := New(ledgerclient.NewMemory()).Run(context.Background(), contracts.TransactionBatch{}, newSigner(t))
	assert.False(t, res.Success)
	assert.Empty(t, res.Outcomes)
	assert.NotEmpty(t, res.Error)
}

func TestRun_PartialSignaturePreserved(t *testing.T) {
	payer := newSigner(t)
	treasury := newSigner(t)

	env, err := txn.Decode(payload(t, txn.Legacy, payer.PublicKey(), treasury.PublicKey()))
	require.NoError(t, err)
	require.NoError(t, env.Sign(payer))
	payerSig := env.Signature(0)

	ledger := ledgerclient.NewMemory()
	orch, _ := newOrchestrator(ledger)
	batch := contracts.NewBatch(contracts.RoleTreasury, "realm-1", contracts.Payload{Data: env.Encode()})
	res := orch.Run(context.Background(), batch, treasury)

	require.True(t, res.Success, res.Error)
	sent, err := txn.Decode(ledger.Submitted()[0])
	require.NoError(t, err)
	assert.Equal(t, payerSig, sent.Signature(0))
	assert.True(t, sent.FullySigned())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	signer := newSigner(t)
	ledger := ledgerclient.NewMemory()
	orch, _ := newOrchestrator(ledger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := orch.Run(ctx, batchOf(t, signer, 2), signer)

	assert.False(t, res.Success)
	assert.Empty(t, res.Outcomes)
	assert.Contains(t, res.Error, "stopped before payload 0")
	assert.Equal(t, 0, ledger.Calls())
}

func TestRun_InFlightTransactionOutlivesCancellation(t *testing.T) {
	signer := newSigner(t)
	ctx, cancel := context.WithCancel(context.Background())
	ledger := ledgerclient.NewMemory()
	ledger.ConfirmDelay = func(c context.Context) error {
		cancel()
		return c.Err()
	}
	orch, _ := newOrchestrator(ledger)

	res := orch.Run(ctx, batchOf(t, signer, 3), signer)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, contracts.OutcomeConfirmed, res.Outcomes[0].Status)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "stopped before payload 1")
}

func TestRun_Spans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	signer := newSigner(t)
	orch, _ := newOrchestrator(ledgerclient.NewMemory(), WithTracer(tp.Tracer("test")))
	res := orch.Run(context.Background(), batchOf(t, signer, 2), signer)
	require.True(t, res.Success)

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	assert.Equal(t, 1, names["orchestrator.Run"])
	assert.Equal(t, 2, names["orchestrator.Transaction"])
}
