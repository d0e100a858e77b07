package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	p, err := NewWithProviders(tp, mp)
	require.NoError(t, err)
	return p, rec, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "treasury", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	// Safe to use while disabled.
	_, done := p.TrackOperation(context.Background(), "noop")
	done(nil)
	p.RecordExecution(context.Background(), contracts.ExecSwap, contracts.ExecutionDone, contracts.ReasonNone)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestTrackOperation(t *testing.T) {
	p, rec, reader := newTestProvider(t)

	_, done := p.TrackOperation(context.Background(), "execution.run", attribute.String("proposal.id", "p1"))
	done(nil)
	_, done = p.TrackOperation(context.Background(), "execution.run")
	done(errors.New("rpc down"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "execution.run", spans[0].Name())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
	require.Len(t, spans[1].Events(), 1, "error recorded on span")

	require.EqualValues(t, 2, sumOf(t, reader, "treasury.operations.total"))
	require.EqualValues(t, 1, sumOf(t, reader, "treasury.errors.total"))
	require.EqualValues(t, 0, sumOf(t, reader, "treasury.operations.active"))
}

func TestExecutionMetrics(t *testing.T) {
	p, _, reader := newTestProvider(t)
	ctx := context.Background()

	p.RecordExecution(ctx, contracts.ExecVote, contracts.ExecutionAborted, contracts.ReasonNotAuthorized)
	p.OnOutcome(ctx, contracts.TransactionOutcome{BatchIndex: 0, Status: contracts.OutcomeSent, Attempts: 1})
	p.OnOutcome(ctx, contracts.TransactionOutcome{BatchIndex: 0, Status: contracts.OutcomeConfirmed, Attempts: 1})
	p.OnOutcome(ctx, contracts.TransactionOutcome{BatchIndex: 1, Status: contracts.OutcomeFailed, Attempts: 3})

	require.EqualValues(t, 1, sumOf(t, reader, "treasury.executions.total"))
	require.EqualValues(t, 2, sumOf(t, reader, "treasury.transactions.total"), "only terminal outcomes count")
}
