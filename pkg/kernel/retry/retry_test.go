package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errFatal     = errors.New("fatal")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestPolicy_LinearDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
	assert.Equal(t, 6*time.Second, p.MaxTotalDelay())
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
	require.Error(t, Policy{}.Validate())
	require.Error(t, Policy{MaxAttempts: 1, BaseDelay: -1}.Validate())
}

func TestPlan(t *testing.T) {
	now := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	plan := Policy{MaxAttempts: 4, BaseDelay: 100 * time.Millisecond}.Plan("batch:0", now)

	require.Len(t, plan, 4)
	assert.Equal(t, now, plan[0].ScheduledAt)
	assert.Equal(t, time.Duration(0), plan[0].Delay)
	assert.Equal(t, 100*time.Millisecond, plan[1].Delay)
	assert.Equal(t, 200*time.Millisecond, plan[2].Delay)
	assert.Equal(t, now.Add(600*time.Millisecond), plan[3].ScheduledAt)
	assert.Equal(t, 4, plan[3].Attempt)
}

func TestJitter_Deterministic(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxJitter: time.Second}
	a := p.DelayFor("ctx:1", 1)
	assert.Equal(t, a, p.DelayFor("ctx:1", 1))
	assert.GreaterOrEqual(t, a, time.Second)
	assert.Less(t, a, 2*time.Second)
	assert.Equal(t, time.Second, p.DelayFor("", 1))
}

func TestDo_SucceedsAfterTransientFaultClears(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0
	n, err := Do(context.Background(), DefaultPolicy(), "", s.sleep, func(int) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	}, isTransient)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, s.waits)
}

func TestDo_GivesUpWithoutTrailingSleep(t *testing.T) {
	s := &recordingSleeper{}
	n, err := Do(context.Background(), DefaultPolicy(), "", s.sleep, func(int) error {
		return errTransient
	}, isTransient)

	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, n)
	assert.Len(t, s.waits, 2)
}

func TestDo_TerminalErrorConsumesNoRetries(t *testing.T) {
	s := &recordingSleeper{}
	n, err := Do(context.Background(), DefaultPolicy(), "", s.sleep, func(int) error {
		return errFatal
	}, isTransient)

	require.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.waits)
}

func TestDo_InterruptedWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour}, "", Sleep, func(int) error {
		return errTransient
	}, isTransient)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, n)
}
