package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/contracts"
)

// Tracker persists outcome transitions for one open record as they are
// reported, so a crash mid-batch still leaves every sent transaction on
// record. It satisfies orchestrator.Observer.
type Tracker struct {
	ledger   Ledger
	recordID string
	logger   *slog.Logger

	mu  sync.Mutex
	err error
}

func NewTracker(l Ledger, recordID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{ledger: l, recordID: recordID, logger: logger}
}

// OnOutcome writes o. Write failures are logged and kept for Err; the
// final Finish call reconciles whatever was missed.
func (t *Tracker) OnOutcome(ctx context.Context, o contracts.TransactionOutcome) {
	var err error
	switch o.Status {
	case contracts.OutcomeSent:
		err = t.ledger.AppendOutcome(ctx, t.recordID, o)
	case contracts.OutcomeConfirmed, contracts.OutcomeFailed:
		err = t.ledger.AdvanceOutcome(ctx, t.recordID, o)
		if errors.Is(err, ErrNotFound) {
			// failed before anything was sent
			err = t.ledger.AppendOutcome(ctx, t.recordID, o)
		}
	default:
		return
	}
	if err != nil {
		t.logger.Error("ledger: failed to persist outcome",
			"record_id", t.recordID, "index", o.BatchIndex, "status", o.Status, "error", err)
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
}

// Err returns the first write failure.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
