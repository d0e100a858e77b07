package ledgerclient

import (
	"context"
	"sync"

	"github.com/RITTUVIK/Swarmocracy-sub000/pkg/txn"
)

// Memory is a scripted in-process ledger used by tests and dry runs.
// Queued errors are consumed one per call; once a queue is empty calls
// succeed. A successful submit returns the transaction's first signature.
type Memory struct {
	mu           sync.Mutex
	submitErrs   []error
	confirmErrs  []error
	confirmFor   map[string]error
	landed       map[string]bool
	submitted    [][]byte
	confirmed    []string
	ConfirmDelay func(ctx context.Context) error
}

// NewMemory returns an empty scripted ledger.
func NewMemory() *Memory {
	return &Memory{confirmFor: map[string]error{}, landed: map[string]bool{}}
}

// FailSubmits queues errors for subsequent SubmitRaw calls. A nil entry
// lets that call succeed.
func (m *Memory) FailSubmits(errs ...error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErrs = append(m.submitErrs, errs...)
	return m
}

// FailConfirms queues errors for subsequent Confirm calls.
func (m *Memory) FailConfirms(errs ...error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmErrs = append(m.confirmErrs, errs...)
	return m
}

// FailConfirmOf makes Confirm of one signature return err.
func (m *Memory) FailConfirmOf(sig string, err error) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmFor[sig] = err
	return m
}

// MarkLanded records sig as executed, as if an earlier submit had landed.
func (m *Memory) MarkLanded(sig string) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.landed[sig] = true
	return m
}

// SubmitRaw implements Client.
func (m *Memory) SubmitRaw(ctx context.Context, raw []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, append([]byte(nil), raw...))

	if len(m.submitErrs) > 0 {
		err := m.submitErrs[0]
		m.submitErrs = m.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}
	env, err := txn.Decode(raw)
	if err != nil {
		return "", NewError(KindSimulationFailed, "%v", err)
	}
	if err := env.VerifySignatures(); err != nil || !env.FullySigned() {
		return "", NewError(KindSimulationFailed, "signature verification failed")
	}
	sig := env.ID()
	if m.landed[sig] {
		return "", NewError(KindAlreadyProcessed, "This transaction has already been processed")
	}
	m.landed[sig] = true
	return sig, nil
}

// Confirm implements Client.
func (m *Memory) Confirm(ctx context.Context, sig string, _ BlockhashContext) error {
	if m.ConfirmDelay != nil {
		if err := m.ConfirmDelay(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmed = append(m.confirmed, sig)

	if err, ok := m.confirmFor[sig]; ok {
		return err
	}
	if len(m.confirmErrs) > 0 {
		err := m.confirmErrs[0]
		m.confirmErrs = m.confirmErrs[1:]
		if err != nil {
			return err
		}
	}
	if !m.landed[sig] {
		return NewError(KindBlockhashNotFound, "%s never landed", sig)
	}
	return nil
}

// Submitted returns a copy of every payload passed to SubmitRaw.
func (m *Memory) Submitted() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.submitted...)
}

// Confirmed returns the signatures passed to Confirm, in order.
func (m *Memory) Confirmed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.confirmed...)
}

// Calls is the total number of SubmitRaw and Confirm calls.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted) + len(m.confirmed)
}
