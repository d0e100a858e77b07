// Package retry schedules bounded, linearly spaced retries of ledger
// submissions.
package retry

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// Policy bounds retries of a single transaction. Attempt n (1-based) that
// fails transiently is followed by a wait of BaseDelay*n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxJitter adds a deterministic offset in [0, MaxJitter) derived from
	// the jitter key, so concurrent batches against one node spread out.
	MaxJitter time.Duration
}

// DefaultPolicy returns 3 attempts with a 2s base.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Validate rejects policies that would never attempt anything.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxJitter < 0 {
		return fmt.Errorf("retry: delays must not be negative")
	}
	return nil
}

// Delay is the wait after failed attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}

// DelayFor is Delay plus the jitter for key.
func (p Policy) DelayFor(key string, attempt int) time.Duration {
	return p.Delay(attempt) + p.jitter(key, attempt)
}

// MaxTotalDelay is the longest a transaction can spend waiting between
// attempts: base * n(n-1)/2 for n attempts, jitter excluded.
func (p Policy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for i := 1; i < p.MaxAttempts; i++ {
		total += p.Delay(i)
	}
	return total
}

func (p Policy) jitter(key string, attempt int) time.Duration {
	if p.MaxJitter <= 0 || key == "" {
		return 0
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, attempt)))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(basis % uint64(p.MaxJitter)) //nolint:gosec // MaxJitter is positive here
}
