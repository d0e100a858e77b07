package retry

import (
	"context"
	"time"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the real-time Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, returns an error retryable rejects, or
// the policy's attempts are used up. It never sleeps after the last
// attempt. The returned count is the number of calls made; the error is
// the last one fn returned, or ctx's error if a wait was interrupted.
func Do(ctx context.Context, p Policy, key string, sleep Sleeper, fn func(attempt int) error, retryable func(error) bool) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(attempt); err == nil {
			return attempt, nil
		}
		if !retryable(err) || attempt == maxAttempts {
			return attempt, err
		}
		if serr := sleep(ctx, p.DelayFor(key, attempt)); serr != nil {
			return attempt, serr
		}
	}
	return maxAttempts, err
}
