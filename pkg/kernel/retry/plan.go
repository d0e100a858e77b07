package retry

import "time"

// Schedule is one planned attempt.
type Schedule struct {
	Attempt     int           `json:"attempt"`
	Delay       time.Duration `json:"delay"`
	ScheduledAt time.Time     `json:"scheduled_at"`
}

// Plan lays out when each attempt would start if every earlier one
// failed transiently. Attempt 1 starts at now.
func (p Policy) Plan(key string, now time.Time) []Schedule {
	if p.MaxAttempts < 1 {
		return nil
	}
	out := make([]Schedule, p.MaxAttempts)
	at := now
	for i := range out {
		var d time.Duration
		if i > 0 {
			d = p.DelayFor(key, i)
		}
		at = at.Add(d)
		out[i] = Schedule{Attempt: i + 1, Delay: d, ScheduledAt: at}
	}
	return out
}
