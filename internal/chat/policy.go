// internal/chat/policy.go
package chat

import (
	"time"
)

// RefetchPolicy schedules the conversation refetches that cover a missed
// live push while an answer is awaited.
type RefetchPolicy struct {
	// Delays are measured from the moment the question was acknowledged.
	Delays []time.Duration
	// AnswerTimeout ends the wait. Zero waits forever.
	AnswerTimeout time.Duration
}

// DefaultRefetchPolicy refetches after 2s, 5s and 10s and gives up on the
// answer after 30s.
func DefaultRefetchPolicy() *RefetchPolicy {
	return &RefetchPolicy{
		Delays:        []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second},
		AnswerTimeout: 30 * time.Second,
	}
}

// MaxAttempts returns the number of scheduled refetches.
func (p *RefetchPolicy) MaxAttempts() int {
	return len(p.Delays)
}

// Delay returns the delay of the given attempt (1-indexed).
func (p *RefetchPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 || attempt > len(p.Delays) {
		return 0, false
	}
	return p.Delays[attempt-1], true
}

// withDefaults fills missing values from the default policy.
func (p *RefetchPolicy) withDefaults() *RefetchPolicy {
	if p == nil {
		return DefaultRefetchPolicy()
	}
	out := *p
	if out.Delays == nil {
		out.Delays = DefaultRefetchPolicy().Delays
	}
	return &out
}
