package retrieval

import (
	"sync/atomic"
	"time"
)

// budget caps the store calls and wall time of one request. It is shared by
// the concurrent phases of a tier.
type budget struct {
	maxCalls int64
	deadline time.Time

	calls     atomic.Int64
	exhausted atomic.Bool
}

func newBudget(maxCalls int, limit time.Duration) *budget {
	b := &budget{maxCalls: int64(maxCalls)}
	if limit > 0 {
		b.deadline = time.Now().Add(limit)
	}
	return b
}

// take reserves one store call.
func (b *budget) take() bool {
	if b.expired() {
		b.exhausted.Store(true)
		return false
	}
	if b.maxCalls > 0 && b.calls.Add(1) > b.maxCalls {
		b.calls.Add(-1)
		b.exhausted.Store(true)
		return false
	}
	if b.maxCalls <= 0 {
		b.calls.Add(1)
	}
	return true
}

// force records a call that is made regardless of the cap.
func (b *budget) force() {
	b.calls.Add(1)
}

func (b *budget) expired() bool {
	return !b.deadline.IsZero() && time.Now().After(b.deadline)
}

// spent reports whether no further call may be made.
func (b *budget) spent() bool {
	if b.expired() {
		b.exhausted.Store(true)
		return true
	}
	return b.maxCalls > 0 && b.calls.Load() >= b.maxCalls
}

func (b *budget) used() int { return int(b.calls.Load()) }

func (b *budget) hit() bool { return b.exhausted.Load() }
