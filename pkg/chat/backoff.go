package chat

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff computes bounded exponential delays with jitter. The attempt
// counter grows on every Next and is cleared by Reset after a
// successful exchange, so a recovered connection starts over with
// short delays.
type Backoff struct {
	base     time.Duration
	max      time.Duration
	lock     sync.Mutex
	attempts int
}

func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{
		base: base,
		max:  max,
	}
}

// Next returns the delay to wait before the next attempt and advances
// the attempt counter. The delay doubles per attempt up to the
// maximum, jittered to a uniform value between half the delay and the
// full delay.
func (b *Backoff) Next() time.Duration {
	b.lock.Lock()
	defer b.lock.Unlock()

	delay := b.max
	if b.attempts < 16 {
		if d := b.base << uint(b.attempts); d < delay {
			delay = d
		}
	}
	b.attempts++

	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// Reset clears the attempt counter.
func (b *Backoff) Reset() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.attempts = 0
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.attempts
}
