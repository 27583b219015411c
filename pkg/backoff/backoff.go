package backoff

import (
	"context"
	"math/rand"
	"time"
)

// Backoff implements exponential backoff with jitter.
type Backoff struct {
	// retries is the maximum number of waits.
	retries    int
	minBackoff time.Duration
	maxBackoff time.Duration

	// attempts is the number of waits so far.
	attempts    int
	lastBackoff time.Duration
}

// New creates a new backoff.
//
// Set 'retries' to zero to retry forever.
func New(retries int, minBackoff time.Duration, maxBackoff time.Duration) *Backoff {
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	return &Backoff{
		retries:    retries,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		attempts:   0,
	}
}

// Wait blocks until the next retry. Returns false if the number of retries has
// been reached or the context is cancelled, so the caller should stop.
func (b *Backoff) Wait(ctx context.Context) bool {
	if b.retries != 0 && b.attempts >= b.retries {
		return false
	}
	b.attempts++

	backoff := b.nextWait()
	b.lastBackoff = backoff

	if backoff <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Attempts returns the number of waits so far.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Reset restarts the backoff from the minimum wait.
func (b *Backoff) Reset() {
	b.attempts = 0
	b.lastBackoff = 0
}

func (b *Backoff) nextWait() time.Duration {
	var backoff time.Duration
	if b.lastBackoff == 0 {
		backoff = b.minBackoff
	} else {
		backoff = b.lastBackoff * 2
	}

	jitterMultipler := 1.0 + (rand.Float64() * 0.1)
	backoff = time.Duration(float64(backoff) * jitterMultipler)
	if backoff > b.maxBackoff {
		backoff = b.maxBackoff
	}
	return backoff
}
