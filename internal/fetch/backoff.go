package fetch

import "time"

// Backoff yields retry delays that start at a base delay and double on
// every consecutive failure. There is no ceiling and no attempt limit.
type Backoff struct {
	base    time.Duration
	current time.Duration
	retries int
}

// NewBackoff creates a backoff starting at base.
func NewBackoff(base time.Duration) *Backoff {
	return &Backoff{base: base}
}

// Next returns the delay before the next retry and advances the sequence.
func (b *Backoff) Next() time.Duration {
	if b.current == 0 {
		b.current = b.base
	} else {
		b.current *= 2
	}
	b.retries++
	return b.current
}

// Retries returns how many delays have been handed out.
func (b *Backoff) Retries() int {
	return b.retries
}

// Reset restarts the sequence at the base delay.
func (b *Backoff) Reset() {
	b.current = 0
	b.retries = 0
}
