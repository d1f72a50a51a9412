package utils

import (
	"sync"
	"time"
)

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

type ExponentialBackoff struct {
	mu           sync.Mutex
	initialDelay time.Duration
	currentDelay time.Duration
	maxDelay     time.Duration
}

func NewExponentialBackoff() *ExponentialBackoff {
	return NewExponentialBackoffWith(1*time.Second, 30*time.Second)
}

// NewExponentialBackoffWith starts at initial and doubles up to max.
// Non-positive values fall back to the defaults.
func NewExponentialBackoffWith(initial, max time.Duration) *ExponentialBackoff {
	if initial <= 0 {
		initial = 1 * time.Second
	}
	if max < initial {
		max = initial
	}
	return &ExponentialBackoff{
		initialDelay: initial,
		currentDelay: initial,
		maxDelay:     max,
	}
}

func (e *ExponentialBackoff) NextDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	delay := e.currentDelay
	e.currentDelay *= 2
	if e.currentDelay > e.maxDelay {
		e.currentDelay = e.maxDelay
	}
	return delay
}

func (e *ExponentialBackoff) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.currentDelay = e.initialDelay
}
