package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponentialBackoff(t *testing.T) {
	var _ ReconnectStrategy = (*ExponentialBackoff)(nil)

	b := NewExponentialBackoffWith(100*time.Millisecond, 500*time.Millisecond)
	got := []time.Duration{b.NextDelay(), b.NextDelay(), b.NextDelay(), b.NextDelay(), b.NextDelay()}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}, got)

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.NextDelay())
}

func TestExponentialBackoff_Defaults(t *testing.T) {
	b := NewExponentialBackoff()
	assert.Equal(t, time.Second, b.NextDelay())

	b = NewExponentialBackoffWith(0, -1)
	assert.Equal(t, time.Second, b.NextDelay())
	assert.Equal(t, time.Second, b.NextDelay())
}
