package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurationGrowsExponentially(t *testing.T) {
	b := NewBackoff(&Options{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
	})

	assert.Equal(t, 200*time.Millisecond, b.Duration())
	assert.Equal(t, 400*time.Millisecond, b.Duration())
	assert.Equal(t, 800*time.Millisecond, b.Duration())
	assert.Equal(t, 3, b.Attempts())
}

func TestDurationCappedAtMax(t *testing.T) {
	b := NewBackoff(&Options{
		Min:    10 * time.Millisecond,
		Max:    50 * time.Millisecond,
		Factor: 2,
	})

	assert.Equal(t, 20*time.Millisecond, b.Duration())
	assert.Equal(t, 40*time.Millisecond, b.Duration())

	for i := 0; i < 5; i++ {
		assert.Equal(t, 50*time.Millisecond, b.Duration())
	}
}

func TestReset(t *testing.T) {
	b := NewBackoff(&Options{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
	})

	b.Duration()
	b.Duration()
	require.Equal(t, 2, b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, 200*time.Millisecond, b.Duration())
}

func TestDefaults(t *testing.T) {
	b := NewBackoff(nil)
	assert.Equal(t, 200*time.Millisecond, b.Duration())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	b := NewBackoff(&Options{
		Min:    100 * time.Millisecond,
		Max:    10 * time.Second,
		Factor: 2,
		Jitter: 0.5,
	})

	for i := 0; i < 20; i++ {
		d := b.Duration()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

func TestJitterDeviationBounded(t *testing.T) {
	b := NewBackoff(&Options{
		Min:    100 * time.Millisecond,
		Max:    time.Hour,
		Factor: 2,
		Jitter: 0.25,
	})

	// the first nominal delay is 200ms, so a 0.25 jitter keeps every
	// draw inside [150ms, 250ms]
	d := b.Duration()
	assert.GreaterOrEqual(t, d, 150*time.Millisecond)
	assert.LessOrEqual(t, d, 250*time.Millisecond)
}

func TestMaxBelowMinClamped(t *testing.T) {
	b := NewBackoff(&Options{
		Min: 100 * time.Millisecond,
		Max: 10 * time.Millisecond,
	})

	// max is raised to min, every duration collapses to it
	assert.Equal(t, 100*time.Millisecond, b.Duration())
}
