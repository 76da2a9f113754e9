// Package backoff computes retry delays that grow exponentially from a
// lower bound toward a cap, with optional random jitter to spread out
// reconnecting clients.
package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

const (
	DefaultMin    = 100 * time.Millisecond
	DefaultMax    = 10 * time.Second
	DefaultFactor = 2
)

// Options configures a Backoff. Zero values fall back to the package
// defaults; a Max below Min is raised to Min.
type Options struct {
	Min    time.Duration
	Max    time.Duration
	Jitter float64 // fraction of the delay, 0 to 1
	Factor float64
}

// Backoff yields successive retry delays. It is safe for concurrent
// use.
type Backoff struct {
	mx       sync.Mutex
	min      time.Duration
	max      time.Duration
	jitter   float64
	factor   float64
	attempts int
	rand     *rand.Rand
}

// NewBackoff returns a Backoff configured by opts. A nil opts selects
// the defaults.
func NewBackoff(opts *Options) *Backoff {
	if opts == nil {
		opts = &Options{}
	}

	b := &Backoff{
		min:    DefaultMin,
		max:    DefaultMax,
		factor: DefaultFactor,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if opts.Min > 0 {
		b.min = opts.Min
	}
	if opts.Max > 0 {
		b.max = opts.Max
	}
	if b.max < b.min {
		b.max = b.min
	}
	if opts.Factor > 1 {
		b.factor = opts.Factor
	}
	if opts.Jitter > 0 && opts.Jitter <= 1 {
		b.jitter = opts.Jitter
	}

	return b
}

// Attempts returns the number of delays handed out since the last
// Reset.
func (b *Backoff) Attempts() int {
	b.mx.Lock()
	defer b.mx.Unlock()
	return b.attempts
}

// Duration advances the attempt counter and returns the next delay:
// min * factor^attempts, jittered by up to jitter of itself in either
// direction, clamped to [min, max].
func (b *Backoff) Duration() time.Duration {
	b.mx.Lock()
	defer b.mx.Unlock()

	b.attempts++
	d := float64(b.min) * math.Pow(b.factor, float64(b.attempts))

	if b.jitter > 0 {
		// a single draw in [-1, 1) supplies both the deviation and
		// its sign
		d += d * b.jitter * (2*b.rand.Float64() - 1)
	}

	if d < float64(b.min) {
		return b.min
	}
	if d > float64(b.max) {
		return b.max
	}

	return time.Duration(d)
}

// Reset rewinds the attempt counter so the next delay starts from the
// bottom of the curve again.
func (b *Backoff) Reset() {
	b.mx.Lock()
	defer b.mx.Unlock()
	b.attempts = 0
}
