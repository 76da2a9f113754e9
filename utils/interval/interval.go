package interval

import (
	"sync"
	"time"
)

// Interval implements a javascript like interval
type Interval struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

// Reset resets the ticker which can be used to start the ticker
// over instead of canceling and recreating a new one
func (i *Interval) Reset(timeout time.Duration) {
	i.ticker.Reset(timeout)
}

// Clear stops the interval. It is safe to call multiple times and
// from inside the handler.
func (i *Interval) Clear() {
	i.once.Do(func() {
		i.ticker.Stop()
		close(i.done)
	})
}

// SetInterval imitates the built-in javascript function
func SetInterval(handler func(i *Interval), timeout time.Duration) *Interval {
	i := &Interval{
		ticker: time.NewTicker(timeout),
		done:   make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-i.done:
				return

			case <-i.ticker.C:
				// a tick can race the clear, recheck before firing
				select {
				case <-i.done:
					return
				default:
				}

				handler(i)
			}
		}
	}()

	return i
}

// ClearInterval imitates the builtin javascript function
func ClearInterval(i *Interval) {
	i.Clear()
}

// SetTimeout imitates the built-in javascript function
func SetTimeout(handler func(), timeout time.Duration) *Interval {
	return SetInterval(func(i *Interval) {
		i.Clear()
		handler()
	}, timeout)
}

// ClearTimeout imitates the builtin javascript function
func ClearTimeout(i *Interval) {
	i.Clear()
}
