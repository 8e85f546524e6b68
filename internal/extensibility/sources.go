// Package extensibility provides pluggable building blocks around a teax
// component: message sources, resolver routing and logging, and guards.
package extensibility

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// ChannelSource is a message source backed by a Go channel.
// Provides a simple way to feed external messages into a component via Send().
type ChannelSource[M any] struct {
	ch chan M
}

// NewChannelSource creates a ChannelSource with the given buffer size.
func NewChannelSource[M any](buffer int) *ChannelSource[M] {
	return &ChannelSource[M]{ch: make(chan M, buffer)}
}

// Messages returns the receive-only channel to hand to Component.Subscribe.
func (s *ChannelSource[M]) Messages() <-chan M {
	return s.ch
}

// Send blocks until m is buffered or ctx is done.
func (s *ChannelSource[M]) Send(ctx context.Context, m M) error {
	select {
	case s.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the source. Send must not be called afterwards.
func (s *ChannelSource[M]) Close() {
	close(s.ch)
}

// TimerSource generates a message every interval using time.Ticker.
// Useful for heartbeat and polling components.
type TimerSource[M any] struct {
	ch     chan M
	next   func(tick int) M
	ticker *time.Ticker
	stop   chan struct{}
}

// NewTimerSource creates a TimerSource that emits next(n) on the n-th tick,
// starting at 1.
func NewTimerSource[M any](interval time.Duration, next func(tick int) M) *TimerSource[M] {
	t := &TimerSource[M]{
		ch:     make(chan M, 10),
		next:   next,
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *TimerSource[M]) run() {
	tick := 0
	for {
		select {
		case <-t.ticker.C:
			tick++
			select {
			case t.ch <- t.next(tick):
			default:
				// drop if full
			}
		case <-t.stop:
			t.ticker.Stop()
			close(t.ch)
			return
		}
	}
}

// Messages returns the message channel.
func (t *TimerSource[M]) Messages() <-chan M {
	return t.ch
}

// Stop stops the ticker and closes the channel.
func (t *TimerSource[M]) Stop() {
	close(t.stop)
}

// Throttle forwards messages from in at most at the limiter's rate. The
// returned channel is closed when in is closed or ctx is done.
func Throttle[M any](ctx context.Context, in <-chan M, limiter *rate.Limiter) <-chan M {
	out := make(chan M)
	go func() {
		defer close(out)
		for {
			var m M
			select {
			case v, ok := <-in:
				if !ok {
					return
				}
				m = v
			case <-ctx.Done():
				return
			}
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
