package teax

import (
	"context"
	"sync"
)

// Stream is a live, closable sequence of values. C is closed when the stream
// ends; Err then reports the terminal failure, if any.
type Stream[T any] struct {
	c       <-chan T
	errFn   func() error
	closeFn func()
}

// C returns the receive channel.
func (s *Stream[T]) C() <-chan T {
	return s.c
}

// Err returns the terminal error once C is closed. It is nil while the stream
// is live and after Close.
func (s *Stream[T]) Err() error {
	return s.errFn()
}

// Close detaches the stream. Safe to call more than once.
func (s *Stream[T]) Close() {
	s.closeFn()
}

// Collect receives up to n values. It returns early when the stream ends
// (with Err) or ctx is done (with the context error).
func (s *Stream[T]) Collect(ctx context.Context, n int) ([]T, error) {
	out := make([]T, 0, n)
	for len(out) < n {
		select {
		case v, ok := <-s.c:
			if !ok {
				return out, s.Err()
			}
			out = append(out, v)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

// mapStream projects src through f. Closing the result closes src.
func mapStream[A, B any](src *Stream[A], f func(A) B) *Stream[B] {
	out := make(chan B)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer close(out)
		for v := range src.c {
			select {
			case out <- f(v):
			case <-stop:
				return
			}
		}
	}()

	return &Stream[B]{
		c:     out,
		errFn: src.errFn,
		closeFn: func() {
			once.Do(func() {
				close(stop)
				src.Close()
			})
		},
	}
}

// Handle controls a detached subscription started by Connect.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Cancel ends the subscription.
func (h *Handle) Cancel() {
	h.cancel()
}

// Done is closed once the subscription has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the subscription ends and returns its terminal failure.
// Canceling the handle is not a failure.
func (h *Handle) Wait() error {
	<-h.done
	return h.err
}
