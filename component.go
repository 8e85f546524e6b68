package teax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/comalice/teax/internal/broadcast"
)

// Interceptor observes snapshots. It receives a copy and has no way to feed
// messages back other than the public subscription API.
type Interceptor[M, S any, C comparable] func(Snapshot[M, S, C])

// Component is a running TEA runtime: it turns streams of messages into the
// shared sequence of snapshots. All subscribers of one Component (and of
// views derived from it) share a single computation.
type Component[M, S any, C comparable] struct {
	rt           *runtime[M, S, C]
	interceptors []Interceptor[M, S, C]
}

// RunComponent creates the runtime bound to ctx. Depending on the start
// policy the computation begins now or on the first subscriber. Canceling ctx
// tears the runtime down and cancels every outstanding resolver task.
func RunComponent[M, S any, C comparable](
	ctx context.Context,
	initial InitialSource[S, C],
	resolver Resolver[M, C],
	updater Updater[M, S, C],
	opts ...Option,
) (*Component[M, S, C], error) {
	if initial == nil || resolver == nil || updater == nil {
		return nil, fmt.Errorf("%w: initializer, resolver and updater are required", ErrInvalidOptions)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.share.validate(); err != nil {
		return nil, err
	}
	if cfg.messageBuffer < 0 || cfg.subscriberBuffer < 0 {
		return nil, fmt.Errorf("%w: negative buffer size", ErrInvalidOptions)
	}

	scope, cancel := context.WithCancelCause(ctx)
	r := &runtime[M, S, C]{
		source:   initial,
		resolver: resolver,
		updater:  updater,
		cfg:      cfg,
		messages: make(chan M, cfg.messageBuffer),
		scope:    scope,
		cancel:   cancel,
	}
	r.hub = broadcast.New[Snapshot[M, S, C]](scope, r.activate, broadcast.Options{
		Policy:    cfg.share.Start.hubPolicy(),
		Replay:    cfg.share.Replay,
		StopDelay: cfg.share.StopDelay,
		Buffer:    cfg.subscriberBuffer,
		OnClose: func(err error) {
			if err != nil && !errors.Is(err, ErrComponentStopped) && !isContextErr(err) {
				cfg.logger.Error("component terminated", slog.Any("error", err))
			}
			cancel(err)
		},
	})
	return &Component[M, S, C]{rt: r}, nil
}

// Subscribe attaches to the shared snapshot sequence and forwards messages
// into the runtime. The subscription ends when ctx is done, when the stream
// is closed, or when the runtime terminates. Closing messages does not end
// the subscription.
func (c *Component[M, S, C]) Subscribe(ctx context.Context, messages <-chan M) *Stream[Snapshot[M, S, C]] {
	sub := c.rt.hub.Subscribe()
	stop := context.AfterFunc(ctx, sub.Close)
	go c.rt.feed(ctx, messages, sub.Done())

	s := &Stream[Snapshot[M, S, C]]{
		c:     sub.C(),
		errFn: sub.Err,
		closeFn: func() {
			stop()
			sub.Close()
		},
	}
	if len(c.interceptors) == 0 {
		return s
	}
	interceptors := c.interceptors
	return mapStream(s, func(snap Snapshot[M, S, C]) Snapshot[M, S, C] {
		for _, fn := range interceptors {
			fn(snap.clone())
		}
		return snap
	})
}

// Invoke subscribes with a fixed set of messages.
func (c *Component[M, S, C]) Invoke(ctx context.Context, msgs ...M) *Stream[Snapshot[M, S, C]] {
	in := make(chan M, len(msgs))
	for _, m := range msgs {
		in <- m
	}
	close(in)
	return c.Subscribe(ctx, in)
}

// ToStates is Subscribe projected onto states.
func (c *Component[M, S, C]) ToStates(ctx context.Context, messages <-chan M) *Stream[S] {
	return mapStream(c.Subscribe(ctx, messages), func(s Snapshot[M, S, C]) S { return s.State })
}

// ToCommands is Subscribe projected onto command sets.
func (c *Component[M, S, C]) ToCommands(ctx context.Context, messages <-chan M) *Stream[Commands[C]] {
	return mapStream(c.Subscribe(ctx, messages), func(s Snapshot[M, S, C]) Commands[C] { return s.Commands })
}

// WithInterceptor returns a view of the same runtime whose subscriptions pass
// every delivered snapshot to fn before handing it on.
func (c *Component[M, S, C]) WithInterceptor(fn Interceptor[M, S, C]) *Component[M, S, C] {
	interceptors := make([]Interceptor[M, S, C], 0, len(c.interceptors)+1)
	interceptors = append(interceptors, c.interceptors...)
	interceptors = append(interceptors, fn)
	return &Component[M, S, C]{rt: c.rt, interceptors: interceptors}
}

// Connect runs a detached subscription that feeds messages and discards
// snapshots until ctx is done or the handle is canceled.
func (c *Component[M, S, C]) Connect(ctx context.Context, messages <-chan M) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	s := c.Subscribe(ctx, messages)
	go func() {
		defer close(h.done)
		defer cancel()
		for range s.C() {
		}
		h.err = s.Err()
	}()
	return h
}

// Done is closed when the runtime's scope ends.
func (c *Component[M, S, C]) Done() <-chan struct{} {
	return c.rt.scope.Done()
}

// Err returns why the runtime ended: the fatal failure, ErrComponentStopped
// after Shutdown, or the parent context's cause. Nil while running.
func (c *Component[M, S, C]) Err() error {
	if c.rt.scope.Err() == nil {
		return nil
	}
	return context.Cause(c.rt.scope)
}

// Active reports whether a computation is currently running.
func (c *Component[M, S, C]) Active() bool {
	return c.rt.hub.Active()
}

// Activations returns how many times the computation has been started.
func (c *Component[M, S, C]) Activations() int {
	return c.rt.hub.Activations()
}

// Shutdown cancels the runtime scope and waits for the computation and all of
// its resolver tasks to return.
func (c *Component[M, S, C]) Shutdown() {
	c.rt.cancel(ErrComponentStopped)
	c.rt.hub.Wait()
}

// feed forwards one subscription's messages into the shared input queue.
func (r *runtime[M, S, C]) feed(ctx context.Context, messages <-chan M, gone <-chan struct{}) {
	if messages == nil {
		return
	}
	for {
		select {
		case m, ok := <-messages:
			if !ok {
				return
			}
			select {
			case r.messages <- m:
			case <-ctx.Done():
				return
			case <-gone:
				return
			case <-r.scope.Done():
				return
			}
		case <-ctx.Done():
			return
		case <-gone:
			return
		case <-r.scope.Done():
			return
		}
	}
}
