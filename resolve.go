package teax

import (
	"context"
	"sync/atomic"
)

// Updater is the pure transition function. It must be deterministic; a
// returned error (or panic) is fatal to the runtime.
type Updater[M, S any, C comparable] func(msg M, state S) (Update[S, C], error)

// Resolver executes one command. Follow-up messages are emitted through rc and
// re-enter the same input queue as external messages. A returned error (or
// panic) is fatal to the runtime.
type Resolver[M any, C comparable] func(rc *ResolveContext[M], cmd C) error

// ResolveContext is the capability handed to one resolution: a message sink
// bound to the runtime's lifetime. It is only valid until the resolver
// returns; use Go for work that must outlive the call.
type ResolveContext[M any] struct {
	ctx      context.Context
	messages chan<- M
	spawn    func(job func(*ResolveContext[M]) error)
	released atomic.Bool
}

func newResolveContext[M any](ctx context.Context, messages chan<- M, spawn func(func(*ResolveContext[M]) error)) *ResolveContext[M] {
	return &ResolveContext[M]{ctx: ctx, messages: messages, spawn: spawn}
}

// Context is canceled when the runtime generation that owns this resolution ends.
func (rc *ResolveContext[M]) Context() context.Context {
	return rc.ctx
}

// Emit feeds msgs, in order, into the runtime's input queue. It blocks until
// each message is accepted and fails once the runtime is torn down.
func (rc *ResolveContext[M]) Emit(msgs ...M) error {
	for _, m := range msgs {
		if rc.released.Load() {
			return ErrResolveContextReleased
		}
		if err := rc.ctx.Err(); err != nil {
			return err
		}
		select {
		case rc.messages <- m:
		case <-rc.ctx.Done():
			return rc.ctx.Err()
		}
	}
	return nil
}

// Go starts a supervised long-running job. The job gets its own
// ResolveContext, valid until the job returns, and is canceled with the
// runtime. A job error is fatal exactly like a resolver error.
func (rc *ResolveContext[M]) Go(job func(rc *ResolveContext[M]) error) error {
	if rc.released.Load() {
		return ErrResolveContextReleased
	}
	rc.spawn(job)
	return nil
}

func (rc *ResolveContext[M]) release() {
	rc.released.Store(true)
}
