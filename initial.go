package teax

import "context"

// InitialSource produces the Initial snapshots of an activation. Each call to
// yield starts a new generation of the computation; the previous generation
// and all of its resolver tasks are canceled and awaited first.
// Initials should return once ctx is done. Returning nil while ctx is live
// leaves the last generation running.
type InitialSource[S any, C comparable] interface {
	Initials(ctx context.Context, yield func(Initial[S, C]) error) error
}

// Initializer produces the first state of an activation. It may block, e.g.
// to load persisted state, and runs exactly once per activation.
type Initializer[S any, C comparable] func(ctx context.Context) (Initial[S, C], error)

// Initials implements InitialSource with a single generation.
func (f Initializer[S, C]) Initials(ctx context.Context, yield func(Initial[S, C]) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	first, err := f(ctx)
	if err != nil {
		return err
	}
	return yield(first)
}

// Pure is an Initializer that always starts from state with cmds.
func Pure[S any, C comparable](state S, cmds ...C) Initializer[S, C] {
	return func(context.Context) (Initial[S, C], error) {
		return Start(state, cmds...), nil
	}
}

// InitialStream is an InitialSource fed by a channel: every received Initial
// replaces the running generation (last initial wins). Closing the channel
// keeps the latest generation running.
type InitialStream[S any, C comparable] <-chan Initial[S, C]

// Initials implements InitialSource.
func (ch InitialStream[S, C]) Initials(ctx context.Context, yield func(Initial[S, C]) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case first, ok := <-ch:
			if !ok {
				return nil
			}
			if err := yield(first); err != nil {
				return err
			}
		}
	}
}
