package teax

import (
	"context"
	"time"
)

// Observer receives runtime lifecycle notifications. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	ActivationStarted(ctx context.Context, activation string)
	ActivationStopped(ctx context.Context, activation string, err error)
	SnapshotEmitted(ctx context.Context, activation string, kind SnapshotKind)
	// ResolutionStarted may return a derived context (e.g. carrying a span);
	// the resolver runs under it.
	ResolutionStarted(ctx context.Context, activation string, command any) context.Context
	ResolutionFinished(ctx context.Context, activation string, d time.Duration, err error)
}

type observers []Observer

func (o observers) ActivationStarted(ctx context.Context, activation string) {
	for _, x := range o {
		x.ActivationStarted(ctx, activation)
	}
}

func (o observers) ActivationStopped(ctx context.Context, activation string, err error) {
	for _, x := range o {
		x.ActivationStopped(ctx, activation, err)
	}
}

func (o observers) SnapshotEmitted(ctx context.Context, activation string, kind SnapshotKind) {
	for _, x := range o {
		x.SnapshotEmitted(ctx, activation, kind)
	}
}

func (o observers) ResolutionStarted(ctx context.Context, activation string, command any) context.Context {
	for _, x := range o {
		ctx = x.ResolutionStarted(ctx, activation, command)
	}
	return ctx
}

func (o observers) ResolutionFinished(ctx context.Context, activation string, d time.Duration, err error) {
	for _, x := range o {
		x.ResolutionFinished(ctx, activation, d, err)
	}
}
