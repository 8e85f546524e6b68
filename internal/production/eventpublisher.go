package production

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/comalice/teax"
)

// PublishedSnapshot bundles a snapshot with its component metadata for publishing.
type PublishedSnapshot[M, S any, C comparable] struct {
	Snapshot  teax.Snapshot[M, S, C]
	Component string
	Timestamp time.Time
}

// ChannelPublisher forwards snapshots to a Go channel.
// Non-blocking publish with drop on backpressure.
type ChannelPublisher[M, S any, C comparable] struct {
	name    string
	ch      chan<- PublishedSnapshot[M, S, C]
	dropped atomic.Int64
}

// NewChannelPublisher creates a ChannelPublisher that tags snapshots with name.
func NewChannelPublisher[M, S any, C comparable](name string, ch chan<- PublishedSnapshot[M, S, C]) *ChannelPublisher[M, S, C] {
	return &ChannelPublisher[M, S, C]{name: name, ch: ch}
}

// Publish offers snap to the channel and drops it if nobody is ready.
func (p *ChannelPublisher[M, S, C]) Publish(ctx context.Context, snap teax.Snapshot[M, S, C]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.ch <- PublishedSnapshot[M, S, C]{Snapshot: snap, Component: p.name, Timestamp: time.Now()}:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Intercept publishes s. Its method value is a teax.Interceptor, so a
// publisher can be attached with Component.WithInterceptor.
func (p *ChannelPublisher[M, S, C]) Intercept(s teax.Snapshot[M, S, C]) {
	_ = p.Publish(context.Background(), s)
}

// Dropped returns how many snapshots were discarded on backpressure.
func (p *ChannelPublisher[M, S, C]) Dropped() int64 {
	return p.dropped.Load()
}

func (p *ChannelPublisher[M, S, C]) Close() error {
	close(p.ch)
	return nil
}
