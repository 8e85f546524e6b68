package teax

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/comalice/teax/internal/broadcast"
)

// StartPolicy decides when the shared computation runs.
type StartPolicy int

const (
	// StartWhileSubscribed runs the computation while at least one subscriber
	// is attached and tears it down ShareOptions.StopDelay after the last leaves.
	StartWhileSubscribed StartPolicy = iota
	// StartLazily runs the computation from the first subscriber until the
	// component's scope ends.
	StartLazily
	// StartEagerly runs the computation as soon as the component is created.
	StartEagerly
)

func (p StartPolicy) String() string {
	return p.hubPolicy().String()
}

func (p StartPolicy) hubPolicy() broadcast.Policy {
	switch p {
	case StartLazily:
		return broadcast.Lazily
	case StartEagerly:
		return broadcast.Eagerly
	default:
		return broadcast.WhileSubscribed
	}
}

// ShareOptions governs how the snapshot sequence is shared between subscribers.
type ShareOptions struct {
	Start     StartPolicy
	Replay    int // trailing snapshots handed to a newly attached subscriber
	StopDelay time.Duration
}

// DefaultShareOptions keeps the computation alive while subscribed and
// replays the latest snapshot.
var DefaultShareOptions = ShareOptions{Start: StartWhileSubscribed, Replay: 1}

func (o ShareOptions) validate() error {
	if o.Replay < 0 {
		return fmt.Errorf("%w: replay %d < 0", ErrInvalidOptions, o.Replay)
	}
	if o.StopDelay < 0 {
		return fmt.Errorf("%w: stop delay %v < 0", ErrInvalidOptions, o.StopDelay)
	}
	switch o.Start {
	case StartWhileSubscribed, StartLazily, StartEagerly:
	default:
		return fmt.Errorf("%w: start policy %d", ErrInvalidOptions, o.Start)
	}
	return nil
}

type config struct {
	share            ShareOptions
	messageBuffer    int
	subscriberBuffer int
	logger           *slog.Logger
	observers        observers
}

func defaultConfig() config {
	return config{
		share:  DefaultShareOptions,
		logger: slog.Default(),
	}
}

// Option configures a component via functional options.
type Option func(*config)

// WithShareOptions replaces the share options.
func WithShareOptions(o ShareOptions) Option {
	return func(c *config) {
		c.share = o
	}
}

// WithStartPolicy sets only the start policy.
func WithStartPolicy(p StartPolicy) Option {
	return func(c *config) {
		c.share.Start = p
	}
}

// WithReplay sets how many trailing snapshots late subscribers receive.
func WithReplay(n int) Option {
	return func(c *config) {
		c.share.Replay = n
	}
}

// WithStopDelay keeps a while-subscribed computation alive for d after the
// last subscriber leaves.
func WithStopDelay(d time.Duration) Option {
	return func(c *config) {
		c.share.StopDelay = d
	}
}

// WithMessageBuffer sizes the shared input queue. Zero (the default) makes
// every producer rendezvous with the computation loop.
//
// The queue belongs to the component, not to an activation. Messages that
// were accepted but not yet applied when an activation ends, including those
// left behind by a subscriber that detached, are applied by the next
// activation after its Initial.
func WithMessageBuffer(n int) Option {
	return func(c *config) {
		c.messageBuffer = n
	}
}

// WithSubscriberBuffer sizes each subscriber's delivery queue.
func WithSubscriberBuffer(n int) Option {
	return func(c *config) {
		c.subscriberBuffer = n
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver registers a runtime observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}
