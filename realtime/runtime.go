package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/comalice/teax"
)

// ErrQueueFull is returned when a tick's batch is at capacity.
var ErrQueueFull = errors.New("message queue full")

// ErrNotRunning is returned by Stop before Start.
var ErrNotRunning = errors.New("runtime not started")

// Runtime provides tick-based deterministic delivery by embedding a component
// and replacing only how external messages reach it.
type Runtime[M, S any, C comparable] struct {
	*teax.Component[M, S, C]

	// Tick-specific fields
	tickRate time.Duration
	ticker   *time.Ticker
	tickNum  uint64

	// Message batching
	batch       []MessageWithMeta[M]
	batchMu     sync.Mutex
	sequenceNum uint64

	out    chan M
	stream *teax.Stream[teax.Snapshot[M, S, C]]
	log    *slog.Logger

	// Control
	tickCtx    context.Context
	tickCancel context.CancelFunc
	stopped    chan struct{}
}

// Config configures the tick runtime.
type Config struct {
	TickRate           time.Duration // Fixed tick rate (e.g., 16.67ms for 60 FPS)
	MaxMessagesPerTick int           // Batch capacity (default: 1000)
	Logger             *slog.Logger
}

// NewRuntime creates a tick runtime in front of comp.
func NewRuntime[M, S any, C comparable](comp *teax.Component[M, S, C], cfg Config) *Runtime[M, S, C] {
	if cfg.MaxMessagesPerTick == 0 {
		cfg.MaxMessagesPerTick = 1000
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = 16667 * time.Microsecond // Default 60 FPS
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Runtime[M, S, C]{
		Component: comp,
		tickRate:  cfg.TickRate,
		batch:     make([]MessageWithMeta[M], 0, cfg.MaxMessagesPerTick),
		out:       make(chan M),
		log:       cfg.Logger.With(slog.String("runtime", "realtime")),
		stopped:   make(chan struct{}),
	}
}

// Start subscribes to the component with the tick-ordered message channel and
// begins ticking. The returned stream carries the component's snapshots.
func (rt *Runtime[M, S, C]) Start(ctx context.Context) (*teax.Stream[teax.Snapshot[M, S, C]], error) {
	if rt.stream != nil {
		return nil, errors.New("runtime already started")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rt.tickCtx, rt.tickCancel = context.WithCancel(ctx)
	rt.stream = rt.Component.Subscribe(rt.tickCtx, rt.out)
	rt.ticker = time.NewTicker(rt.tickRate)

	go rt.tickLoop()

	return rt.stream, nil
}

// Stop halts ticking and detaches from the component. Messages still queued
// are discarded.
func (rt *Runtime[M, S, C]) Stop() error {
	if rt.tickCancel == nil {
		return ErrNotRunning
	}
	rt.tickCancel()
	rt.ticker.Stop()

	// Wait for tick loop to exit
	<-rt.stopped

	rt.stream.Close()
	return nil
}

func (rt *Runtime[M, S, C]) tickLoop() {
	defer close(rt.stopped)

	for {
		select {
		case <-rt.tickCtx.Done():
			return
		case <-rt.ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						rt.log.Error("tick panicked", slog.Any("panic", r), slog.Uint64("tick", rt.TickNumber()))
					}
				}()
				rt.processTick()
			}()

			rt.batchMu.Lock()
			rt.tickNum++
			rt.batchMu.Unlock()
		}
	}
}

// SendMessage queues m for the next tick (thread-safe).
func (rt *Runtime[M, S, C]) SendMessage(m M) error {
	return rt.SendMessageWithPriority(m, 0)
}

// SendMessageWithPriority queues m with priority; higher goes first.
func (rt *Runtime[M, S, C]) SendMessageWithPriority(m M, priority int) error {
	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()

	if len(rt.batch) >= cap(rt.batch) {
		return ErrQueueFull
	}

	rt.batch = append(rt.batch, MessageWithMeta[M]{
		Message:     m,
		SequenceNum: rt.sequenceNum,
		Priority:    priority,
	})
	rt.sequenceNum++

	return nil
}

// TickNumber returns the number of completed ticks.
func (rt *Runtime[M, S, C]) TickNumber() uint64 {
	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()
	return rt.tickNum
}
