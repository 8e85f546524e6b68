// Package broadcast provides the multicast primitive behind a shared component:
// one upstream producer, a registry of subscriber queues, a replay buffer and
// reference-counted attach/detach that drives (re)activation of the producer.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Policy decides when the upstream of a Hub runs.
type Policy int

const (
	// WhileSubscribed starts the upstream on the first subscriber and stops it
	// after the last one leaves (optionally after Options.StopDelay).
	WhileSubscribed Policy = iota
	// Lazily starts the upstream on the first subscriber and never stops it.
	Lazily
	// Eagerly starts the upstream when the hub is created.
	Eagerly
)

func (p Policy) String() string {
	switch p {
	case WhileSubscribed:
		return "while-subscribed"
	case Lazily:
		return "lazily"
	case Eagerly:
		return "eagerly"
	default:
		return "unknown"
	}
}

// Options configures a Hub.
type Options struct {
	Policy    Policy
	Replay    int           // trailing values handed to late subscribers
	StopDelay time.Duration // WhileSubscribed only
	Buffer    int           // per-subscriber output buffer
	OnClose   func(err error)
}

// RunFunc produces the upstream values of one activation. Emit must not be
// called concurrently. Returning after ctx is canceled is a normal stop;
// returning a non-nil error otherwise terminates the hub with that error.
type RunFunc[T any] func(ctx context.Context, emit func(T) error) error

// ErrInactive is returned by emit when its activation is no longer current.
var ErrInactive = errors.New("broadcast: activation no longer current")

// Hub multicasts the values of a single upstream to many subscribers.
type Hub[T any] struct {
	run    RunFunc[T]
	opts   Options
	parent context.Context

	mu       sync.Mutex
	subs     map[*Subscriber[T]]struct{}
	replay   []T
	active   *activation
	last     *activation
	timer    *time.Timer
	timerSeq uint64
	starts   int
	closed   bool
	err      error
	done     chan struct{}
}

type activation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a hub bound to ctx. Canceling ctx stops the upstream and
// terminates every subscriber with context.Cause(ctx).
func New[T any](ctx context.Context, run RunFunc[T], opts Options) *Hub[T] {
	if opts.Replay < 0 {
		opts.Replay = 0
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	h := &Hub[T]{
		run:    run,
		opts:   opts,
		parent: ctx,
		subs:   make(map[*Subscriber[T]]struct{}),
		done:   make(chan struct{}),
	}
	context.AfterFunc(ctx, func() { h.close(context.Cause(ctx)) })

	if opts.Policy == Eagerly {
		h.mu.Lock()
		h.startLocked()
		h.mu.Unlock()
	}
	return h
}

// Subscribe attaches a new subscriber. It receives the current replay buffer
// followed by every value published after it attached.
func (h *Hub[T]) Subscribe() *Subscriber[T] {
	s := &Subscriber[T]{
		hub:    h,
		out:    make(chan T, h.opts.Buffer),
		live:   make(chan T),
		gone:   make(chan struct{}),
		term:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		s.err = h.err
		close(s.term)
		h.mu.Unlock()
		go s.forward(nil)
		return s
	}
	replay := append([]T(nil), h.replay...)
	h.subs[s] = struct{}{}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
		h.timerSeq++
	}
	if h.opts.Policy != Eagerly {
		h.startLocked()
	}
	h.mu.Unlock()

	go s.forward(replay)
	return s
}

// Subscribers returns the number of attached subscribers.
func (h *Hub[T]) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Activations returns how many times the upstream has been started.
func (h *Hub[T]) Activations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}

// Active reports whether an upstream activation is currently running.
func (h *Hub[T]) Active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil
}

// Done is closed once the hub is terminated.
func (h *Hub[T]) Done() <-chan struct{} {
	return h.done
}

// Err returns the terminal error, or nil while the hub is open.
func (h *Hub[T]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the most recent activation has fully returned.
func (h *Hub[T]) Wait() {
	h.mu.Lock()
	last := h.last
	h.mu.Unlock()
	if last != nil {
		<-last.done
	}
}

func (h *Hub[T]) startLocked() {
	if h.closed || h.active != nil {
		return
	}
	ctx, cancel := context.WithCancel(h.parent)
	a := &activation{cancel: cancel, done: make(chan struct{})}
	prev := h.last
	h.active, h.last = a, a
	h.starts++

	go func() {
		defer close(a.done)
		defer cancel()
		// Activations never overlap.
		if prev != nil {
			<-prev.done
		}
		if ctx.Err() != nil {
			h.finish(ctx, a, nil)
			return
		}
		err := h.run(ctx, func(v T) error { return h.publish(ctx, a, v) })
		h.finish(ctx, a, err)
	}()
}

func (h *Hub[T]) stopLocked() {
	if h.active != nil {
		h.active.cancel()
		h.active = nil
	}
	h.replay = nil
}

func (h *Hub[T]) publish(ctx context.Context, a *activation, v T) error {
	h.mu.Lock()
	if h.active != a || h.closed {
		h.mu.Unlock()
		return ErrInactive
	}
	if n := h.opts.Replay; n > 0 {
		if len(h.replay) < n {
			h.replay = append(h.replay, v)
		} else {
			copy(h.replay, h.replay[1:])
			h.replay[n-1] = v
		}
	}
	subs := make([]*Subscriber[T], 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		select {
		case s.live <- v:
		case <-s.gone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (h *Hub[T]) finish(ctx context.Context, a *activation, err error) {
	h.mu.Lock()
	if h.active == a {
		h.active = nil
	}
	stopped := ctx.Err() != nil &&
		(err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	if h.closed || stopped {
		h.mu.Unlock()
		return
	}
	notify := h.terminateLocked(err)
	h.mu.Unlock()
	notify()
}

func (h *Hub[T]) detach(s *Subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	if len(h.subs) > 0 || h.opts.Policy != WhileSubscribed || h.active == nil || h.closed {
		return
	}
	if h.opts.StopDelay <= 0 {
		h.stopLocked()
		return
	}
	h.timerSeq++
	seq := h.timerSeq
	h.timer = time.AfterFunc(h.opts.StopDelay, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.timerSeq != seq || len(h.subs) > 0 || h.closed {
			return
		}
		h.timer = nil
		h.stopLocked()
	})
}

func (h *Hub[T]) close(cause error) {
	h.mu.Lock()
	notify := h.terminateLocked(cause)
	h.mu.Unlock()
	notify()
}

func (h *Hub[T]) terminateLocked(err error) func() {
	if h.closed {
		return func() {}
	}
	h.closed = true
	h.err = err
	for s := range h.subs {
		s.terminate(err)
	}
	clear(h.subs)
	if h.active != nil {
		h.active.cancel()
		h.active = nil
	}
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	close(h.done)

	return func() {
		if h.opts.OnClose != nil {
			h.opts.OnClose(err)
		}
	}
}

// Subscriber is one attachment to a Hub.
type Subscriber[T any] struct {
	hub    *Hub[T]
	out    chan T
	live   chan T
	gone   chan struct{}
	term   chan struct{}
	exited chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

// C returns the delivery channel. It is closed after Close or when the hub
// terminates; in the latter case Err reports why.
func (s *Subscriber[T]) C() <-chan T {
	return s.out
}

// Done is closed once C has been closed.
func (s *Subscriber[T]) Done() <-chan struct{} {
	return s.exited
}

// Err returns the hub's terminal error once the subscriber has been terminated.
func (s *Subscriber[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscriber. Safe to call multiple times.
func (s *Subscriber[T]) Close() {
	s.once.Do(func() {
		close(s.gone)
		s.hub.detach(s)
	})
}

func (s *Subscriber[T]) terminate(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.term)
}

func (s *Subscriber[T]) forward(replay []T) {
	defer close(s.exited)
	defer close(s.out)

	for _, v := range replay {
		if !s.send(v) {
			return
		}
	}
	for {
		select {
		case v := <-s.live:
			if !s.send(v) {
				return
			}
		case <-s.term:
			return
		case <-s.gone:
			return
		}
	}
}

func (s *Subscriber[T]) send(v T) bool {
	select {
	case s.out <- v:
		return true
	case <-s.gone:
		return false
	}
}
