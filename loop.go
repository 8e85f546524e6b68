package teax

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/comalice/teax/internal/broadcast"
)

// runtime owns one logical component: its environment, the shared input
// queue and the broadcast hub that multicasts snapshots.
type runtime[M, S any, C comparable] struct {
	source   InitialSource[S, C]
	resolver Resolver[M, C]
	updater  Updater[M, S, C]
	cfg      config

	// messages is the single serialization point for external and resolved
	// messages. It outlives activations; generations never overlap, so a
	// message is only ever consumed by the live loop.
	messages chan M
	hub      *broadcast.Hub[Snapshot[M, S, C]]

	// pending holds messages a retiring loop had already taken from
	// messages. The next loop consumes them before reading the queue.
	pendingMu sync.Mutex
	pending   []M

	scope  context.Context
	cancel context.CancelCauseFunc
}

// activate runs one activation of the shared stream: it consumes the initial
// source and drives one generation per Initial.
func (r *runtime[M, S, C]) activate(ctx context.Context, emit func(Snapshot[M, S, C]) error) error {
	id := uuid.NewString()
	log := r.cfg.logger.With(slog.String("activation", id))
	r.cfg.observers.ActivationStarted(ctx, id)
	log.Info("activation started", slog.String("start", r.cfg.share.Start.String()))

	outer, octx := errgroup.WithContext(ctx)
	outer.Go(func() error {
		var current *generation[M, S, C]
		err := r.source.Initials(octx, func(boot Initial[S, C]) error {
			if current != nil {
				log.Debug("initial replaced, stopping previous generation")
				if err := current.stop(); err != nil {
					return err
				}
			}
			if err := octx.Err(); err != nil {
				return err
			}
			current = r.startGeneration(octx, id, log, boot, emit)
			outer.Go(current.wait)
			return nil
		})
		switch {
		case err == nil:
			return nil
		case octx.Err() != nil && isContextErr(err):
			return nil
		case isFailure(err):
			return err
		default:
			return &InitializationError{Err: err}
		}
	})

	err := outer.Wait()
	if err != nil && ctx.Err() != nil && isContextErr(err) {
		err = nil
	}
	r.cfg.observers.ActivationStopped(ctx, id, err)
	if err != nil {
		log.Error("activation failed", slog.Any("error", err))
	} else {
		log.Info("activation stopped")
	}
	return err
}

// generation is the computation loop for one Initial plus every resolver task
// it dispatched.
type generation[M, S any, C comparable] struct {
	rt       *runtime[M, S, C]
	id       string
	log      *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopping atomic.Bool
	tasks    atomic.Int64
	done     chan struct{}
	err      error
}

func (r *runtime[M, S, C]) startGeneration(
	parent context.Context,
	id string,
	log *slog.Logger,
	boot Initial[S, C],
	emit func(Snapshot[M, S, C]) error,
) *generation[M, S, C] {
	base, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(base)
	g := &generation[M, S, C]{
		rt:     r,
		id:     id,
		log:    log,
		ctx:    gctx,
		cancel: cancel,
		group:  group,
		done:   make(chan struct{}),
	}
	group.Go(func() error { return g.loop(boot, emit) })
	return g
}

// stop cancels the generation and waits for the loop and all of its tasks.
func (g *generation[M, S, C]) stop() error {
	g.stopping.Store(true)
	g.cancel()
	<-g.done
	return g.err
}

func (g *generation[M, S, C]) wait() error {
	err := g.group.Wait()
	g.cancel()
	if err != nil && isContextErr(err) && (g.stopping.Load() || g.ctx.Err() != nil) && !isFailure(err) {
		err = nil
	}
	g.err = err
	close(g.done)
	return err
}

// loop is the single consumer of the input queue and the only owner of the
// current state. A message it has taken is never dropped: if the generation
// is canceled before the message is published, it is parked for the next
// loop.
func (g *generation[M, S, C]) loop(boot Initial[S, C], emit func(Snapshot[M, S, C]) error) error {
	r := g.rt
	state := boot.State
	if !g.publish(NewInitial[M](boot.State, boot.Commands), emit) {
		return nil
	}
	g.dispatch(boot.Commands)

	backlog := r.takePending()
	for {
		if g.ctx.Err() != nil {
			r.park(backlog...)
			return nil
		}
		var msg M
		if len(backlog) > 0 {
			msg, backlog = backlog[0], backlog[1:]
		} else {
			select {
			case <-g.ctx.Done():
				continue
			case msg = <-r.messages:
			}
			if g.ctx.Err() != nil {
				r.park(msg)
				return nil
			}
		}
		upd, err := g.update(msg, state)
		if err != nil {
			return &TransitionError{Message: msg, Err: err}
		}
		if !g.publish(NewRegular(upd.State, upd.Commands, state, msg), emit) {
			r.park(msg)
			r.park(backlog...)
			return nil
		}
		state = upd.State
		g.dispatch(upd.Commands)
	}
}

func (r *runtime[M, S, C]) park(msgs ...M) {
	if len(msgs) == 0 {
		return
	}
	r.pendingMu.Lock()
	r.pending = append(r.pending, msgs...)
	r.pendingMu.Unlock()
}

func (r *runtime[M, S, C]) takePending() []M {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	msgs := r.pending
	r.pending = nil
	return msgs
}

func (g *generation[M, S, C]) update(msg M, state S) (upd Update[S, C], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
		}
	}()
	return g.rt.updater(msg, state)
}

func (g *generation[M, S, C]) publish(snap Snapshot[M, S, C], emit func(Snapshot[M, S, C]) error) bool {
	if err := emit(snap); err != nil {
		// The hub only refuses values once this activation is torn down.
		return false
	}
	g.rt.cfg.observers.SnapshotEmitted(g.ctx, g.id, snap.Kind)
	return true
}

// dispatch starts one independent task per command; the loop does not wait.
func (g *generation[M, S, C]) dispatch(cmds Commands[C]) {
	for _, cmd := range cmds {
		g.spawn(cmd, func(rc *ResolveContext[M]) error {
			return g.rt.resolver(rc, cmd)
		})
	}
}

func (g *generation[M, S, C]) spawn(cmd C, job func(*ResolveContext[M]) error) {
	n := g.tasks.Add(1)
	g.log.Debug("resolution started", slog.Any("command", cmd), slog.Int64("tasks", n))
	g.group.Go(func() error {
		defer g.tasks.Add(-1)
		return g.resolve(cmd, job)
	})
}

func (g *generation[M, S, C]) resolve(cmd C, job func(*ResolveContext[M]) error) (err error) {
	r := g.rt
	ctx := r.cfg.observers.ResolutionStarted(g.ctx, g.id, cmd)
	rc := newResolveContext(ctx, r.messages, func(child func(*ResolveContext[M]) error) {
		g.spawn(cmd, child)
	})
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = recovered(p)
		}
		rc.release()
		r.cfg.observers.ResolutionFinished(ctx, g.id, time.Since(start), err)
		if err == nil {
			return
		}
		if g.ctx.Err() != nil && isContextErr(err) {
			err = nil
			return
		}
		var re *ResolutionError
		if !errors.As(err, &re) {
			err = &ResolutionError{Command: cmd, Err: err}
		}
	}()
	return job(rc)
}
