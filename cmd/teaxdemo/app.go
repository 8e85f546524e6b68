package main

import (
	"context"
	"log/slog"

	"github.com/comalice/teax"
	"github.com/comalice/teax/internal/extensibility"
	"github.com/comalice/teax/internal/production"
)

// Counter is the demo state. It survives restarts through the store.
type Counter struct {
	Count int `json:"count" yaml:"count"`
	Saves int `json:"saves" yaml:"saves"`
}

// Msg is the demo message type.
type Msg struct {
	Kind string // "tick" or "reset"
	N    int
}

// Command kinds understood by the demo resolver.
const (
	CmdSave  = "save"
	CmdReset = "reset"
)

// Cmd asks the resolver to persist State, the counter as of the update that
// issued it.
type Cmd struct {
	Kind  string
	State Counter
}

func cmdKind(c Cmd) Cmd { return Cmd{Kind: c.Kind} }

// update applies one message. Every fifth tick is persisted; the save is
// counted in the persisted state itself.
func update(m Msg, s Counter) (teax.Update[Counter, Cmd], error) {
	switch m.Kind {
	case "tick":
		s.Count += m.N
		if s.Count%5 == 0 {
			s.Saves++
			return teax.Next(s, Cmd{Kind: CmdSave, State: s}), nil
		}
	case "reset":
		return teax.Next(Counter{}, Cmd{Kind: CmdReset}), nil
	}
	return teax.Next[Counter, Cmd](s), nil
}

// App wires the counter component to its store.
type App struct {
	comp *teax.Component[Msg, Counter, Cmd]
}

// NewApp starts the counter component. The initial state is restored from
// store under key.
func NewApp(ctx context.Context, store production.Store[Counter], key string, log *slog.Logger, opts ...teax.Option) (*App, error) {
	save := func(rc *teax.ResolveContext[Msg], c Cmd) error {
		return store.Save(rc.Context(), key, c.State)
	}
	router := extensibility.NewRouter[Msg, Cmd]().
		RouteBy(cmdKind).
		Handle(Cmd{Kind: CmdSave}, save).
		Handle(Cmd{Kind: CmdReset}, save)

	comp, err := teax.RunComponent(ctx,
		production.Restore[Counter, Cmd](store, key, Counter{}),
		extensibility.Logging(router.Resolve, log),
		extensibility.Guard(positiveTicks, update),
		append([]teax.Option{teax.WithLogger(log), teax.WithStartPolicy(teax.StartLazily)}, opts...)...,
	)
	if err != nil {
		return nil, err
	}
	return &App{comp: comp}, nil
}

// Component returns the running counter.
func (a *App) Component() *teax.Component[Msg, Counter, Cmd] {
	return a.comp
}

func positiveTicks(m Msg, _ Counter) bool {
	return m.Kind != "tick" || m.N > 0
}
