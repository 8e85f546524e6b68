package extensibility

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/comalice/teax"
)

// ErrUnroutedCommand is returned by Router for commands without a handler.
var ErrUnroutedCommand = errors.New("command not registered")

// Router dispatches commands to per-command resolvers.
type Router[M any, C comparable] struct {
	mu       sync.RWMutex
	handlers map[C]teax.Resolver[M, C]
	fallback teax.Resolver[M, C]
	key      func(C) C
}

// NewRouter creates an empty Router.
func NewRouter[M any, C comparable]() *Router[M, C] {
	return &Router[M, C]{handlers: make(map[C]teax.Resolver[M, C])}
}

// Handle registers r for cmd, replacing any previous handler.
func (rt *Router[M, C]) Handle(cmd C, r teax.Resolver[M, C]) *Router[M, C] {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.handlers[cmd] = r
	return rt
}

// RouteBy makes the router look handlers up by key(cmd) instead of cmd, so
// commands that carry data can share a handler. Handlers still receive the
// original command.
func (rt *Router[M, C]) RouteBy(key func(C) C) *Router[M, C] {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.key = key
	return rt
}

// Fallback registers r for every command without a handler.
func (rt *Router[M, C]) Fallback(r teax.Resolver[M, C]) *Router[M, C] {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.fallback = r
	return rt
}

// Resolve implements teax.Resolver.
func (rt *Router[M, C]) Resolve(rc *teax.ResolveContext[M], cmd C) error {
	rt.mu.RLock()
	route := cmd
	if rt.key != nil {
		route = rt.key(cmd)
	}
	r, ok := rt.handlers[route]
	if !ok {
		r = rt.fallback
	}
	rt.mu.RUnlock()
	if r == nil {
		return fmt.Errorf("%w: %v", ErrUnroutedCommand, cmd)
	}
	return r(rc, cmd)
}

// Logging wraps a resolver and adds logging around execution.
func Logging[M any, C comparable](inner teax.Resolver[M, C], log *slog.Logger) teax.Resolver[M, C] {
	if log == nil {
		log = slog.Default()
	}
	return func(rc *teax.ResolveContext[M], cmd C) error {
		log.Debug("resolving command", slog.Any("command", cmd))
		start := time.Now()
		err := inner(rc, cmd)
		if err != nil {
			log.Warn("command failed",
				slog.Any("command", cmd),
				slog.Duration("elapsed", time.Since(start)),
				slog.Any("error", err))
			return err
		}
		log.Debug("command resolved", slog.Any("command", cmd), slog.Duration("elapsed", time.Since(start)))
		return nil
	}
}
