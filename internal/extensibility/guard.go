package extensibility

import "github.com/comalice/teax"

// GuardFunc decides whether msg may change state.
type GuardFunc[M, S any] func(msg M, state S) bool

// Guard wraps an updater so that messages rejected by guard leave the state
// unchanged and dispatch no commands. A rejected message still yields a
// snapshot. A nil guard admits everything.
func Guard[M, S any, C comparable](guard GuardFunc[M, S], updater teax.Updater[M, S, C]) teax.Updater[M, S, C] {
	if guard == nil {
		return updater
	}
	return func(msg M, state S) (teax.Update[S, C], error) {
		if !guard(msg, state) {
			return teax.Next[S, C](state), nil
		}
		return updater(msg, state)
	}
}

// All admits a message only if every guard does.
func All[M, S any](guards ...GuardFunc[M, S]) GuardFunc[M, S] {
	return func(msg M, state S) bool {
		for _, g := range guards {
			if g != nil && !g(msg, state) {
				return false
			}
		}
		return true
	}
}

// Not inverts g.
func Not[M, S any](g GuardFunc[M, S]) GuardFunc[M, S] {
	return func(msg M, state S) bool {
		return !g(msg, state)
	}
}
