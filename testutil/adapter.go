// Package testutil provides helpers for testing teax components: snapshot
// recording, bounded collection and running one test body under every share
// policy.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comalice/teax"
)

// DefaultTimeout bounds every blocking helper in this package.
const DefaultTimeout = 2 * time.Second

// Policy names one share configuration for table-driven tests.
type Policy struct {
	Name  string
	Share teax.ShareOptions
}

// Policies covers each start policy with the latest snapshot replayed, so a
// subscriber attaching after activation still observes the Initial snapshot.
var Policies = []Policy{
	{Name: "WhileSubscribed", Share: teax.ShareOptions{Start: teax.StartWhileSubscribed, Replay: 1}},
	{Name: "Lazily", Share: teax.ShareOptions{Start: teax.StartLazily, Replay: 1}},
	{Name: "Eagerly", Share: teax.ShareOptions{Start: teax.StartEagerly, Replay: 1}},
}

// ForEachPolicy runs body once per entry of Policies as a subtest.
func ForEachPolicy(t *testing.T, body func(t *testing.T, share teax.ShareOptions)) {
	t.Helper()
	for _, p := range Policies {
		t.Run(p.Name, func(t *testing.T) {
			body(t, p.Share)
		})
	}
}

// Collect receives exactly n values from s or fails the test.
func Collect[T any](t testing.TB, s *teax.Stream[T], n int) []T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	got, err := s.Collect(ctx, n)
	require.NoError(t, err, "collected %d of %d values", len(got), n)
	return got
}

// Drain receives until s ends and returns the values with the terminal error.
func Drain[T any](t testing.TB, s *teax.Stream[T]) ([]T, error) {
	t.Helper()
	timeout := time.After(DefaultTimeout)
	var got []T
	for {
		select {
		case v, ok := <-s.C():
			if !ok {
				return got, s.Err()
			}
			got = append(got, v)
		case <-timeout:
			t.Fatalf("stream did not end, received %d values", len(got))
			return got, nil
		}
	}
}

// Feed returns an unbuffered input channel and a send function that fails
// the test if the runtime does not accept the message in time.
func Feed[M any](t testing.TB) (chan M, func(M)) {
	ch := make(chan M)
	return ch, func(m M) {
		t.Helper()
		select {
		case ch <- m:
		case <-time.After(DefaultTimeout):
			t.Fatalf("message %v not accepted", m)
		}
	}
}

// WaitClosed fails the test unless done is closed in time.
func WaitClosed(t testing.TB, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(DefaultTimeout):
		t.Fatal("timed out waiting for close")
	}
}

// Recorder is an interceptor that keeps every snapshot it sees.
type Recorder[M, S any, C comparable] struct {
	mu    sync.Mutex
	snaps []teax.Snapshot[M, S, C]
}

// NewRecorder creates an empty Recorder.
func NewRecorder[M, S any, C comparable]() *Recorder[M, S, C] {
	return &Recorder[M, S, C]{}
}

// Intercept records s. Its method value is a teax.Interceptor.
func (r *Recorder[M, S, C]) Intercept(s teax.Snapshot[M, S, C]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

// Snapshots returns a copy of the recorded snapshots.
func (r *Recorder[M, S, C]) Snapshots() []teax.Snapshot[M, S, C] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]teax.Snapshot[M, S, C](nil), r.snaps...)
}

// States returns the recorded states in order.
func (r *Recorder[M, S, C]) States() []S {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]S, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.State
	}
	return out
}

// Len returns the number of recorded snapshots.
func (r *Recorder[M, S, C]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

// RequireChained fails the test unless every Regular snapshot's previous
// state equals the state of the snapshot before it.
func RequireChained[M, S any, C comparable](t testing.TB, snaps []teax.Snapshot[M, S, C]) {
	t.Helper()
	for i := 1; i < len(snaps); i++ {
		cur := snaps[i]
		require.Equal(t, teax.KindRegular, cur.Kind, "snapshot %d", i)
		require.Equal(t, snaps[i-1].State, cur.PreviousState, "snapshot %d breaks the chain", i)
	}
}
