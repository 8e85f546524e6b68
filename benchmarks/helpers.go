// Package benchmarks provides shared helpers for benchmark tests.
package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/comalice/teax"
)

// Sum adds every message to the state and requests a countdown of m-1 for
// positive messages above one.
func Sum(m int, s int) (teax.Update[int, int], error) {
	if m > 1 {
		return teax.Next(s+m, m-1), nil
	}
	return teax.Next[int, int](s + m), nil
}

// Countdown resolves command n by emitting n, which Sum turns into n-1 until
// the chain reaches one.
func Countdown(rc *teax.ResolveContext[int], n int) error {
	return rc.Emit(n)
}

// Ignore is a resolver that does nothing.
func Ignore(*teax.ResolveContext[int], int) error { return nil }

// NewCounter starts an int component for the duration of the benchmark.
func NewCounter(b *testing.B, resolver teax.Resolver[int, int], opts ...teax.Option) *teax.Component[int, int, int] {
	b.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := teax.RunComponent(ctx, teax.Pure[int, int](0), resolver, Sum, opts...)
	if err != nil {
		b.Fatalf("RunComponent: %v", err)
	}
	b.Cleanup(func() {
		cancel()
		c.Shutdown()
	})
	return c
}

// Ones returns n messages of value 1.
func Ones(n int) []int {
	msgs := make([]int, n)
	for i := range msgs {
		msgs[i] = 1
	}
	return msgs
}

// GenState creates a map state with n keys for persistence benchmarks.
func GenState(n int) map[string]int {
	s := make(map[string]int, n)
	for i := 0; i < n; i++ {
		s[fmt.Sprintf("key_%d", i)] = i
	}
	return s
}
