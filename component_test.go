package teax_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/comalice/teax"
	"github.com/comalice/teax/testutil"
)

type (
	runeSnapshot = teax.Snapshot[rune, string, rune]
	runeUpdate   = teax.Update[string, rune]
)

func noResolve(*teax.ResolveContext[rune], rune) error { return nil }

func replaceState(m rune, _ string) (runeUpdate, error) {
	return teax.Next[string, rune](string(m)), nil
}

func appendWithCommand(m rune, s string) (runeUpdate, error) {
	return teax.Next(s+string(m), m), nil
}

func newRuneComponent(
	t *testing.T,
	resolver teax.Resolver[rune, rune],
	updater teax.Updater[rune, string, rune],
	opts ...teax.Option,
) *teax.Component[rune, string, rune] {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c, err := teax.RunComponent(ctx, teax.Pure[string, rune](""), resolver, updater, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		c.Shutdown()
	})
	return c
}

func TestComponent_SynchronousResolution(t *testing.T) {
	testutil.ForEachPolicy(t, func(t *testing.T, share teax.ShareOptions) {
		c := newRuneComponent(t, noResolve, replaceState, teax.WithShareOptions(share))

		s := c.Invoke(context.Background(), 'a', 'b', 'c')
		defer s.Close()

		got := testutil.Collect(t, s, 4)
		want := []runeSnapshot{
			teax.NewInitial[rune]("", teax.NoCommand[rune]()),
			teax.NewRegular("a", teax.NoCommand[rune](), "", 'a'),
			teax.NewRegular("b", teax.NoCommand[rune](), "a", 'b'),
			teax.NewRegular("c", teax.NoCommand[rune](), "b", 'c'),
		}
		assert.Equal(t, want, got)
	})
}

func TestComponent_CommandTriggeredMessages(t *testing.T) {
	resolver := func(rc *teax.ResolveContext[rune], cmd rune) error {
		if cmd == 'a' {
			return rc.Emit('b', 'c', 'd')
		}
		return nil
	}
	c := newRuneComponent(t, resolver, appendWithCommand)

	s := c.Invoke(context.Background(), 'a')
	defer s.Close()

	got := testutil.Collect(t, s, 3)
	assert.Equal(t, []runeSnapshot{
		teax.NewInitial[rune]("", teax.NoCommand[rune]()),
		teax.NewRegular("a", teax.Command('a'), "", 'a'),
		teax.NewRegular("ab", teax.Command('b'), "a", 'b'),
	}, got)

	rest := testutil.Collect(t, s, 2)
	testutil.RequireChained(t, append(got, rest...))
	assert.Len(t, rest[1].State, 4)
}

func TestComponent_CausalChaining(t *testing.T) {
	// Every positive message m resolves to m-1 until zero.
	resolver := func(rc *teax.ResolveContext[int], cmd int) error {
		return rc.Emit(cmd - 1)
	}
	updater := func(m int, s int) (teax.Update[int, int], error) {
		if m > 0 {
			return teax.Next(s+m, m), nil
		}
		return teax.Next[int, int](s), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, teax.Pure[int, int](0), resolver, updater)
	require.NoError(t, err)
	defer c.Shutdown()

	msgs := make([]int, 0, 20)
	total, want := 0, 0
	for m := 1; m <= 20; m++ {
		msgs = append(msgs, m)
		total += m + 1
		want += m * (m + 1) / 2
	}

	s := c.Invoke(ctx, msgs...)
	defer s.Close()
	got := testutil.Collect(t, s, total+1)

	require.True(t, got[0].IsInitial())
	testutil.RequireChained(t, got)
	assert.Equal(t, want, got[len(got)-1].State)
}

func TestComponent_SingleInitializationUnderSharing(t *testing.T) {
	var calls atomic.Int32
	boot := teax.Initializer[string, rune](func(ctx context.Context) (teax.Initial[string, rune], error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return teax.Start[string, rune]("init"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, boot, noResolve, replaceState)
	require.NoError(t, err)
	defer c.Shutdown()

	const subscribers = 16
	var wg sync.WaitGroup
	streams := make([]*teax.Stream[runeSnapshot], subscribers)
	for i := range streams {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			streams[i] = c.Subscribe(ctx, nil)
		}(i)
	}
	wg.Wait()

	for _, s := range streams {
		got := testutil.Collect(t, s, 1)
		assert.Equal(t, "init", got[0].State)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Activations())

	for _, s := range streams {
		s.Close()
	}
}

func TestComponent_SubscribersObserveSameSequence(t *testing.T) {
	resolver := func(rc *teax.ResolveContext[rune], cmd rune) error {
		if cmd >= 'a' && cmd < 'e' {
			return rc.Emit(cmd + 'A' - 'a')
		}
		return nil
	}
	c := newRuneComponent(t, resolver, appendWithCommand, teax.WithSubscriberBuffer(16))

	in, send := testutil.Feed[rune](t)
	first := c.Subscribe(context.Background(), in)
	defer first.Close()
	second := c.Subscribe(context.Background(), nil)
	defer second.Close()

	a := testutil.Collect(t, first, 1)
	b := testutil.Collect(t, second, 1)

	for _, m := range "abcd" {
		send(m)
	}
	a = append(a, testutil.Collect(t, first, 8)...)
	b = append(b, testutil.Collect(t, second, 8)...)

	assert.Equal(t, a, b)
	testutil.RequireChained(t, a)
}

func TestComponent_UpdaterFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	updater := func(m rune, s string) (runeUpdate, error) {
		if m == 'x' {
			return runeUpdate{}, boom
		}
		return teax.Next[string, rune](s + string(m)), nil
	}
	c := newRuneComponent(t, noResolve, updater)

	s := c.Invoke(context.Background(), 'a', 'x', 'b')
	got, err := testutil.Drain(t, s)

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[1].State)

	var te *teax.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 'x', te.Message)
	assert.ErrorIs(t, err, boom)

	testutil.WaitClosed(t, c.Done())
	assert.ErrorIs(t, c.Err(), boom)

	// Late subscribers observe the same terminal failure.
	late, lateErr := testutil.Drain(t, c.Subscribe(context.Background(), nil))
	assert.Empty(t, late)
	assert.ErrorIs(t, lateErr, boom)
}

func TestComponent_UpdaterPanicIsFatal(t *testing.T) {
	updater := func(m rune, s string) (runeUpdate, error) {
		panic("bad message")
	}
	c := newRuneComponent(t, noResolve, updater)

	_, err := testutil.Drain(t, c.Invoke(context.Background(), 'a'))

	var pe *teax.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad message", pe.Value)
	var te *teax.TransitionError
	assert.ErrorAs(t, err, &te)
}

func TestComponent_ResolverFailureIsFatal(t *testing.T) {
	boom := errors.New("resolver down")
	resolver := func(rc *teax.ResolveContext[rune], cmd rune) error {
		if cmd == 'b' {
			return boom
		}
		return nil
	}
	c := newRuneComponent(t, resolver, appendWithCommand)

	in, send := testutil.Feed[rune](t)
	s := c.Subscribe(context.Background(), in)
	testutil.Collect(t, s, 1)
	send('a')
	send('b')

	_, err := testutil.Drain(t, s)
	var re *teax.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 'b', re.Command)
	assert.ErrorIs(t, err, boom)
	testutil.WaitClosed(t, c.Done())
}

func TestComponent_JobFailureIsFatal(t *testing.T) {
	boom := errors.New("connection lost")
	resolver := func(rc *teax.ResolveContext[rune], cmd rune) error {
		return rc.Go(func(job *teax.ResolveContext[rune]) error {
			return boom
		})
	}
	c := newRuneComponent(t, resolver, appendWithCommand)

	_, err := testutil.Drain(t, c.Invoke(context.Background(), 'a'))
	var re *teax.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.ErrorIs(t, err, boom)
}

func TestComponent_InitializerFailureIsFatal(t *testing.T) {
	boom := errors.New("no settings")
	boot := teax.Initializer[string, rune](func(context.Context) (teax.Initial[string, rune], error) {
		return teax.Initial[string, rune]{}, boom
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, boot, noResolve, replaceState)
	require.NoError(t, err)

	got, err := testutil.Drain(t, c.Subscribe(ctx, nil))
	assert.Empty(t, got)
	var ie *teax.InitializationError
	require.ErrorAs(t, err, &ie)
	assert.ErrorIs(t, err, boom)
}

func TestComponent_TeardownCancelsOutstandingResolution(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan struct{})
	emitErr := make(chan error, 1)
	resolver := func(rc *teax.ResolveContext[string], cmd string) error {
		if cmd != "connect" {
			return nil
		}
		return rc.Go(func(job *teax.ResolveContext[string]) error {
			close(started)
			<-job.Context().Done()
			emitErr <- job.Emit("late")
			return nil
		})
	}
	updater := func(m string, s string) (teax.Update[string, string], error) {
		return teax.Next(m, m), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, teax.Pure[string, string]("idle"), resolver, updater)
	require.NoError(t, err)

	rec := testutil.NewRecorder[string, string, string]()
	s := c.WithInterceptor(rec.Intercept).Invoke(ctx, "connect")
	testutil.Collect(t, s, 2)
	testutil.WaitClosed(t, started)

	c.Shutdown()

	select {
	case err := <-emitErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testutil.DefaultTimeout):
		t.Fatal("job was not canceled")
	}

	rest, err := testutil.Drain(t, s)
	assert.Empty(t, rest)
	assert.ErrorIs(t, err, teax.ErrComponentStopped)
	assert.ErrorIs(t, c.Err(), teax.ErrComponentStopped)
	assert.Equal(t, []string{"idle", "connect"}, rec.States())
	assert.False(t, c.Active())
}

func TestComponent_ParentCancelStopsRuntime(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, err := teax.RunComponent(ctx, teax.Pure[string, rune](""), noResolve, replaceState)
	require.NoError(t, err)

	s := c.Subscribe(context.Background(), nil)
	testutil.Collect(t, s, 1)

	cancel()
	_, err = testutil.Drain(t, s)
	assert.ErrorIs(t, err, context.Canceled)
	testutil.WaitClosed(t, c.Done())
}

func TestComponent_HotSwapCancelsPreviousGeneration(t *testing.T) {
	initials := make(chan teax.Initial[string, string])
	oldCanceled := make(chan struct{})
	resolver := func(rc *teax.ResolveContext[string], cmd string) error {
		if cmd == "watch-one" {
			<-rc.Context().Done()
			close(oldCanceled)
		}
		return nil
	}
	updater := func(m string, s string) (teax.Update[string, string], error) {
		return teax.Next[string, string](s + m), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent[string, string, string](ctx, teax.InitialStream[string, string](initials), resolver, updater)
	require.NoError(t, err)
	defer c.Shutdown()

	in, send := testutil.Feed[string](t)
	s := c.Subscribe(ctx, in)
	defer s.Close()

	initials <- teax.Start("one", "watch-one")
	first := testutil.Collect(t, s, 1)[0]
	assert.True(t, first.IsInitial())
	assert.Equal(t, "one", first.State)

	initials <- teax.Start[string, string]("two")
	second := testutil.Collect(t, s, 1)[0]
	assert.True(t, second.IsInitial())
	assert.Equal(t, "two", second.State)

	select {
	case <-oldCanceled:
	default:
		t.Fatal("previous generation still running when the new Initial was published")
	}

	send("!")
	third := testutil.Collect(t, s, 1)[0]
	assert.Equal(t, teax.NewRegular("two!", teax.NoCommand[string](), "two", "!"), third)
	assert.Equal(t, 1, c.Activations())
}

func TestComponent_HotSwapKeepsAcceptedMessages(t *testing.T) {
	// The retiring loop races the queue against its cancellation; repeat to
	// exercise both outcomes.
	for i := 0; i < 20; i++ {
		hotSwapWithQueuedMessage(t)
	}
}

func hotSwapWithQueuedMessage(t *testing.T) {
	t.Helper()
	initials := make(chan teax.Initial[string, string])
	canceled := make(chan struct{})
	entered := make(chan struct{})
	release := make(chan struct{})
	resolver := func(rc *teax.ResolveContext[string], cmd string) error {
		if cmd == "watch" {
			<-rc.Context().Done()
			close(canceled)
		}
		return nil
	}
	updater := func(m string, s string) (teax.Update[string, string], error) {
		if m == "x" {
			close(entered)
			<-release
		}
		return teax.Next[string, string](s + m), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent[string, string, string](ctx, teax.InitialStream[string, string](initials), resolver, updater,
		teax.WithSubscriberBuffer(16))
	require.NoError(t, err)
	defer c.Shutdown()

	in, send := testutil.Feed[string](t)
	s := c.Subscribe(ctx, in)
	defer s.Close()

	initials <- teax.Start("one", "watch")
	require.Equal(t, "one", testutil.Collect(t, s, 1)[0].State)

	send("x")
	testutil.WaitClosed(t, entered)
	initials <- teax.Start[string, string]("two")
	testutil.WaitClosed(t, canceled)

	// y is accepted while the first generation is still busy with x.
	send("y")
	close(release)

	got := testutil.Collect(t, s, 3)
	assert.Equal(t, "onex", got[0].State)
	assert.True(t, got[1].IsInitial())
	assert.Equal(t, "two", got[1].State)
	assert.Equal(t, teax.NewRegular("twoy", teax.NoCommand[string](), "two", "y"), got[2])
}

func TestComponent_RestartKeepsAcceptedMessage(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	updater := func(m rune, s string) (runeUpdate, error) {
		if m == 'x' {
			close(entered)
			<-release
		}
		return teax.Next[string, rune](s + string(m)), nil
	}
	c := newRuneComponent(t, noResolve, updater, teax.WithMessageBuffer(4))
	ctx := context.Background()

	in, send := testutil.Feed[rune](t)
	first := c.Subscribe(ctx, in)
	testutil.Collect(t, first, 1)
	send('x')
	testutil.WaitClosed(t, entered)

	// The last subscriber leaves while x is being applied, so its snapshot
	// cannot be published by this activation.
	first.Close()
	close(release)

	second := c.Subscribe(ctx, nil)
	defer second.Close()
	got := testutil.Collect(t, second, 2)
	assert.Equal(t, teax.NewInitial[rune]("", teax.NoCommand[rune]()), got[0])
	assert.Equal(t, teax.NewRegular("x", teax.NoCommand[rune](), "", 'x'), got[1])
}

func TestComponent_WhileSubscribedReinitializes(t *testing.T) {
	var calls atomic.Int32
	boot := teax.Initializer[string, rune](func(context.Context) (teax.Initial[string, rune], error) {
		calls.Add(1)
		return teax.Start[string, rune]("fresh"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, boot, noResolve, replaceState)
	require.NoError(t, err)
	defer c.Shutdown()

	s := c.Invoke(ctx, 'a')
	testutil.Collect(t, s, 2)
	s.Close()
	require.Eventually(t, func() bool { return !c.Active() }, time.Second, 5*time.Millisecond)

	again := c.Subscribe(ctx, nil)
	defer again.Close()
	got := testutil.Collect(t, again, 1)
	assert.Equal(t, teax.NewInitial[rune]("fresh", teax.NoCommand[rune]()), got[0])
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, c.Activations())
}

func TestComponent_LazilyKeepsState(t *testing.T) {
	c := newRuneComponent(t, noResolve, replaceState, teax.WithStartPolicy(teax.StartLazily))

	s := c.Invoke(context.Background(), 'a')
	testutil.Collect(t, s, 2)
	s.Close()

	late := c.Subscribe(context.Background(), nil)
	defer late.Close()
	got := testutil.Collect(t, late, 1)
	assert.Equal(t, "a", got[0].State)
	assert.Equal(t, 1, c.Activations())
}

func TestComponent_EagerInitializesWithoutSubscribers(t *testing.T) {
	initialized := make(chan struct{})
	boot := teax.Initializer[string, rune](func(context.Context) (teax.Initial[string, rune], error) {
		close(initialized)
		return teax.Start[string, rune]("eager"), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, err := teax.RunComponent(ctx, boot, noResolve, replaceState, teax.WithStartPolicy(teax.StartEagerly))
	require.NoError(t, err)
	defer c.Shutdown()

	testutil.WaitClosed(t, initialized)
}

func TestComponent_ReplayCount(t *testing.T) {
	c := newRuneComponent(t, noResolve, replaceState, teax.WithShareOptions(teax.ShareOptions{
		Start:  teax.StartLazily,
		Replay: 2,
	}))

	s := c.Invoke(context.Background(), 'a', 'b')
	defer s.Close()
	testutil.Collect(t, s, 3)

	late := c.Subscribe(context.Background(), nil)
	defer late.Close()
	got := testutil.Collect(t, late, 2)
	assert.Equal(t, "a", got[0].State)
	assert.Equal(t, "b", got[1].State)
}

func TestComponent_Projections(t *testing.T) {
	c := newRuneComponent(t, noResolve, appendWithCommand, teax.WithStartPolicy(teax.StartLazily))

	states := c.ToStates(context.Background(), testChan('a', 'b'))
	assert.Equal(t, []string{"", "a", "ab"}, testutil.Collect(t, states, 3))
	states.Close()

	cmds := c.ToCommands(context.Background(), testChan('c'))
	defer cmds.Close()
	got := testutil.Collect(t, cmds, 2)
	assert.True(t, got[1].Equal(teax.Command('c')))
}

func TestComponent_InterceptorSeesCopies(t *testing.T) {
	c := newRuneComponent(t, noResolve, appendWithCommand)

	rec := testutil.NewRecorder[rune, string, rune]()
	view := c.WithInterceptor(func(s runeSnapshot) {
		if len(s.Commands) > 0 {
			s.Commands[0] = 'z'
		}
	}).WithInterceptor(rec.Intercept)

	s := view.Invoke(context.Background(), 'a')
	defer s.Close()
	got := testutil.Collect(t, s, 2)

	assert.Equal(t, teax.Command('a'), got[1].Commands)
	require.Equal(t, 2, rec.Len())
	assert.Equal(t, teax.Command('a'), rec.Snapshots()[1].Commands)
}

func TestComponent_ConnectFeedsSharedRuntime(t *testing.T) {
	c := newRuneComponent(t, noResolve, appendWithCommand)

	watch := c.ToStates(context.Background(), nil)
	defer watch.Close()
	testutil.Collect(t, watch, 1)

	in, send := testutil.Feed[rune](t)
	h := c.Connect(context.Background(), in)
	send('x')
	send('y')
	assert.Equal(t, []string{"x", "xy"}, testutil.Collect(t, watch, 2))

	h.Cancel()
	assert.NoError(t, h.Wait())
}

func TestComponent_ResolveContextReleased(t *testing.T) {
	leaked := make(chan *teax.ResolveContext[rune], 1)
	resolver := func(rc *teax.ResolveContext[rune], cmd rune) error {
		leaked <- rc
		return nil
	}
	c := newRuneComponent(t, resolver, appendWithCommand)

	s := c.Invoke(context.Background(), 'a')
	defer s.Close()
	testutil.Collect(t, s, 2)

	rc := <-leaked
	require.Eventually(t, func() bool {
		return errors.Is(rc.Go(func(*teax.ResolveContext[rune]) error { return nil }), teax.ErrResolveContextReleased)
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, rc.Emit('b'), teax.ErrResolveContextReleased)
}

func TestRunComponent_InvalidOptions(t *testing.T) {
	ctx := context.Background()

	_, err := teax.RunComponent[rune, string, rune](ctx, teax.Pure[string, rune](""), noResolve, nil)
	assert.ErrorIs(t, err, teax.ErrInvalidOptions)

	_, err = teax.RunComponent(ctx, teax.Pure[string, rune](""), noResolve, replaceState, teax.WithReplay(-1))
	assert.ErrorIs(t, err, teax.ErrInvalidOptions)

	_, err = teax.RunComponent(ctx, teax.Pure[string, rune](""), noResolve, replaceState, teax.WithMessageBuffer(-1))
	assert.ErrorIs(t, err, teax.ErrInvalidOptions)
}

func testChan(msgs ...rune) <-chan rune {
	ch := make(chan rune, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return ch
}
