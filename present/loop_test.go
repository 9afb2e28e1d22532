package present

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstFrameOnlyWaitsOnAcquisition(t *testing.T) {
	f := newFixture(3)
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())

	require.Len(t, f.device.submits, 1)
	assert.Equal(t, []Signal{"acquire-1"}, f.device.submits[0].wait)
	assert.Equal(t, []string{
		"acquire",
		"record target-1/3",
		"submit cmd(target-1/3)",
		"present 1",
	}, f.rec.calls)
	assert.Equal(t, StateIdle, loop.State())
	assert.Equal(t, 1, loop.Stats().Presented)
}

func TestSubmissionJoinsPreviousFrame(t *testing.T) {
	f := newFixture(3)
	loop := f.loop(Options{})

	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Frame())
	}

	require.Len(t, f.device.submits, 3)
	assert.Equal(t, []Signal{"done-1", "acquire-2"}, f.device.submits[1].wait)
	assert.Equal(t, []Signal{"done-2", "acquire-3"}, f.device.submits[2].wait)
}

func TestSubmissionsAreOrderedAfterPreviousPresent(t *testing.T) {
	f := newFixture(2)
	loop := f.loop(Options{})

	for i := 0; i < 4; i++ {
		require.NoError(t, loop.Frame())
	}

	lastPresent := -1
	for i, call := range f.rec.calls {
		switch {
		case call == "acquire":
		case len(call) > 7 && call[:7] == "present":
			lastPresent = i
		case len(call) > 6 && call[:6] == "submit":
			if lastPresent >= 0 {
				assert.Greater(t, i, lastPresent)
			}
		}
	}
	assert.Equal(t, 4, f.rec.count("submit"))
	assert.Equal(t, 4, f.rec.count("present"))
}

func TestSwapchainCreatedExtentIsUsedForRecording(t *testing.T) {
	f := newFixture(2)
	loop := f.loop(Options{})
	var extents []Extent
	graph := &extentGraph{fakeGraph: f.graph, extents: &extents}
	loop.graph = graph

	require.NoError(t, loop.Frame())

	assert.Equal(t, []Extent{{Width: 1024, Height: 768}}, extents)
}

type extentGraph struct {
	*fakeGraph
	extents *[]Extent
}

func (g *extentGraph) Record(target RenderTarget, extent Extent) (CommandBuffer, error) {
	*g.extents = append(*g.extents, extent)
	return g.fakeGraph.Record(target, extent)
}

func TestAcquireOutOfDateRecreatesOnceThenProceeds(t *testing.T) {
	f := newFixture(3)
	f.swapchain.acquireErrs = []error{ErrOutOfDate}
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	assert.Equal(t, []string{"acquire"}, f.rec.calls)
	assert.True(t, loop.NeedsRecreate())
	assert.Empty(t, f.device.submits)

	f.rec.reset()
	require.NoError(t, loop.Frame())
	assert.Equal(t, []string{
		"recreate",
		"acquire",
		"record target-1/3",
		"submit cmd(target-1/3)",
		"present 1",
	}, f.rec.calls)
	assert.False(t, loop.NeedsRecreate())
	assert.Equal(t, 1, loop.Stats().Recreations)
}

func TestEveryOutOfDateAcquireTriggersExactlyOneRecreate(t *testing.T) {
	f := newFixture(3)
	f.swapchain.acquireErrs = []error{ErrOutOfDate, ErrOutOfDate, ErrOutOfDate}
	loop := f.loop(Options{})

	for i := 0; i < 4; i++ {
		require.NoError(t, loop.Frame())
	}

	assert.Equal(t, []string{
		"acquire",
		"recreate",
		"acquire",
		"recreate",
		"acquire",
		"recreate",
		"acquire",
		"record target-1/3",
		"submit cmd(target-1/3)",
		"present 1",
	}, f.rec.calls)
	assert.Equal(t, 3, loop.Stats().Recreations)
}

func TestPresentOutOfDateResetsCompletion(t *testing.T) {
	f := newFixture(3)
	f.device.presentErrs = []error{nil, ErrOutOfDate}
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	require.Len(t, f.device.completions, 1)
	stale := f.device.completions[0]

	require.NoError(t, loop.Frame())
	assert.True(t, loop.NeedsRecreate())
	assert.Equal(t, 0, loop.Stats().Dropped)

	f.rec.reset()
	require.NoError(t, loop.Frame())
	assert.Equal(t, "recreate", f.rec.calls[0])

	require.Len(t, f.device.submits, 3)
	assert.Equal(t, []Signal{"acquire-3"}, f.device.submits[2].wait)
	assert.NotContains(t, f.device.submits[2].wait, Signal("done-1"))
	assert.Equal(t, 0, stale.waits)
}

func TestSubmitOutOfDateResetsCompletion(t *testing.T) {
	f := newFixture(3)
	f.device.submitErrs = []error{nil, errors.Wrap(ErrOutOfDate, "queue submit")}
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	require.NoError(t, loop.Frame())

	assert.True(t, loop.NeedsRecreate())
	assert.Equal(t, 1, f.rec.count("present"))
	assert.Len(t, f.device.nows, 2)

	require.NoError(t, loop.Shutdown())
	assert.Equal(t, 0, f.device.completions[0].waits)
	assert.Equal(t, 1, f.device.nows[1].waits)
}

func TestOtherSubmitFailureDropsFrame(t *testing.T) {
	f := newFixture(3)
	f.device.submitErrs = []error{errors.New("device lost")}
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	assert.Equal(t, 1, loop.Stats().Dropped)
	assert.Equal(t, 0, loop.Stats().Presented)
	// The acquired image was never presented
	assert.True(t, loop.NeedsRecreate())

	f.rec.reset()
	require.NoError(t, loop.Frame())
	require.NotEmpty(t, f.rec.calls)
	assert.Equal(t, "recreate", f.rec.calls[0])
	assert.Equal(t, 1, loop.Stats().Recreations)
	assert.False(t, loop.NeedsRecreate())

	require.Len(t, f.device.submits, 1)
	assert.Equal(t, []Signal{"acquire-2"}, f.device.submits[0].wait)
	assert.Equal(t, 1, loop.Stats().Presented)
}

func TestOtherPresentFailureDropsFrame(t *testing.T) {
	f := newFixture(3)
	f.device.presentErrs = []error{errors.New("surface lost")}
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	assert.Equal(t, 1, loop.Stats().Dropped)
	assert.True(t, loop.NeedsRecreate())
	assert.Len(t, f.device.nows, 2)
}

func TestAcquireErrorIsFatal(t *testing.T) {
	f := newFixture(3)
	cause := errors.New("device lost")
	f.swapchain.acquireErrs = []error{cause}
	loop := f.loop(Options{})

	err := loop.Frame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquireFatal))
	assert.True(t, errors.Is(err, cause))
	assert.Empty(t, f.device.submits)
}

func TestRecoverableAcquireErrors(t *testing.T) {
	f := newFixture(3)
	cause := errors.New("timeout")
	f.swapchain.acquireErrs = []error{cause, cause, nil, cause, cause, cause}
	loop := f.loop(Options{RecoverAcquireErrors: true, MaxAcquireFailures: 2})

	require.NoError(t, loop.Frame())
	require.NoError(t, loop.Frame())
	require.NoError(t, loop.Frame())
	assert.Equal(t, 2, loop.Stats().Dropped)
	assert.Equal(t, 1, loop.Stats().Presented)

	require.NoError(t, loop.Frame())
	require.NoError(t, loop.Frame())
	err := loop.Frame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquireFatal))
}

func TestOutOfRangeImageIsNeverRecorded(t *testing.T) {
	f := newFixture(3)
	index := 3
	f.swapchain.forceIndex = &index
	loop := f.loop(Options{})

	err := loop.Frame()
	require.Error(t, err)
	assert.Equal(t, 0, f.rec.count("record"))
	assert.Empty(t, f.device.submits)
}

func TestRecordedTargetMatchesAcquiredImageAfterRecreate(t *testing.T) {
	f := newFixture(3)
	f.swapchain.acquireErrs = []error{ErrOutOfDate}
	f.swapchain.recreateImages = 2
	loop := f.loop(Options{})

	for i := 0; i < 5; i++ {
		require.NoError(t, loop.Frame())
	}

	assert.Equal(t, []RenderTarget{
		"target-1/2",
		"target-0/2",
		"target-1/2",
		"target-0/2",
	}, f.graph.targets)
}

func TestRecordFailureIsFatal(t *testing.T) {
	f := newFixture(3)
	f.graph.recordErr = errors.New("out of device memory")
	loop := f.loop(Options{})

	err := loop.Frame()
	require.Error(t, err)
	assert.Empty(t, f.device.submits)
}

func TestRecreateDeferredWhileMinimized(t *testing.T) {
	f := newFixture(3)
	f.swapchain.recreateErrs = []error{ErrOutOfDate}
	loop := f.loop(Options{})
	loop.RequestRecreate()

	require.NoError(t, loop.Frame())
	assert.Equal(t, []string{"recreate"}, f.rec.calls)
	assert.True(t, loop.NeedsRecreate())

	require.NoError(t, loop.Frame())
	assert.False(t, loop.NeedsRecreate())
	assert.Equal(t, 1, f.rec.count("present"))
	assert.Equal(t, 1, loop.Stats().Recreations)
}

func TestRecreateFailureIsFatal(t *testing.T) {
	f := newFixture(3)
	f.swapchain.recreateErrs = []error{errors.New("surface lost")}
	loop := f.loop(Options{})
	loop.RequestRecreate()

	require.Error(t, loop.Frame())
	assert.Equal(t, 0, f.rec.count("acquire"))
}

func TestCleanupFailureIsNotFatal(t *testing.T) {
	f := newFixture(3)
	f.device.cleanupErr = errors.New("fence lost")
	loop := f.loop(Options{})

	require.NoError(t, loop.Frame())
	assert.Equal(t, 1, f.device.cleanups)
	assert.Equal(t, 1, loop.Stats().Presented)
}

func TestTransitionsOfSuccessfulFrame(t *testing.T) {
	f := newFixture(3)
	var states []State
	loop := f.loop(Options{OnTransition: func(from, to State) {
		states = append(states, to)
	}})

	require.NoError(t, loop.Frame())

	assert.Equal(t, []State{
		StateAcquiring,
		StateRecording,
		StateSubmitting,
		StatePresenting,
		StateIdle,
	}, states)
}

func TestTransitionsThroughRecreating(t *testing.T) {
	f := newFixture(3)
	var states []State
	loop := f.loop(Options{OnTransition: func(from, to State) {
		states = append(states, to)
	}})
	loop.RequestRecreate()

	require.NoError(t, loop.Frame())

	assert.Equal(t, []State{
		StateRecreating,
		StateAcquiring,
		StateRecording,
		StateSubmitting,
		StatePresenting,
		StateIdle,
	}, states)
}

func TestRunStopsOnCloseBetweenFrames(t *testing.T) {
	f := newFixture(3)
	window := &fakeWindow{events: []Events{
		{Redraw: true},
		{Redraw: true},
		{Close: true, Redraw: true},
		{Redraw: true},
	}}
	loop := f.loop(Options{})

	require.NoError(t, loop.Run(context.Background(), window))

	assert.Equal(t, 3, window.polls)
	assert.Equal(t, 2, f.rec.count("acquire"))
	assert.Equal(t, 2, f.rec.count("submit"))
	assert.Equal(t, 2, f.rec.count("present"))
	assert.Equal(t, StateTerminating, loop.State())
	assert.Equal(t, 1, f.device.completions[1].waits)

	require.NoError(t, loop.Frame())
	assert.Equal(t, 2, f.rec.count("acquire"))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(3)
	window := &fakeWindow{events: []Events{{Redraw: true}}}
	loop := f.loop(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, loop.Run(ctx, window))
	assert.Equal(t, 0, window.polls)
	assert.Equal(t, 0, f.rec.count("acquire"))
	assert.Equal(t, StateTerminating, loop.State())
}

func TestRunSkipsFramesWithoutRedraw(t *testing.T) {
	f := newFixture(3)
	window := &fakeWindow{events: []Events{{}, {Redraw: true}, {}}}
	loop := f.loop(Options{})

	require.NoError(t, loop.Run(context.Background(), window))
	assert.Equal(t, 1, f.rec.count("acquire"))
}

func TestRunRecreatesOnResize(t *testing.T) {
	f := newFixture(3)
	window := &fakeWindow{events: []Events{{Redraw: true}, {Resized: true, Redraw: true}}}
	loop := f.loop(Options{})

	require.NoError(t, loop.Run(context.Background(), window))
	assert.Equal(t, 1, f.rec.count("recreate"))
	assert.Equal(t, 2, f.rec.count("present"))
}

func TestRunReturnsFatalAcquireError(t *testing.T) {
	f := newFixture(3)
	f.swapchain.acquireErrs = []error{nil, errors.New("device lost")}
	window := &fakeWindow{events: []Events{{Redraw: true}, {Redraw: true}, {Redraw: true}}}
	loop := f.loop(Options{})

	err := loop.Run(context.Background(), window)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAcquireFatal))
	assert.Equal(t, StateTerminating, loop.State())
	assert.Equal(t, 1, f.device.completions[0].waits)
	assert.Equal(t, 2, f.rec.count("acquire"))
}

func TestShutdownReportsWaitFailure(t *testing.T) {
	f := newFixture(3)
	loop := f.loop(Options{})
	require.NoError(t, loop.Frame())
	f.device.completions[0].waitErr = errors.New("timeout")

	require.Error(t, loop.Shutdown())
	assert.Equal(t, StateTerminating, loop.State())
	require.NoError(t, loop.Shutdown())
}

func TestStats(t *testing.T) {
	assert.Zero(t, Stats{}.AverageFrameTime())

	f := newFixture(3)
	loop := f.loop(Options{})
	for i := 0; i < 3; i++ {
		require.NoError(t, loop.Frame())
	}
	stats := loop.Stats()
	assert.Equal(t, 3, stats.Presented)
	assert.GreaterOrEqual(t, stats.AverageFrameTime().Nanoseconds(), int64(0))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Acquiring", StateAcquiring.String())
	assert.Equal(t, "Terminating", StateTerminating.String())
	assert.Equal(t, "Unknown", State(42).String())
}
