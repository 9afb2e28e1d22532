package present

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
)

type Options struct {
	Logger *slog.Logger

	// AcquireTimeout is handed to Swapchain.AcquireNextImage unchanged.
	AcquireTimeout time.Duration
	// ShutdownTimeout bounds the wait on the last frame when the loop terminates.
	ShutdownTimeout time.Duration

	// RecoverAcquireErrors drops the frame on an acquire failure other than
	// ErrOutOfDate instead of terminating. MaxAcquireFailures consecutive failures
	// are still fatal.
	RecoverAcquireErrors bool
	MaxAcquireFailures   int

	// StatsInterval is how often frame statistics are logged. Zero disables it.
	StatsInterval time.Duration

	// OnTransition, if set, is called on every state change.
	OnTransition func(from, to State)
}

// Loop is the presentation state machine. It keeps exactly one frame in flight: the
// completion of the previous frame is joined with the next acquisition and replaced
// once the next frame has been presented.
//
// A Loop is not safe for concurrent use; it must be driven from one goroutine.
type Loop struct {
	device    Device
	swapchain Swapchain
	graph     FrameGraph
	opts      Options
	log       *slog.Logger

	state           State
	previous        Completion
	recreate        bool
	acquireFailures int

	stats      Stats
	lastReport time.Duration
}

func NewLoop(device Device, swapchain Swapchain, graph FrameGraph, opts Options) *Loop {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Loop{
		device:     device,
		swapchain:  swapchain,
		graph:      graph,
		opts:       opts,
		log:        logger,
		state:      StateIdle,
		previous:   device.Now(),
		lastReport: hrtime.Now(),
	}
}

func (l *Loop) State() State {
	return l.state
}

func (l *Loop) Stats() Stats {
	return l.stats
}

// NeedsRecreate reports whether the next frame starts by rebuilding the swapchain.
func (l *Loop) NeedsRecreate() bool {
	return l.recreate
}

// RequestRecreate makes the next frame rebuild the swapchain before acquiring.
func (l *Loop) RequestRecreate() {
	l.recreate = true
}

// Run drives the loop until the window asks to close or ctx is cancelled, both of
// which are only observed between frames. It returns nil on a graceful close.
func (l *Loop) Run(ctx context.Context, window Window) error {
	for ctx.Err() == nil {
		events := window.PollEvents()
		if events.Close {
			break
		}
		if events.Resized {
			l.RequestRecreate()
		}
		if !events.Redraw {
			continue
		}

		err := l.Frame()
		if err != nil {
			shutdownErr := l.Shutdown()
			if shutdownErr != nil {
				l.log.Error("failed to wait for last frame", "error", shutdownErr)
			}
			return err
		}
	}

	return l.Shutdown()
}

// Frame runs one iteration: recreate if needed, acquire, record, submit, present.
// Only unrecoverable failures are returned; out-of-date swapchains and dropped frames
// are handled here.
func (l *Loop) Frame() error {
	if l.state == StateTerminating {
		return nil
	}

	start := hrtime.Now()

	err := l.device.CleanupFinished()
	if err != nil {
		l.log.Warn("failed to clean up finished frames", "error", err)
	}

	if l.recreate {
		l.transition(StateRecreating)
		err = l.swapchain.Recreate()
		if errors.Is(err, ErrOutOfDate) {
			l.log.Debug("swapchain cannot be recreated yet")
			l.transition(StateIdle)
			return nil
		} else if err != nil {
			return errors.Wrap(err, "failed to recreate swapchain")
		}
		l.recreate = false
		l.stats.Recreations++
	}

	l.transition(StateAcquiring)
	acquired, err := l.swapchain.AcquireNextImage(l.opts.AcquireTimeout)
	if errors.Is(err, ErrOutOfDate) {
		l.log.Debug("swapchain out of date", "step", StateAcquiring)
		l.recreate = true
		l.transition(StateIdle)
		return nil
	} else if err != nil {
		return l.acquireFailed(err)
	}
	l.acquireFailures = 0

	targets := l.swapchain.RenderTargets()
	if acquired.ImageIndex < 0 || acquired.ImageIndex >= len(targets) {
		return errors.Newf("acquired image %d but the swapchain has %d render targets", acquired.ImageIndex, len(targets))
	}

	l.transition(StateRecording)
	cmd, err := l.graph.Record(targets[acquired.ImageIndex], l.swapchain.Extent())
	if err != nil {
		return errors.Wrapf(err, "failed to record frame for image %d", acquired.ImageIndex)
	}

	l.transition(StateSubmitting)
	submission, err := l.device.Submit(cmd, join(l.previous, acquired))
	if err != nil {
		l.frameFailed(StateSubmitting, err)
		return nil
	}

	l.transition(StatePresenting)
	completion, err := l.device.Present(submission, acquired.ImageIndex)
	if err != nil {
		l.frameFailed(StatePresenting, err)
		return nil
	}

	l.previous = completion
	l.stats.presented(hrtime.Since(start))
	l.transition(StateIdle)
	l.report()

	return nil
}

// Shutdown moves the loop to Terminating and waits for the last submitted frame so
// the caller can release device resources.
func (l *Loop) Shutdown() error {
	if l.state == StateTerminating {
		return nil
	}
	l.transition(StateTerminating)

	err := l.previous.Wait(l.opts.ShutdownTimeout)
	if err != nil {
		return errors.Wrap(err, "failed to wait for last frame")
	}
	l.previous = l.device.Now()

	return nil
}

func (l *Loop) acquireFailed(err error) error {
	l.acquireFailures++
	if !l.opts.RecoverAcquireErrors || l.acquireFailures > l.opts.MaxAcquireFailures {
		return errors.Mark(errors.Wrap(err, "failed to acquire next image"), ErrAcquireFatal)
	}

	l.log.Warn("dropped frame", "step", StateAcquiring, "failures", l.acquireFailures, "error", err)
	l.stats.Dropped++
	l.transition(StateIdle)
	return nil
}

// frameFailed handles a failed submit or present. The frame's completion is tied to
// work that never happened or to a chain about to be destroyed, so the loop carries
// an already-signaled handle forward instead.
func (l *Loop) frameFailed(step State, err error) {
	if errors.Is(err, ErrOutOfDate) {
		l.log.Debug("swapchain out of date", "step", step)
	} else {
		l.log.Warn("dropped frame", "step", step, "error", err)
		l.stats.Dropped++
	}

	// A dropped frame still holds its acquired image. Only a new chain hands it back,
	// and without that an unbounded acquire can wait on it forever.
	l.recreate = true
	l.previous = l.device.Now()
	l.transition(StateIdle)
}

func (l *Loop) transition(to State) {
	from := l.state
	l.state = to
	if l.opts.OnTransition != nil {
		l.opts.OnTransition(from, to)
	}
}

func (l *Loop) report() {
	if l.opts.StatsInterval <= 0 {
		return
	}

	now := hrtime.Now()
	if now-l.lastReport < l.opts.StatsInterval {
		return
	}
	l.lastReport = now

	l.log.Debug("frame stats",
		"presented", l.stats.Presented,
		"dropped", l.stats.Dropped,
		"recreations", l.stats.Recreations,
		"avgFrameTime", l.stats.AverageFrameTime())
}
