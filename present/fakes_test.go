package present

import (
	"fmt"
	"strings"
	"time"
)

type recorder struct {
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, call := range r.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.calls = nil
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

type fakeCompletion struct {
	name    string
	signals []Signal
	waits   int
	waitErr error
}

func (c *fakeCompletion) Signals() []Signal {
	return c.signals
}

func (c *fakeCompletion) Wait(time.Duration) error {
	c.waits++
	return c.waitErr
}

type submitCall struct {
	cmd  CommandBuffer
	wait []Signal
}

type fakeDevice struct {
	rec *recorder

	submitErrs  []error
	presentErrs []error
	cleanupErr  error

	submits     []submitCall
	completions []*fakeCompletion
	nows        []*fakeCompletion
	cleanups    int
}

func (d *fakeDevice) Now() Completion {
	now := &fakeCompletion{name: fmt.Sprintf("now-%d", len(d.nows))}
	d.nows = append(d.nows, now)
	return now
}

func (d *fakeDevice) Submit(cmd CommandBuffer, wait []Signal) (Submission, error) {
	d.rec.add("submit %v", cmd)
	err := pop(&d.submitErrs)
	if err != nil {
		return nil, err
	}
	d.submits = append(d.submits, submitCall{cmd: cmd, wait: wait})
	return cmd, nil
}

func (d *fakeDevice) Present(sub Submission, imageIndex int) (Completion, error) {
	d.rec.add("present %d", imageIndex)
	err := pop(&d.presentErrs)
	if err != nil {
		return nil, err
	}

	n := len(d.completions) + 1
	completion := &fakeCompletion{
		name:    fmt.Sprintf("frame-%d", n),
		signals: []Signal{fmt.Sprintf("done-%d", n)},
	}
	d.completions = append(d.completions, completion)
	return completion, nil
}

func (d *fakeDevice) CleanupFinished() error {
	d.cleanups++
	return d.cleanupErr
}

type fakeSwapchain struct {
	rec    *recorder
	images int
	extent Extent

	acquireErrs  []error
	recreateErrs []error
	forceIndex   *int
	// recreateImages, when non-zero, is the image count after the next recreate.
	recreateImages int

	acquired int
}

func (s *fakeSwapchain) AcquireNextImage(time.Duration) (Acquisition, error) {
	s.rec.add("acquire")
	err := pop(&s.acquireErrs)
	if err != nil {
		return Acquisition{}, err
	}

	s.acquired++
	index := s.acquired % s.images
	if s.forceIndex != nil {
		index = *s.forceIndex
	}
	return Acquisition{ImageIndex: index, Ready: fmt.Sprintf("acquire-%d", s.acquired)}, nil
}

func (s *fakeSwapchain) Recreate() error {
	s.rec.add("recreate")
	err := pop(&s.recreateErrs)
	if err != nil {
		return err
	}
	if s.recreateImages != 0 {
		s.images = s.recreateImages
		s.recreateImages = 0
	}
	return nil
}

func (s *fakeSwapchain) RenderTargets() []RenderTarget {
	targets := make([]RenderTarget, s.images)
	for i := range targets {
		targets[i] = fmt.Sprintf("target-%d/%d", i, s.images)
	}
	return targets
}

func (s *fakeSwapchain) Extent() Extent {
	return s.extent
}

type fakeGraph struct {
	rec       *recorder
	recordErr error
	targets   []RenderTarget
}

func (g *fakeGraph) Record(target RenderTarget, extent Extent) (CommandBuffer, error) {
	g.rec.add("record %v", target)
	if g.recordErr != nil {
		return nil, g.recordErr
	}
	g.targets = append(g.targets, target)
	return fmt.Sprintf("cmd(%v)", target), nil
}

type fakeWindow struct {
	events []Events
	polls  int
}

func (w *fakeWindow) PollEvents() Events {
	w.polls++
	if len(w.events) == 0 {
		return Events{Close: true}
	}
	next := w.events[0]
	w.events = w.events[1:]
	return next
}

type fixture struct {
	rec       *recorder
	device    *fakeDevice
	swapchain *fakeSwapchain
	graph     *fakeGraph
}

func newFixture(images int) *fixture {
	rec := &recorder{}
	return &fixture{
		rec:       rec,
		device:    &fakeDevice{rec: rec},
		swapchain: &fakeSwapchain{rec: rec, images: images, extent: Extent{Width: 1024, Height: 768}},
		graph:     &fakeGraph{rec: rec},
	}
}

func (f *fixture) loop(opts Options) *Loop {
	return NewLoop(f.device, f.swapchain, f.graph, opts)
}
