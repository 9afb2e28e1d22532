package render

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/triangle/present"
)

// frame is the sync state of one submitted frame. Its objects go back to the pool
// once fence has signaled.
type frame struct {
	commandBuffer core1_0.CommandBuffer
	waits         []core1_0.Semaphore
	rendered      core1_0.Semaphore
	fence         core1_0.Fence

	released bool
}

// framePool recycles semaphores and fences between frames. Objects of a frame that
// failed half way may still have a pending signal, so they are retired and only
// destroyed once the device is idle.
type framePool struct {
	device *Device

	semaphores []core1_0.Semaphore
	fences     []core1_0.Fence

	pending []*frame
	retired []*frame
}

func (p *framePool) semaphore() (core1_0.Semaphore, error) {
	if n := len(p.semaphores); n > 0 {
		semaphore := p.semaphores[n-1]
		p.semaphores = p.semaphores[:n-1]
		return semaphore, nil
	}

	semaphore, _, err := p.device.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return core1_0.Semaphore{}, errors.Wrap(err, "failed to create semaphore")
	}
	Logger().Debug("frame pool grew", "semaphores", 1)
	return semaphore, nil
}

func (p *framePool) putSemaphore(semaphore core1_0.Semaphore) {
	if semaphore.Initialized() {
		p.semaphores = append(p.semaphores, semaphore)
	}
}

func (p *framePool) fence() (core1_0.Fence, error) {
	if n := len(p.fences); n > 0 {
		fence := p.fences[n-1]
		p.fences = p.fences[:n-1]
		return fence, nil
	}

	fence, _, err := p.device.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return core1_0.Fence{}, errors.Wrap(err, "failed to create fence")
	}
	Logger().Debug("frame pool grew", "fences", 1)
	return fence, nil
}

// release hands a finished frame's objects back to the pool.
func (p *framePool) release(f *frame) error {
	if f.released {
		return nil
	}
	f.released = true

	if f.commandBuffer.Initialized() {
		p.device.driver.FreeCommandBuffers(f.commandBuffer)
	}
	for _, semaphore := range f.waits {
		p.putSemaphore(semaphore)
	}
	p.putSemaphore(f.rendered)

	if f.fence.Initialized() {
		_, err := p.device.driver.ResetFences(f.fence)
		if err != nil {
			p.device.driver.DestroyFence(f.fence, nil)
			return errors.Wrap(err, "failed to reset fence")
		}
		p.fences = append(p.fences, f.fence)
	}

	return nil
}

func (p *framePool) retire(f *frame) {
	p.retired = append(p.retired, f)
}

// cleanupFinished releases every pending frame whose fence has signaled.
func (p *framePool) cleanupFinished() error {
	var errs error
	stillPending := p.pending[:0]

	for _, f := range p.pending {
		res, err := p.device.driver.GetFenceStatus(f.fence)
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrap(err, "failed to read fence status"))
			stillPending = append(stillPending, f)
			continue
		}
		if res != core1_0.VKSuccess {
			stillPending = append(stillPending, f)
			continue
		}

		errs = errors.CombineErrors(errs, p.release(f))
	}

	for i := len(stillPending); i < len(p.pending); i++ {
		p.pending[i] = nil
	}
	p.pending = stillPending
	return errs
}

// releaseAll releases pending frames and destroys retired ones. The device must be
// idle.
func (p *framePool) releaseAll() {
	for _, f := range p.pending {
		err := p.release(f)
		if err != nil {
			Logger().Warn("failed to release frame", "error", err)
		}
	}
	p.pending = nil

	for _, f := range p.retired {
		p.destroyFrame(f)
	}
	p.retired = nil
}

func (p *framePool) destroyFrame(f *frame) {
	f.released = true
	if f.commandBuffer.Initialized() {
		p.device.driver.FreeCommandBuffers(f.commandBuffer)
	}
	for _, semaphore := range f.waits {
		p.device.driver.DestroySemaphore(semaphore, nil)
	}
	if f.rendered.Initialized() {
		p.device.driver.DestroySemaphore(f.rendered, nil)
	}
	if f.fence.Initialized() {
		p.device.driver.DestroyFence(f.fence, nil)
	}
}

func (p *framePool) destroy() {
	p.releaseAll()

	for _, semaphore := range p.semaphores {
		p.device.driver.DestroySemaphore(semaphore, nil)
	}
	p.semaphores = nil

	for _, fence := range p.fences {
		p.device.driver.DestroyFence(fence, nil)
	}
	p.fences = nil
}

// completion is the end of a presented frame, or a point that has already passed
// when frame is nil.
type completion struct {
	device *Device
	frame  *frame
}

// Signals is always empty: every frame is submitted to the same graphics queue, and
// submissions on one queue start in submission order.
func (c completion) Signals() []present.Signal {
	return nil
}

func (c completion) Wait(timeout time.Duration) error {
	if c.frame == nil || c.frame.released {
		return nil
	}

	res, err := c.device.driver.WaitForFences(true, timeout, c.frame.fence)
	if err != nil {
		return errors.Wrap(err, "failed to wait for frame fence")
	}
	if res == core1_0.VKTimeout {
		return errors.Newf("frame still running after %s", timeout)
	}
	return nil
}

func (d *Device) Now() present.Completion {
	return completion{device: d}
}

// Submit queues a frame's command buffer on the graphics queue. The submission waits
// on every semaphore in wait before colour output and signals a render-finished
// semaphore and the frame fence. Ownership of cmd and the wait semaphores passes to
// the device.
func (d *Device) Submit(cmd present.CommandBuffer, wait []present.Signal) (present.Submission, error) {
	buffer, ok := cmd.(core1_0.CommandBuffer)
	if !ok {
		return nil, errors.AssertionFailedf("unexpected command buffer type %T", cmd)
	}

	f := &frame{commandBuffer: buffer}
	stages := make([]core1_0.PipelineStageFlags, 0, len(wait))
	for _, signal := range wait {
		semaphore, ok := signal.(core1_0.Semaphore)
		if !ok {
			d.frames.retire(f)
			return nil, errors.AssertionFailedf("unexpected signal type %T", signal)
		}
		f.waits = append(f.waits, semaphore)
		stages = append(stages, core1_0.PipelineStageColorAttachmentOutput)
	}

	var err error
	f.rendered, err = d.frames.semaphore()
	if err != nil {
		d.frames.retire(f)
		return nil, err
	}

	f.fence, err = d.frames.fence()
	if err != nil {
		d.frames.retire(f)
		return nil, err
	}

	res, err := d.driver.QueueSubmit(d.graphicsQueue, &f.fence,
		core1_0.SubmitInfo{
			WaitSemaphores:   f.waits,
			WaitDstStageMask: stages,
			CommandBuffers:   []core1_0.CommandBuffer{f.commandBuffer},
			SignalSemaphores: []core1_0.Semaphore{f.rendered},
		},
	)
	if err != nil {
		d.frames.retire(f)
		return nil, errors.Wrapf(err, "failed to submit frame (%v)", res)
	}

	return f, nil
}

// Present queues the submitted frame's image for display on the present queue.
// VKErrorOutOfDate and VKSuboptimal are both reported as present.ErrOutOfDate; the
// present still consumed the render-finished semaphore, so the frame is tracked as
// in flight either way.
func (d *Device) Present(sub present.Submission, imageIndex int) (present.Completion, error) {
	f, ok := sub.(*frame)
	if !ok {
		return nil, errors.AssertionFailedf("unexpected submission type %T", sub)
	}
	if d.swapchain == nil || !d.swapchain.handle.Initialized() {
		d.frames.retire(f)
		return nil, errors.Wrap(present.ErrOutOfDate, "no swapchain to present to")
	}

	res, err := d.swapchainExtension.QueuePresent(d.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{f.rendered},
		Swapchains:     []khr_swapchain.Swapchain{d.swapchain.handle},
		ImageIndices:   []int{imageIndex},
	})
	err = swapchainResult(res, err, true, "failed to present")
	if err != nil && !errors.Is(err, present.ErrOutOfDate) {
		d.frames.retire(f)
		return nil, err
	}

	d.frames.pending = append(d.frames.pending, f)
	if err != nil {
		return nil, err
	}

	return completion{device: d, frame: f}, nil
}

// CleanupFinished releases the objects of every frame the GPU has finished. It polls
// fences and never blocks.
func (d *Device) CleanupFinished() error {
	return d.frames.cleanupFinished()
}
