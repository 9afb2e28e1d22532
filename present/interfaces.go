// Package present drives a swapchain: acquire an image, record and submit a frame
// for it, present it, and rebuild the swapchain when the presentation engine says it
// is out of date.
//
// The loop only ever talks to the GPU through the interfaces in this file. Package
// render implements them with Vulkan; tests implement them with fakes.
package present

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrOutOfDate is returned by Swapchain and Device when the swapchain no longer
// matches its surface and must be rebuilt before the next acquire.
var ErrOutOfDate = errors.New("swapchain out of date")

// ErrAcquireFatal wraps acquire failures the loop cannot recover from.
var ErrAcquireFatal = errors.New("failed to acquire next image")

// Signal is an opaque GPU-side dependency, such as a semaphore, that a submission
// can be made to wait on.
type Signal any

// RenderTarget is an opaque per-image render target (a framebuffer).
type RenderTarget any

// CommandBuffer is an opaque recorded command buffer, ready to submit.
type CommandBuffer any

// Submission is an opaque handle for work that has been queued but not yet presented.
type Submission any

// Extent is a drawable size in pixels.
type Extent struct {
	Width  int
	Height int
}

// Acquisition is a successfully acquired swapchain image. Ready is signaled by the
// presentation engine once the image may be rendered to.
type Acquisition struct {
	ImageIndex int
	Ready      Signal
}

// Completion marks a point on the GPU timeline: the end of a submitted and presented
// frame, or a point that has already passed.
type Completion interface {
	// Signals returns the GPU-side signals a later submission has to wait on to be
	// ordered after this point. It may be empty.
	Signals() []Signal
	// Wait blocks until the point has been reached or the timeout expires.
	Wait(timeout time.Duration) error
}

// Device is the queue the loop submits to and presents from.
type Device interface {
	// Now returns a completion that is already signaled.
	Now() Completion
	// Submit queues cmd for execution once every signal in wait is satisfied.
	Submit(cmd CommandBuffer, wait []Signal) (Submission, error)
	// Present queues the image for display once sub has finished rendering and returns
	// the completion for the whole frame.
	Present(sub Submission, imageIndex int) (Completion, error)
	// CleanupFinished releases the resources of frames the GPU is done with. It never
	// blocks.
	CleanupFinished() error
}

// Swapchain owns the presentable images and one render target per image.
type Swapchain interface {
	AcquireNextImage(timeout time.Duration) (Acquisition, error)
	// Recreate rebuilds the chain and every render target from the surface's current
	// configuration. It returns ErrOutOfDate when the surface cannot be rendered to
	// yet, for instance while the window is minimized.
	Recreate() error
	// RenderTargets is index-aligned with the image indices AcquireNextImage returns.
	RenderTargets() []RenderTarget
	Extent() Extent
}

// FrameGraph records the static scene into a command buffer for one render target.
type FrameGraph interface {
	Record(target RenderTarget, extent Extent) (CommandBuffer, error)
}

// Events is what a Window reports since it was last polled.
type Events struct {
	Close   bool
	Redraw  bool
	Resized bool
}

// Window delivers window system events to the loop.
type Window interface {
	PollEvents() Events
}

func join(previous Completion, acquired Acquisition) []Signal {
	var wait []Signal
	for _, signal := range previous.Signals() {
		if signal != nil {
			wait = append(wait, signal)
		}
	}
	if acquired.Ready != nil {
		wait = append(wait, acquired.Ready)
	}
	return wait
}
