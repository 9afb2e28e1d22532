package render

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/triangle/present"
)

// DefaultExtent is used when the surface lets the swapchain pick its size and the
// window reports no drawable size.
var DefaultExtent = core1_0.Extent2D{Width: 1024, Height: 768}

type SwapchainOptions struct {
	Format      core1_0.Format
	ColorSpace  khr_surface.ColorSpace
	PresentMode khr_surface.PresentMode
	// ExtraImages is added to the surface's minimum image count.
	ExtraImages int
}

func DefaultSwapchainOptions() SwapchainOptions {
	return SwapchainOptions{
		Format:      core1_0.FormatB8G8R8A8SRGB,
		ColorSpace:  khr_surface.ColorSpaceSRGBNonlinear,
		PresentMode: khr_surface.PresentModeFIFO,
	}
}

type swapchainSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

func querySwapchainSupport(instance *Instance, physicalDevice core1_0.PhysicalDevice) (swapchainSupport, error) {
	var details swapchainSupport
	var err error

	details.Capabilities, _, err = instance.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(instance.surface, physicalDevice)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = instance.surfaceExtension.GetPhysicalDeviceSurfaceFormats(instance.surface, physicalDevice)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = instance.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(instance.surface, physicalDevice)
	return details, err
}

func chooseSurfaceFormat(available []khr_surface.SurfaceFormat, format core1_0.Format, colorSpace khr_surface.ColorSpace) (khr_surface.SurfaceFormat, error) {
	if len(available) == 0 {
		return khr_surface.SurfaceFormat{}, errors.Wrap(ErrCapability, "surface offers no formats")
	}

	for _, candidate := range available {
		if candidate.Format == format && candidate.ColorSpace == colorSpace {
			return candidate, nil
		}
	}

	return available[0], nil
}

func choosePresentMode(available []khr_surface.PresentMode, want khr_surface.PresentMode) khr_surface.PresentMode {
	for _, presentMode := range available {
		if presentMode == want {
			return presentMode
		}
	}

	// FIFO is the only mode every implementation has to support
	return khr_surface.PresentModeFIFO
}

// undefinedExtent reports the special current extent width of a surface whose size
// follows the swapchain. It is 0xFFFFFFFF, which reads as -1 where int is 32 bits.
func undefinedExtent(width int) bool {
	return uint32(width) == math.MaxUint32
}

func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	if !undefinedExtent(capabilities.CurrentExtent.Width) {
		return capabilities.CurrentExtent
	}

	if width <= 0 || height <= 0 {
		width, height = DefaultExtent.Width, DefaultExtent.Height
	}

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}

// chooseImageCount never goes below the surface minimum and only respects the maximum
// when the surface reports one.
func chooseImageCount(capabilities *khr_surface.SurfaceCapabilities, extra int) int {
	imageCount := capabilities.MinImageCount + max(extra, 0)
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < imageCount {
		imageCount = capabilities.MaxImageCount
	}
	return imageCount
}

// SwapchainState describes a created chain. Images are in the order the presentation
// engine indexes them.
type SwapchainState struct {
	Format      core1_0.Format
	ColorSpace  khr_surface.ColorSpace
	Extent      core1_0.Extent2D
	PresentMode khr_surface.PresentMode
	Images      []core1_0.Image
}

// Swapchain owns the presentable images and, once a render pass is bound, one
// RenderTarget per image. It implements present.Swapchain.
type Swapchain struct {
	device *Device
	opts   SwapchainOptions

	handle  khr_swapchain.Swapchain
	state   SwapchainState
	pass    RenderPass
	targets []RenderTarget
}

// NewSwapchain creates a chain for the device's surface and registers it as the
// chain the device presents to. Render targets are built by BindRenderPass.
func NewSwapchain(device *Device, opts SwapchainOptions) (*Swapchain, error) {
	swapchain := &Swapchain{
		device: device,
		opts:   opts,
	}

	err := swapchain.create(khr_swapchain.Swapchain{})
	if err != nil {
		return nil, err
	}

	device.swapchain = swapchain
	return swapchain, nil
}

func (s *Swapchain) create(old khr_swapchain.Swapchain) error {
	support, err := querySwapchainSupport(s.device.instance, s.device.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "failed to query surface support")
	}

	if support.Capabilities.SupportedUsageFlags&core1_0.ImageUsageColorAttachment == 0 {
		return errors.Wrap(ErrCapability, "surface images cannot be colour attachments")
	}

	surfaceFormat, err := chooseSurfaceFormat(support.Formats, s.opts.Format, s.opts.ColorSpace)
	if err != nil {
		return err
	}
	presentMode := choosePresentMode(support.PresentModes, s.opts.PresentMode)
	width, height := s.device.instance.DrawableSize()
	extent := chooseExtent(support.Capabilities, width, height)
	imageCount := chooseImageCount(support.Capabilities, s.opts.ExtraImages)
	sharingMode, queueFamilyIndices := s.device.sharingMode()

	handle, _, err := s.device.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.device.instance.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
		OldSwapchain:   old,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create swapchain")
	}

	images, _, err := s.device.swapchainExtension.GetSwapchainImages(handle)
	if err != nil {
		s.device.swapchainExtension.DestroySwapchain(handle, nil)
		return errors.Wrap(err, "failed to get swapchain images")
	}

	s.handle = handle
	s.state = SwapchainState{
		Format:      surfaceFormat.Format,
		ColorSpace:  surfaceFormat.ColorSpace,
		Extent:      extent,
		PresentMode: presentMode,
		Images:      images,
	}

	Logger().Info("created swapchain",
		"format", surfaceFormat.Format,
		"width", extent.Width,
		"height", extent.Height,
		"presentMode", presentMode,
		"images", len(images))

	return nil
}

// BindRenderPass builds one render target per image for pass. It is called once the
// frame graph exists; Recreate rebuilds the targets against the same pass.
func (s *Swapchain) BindRenderPass(pass RenderPass) error {
	destroyRenderTargets(s.device, s.targets)
	s.targets = nil
	s.pass = pass

	targets, err := BuildRenderTargets(s.device, s.state, pass)
	if err != nil {
		return err
	}

	s.targets = targets
	return nil
}

// AcquireNextImage acquires an image with a pooled semaphore. A zero or negative
// timeout waits forever. A suboptimal chain still hands out its image; the present
// that follows reports it as out of date.
func (s *Swapchain) AcquireNextImage(timeout time.Duration) (present.Acquisition, error) {
	if timeout <= 0 {
		timeout = common.NoTimeout
	}

	semaphore, err := s.device.frames.semaphore()
	if err != nil {
		return present.Acquisition{}, err
	}

	imageIndex, res, err := s.device.swapchainExtension.AcquireNextImage(s.handle, timeout, &semaphore, nil)
	err = swapchainResult(res, err, false, "failed to acquire next image")
	if err == nil && (res == core1_0.VKTimeout || res == core1_0.VKNotReady) {
		err = errors.Newf("no swapchain image available after %s", timeout)
	}
	if err != nil {
		// Nothing was acquired, so the semaphore was never signaled
		s.device.frames.putSemaphore(semaphore)
		return present.Acquisition{}, err
	}

	return present.Acquisition{ImageIndex: imageIndex, Ready: semaphore}, nil
}

// Recreate rebuilds the chain and its render targets for the surface's current size.
// It waits for the device to go idle first so no frame in flight still references
// the old images.
func (s *Swapchain) Recreate() error {
	if s.device.instance.Minimized() {
		return errors.Wrap(present.ErrOutOfDate, "window has no drawable area")
	}

	err := s.device.WaitIdle()
	if err != nil {
		return err
	}

	destroyRenderTargets(s.device, s.targets)
	s.targets = nil

	old := s.handle
	err = s.create(old)
	if old.Initialized() {
		s.device.swapchainExtension.DestroySwapchain(old, nil)
	}
	if err != nil {
		s.handle = khr_swapchain.Swapchain{}
		return err
	}

	if !s.pass.Handle.Initialized() {
		return nil
	}

	targets, err := BuildRenderTargets(s.device, s.state, s.pass)
	if err != nil {
		return err
	}
	s.targets = targets

	Logger().Debug("recreated swapchain", "images", len(s.targets))
	return nil
}

func (s *Swapchain) RenderTargets() []present.RenderTarget {
	targets := make([]present.RenderTarget, len(s.targets))
	for i, target := range s.targets {
		targets[i] = target
	}
	return targets
}

func (s *Swapchain) Extent() present.Extent {
	return present.Extent{Width: s.state.Extent.Width, Height: s.state.Extent.Height}
}

func (s *Swapchain) State() SwapchainState {
	return s.state
}

func (s *Swapchain) Destroy() {
	destroyRenderTargets(s.device, s.targets)
	s.targets = nil

	if s.handle.Initialized() {
		s.device.swapchainExtension.DestroySwapchain(s.handle, nil)
		s.handle = khr_swapchain.Swapchain{}
	}

	if s.device.swapchain == s {
		s.device.swapchain = nil
	}
}
