package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// RenderTarget is one swapchain image ready to be drawn into: a colour view of the
// image and a framebuffer binding it to the frame graph's render pass. Targets are
// indexed the same way as the swapchain's images.
type RenderTarget struct {
	Index       int
	Image       core1_0.Image
	Format      core1_0.Format
	Extent      core1_0.Extent2D
	ImageView   core1_0.ImageView
	Framebuffer core1_0.Framebuffer
}

func checkAttachmentFormat(image core1_0.Format, attachment core1_0.Format) error {
	if image != attachment {
		return errors.Wrapf(ErrIncompatibleAttachment, "image format %v does not match attachment format %v", image, attachment)
	}
	return nil
}

// BuildRenderTargets creates a target for every image in state. On failure nothing
// created so far is left behind.
func BuildRenderTargets(device *Device, state SwapchainState, pass RenderPass) ([]RenderTarget, error) {
	err := checkAttachmentFormat(state.Format, pass.Format)
	if err != nil {
		return nil, err
	}

	targets := make([]RenderTarget, 0, len(state.Images))
	for index, image := range state.Images {
		target, err := buildRenderTarget(device, state, pass, index, image)
		if err != nil {
			destroyRenderTargets(device, targets)
			return nil, errors.Wrapf(err, "failed to build render target %d", index)
		}

		targets = append(targets, target)
	}

	return targets, nil
}

func buildRenderTarget(device *Device, state SwapchainState, pass RenderPass, index int, image core1_0.Image) (RenderTarget, error) {
	view, _, err := device.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   state.Format,
		Components: core1_0.ComponentMapping{
			R: core1_0.ComponentSwizzleIdentity,
			G: core1_0.ComponentSwizzleIdentity,
			B: core1_0.ComponentSwizzleIdentity,
			A: core1_0.ComponentSwizzleIdentity,
		},
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return RenderTarget{}, errors.Wrap(err, "failed to create image view")
	}

	framebuffer, _, err := device.driver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass.Handle,
		Layers:      1,
		Attachments: []core1_0.ImageView{view},
		Width:       state.Extent.Width,
		Height:      state.Extent.Height,
	})
	if err != nil {
		device.driver.DestroyImageView(view, nil)
		return RenderTarget{}, errors.Wrap(err, "failed to create framebuffer")
	}

	return RenderTarget{
		Index:       index,
		Image:       image,
		Format:      state.Format,
		Extent:      state.Extent,
		ImageView:   view,
		Framebuffer: framebuffer,
	}, nil
}

func destroyRenderTargets(device *Device, targets []RenderTarget) {
	for _, target := range targets {
		if target.Framebuffer.Initialized() {
			device.driver.DestroyFramebuffer(target.Framebuffer, nil)
		}
		if target.ImageView.Initialized() {
			device.driver.DestroyImageView(target.ImageView, nil)
		}
	}
}
