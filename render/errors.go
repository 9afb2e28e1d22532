package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/triangle/present"
)

var (
	// ErrCapability is returned when the surface cannot satisfy the swapchain's
	// format or usage requirements.
	ErrCapability = errors.New("surface capability not supported")

	// ErrIncompatibleAttachment is returned when a swapchain image does not match the
	// render pass's colour attachment.
	ErrIncompatibleAttachment = errors.New("incompatible render target attachment")

	// ErrNoSuitableDevice is returned when no physical device can render and present
	// to the surface.
	ErrNoSuitableDevice = errors.New("failed to find a suitable GPU")
)

// swapchainResult classifies the result of an acquire or present. VKSuboptimal only
// counts as out of date when suboptimalIsStale is set: an image acquired from a
// suboptimal chain can still be rendered and presented.
func swapchainResult(res common.VkResult, err error, suboptimalIsStale bool, op string) error {
	if res == khr_swapchain.VKErrorOutOfDate {
		return errors.Wrapf(present.ErrOutOfDate, "%s", op)
	}
	if suboptimalIsStale && res == khr_swapchain.VKSuboptimal {
		return errors.Wrapf(present.ErrOutOfDate, "%s: suboptimal", op)
	}
	if err != nil {
		return errors.Wrapf(err, "%s (%v)", op, res)
	}
	return nil
}
