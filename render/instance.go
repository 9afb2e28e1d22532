package render

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}

type InstanceOptions struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and routes its messages to the
	// package logger.
	Validation bool
}

// drawable is the part of the window the swapchain is sized from.
type drawable interface {
	VulkanGetDrawableSize() (int32, int32)
	GetFlags() uint32
}

// Instance owns the Vulkan instance and the window surface. The window itself is
// borrowed and must outlive the Instance.
type Instance struct {
	window   *sdl.Window
	drawable drawable

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver

	debugDriver    ext_debug_utils.ExtensionDriver
	debugMessenger ext_debug_utils.DebugUtilsMessenger

	surfaceExtension khr_surface.ExtensionDriver
	surface          khr_surface.Surface
}

// NewInstance creates a Vulkan instance with the extensions SDL needs for window and
// then a surface for it.
func NewInstance(window *sdl.Window, opts InstanceOptions) (*Instance, error) {
	globalDriver, err := core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load vulkan")
	}

	instance := &Instance{
		window:       window,
		drawable:     window,
		globalDriver: globalDriver,
	}

	err = instance.createInstance(opts)
	if err != nil {
		instance.Destroy()
		return nil, err
	}

	err = instance.setupDebugMessenger(opts)
	if err != nil {
		instance.Destroy()
		return nil, err
	}

	err = instance.createSurface()
	if err != nil {
		instance.Destroy()
		return nil, err
	}

	return instance, nil
}

func (i *Instance) createInstance(opts InstanceOptions) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    opts.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := i.window.VulkanGetInstanceExtensions()
	extensions, _, err := i.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "failed to enumerate instance extensions")
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Wrapf(ErrCapability, "missing instance extension %s required by sdl", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if opts.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if opts.Validation {
		layers, _, err := i.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "failed to enumerate instance layers")
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Newf("cannot add validation: layer %s not available, install the Vulkan SDK", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = debugMessengerOptions()
	}

	instance, _, err := i.globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create instance")
	}

	i.instanceDriver, err = i.globalDriver.BuildInstanceDriver(instance)
	if err != nil {
		return errors.Wrap(err, "failed to load instance commands")
	}

	return nil
}

func debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func (i *Instance) setupDebugMessenger(opts InstanceOptions) error {
	if !opts.Validation {
		return nil
	}

	var err error
	i.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
	i.debugMessenger, _, err = i.debugDriver.CreateDebugUtilsMessenger(nil, debugMessengerOptions())
	if err != nil {
		return errors.Wrap(err, "failed to create debug messenger")
	}

	return nil
}

func (i *Instance) createSurface() error {
	i.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(i.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(i.instanceDriver.Instance(), i.surfaceExtension, i.window)
	if err != nil {
		return errors.Wrap(err, "failed to create window surface")
	}

	i.surface = surface
	return nil
}

// DrawableSize is the window's current size in pixels.
func (i *Instance) DrawableSize() (int, int) {
	w, h := i.drawable.VulkanGetDrawableSize()
	return int(w), int(h)
}

// Minimized reports whether the window currently has nothing to draw into.
func (i *Instance) Minimized() bool {
	w, h := i.DrawableSize()
	return w == 0 || h == 0 || i.drawable.GetFlags()&sdl.WINDOW_MINIMIZED != 0
}

func (i *Instance) Destroy() {
	if i.surface.Initialized() {
		i.surfaceExtension.DestroySurface(i.surface, nil)
		i.surface = khr_surface.Surface{}
	}

	if i.debugMessenger.Initialized() {
		i.debugDriver.DestroyDebugUtilsMessenger(i.debugMessenger, nil)
		i.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if i.instanceDriver != nil {
		i.instanceDriver.DestroyInstance(nil)
		i.instanceDriver = nil
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	level := slog.LevelWarn
	if severity&ext_debug_utils.SeverityError != 0 {
		level = slog.LevelError
	}

	Logger().Log(context.Background(), level, data.Message, "type", msgType, "severity", severity)
	return false
}
