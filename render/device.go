package render

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

var deviceExtensions = []string{khr_swapchain.ExtensionName}

type queueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *queueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

// Device owns the logical device, its graphics and present queues, the command pool
// every frame is recorded from, and the sync objects of frames in flight.
type Device struct {
	instance *Instance

	physicalDevice core1_0.PhysicalDevice
	driver         core1_0.CoreDeviceDriver
	queueFamilies  queueFamilyIndices

	graphicsQueue core1_0.Queue
	presentQueue  core1_0.Queue

	swapchainExtension khr_swapchain.ExtensionDriver
	// swapchain is the chain Present presents to. It is borrowed from the Swapchain
	// that registered itself with the device.
	swapchain *Swapchain

	commandPool core1_0.CommandPool

	frames framePool
}

// NewDevice picks the first physical device that can render to and present to the
// instance's surface and creates a logical device on it.
func NewDevice(instance *Instance) (*Device, error) {
	device := &Device{instance: instance}

	err := device.pickPhysicalDevice()
	if err != nil {
		return nil, err
	}

	err = device.createLogicalDevice()
	if err != nil {
		return nil, err
	}

	err = device.createCommandPool()
	if err != nil {
		device.Destroy()
		return nil, err
	}

	device.frames.device = device
	return device, nil
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instance.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "failed to enumerate physical devices")
	}

	for _, physicalDevice := range physicalDevices {
		if d.isDeviceSuitable(physicalDevice) {
			d.physicalDevice = physicalDevice
			break
		}
	}

	if !d.physicalDevice.Initialized() {
		return ErrNoSuitableDevice
	}

	properties, err := d.instance.instanceDriver.GetPhysicalDeviceProperties(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "failed to read physical device properties")
	}

	Logger().Info("selected physical device",
		"name", properties.DriverName,
		"type", properties.DriverType,
		"apiVersion", properties.APIVersion,
		"pipelineCacheUUID", properties.PipelineCacheUUID.String())

	return nil
}

func (d *Device) isDeviceSuitable(physicalDevice core1_0.PhysicalDevice) bool {
	indices, err := d.findQueueFamilies(physicalDevice)
	if err != nil {
		return false
	}

	if !d.checkDeviceExtensionSupport(physicalDevice) {
		return false
	}

	support, err := querySwapchainSupport(d.instance, physicalDevice)
	if err != nil {
		return false
	}

	return indices.IsComplete() && len(support.Formats) > 0 && len(support.PresentModes) > 0
}

func (d *Device) checkDeviceExtensionSupport(physicalDevice core1_0.PhysicalDevice) bool {
	extensions, _, err := d.instance.instanceDriver.EnumerateDeviceExtensionProperties(physicalDevice)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		_, hasExtension := extensions[extension]
		if !hasExtension {
			return false
		}
	}

	return true
}

func (d *Device) findQueueFamilies(physicalDevice core1_0.PhysicalDevice) (queueFamilyIndices, error) {
	indices := queueFamilyIndices{}
	queueFamilies := d.instance.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(physicalDevice)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := d.instance.surfaceExtension.GetPhysicalDeviceSurfaceSupport(d.instance.surface, physicalDevice, queueFamilyIdx)
		if err != nil {
			return indices, err
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (d *Device) createLogicalDevice() error {
	indices, err := d.findQueueFamilies(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "failed to query queue families")
	}
	d.queueFamilies = indices

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// Required to run on portability implementations such as MoltenVK
	extensions, _, err := d.instance.instanceDriver.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "failed to enumerate device extensions")
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	device, _, err := d.instance.instanceDriver.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos:      queueFamilyOptions,
		EnabledFeatures:       &core1_0.PhysicalDeviceFeatures{},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create logical device")
	}

	d.driver, err = d.instance.instanceDriver.BuildDeviceDriver(device)
	if err != nil {
		return errors.Wrap(err, "failed to load device commands")
	}

	d.graphicsQueue = d.driver.GetQueue(*indices.GraphicsFamily, 0)
	d.presentQueue = d.driver.GetQueue(*indices.PresentFamily, 0)
	d.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(d.driver)

	return nil
}

func (d *Device) createCommandPool() error {
	pool, _, err := d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		QueueFamilyIndex: *d.queueFamilies.GraphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create command pool")
	}

	d.commandPool = pool
	return nil
}

// sharingMode is how swapchain images are shared between the graphics and present
// queue families.
func (d *Device) sharingMode() (core1_0.SharingMode, []int) {
	graphics, present := *d.queueFamilies.GraphicsFamily, *d.queueFamilies.PresentFamily
	if graphics == present {
		return core1_0.SharingModeExclusive, nil
	}
	return core1_0.SharingModeConcurrent, []int{graphics, present}
}

func (d *Device) allocateCommandBuffer() (core1_0.CommandBuffer, error) {
	buffers, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrap(err, "failed to allocate command buffer")
	}

	return buffers[0], nil
}

// runOnce records and submits a single command buffer and blocks until the graphics
// queue is idle. Only used during setup.
func (d *Device) runOnce(record func(buffer core1_0.CommandBuffer) error) error {
	buffer, err := d.allocateCommandBuffer()
	if err != nil {
		return err
	}
	defer d.driver.FreeCommandBuffers(buffer)

	_, err = d.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin command buffer")
	}

	err = record(buffer)
	if err != nil {
		return err
	}

	_, err = d.driver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "failed to end command buffer")
	}

	_, err = d.driver.QueueSubmit(d.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "failed to submit setup commands")
	}

	_, err = d.driver.QueueWaitIdle(d.graphicsQueue)
	return errors.Wrap(err, "failed to wait for setup commands")
}

func (d *Device) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.instance.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Newf("failed to find a memory type matching %x with properties %v", typeFilter, properties)
}

// WaitIdle blocks until the device has finished all work, then releases the sync
// objects of every frame that was in flight.
func (d *Device) WaitIdle() error {
	_, err := d.driver.DeviceWaitIdle()
	if err != nil {
		return errors.Wrap(err, "failed to wait for device idle")
	}

	d.frames.releaseAll()
	return nil
}

// Destroy releases the device and everything allocated from it. The device must be
// idle.
func (d *Device) Destroy() {
	if d.driver == nil {
		return
	}

	d.frames.destroy()

	if d.commandPool.Initialized() {
		d.driver.DestroyCommandPool(d.commandPool, nil)
		d.commandPool = core1_0.CommandPool{}
	}

	d.driver.DestroyDevice(nil)
	d.driver = nil
}
