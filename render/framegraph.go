package render

import (
	"context"
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"

	"github.com/vkngwrapper/triangle/present"
)

// DefaultClearColor is opaque blue.
var DefaultClearColor = mgl32.Vec4{0, 0, 1, 1}

// RenderPass is a render pass with a single colour attachment of Format.
type RenderPass struct {
	Handle core1_0.RenderPass
	Format core1_0.Format
}

type FrameGraphOptions struct {
	ClearColor mgl32.Vec4
}

// FrameGraph records the commands that draw one frame: clear the target, then draw
// the triangle. Viewport and scissor are dynamic so the pipeline survives swapchain
// recreation. It implements present.FrameGraph.
type FrameGraph struct {
	device *Device
	opts   FrameGraphOptions

	pass           RenderPass
	pipelineLayout core1_0.PipelineLayout
	pipeline       core1_0.Pipeline

	vertexBuffer       core1_0.Buffer
	vertexBufferMemory core1_0.DeviceMemory
	vertexCount        int
}

// NewFrameGraph builds the render pass for targets of format, the triangle pipeline
// and its vertex buffer.
func NewFrameGraph(ctx context.Context, device *Device, format core1_0.Format, opts FrameGraphOptions) (*FrameGraph, error) {
	assets, err := loadGraphAssets(ctx)
	if err != nil {
		return nil, err
	}

	graph := &FrameGraph{
		device: device,
		opts:   opts,
	}

	err = graph.createRenderPass(format)
	if err != nil {
		graph.Destroy()
		return nil, err
	}

	err = graph.createGraphicsPipeline(assets.shader)
	if err != nil {
		graph.Destroy()
		return nil, err
	}

	err = graph.createVertexBuffer(assets.vertices)
	if err != nil {
		graph.Destroy()
		return nil, err
	}

	return graph, nil
}

func (g *FrameGraph) createRenderPass(format core1_0.Format) error {
	renderPass, _, err := g.device.driver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         format,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
			},
		},
		// The layout transition must wait for the acquire semaphore, which is waited
		// on at colour attachment output.
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput,
				DstAccessMask: core1_0.AccessColorAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create render pass")
	}

	g.pass = RenderPass{Handle: renderPass, Format: format}
	return nil
}

func (g *FrameGraph) createGraphicsPipeline(shader []uint32) error {
	start := hrtime.Now()

	shaderModule, _, err := g.device.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: shader,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create shader module")
	}
	defer g.device.driver.DestroyShaderModule(shaderModule, nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   getVertexBindingDescription(),
		VertexAttributeDescriptions: getVertexAttributeDescriptions(),
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: shaderModule,
		Name:   vertexEntryPoint,
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: shaderModule,
		Name:   fragmentEntryPoint,
	}

	// Counts only; the values are set while recording.
	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{{}},
		Scissors:  []core1_0.Rect2D{{}},
	}

	dynamicState := &core1_0.PipelineDynamicStateCreateInfo{
		DynamicStates: []core1_0.DynamicState{
			core1_0.DynamicStateViewport,
			core1_0.DynamicStateScissor,
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeFlags(0), // both faces are drawn
		FrontFace:   core1_0.FrontFaceClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:   false,
				ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	g.pipelineLayout, _, err = g.device.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{})
	if err != nil {
		return errors.Wrap(err, "failed to create pipeline layout")
	}

	pipelines, _, err := g.device.driver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			ColorBlendState:    colorBlend,
			DynamicState:       dynamicState,
			Layout:             g.pipelineLayout,
			RenderPass:         g.pass.Handle,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return errors.Wrap(err, "failed to create graphics pipeline")
	}
	g.pipeline = pipelines[0]

	Logger().Debug("created graphics pipeline", "elapsed", hrtime.Since(start))
	return nil
}

func (g *FrameGraph) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (core1_0.Buffer, core1_0.DeviceMemory, error) {
	driver := g.device.driver

	buffer, _, err := driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return core1_0.Buffer{}, core1_0.DeviceMemory{}, errors.Wrap(err, "failed to create buffer")
	}

	memRequirements := driver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := g.device.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, err
	}

	memory, _, err := driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return buffer, core1_0.DeviceMemory{}, errors.Wrap(err, "failed to allocate buffer memory")
	}

	_, err = driver.BindBufferMemory(buffer, memory, 0)
	return buffer, memory, errors.Wrap(err, "failed to bind buffer memory")
}

// createVertexBuffer uploads vertices to device local memory through a staging
// buffer.
func (g *FrameGraph) createVertexBuffer(vertices []Vertex) error {
	bufferSize := binary.Size(vertices)

	stagingBuffer, stagingBufferMemory, err := g.createBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if stagingBuffer.Initialized() {
		defer g.device.driver.DestroyBuffer(stagingBuffer, nil)
	}
	if stagingBufferMemory.Initialized() {
		defer g.device.driver.FreeMemory(stagingBufferMemory, nil)
	}
	if err != nil {
		return err
	}

	err = writeData(g.device.driver, stagingBufferMemory, 0, vertices)
	if err != nil {
		return err
	}

	g.vertexBuffer, g.vertexBufferMemory, err = g.createBuffer(bufferSize, core1_0.BufferUsageTransferDst|core1_0.BufferUsageVertexBuffer, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return err
	}

	err = g.device.runOnce(func(buffer core1_0.CommandBuffer) error {
		return g.device.driver.CmdCopyBuffer(buffer, stagingBuffer, g.vertexBuffer,
			core1_0.BufferCopy{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      bufferSize,
			},
		)
	})
	if err != nil {
		return errors.Wrap(err, "failed to upload vertices")
	}

	g.vertexCount = len(vertices)
	return nil
}

func (g *FrameGraph) RenderPass() RenderPass {
	return g.pass
}

func (g *FrameGraph) clearValue() core1_0.ClearValue {
	c := g.opts.ClearColor
	return core1_0.ClearValueFloat{c.X(), c.Y(), c.Z(), c.W()}
}

// Record allocates a one-time command buffer that clears target and draws the
// triangle across extent. The returned buffer is owned by whoever submits it.
func (g *FrameGraph) Record(target present.RenderTarget, extent present.Extent) (present.CommandBuffer, error) {
	renderTarget, ok := target.(RenderTarget)
	if !ok {
		return nil, errors.AssertionFailedf("unexpected render target type %T", target)
	}

	buffer, err := g.device.allocateCommandBuffer()
	if err != nil {
		return nil, err
	}

	err = g.record(buffer, renderTarget, core1_0.Extent2D{Width: extent.Width, Height: extent.Height})
	if err != nil {
		g.device.driver.FreeCommandBuffers(buffer)
		return nil, err
	}

	return buffer, nil
}

func (g *FrameGraph) record(buffer core1_0.CommandBuffer, target RenderTarget, extent core1_0.Extent2D) error {
	driver := g.device.driver

	_, err := driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "failed to begin command buffer")
	}

	renderArea := core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}

	err = driver.CmdBeginRenderPass(buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  g.pass.Handle,
			Framebuffer: target.Framebuffer,
			RenderArea:  renderArea,
			ClearValues: []core1_0.ClearValue{g.clearValue()},
		})
	if err != nil {
		return errors.Wrap(err, "failed to begin render pass")
	}

	driver.CmdSetViewport(buffer, core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	})
	driver.CmdSetScissor(buffer, renderArea)

	driver.CmdBindPipeline(buffer, core1_0.PipelineBindPointGraphics, g.pipeline)
	driver.CmdBindVertexBuffers(buffer, 0, []core1_0.Buffer{g.vertexBuffer}, []int{0})
	driver.CmdDraw(buffer, g.vertexCount, 1, 0, 0)
	driver.CmdEndRenderPass(buffer)

	_, err = driver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "failed to end command buffer")
	}

	return nil
}

func (g *FrameGraph) Destroy() {
	driver := g.device.driver

	if g.vertexBuffer.Initialized() {
		driver.DestroyBuffer(g.vertexBuffer, nil)
		g.vertexBuffer = core1_0.Buffer{}
	}

	if g.vertexBufferMemory.Initialized() {
		driver.FreeMemory(g.vertexBufferMemory, nil)
		g.vertexBufferMemory = core1_0.DeviceMemory{}
	}

	if g.pipeline.Initialized() {
		driver.DestroyPipeline(g.pipeline, nil)
		g.pipeline = core1_0.Pipeline{}
	}

	if g.pipelineLayout.Initialized() {
		driver.DestroyPipelineLayout(g.pipelineLayout, nil)
		g.pipelineLayout = core1_0.PipelineLayout{}
	}

	if g.pass.Handle.Initialized() {
		driver.DestroyRenderPass(g.pass.Handle, nil)
		g.pass = RenderPass{}
	}
}
