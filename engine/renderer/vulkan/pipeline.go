package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// VulkanPipeline holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	// The internal pipeline handle.
	Handle vk.Pipeline
	// The pipeline layout.
	PipelineLayout vk.PipelineLayout
}

const colorWriteAll = vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
	vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit)

func (d *Driver) pipelineStages(desc *rhi.GraphicsPipelineDesc) ([]vk.PipelineShaderStageCreateInfo, error) {
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	for _, shader := range []*rhi.Shader{desc.VertexShader, desc.FragmentShader} {
		if shader == nil {
			continue
		}
		stage, ok := d.shaders.Get(shader.Handle())
		if !ok {
			return nil, fmt.Errorf("shader %q: %w", shader.Name(), rhi.ErrStaleHandle)
		}
		stages = append(stages, stage.ShaderStageCreateInfo)
	}
	return stages, nil
}

func (d *Driver) CreateGraphicsPipeline(desc *rhi.GraphicsPipelineDesc) (rhi.PipelineHandle, error) {
	device := d.logicalDevice()

	stages, err := d.pipelineStages(desc)
	if err != nil {
		err = fmt.Errorf("pipeline %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.PipelineHandle{}, err
	}
	pass, ok := d.renderpasses.Get(desc.RenderPass.Handle())
	if !ok {
		err := fmt.Errorf("pipeline %q: render pass: %w", desc.Name, rhi.ErrStaleHandle)
		core.LogError("%s", err)
		return rhi.PipelineHandle{}, err
	}
	setLayouts := make([]vk.DescriptorSetLayout, len(desc.DescriptorSetLayouts))
	for i, l := range desc.DescriptorSetLayouts {
		layout, ok := d.setLayouts.Get(l.Handle())
		if !ok {
			err := fmt.Errorf("pipeline %q: descriptor set layout %d: %w", desc.Name, i, rhi.ErrStaleHandle)
			core.LogError("%s", err)
			return rhi.PipelineHandle{}, err
		}
		setLayouts[i] = layout
	}

	// Viewport and scissor are dynamic; the counts still have to be set.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                toVkCullMode(desc.CullMode),
		FrontFace:               toVkFrontFace(desc.FrontFace),
		DepthBiasEnable:         vk.False,
	}
	if desc.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  pass.Samples,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = toVkCompareOp(desc.DepthCompare)
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	// One blend state per color attachment of the pass.
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, pass.ColorCount)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:    vk.False,
			ColorWriteMask: colorWriteAll,
		}
		if desc.BlendEnable {
			blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
				BlendEnable:         vk.True,
				SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
				DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        vk.BlendOpAdd,
				SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
				DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
				AlphaBlendOp:        vk.BlendOpAdd,
				ColorWriteMask:      colorWriteAll,
			}
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateLineWidth,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if len(desc.VertexLayout.Attributes) > 0 {
		attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexLayout.Attributes))
		for i, a := range desc.VertexLayout.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   toVkFormat(a.Format),
				Offset:   a.Offset,
			}
		}
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    desc.VertexLayout.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInputInfo.PVertexAttributeDescriptions = attributes
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               toVkTopology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	// Pipeline layout
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if desc.PushConstantSize > 0 {
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
			Offset:     0,
			Size:       desc.PushConstantSize,
		}}
	}

	outPipeline := &VulkanPipeline{}
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		if res := vk.CreatePipelineLayout(device, &pipelineLayoutCreateInfo, d.context.Allocator, &outPipeline.PipelineLayout); res != vk.Success {
			return resultError("vkCreatePipelineLayout", res)
		}
		return nil
	}); err != nil {
		err = fmt.Errorf("pipeline %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.PipelineHandle{}, err
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          pass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if pass.HasDepth {
		pipelineCreateInfo.PDepthStencilState = &depthStencil
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := d.locks.SafeCall(PipelineManagement, func() error {
		res := vk.CreateGraphicsPipelines(device, vk.NullPipelineCache, 1, []vk.GraphicsPipelineCreateInfo{pipelineCreateInfo}, d.context.Allocator, pipelines)
		if res != vk.Success {
			return resultError("vkCreateGraphicsPipelines", res)
		}
		return nil
	}); err != nil {
		d.releasePipeline(outPipeline)
		err = fmt.Errorf("pipeline %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return rhi.PipelineHandle{}, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("graphics pipeline %q created", desc.Name)
	return d.pipelines.Insert(outPipeline), nil
}

func (d *Driver) releasePipeline(p *VulkanPipeline) {
	d.locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != vk.NullPipeline {
			vk.DestroyPipeline(d.logicalDevice(), p.Handle, d.context.Allocator)
			p.Handle = vk.NullPipeline
		}
		if p.PipelineLayout != nil {
			vk.DestroyPipelineLayout(d.logicalDevice(), p.PipelineLayout, d.context.Allocator)
			p.PipelineLayout = nil
		}
		return nil
	})
}

func (d *Driver) DestroyPipeline(h rhi.PipelineHandle) {
	if p, ok := d.pipelines.Remove(h); ok {
		d.releasePipeline(p)
	}
}
