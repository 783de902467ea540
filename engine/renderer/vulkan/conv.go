package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

var formats = map[rhi.Format]vk.Format{
	rhi.FormatUndefined:      vk.FormatUndefined,
	rhi.FormatR8Unorm:        vk.FormatR8Unorm,
	rhi.FormatRG8Unorm:       vk.FormatR8g8Unorm,
	rhi.FormatRGBA8Unorm:     vk.FormatR8g8b8a8Unorm,
	rhi.FormatRGBA8Srgb:      vk.FormatR8g8b8a8Srgb,
	rhi.FormatBGRA8Unorm:     vk.FormatB8g8r8a8Unorm,
	rhi.FormatBGRA8Srgb:      vk.FormatB8g8r8a8Srgb,
	rhi.FormatR16Float:       vk.FormatR16Sfloat,
	rhi.FormatRG16Float:      vk.FormatR16g16Sfloat,
	rhi.FormatRGBA16Float:    vk.FormatR16g16b16a16Sfloat,
	rhi.FormatR32Float:       vk.FormatR32Sfloat,
	rhi.FormatRG32Float:      vk.FormatR32g32Sfloat,
	rhi.FormatRGB32Float:     vk.FormatR32g32b32Sfloat,
	rhi.FormatRGBA32Float:    vk.FormatR32g32b32a32Sfloat,
	rhi.FormatR32Uint:        vk.FormatR32Uint,
	rhi.FormatA2BGR10Unorm:   vk.FormatA2b10g10r10UnormPack32,
	rhi.FormatD16Unorm:       vk.FormatD16Unorm,
	rhi.FormatD32Float:       vk.FormatD32Sfloat,
	rhi.FormatD24UnormS8Uint: vk.FormatD24UnormS8Uint,
	rhi.FormatD32FloatS8Uint: vk.FormatD32SfloatS8Uint,
}

func toVkFormat(f rhi.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

// fromVkFormat reports false for formats the RHI has no name for. Surface
// formats like that are skipped.
func fromVkFormat(f vk.Format) (rhi.Format, bool) {
	for k, v := range formats {
		if v == f && k != rhi.FormatUndefined {
			return k, true
		}
	}
	return rhi.FormatUndefined, false
}

var colorSpaces = map[rhi.ColorSpace]vk.ColorSpace{
	rhi.ColorSpaceSrgbNonlinear:      vk.ColorSpaceSrgbNonlinear,
	rhi.ColorSpaceExtendedSrgbLinear: vk.ColorSpaceExtendedSrgbLinear,
	rhi.ColorSpaceHdr10St2084:        vk.ColorSpaceHdr10St2084,
	rhi.ColorSpaceDisplayP3Nonlinear: vk.ColorSpaceDisplayP3Nonlinear,
}

func toVkColorSpace(c rhi.ColorSpace) vk.ColorSpace {
	if v, ok := colorSpaces[c]; ok {
		return v
	}
	return vk.ColorSpaceSrgbNonlinear
}

func fromVkColorSpace(c vk.ColorSpace) (rhi.ColorSpace, bool) {
	for k, v := range colorSpaces {
		if v == c {
			return k, true
		}
	}
	return 0, false
}

var presentModes = map[rhi.PresentMode]vk.PresentMode{
	rhi.PresentModeImmediate:   vk.PresentModeImmediate,
	rhi.PresentModeMailbox:     vk.PresentModeMailbox,
	rhi.PresentModeFifo:        vk.PresentModeFifo,
	rhi.PresentModeFifoRelaxed: vk.PresentModeFifoRelaxed,
}

func toVkPresentMode(m rhi.PresentMode) vk.PresentMode {
	if v, ok := presentModes[m]; ok {
		return v
	}
	return vk.PresentModeFifo
}

func fromVkPresentMode(m vk.PresentMode) (rhi.PresentMode, bool) {
	for k, v := range presentModes {
		if v == m {
			return k, true
		}
	}
	return 0, false
}

func toVkImageLayout(l rhi.ResourceLayout) vk.ImageLayout {
	switch l {
	case rhi.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case rhi.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case rhi.LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case rhi.LayoutDepthStencilReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case rhi.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case rhi.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case rhi.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case rhi.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

// barrierTargetLayout is toVkImageLayout for the new side of a transition.
// Vulkan forbids Undefined there, so it becomes General.
func barrierTargetLayout(l rhi.ResourceLayout) vk.ImageLayout {
	if l == rhi.LayoutUndefined {
		return vk.ImageLayoutGeneral
	}
	return toVkImageLayout(l)
}

var accessBits = []struct {
	from rhi.Access
	to   vk.AccessFlagBits
}{
	{rhi.AccessIndirectCommandRead, vk.AccessIndirectCommandReadBit},
	{rhi.AccessIndexRead, vk.AccessIndexReadBit},
	{rhi.AccessVertexAttributeRead, vk.AccessVertexAttributeReadBit},
	{rhi.AccessUniformRead, vk.AccessUniformReadBit},
	{rhi.AccessInputAttachmentRead, vk.AccessInputAttachmentReadBit},
	{rhi.AccessShaderRead, vk.AccessShaderReadBit},
	{rhi.AccessShaderWrite, vk.AccessShaderWriteBit},
	{rhi.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
	{rhi.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
	{rhi.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
	{rhi.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{rhi.AccessTransferRead, vk.AccessTransferReadBit},
	{rhi.AccessTransferWrite, vk.AccessTransferWriteBit},
	{rhi.AccessHostRead, vk.AccessHostReadBit},
	{rhi.AccessHostWrite, vk.AccessHostWriteBit},
	{rhi.AccessMemoryRead, vk.AccessMemoryReadBit},
	{rhi.AccessMemoryWrite, vk.AccessMemoryWriteBit},
}

func toVkAccess(a rhi.Access) vk.AccessFlags {
	var out vk.AccessFlags
	for _, b := range accessBits {
		if a&b.from != 0 {
			out |= vk.AccessFlags(b.to)
		}
	}
	return out
}

var stageBits = []struct {
	from rhi.PipelineStage
	to   vk.PipelineStageFlagBits
}{
	{rhi.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
	{rhi.StageDrawIndirect, vk.PipelineStageDrawIndirectBit},
	{rhi.StageVertexInput, vk.PipelineStageVertexInputBit},
	{rhi.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{rhi.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{rhi.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{rhi.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{rhi.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
	{rhi.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{rhi.StageTransfer, vk.PipelineStageTransferBit},
	{rhi.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	{rhi.StageHost, vk.PipelineStageHostBit},
	{rhi.StageAllGraphics, vk.PipelineStageAllGraphicsBit},
	{rhi.StageAllCommands, vk.PipelineStageAllCommandsBit},
}

// toVkStages never returns an empty mask; Vulkan rejects a zero stage mask
// so an empty input becomes top-of-pipe.
func toVkStages(s rhi.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	for _, b := range stageBits {
		if s&b.from != 0 {
			out |= vk.PipelineStageFlags(b.to)
		}
	}
	if out == 0 {
		out = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	return out
}

func toVkAspect(a rhi.Aspect) vk.ImageAspectFlags {
	var out vk.ImageAspectFlags
	if a&rhi.AspectColor != 0 {
		out |= vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	if a&rhi.AspectDepth != 0 {
		out |= vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if a&rhi.AspectStencil != 0 {
		out |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return out
}

func toVkBufferUsage(u rhi.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&rhi.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&rhi.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&rhi.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&rhi.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&rhi.BufferUsageIndirect != 0 {
		out |= vk.BufferUsageIndirectBufferBit
	}
	if u&rhi.BufferUsageTransferSrc != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if u&rhi.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(out)
}

func toVkImageUsage(u rhi.TextureUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&rhi.TextureUsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	if u&rhi.TextureUsageStorage != 0 {
		out |= vk.ImageUsageStorageBit
	}
	if u&rhi.TextureUsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&rhi.TextureUsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&rhi.TextureUsageTransferSrc != 0 {
		out |= vk.ImageUsageTransferSrcBit
	}
	if u&rhi.TextureUsageTransferDst != 0 {
		out |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(out)
}

var descriptorTypes = [...]vk.DescriptorType{
	rhi.DescriptorTypeSampler:              vk.DescriptorTypeSampler,
	rhi.DescriptorTypeCombinedImageSampler: vk.DescriptorTypeCombinedImageSampler,
	rhi.DescriptorTypeSampledImage:         vk.DescriptorTypeSampledImage,
	rhi.DescriptorTypeStorageImage:         vk.DescriptorTypeStorageImage,
	rhi.DescriptorTypeUniformTexelBuffer:   vk.DescriptorTypeUniformTexelBuffer,
	rhi.DescriptorTypeStorageTexelBuffer:   vk.DescriptorTypeStorageTexelBuffer,
	rhi.DescriptorTypeUniformBuffer:        vk.DescriptorTypeUniformBuffer,
	rhi.DescriptorTypeStorageBuffer:        vk.DescriptorTypeStorageBuffer,
	rhi.DescriptorTypeUniformBufferDynamic: vk.DescriptorTypeUniformBufferDynamic,
	rhi.DescriptorTypeStorageBufferDynamic: vk.DescriptorTypeStorageBufferDynamic,
	rhi.DescriptorTypeInputAttachment:      vk.DescriptorTypeInputAttachment,
}

func toVkDescriptorType(t rhi.DescriptorType) vk.DescriptorType {
	if int(t) < len(descriptorTypes) {
		return descriptorTypes[t]
	}
	return vk.DescriptorTypeUniformBuffer
}

func toVkShaderStages(s rhi.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&rhi.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&rhi.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	if s&rhi.ShaderStageCompute != 0 {
		out |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(out)
}

func toVkFilter(f rhi.Filter) vk.Filter {
	if f == rhi.FilterLinear {
		return vk.FilterLinear
	}
	return vk.FilterNearest
}

func toVkMipmapMode(m rhi.MipmapMode) vk.SamplerMipmapMode {
	if m == rhi.MipmapModeLinear {
		return vk.SamplerMipmapModeLinear
	}
	return vk.SamplerMipmapModeNearest
}

func toVkAddressMode(m rhi.AddressMode) vk.SamplerAddressMode {
	switch m {
	case rhi.AddressModeMirroredRepeat:
		return vk.SamplerAddressModeMirroredRepeat
	case rhi.AddressModeClampToEdge:
		return vk.SamplerAddressModeClampToEdge
	case rhi.AddressModeClampToBorder:
		return vk.SamplerAddressModeClampToBorder
	}
	return vk.SamplerAddressModeRepeat
}

var compareOps = [...]vk.CompareOp{
	rhi.CompareOpNever:          vk.CompareOpNever,
	rhi.CompareOpLess:           vk.CompareOpLess,
	rhi.CompareOpEqual:          vk.CompareOpEqual,
	rhi.CompareOpLessOrEqual:    vk.CompareOpLessOrEqual,
	rhi.CompareOpGreater:        vk.CompareOpGreater,
	rhi.CompareOpNotEqual:       vk.CompareOpNotEqual,
	rhi.CompareOpGreaterOrEqual: vk.CompareOpGreaterOrEqual,
	rhi.CompareOpAlways:         vk.CompareOpAlways,
}

func toVkCompareOp(op rhi.CompareOp) vk.CompareOp {
	if int(op) < len(compareOps) {
		return compareOps[op]
	}
	return vk.CompareOpLess
}

func toVkTopology(t rhi.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case rhi.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case rhi.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case rhi.TopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case rhi.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func toVkCullMode(m rhi.CullMode) vk.CullModeFlags {
	switch m {
	case rhi.CullModeNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case rhi.CullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case rhi.CullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	return vk.CullModeFlags(vk.CullModeBackBit)
}

func toVkFrontFace(f rhi.FrontFace) vk.FrontFace {
	if f == rhi.FrontFaceClockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

func toVkLoadOp(op rhi.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case rhi.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	case rhi.LoadOpClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func toVkStoreOp(op rhi.StoreOp) vk.AttachmentStoreOp {
	if op == rhi.StoreOpStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func toVkIndexType(t rhi.IndexType) vk.IndexType {
	if t == rhi.IndexTypeUint16 {
		return vk.IndexTypeUint16
	}
	return vk.IndexTypeUint32
}

func toVkSampleCount(n uint32) vk.SampleCountFlagBits {
	switch {
	case n >= 16:
		return vk.SampleCount16Bit
	case n >= 8:
		return vk.SampleCount8Bit
	case n >= 4:
		return vk.SampleCount4Bit
	case n >= 2:
		return vk.SampleCount2Bit
	}
	return vk.SampleCount1Bit
}

func toVkSubresourceRange(aspect rhi.Aspect, r rhi.SubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     toVkAspect(aspect),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.MipLevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.ArrayLayerCount,
	}
}

// copyAspect is the single plane a buffer/image copy may touch. Depth
// wins over stencil for combined formats.
func copyAspect(a rhi.Aspect) vk.ImageAspectFlags {
	if a&rhi.AspectDepth != 0 {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	if a&rhi.AspectStencil != 0 {
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

// mipExtent is the size of a mip level, never smaller than one texel.
func mipExtent(size, level uint32) uint32 {
	if s := size >> level; s > 0 {
		return s
	}
	return 1
}

func toVkRect(r rhi.Rect) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}
}

func toVkViewport(v rhi.Viewport) vk.Viewport {
	return vk.Viewport{
		X:        v.X,
		Y:        v.Y,
		Width:    v.Width,
		Height:   v.Height,
		MinDepth: v.MinDepth,
		MaxDepth: v.MaxDepth,
	}
}
