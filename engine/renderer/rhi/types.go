package rhi

// Format is a backend-neutral texel/vertex format.
type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8Unorm
	FormatRG8Unorm
	FormatRGBA8Unorm
	FormatRGBA8Srgb
	FormatBGRA8Unorm
	FormatBGRA8Srgb
	FormatR16Float
	FormatRG16Float
	FormatRGBA16Float
	FormatR32Float
	FormatRG32Float
	FormatRGB32Float
	FormatRGBA32Float
	FormatR32Uint
	FormatA2BGR10Unorm
	FormatD16Unorm
	FormatD32Float
	FormatD24UnormS8Uint
	FormatD32FloatS8Uint
)

var formatNames = [...]string{
	FormatUndefined:      "Undefined",
	FormatR8Unorm:        "R8Unorm",
	FormatRG8Unorm:       "RG8Unorm",
	FormatRGBA8Unorm:     "RGBA8Unorm",
	FormatRGBA8Srgb:      "RGBA8Srgb",
	FormatBGRA8Unorm:     "BGRA8Unorm",
	FormatBGRA8Srgb:      "BGRA8Srgb",
	FormatR16Float:       "R16Float",
	FormatRG16Float:      "RG16Float",
	FormatRGBA16Float:    "RGBA16Float",
	FormatR32Float:       "R32Float",
	FormatRG32Float:      "RG32Float",
	FormatRGB32Float:     "RGB32Float",
	FormatRGBA32Float:    "RGBA32Float",
	FormatR32Uint:        "R32Uint",
	FormatA2BGR10Unorm:   "A2BGR10Unorm",
	FormatD16Unorm:       "D16Unorm",
	FormatD32Float:       "D32Float",
	FormatD24UnormS8Uint: "D24UnormS8Uint",
	FormatD32FloatS8Uint: "D32FloatS8Uint",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "Format(?)"
}

// IsDepth reports whether the format has a depth component.
func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Float, FormatD24UnormS8Uint, FormatD32FloatS8Uint:
		return true
	}
	return false
}

// HasStencil reports whether the format has a stencil component.
func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32FloatS8Uint
}

// Srgb returns the sRGB-encoded sibling of an 8-bit color format, or f itself.
func (f Format) Srgb() Format {
	switch f {
	case FormatRGBA8Unorm:
		return FormatRGBA8Srgb
	case FormatBGRA8Unorm:
		return FormatBGRA8Srgb
	}
	return f
}

// BytesPerTexel is the size of one texel, 0 for Undefined.
func (f Format) BytesPerTexel() uint32 {
	switch f {
	case FormatR8Unorm:
		return 1
	case FormatRG8Unorm, FormatR16Float, FormatD16Unorm:
		return 2
	case FormatRGBA8Unorm, FormatRGBA8Srgb, FormatBGRA8Unorm, FormatBGRA8Srgb,
		FormatRG16Float, FormatR32Float, FormatR32Uint, FormatA2BGR10Unorm,
		FormatD32Float, FormatD24UnormS8Uint:
		return 4
	case FormatRGBA16Float, FormatRG32Float, FormatD32FloatS8Uint:
		return 8
	case FormatRGB32Float:
		return 12
	case FormatRGBA32Float:
		return 16
	}
	return 0
}

// ColorSpace of a presentable surface format.
type ColorSpace uint32

const (
	ColorSpaceSrgbNonlinear ColorSpace = iota
	ColorSpaceExtendedSrgbLinear
	ColorSpaceHdr10St2084
	ColorSpaceDisplayP3Nonlinear
)

// SurfaceFormat pairs a format with the color space the surface presents it in.
type SurfaceFormat struct {
	Format     Format
	ColorSpace ColorSpace
}

type PresentMode uint32

const (
	PresentModeImmediate PresentMode = iota
	PresentModeMailbox
	PresentModeFifo
	PresentModeFifoRelaxed
)

func (m PresentMode) String() string {
	switch m {
	case PresentModeImmediate:
		return "Immediate"
	case PresentModeMailbox:
		return "Mailbox"
	case PresentModeFifo:
		return "Fifo"
	case PresentModeFifoRelaxed:
		return "FifoRelaxed"
	}
	return "PresentMode(?)"
}

// ResourceLayout is the access/format state of an image. Transitions between
// layouts need an explicit barrier.
type ResourceLayout uint32

const (
	LayoutUndefined ResourceLayout = iota
	LayoutGeneral
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutShaderReadOnly
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

var layoutNames = [...]string{
	LayoutUndefined:              "Undefined",
	LayoutGeneral:                "General",
	LayoutColorAttachment:        "ColorAttachment",
	LayoutDepthStencilAttachment: "DepthStencilAttachment",
	LayoutDepthStencilReadOnly:   "DepthStencilReadOnly",
	LayoutShaderReadOnly:         "ShaderReadOnly",
	LayoutTransferSrc:            "TransferSrc",
	LayoutTransferDst:            "TransferDst",
	LayoutPresent:                "Present",
}

func (l ResourceLayout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "Layout(?)"
}

// Access is a bitset of memory access kinds used by barriers.
type Access uint32

const (
	AccessIndirectCommandRead Access = 1 << iota
	AccessIndexRead
	AccessVertexAttributeRead
	AccessUniformRead
	AccessInputAttachmentRead
	AccessShaderRead
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessDepthStencilRead
	AccessDepthStencilWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostRead
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite

	AccessNone Access = 0
)

// PipelineStage is a bitset of pipeline stages used by barriers and
// semaphore waits.
type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageDrawIndirect
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageComputeShader
	StageTransfer
	StageBottomOfPipe
	StageHost
	StageAllGraphics
	StageAllCommands
)

// Aspect selects the planes of an image a barrier or copy touches.
type Aspect uint32

const (
	AspectColor Aspect = 1 << iota
	AspectDepth
	AspectStencil
)

type BufferType uint32

const (
	// Static buffers are written rarely, usually once, and live in GPU-only
	// memory unless CpuAccess is requested.
	BufferTypeStatic BufferType = iota
	// Dynamic buffers are rewritten every frame and stay host mapped.
	BufferTypeDynamic
)

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndirect
	BufferUsageTransferSrc
	BufferUsageTransferDst
)

type BufferCreateFlags uint32

const (
	// BufferCreateCpuAccess asks for host-visible memory that the CPU
	// writes through a persistent mapping.
	BufferCreateCpuAccess BufferCreateFlags = 1 << iota
	// BufferCreateReadback asks for host-visible memory the GPU writes and
	// the CPU reads back.
	BufferCreateReadback
)

// MemoryUsage is the memory class a buffer is placed in.
type MemoryUsage uint32

const (
	MemoryGpuOnly MemoryUsage = iota
	MemoryCpuToGpu
	MemoryGpuToCpu
)

func (m MemoryUsage) HostVisible() bool {
	return m != MemoryGpuOnly
}

type TextureDimension uint32

const (
	TextureDimension2D TextureDimension = iota
	TextureDimension3D
	TextureDimensionCube
)

type TextureUsage uint32

const (
	TextureUsageSampled TextureUsage = 1 << iota
	TextureUsageStorage
	TextureUsageColorAttachment
	TextureUsageDepthStencilAttachment
	TextureUsageTransferSrc
	TextureUsageTransferDst
)

type LoadOp uint32

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp uint32

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
	ShaderStageCompute

	ShaderStageAllGraphics = ShaderStageVertex | ShaderStageFragment
)

type DescriptorType uint32

const (
	DescriptorTypeSampler DescriptorType = iota
	DescriptorTypeCombinedImageSampler
	DescriptorTypeSampledImage
	DescriptorTypeStorageImage
	DescriptorTypeUniformTexelBuffer
	DescriptorTypeStorageTexelBuffer
	DescriptorTypeUniformBuffer
	DescriptorTypeStorageBuffer
	DescriptorTypeUniformBufferDynamic
	DescriptorTypeStorageBufferDynamic
	DescriptorTypeInputAttachment
)

var descriptorTypeNames = [...]string{
	DescriptorTypeSampler:              "Sampler",
	DescriptorTypeCombinedImageSampler: "CombinedImageSampler",
	DescriptorTypeSampledImage:         "SampledImage",
	DescriptorTypeStorageImage:         "StorageImage",
	DescriptorTypeUniformTexelBuffer:   "UniformTexelBuffer",
	DescriptorTypeStorageTexelBuffer:   "StorageTexelBuffer",
	DescriptorTypeUniformBuffer:        "UniformBuffer",
	DescriptorTypeStorageBuffer:        "StorageBuffer",
	DescriptorTypeUniformBufferDynamic: "UniformBufferDynamic",
	DescriptorTypeStorageBufferDynamic: "StorageBufferDynamic",
	DescriptorTypeInputAttachment:      "InputAttachment",
}

func (t DescriptorType) String() string {
	if int(t) < len(descriptorTypeNames) {
		return descriptorTypeNames[t]
	}
	return "DescriptorType(?)"
}

type IndexType uint32

const (
	IndexTypeUint16 IndexType = iota
	IndexTypeUint32
)

type Filter uint32

const (
	FilterNearest Filter = iota
	FilterLinear
)

type MipmapMode uint32

const (
	MipmapModeNearest MipmapMode = iota
	MipmapModeLinear
)

type AddressMode uint32

const (
	AddressModeRepeat AddressMode = iota
	AddressModeMirroredRepeat
	AddressModeClampToEdge
	AddressModeClampToBorder
)

type CompareOp uint32

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

type PrimitiveTopology uint32

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyLineStrip
	TopologyPointList
)

type CullMode uint32

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
	CullModeFrontAndBack
)

type FrontFace uint32

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type CommandBufferLevel uint32

const (
	CommandBufferLevelPrimary CommandBufferLevel = iota
	CommandBufferLevelSecondary
)

// QueueType selects the device queue work is submitted to.
type QueueType uint32

const (
	QueueGraphics QueueType = iota
	QueueTransfer
	QueuePresent
)

// Viewport in framebuffer coordinates.
type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// Rect is a scissor or render area rectangle.
type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type Extent struct {
	Width, Height uint32
}

// SubresourceRange selects mip levels and array layers of a texture. A zero
// count means "all remaining".
type SubresourceRange struct {
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// ClearValue is one entry of the clear list passed to BeginRenderPass.
// Color attachments read Color, the depth/stencil attachment reads Depth and
// Stencil.
type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

// AttachmentClear is the native-ready form of a ClearValue, resolved against
// a framebuffer's attachment order.
type AttachmentClear struct {
	DepthStencil bool
	Color        [4]float32
	Depth        float32
	Stencil      uint32
}

// Status is the outcome of swap chain acquire/present.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusSuboptimal
	StatusOutOfDate
	StatusTimeout
	StatusSurfaceLost
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusSuboptimal:
		return "Suboptimal"
	case StatusOutOfDate:
		return "OutOfDate"
	case StatusTimeout:
		return "Timeout"
	case StatusSurfaceLost:
		return "SurfaceLost"
	}
	return "Error"
}
