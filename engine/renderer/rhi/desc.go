package rhi

import "time"

type BufferDesc struct {
	Name        string
	Size        uint64
	Type        BufferType
	Usage       BufferUsage
	CreateFlags BufferCreateFlags
}

// MemoryUsage derives the memory class from the buffer type and flags.
func (d *BufferDesc) MemoryUsage() MemoryUsage {
	switch {
	case d.CreateFlags&BufferCreateReadback != 0:
		return MemoryGpuToCpu
	case d.Type == BufferTypeDynamic || d.CreateFlags&BufferCreateCpuAccess != 0:
		return MemoryCpuToGpu
	default:
		return MemoryGpuOnly
	}
}

type TextureDesc struct {
	Name        string
	Dimension   TextureDimension
	Width       uint32
	Height      uint32
	Depth       uint32
	MipLevels   uint32
	ArrayLayers uint32
	Format      Format
	Samples     uint32
	Usage       TextureUsage
	// InitialLayout is the layout the texture is primed into at creation.
	// Undefined lets the device pick one from Usage.
	InitialLayout ResourceLayout
}

type SamplerDesc struct {
	Name          string
	MinFilter     Filter
	MagFilter     Filter
	MipmapMode    MipmapMode
	AddressU      AddressMode
	AddressV      AddressMode
	AddressW      AddressMode
	MaxAnisotropy float32
	CompareEnable bool
	CompareOp     CompareOp
	MinLod        float32
	MaxLod        float32
}

// ShaderDesc carries SPIR-V bytecode for one stage.
type ShaderDesc struct {
	Name       string
	Stage      ShaderStage
	Code       []byte
	EntryPoint string
}

type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type GraphicsPipelineDesc struct {
	Name                 string
	VertexShader         *Shader
	FragmentShader       *Shader
	VertexLayout         VertexLayout
	Topology             PrimitiveTopology
	CullMode             CullMode
	FrontFace            FrontFace
	Wireframe            bool
	DepthTest            bool
	DepthWrite           bool
	DepthCompare         CompareOp
	BlendEnable          bool
	DescriptorSetLayouts []*DescriptorSetLayout
	PushConstantSize     uint32
	RenderPass           *RenderPass
}

type DescriptorSetLayoutBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorSetLayoutDesc struct {
	Name     string
	Bindings []DescriptorSetLayoutBinding
}

type AttachmentDesc struct {
	Format         Format
	Samples        uint32
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ResourceLayout
	FinalLayout    ResourceLayout
}

type RenderPassDesc struct {
	Name             string
	ColorAttachments []AttachmentDesc
	DepthStencil     *AttachmentDesc
}

type FramebufferDesc struct {
	Name             string
	RenderPass       *RenderPass
	ColorAttachments []*Texture
	DepthStencil     *Texture
	Width            uint32
	Height           uint32
}

type CommandBufferDesc struct {
	Name  string
	Level CommandBufferLevel
	// Pool overrides the device's graphics command pool, e.g. for recording
	// on another goroutine.
	Pool *CommandPoolManager
}

type FenceDesc struct {
	Signaled bool
}

type SwapChainDesc struct {
	Width             uint32
	Height            uint32
	Format            Format
	VSync             bool
	MaxFramesInFlight uint32
	// AcquireTimeout bounds the in-flight fence wait in AcquireNextImage.
	// Zero waits forever.
	AcquireTimeout time.Duration
}

type DeviceDesc struct {
	Backend          Backend
	ApplicationName  string
	EnableValidation bool
	// Window is the platform window the surface is created from. It may be
	// nil for offscreen devices.
	Window                any
	DescriptorPoolMaxSets uint32
}
