package rhi

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Native object handles. Each backend keeps its objects in a core.Arena
// keyed by these, so a handle that outlives its object fails the lookup.
// The aliases are referenced from the structs they tag, which needs Go 1.24.
type (
	BufferHandle              = core.Handle[Buffer]
	TextureHandle             = core.Handle[Texture]
	SamplerHandle             = core.Handle[Sampler]
	ShaderHandle              = core.Handle[Shader]
	PipelineHandle            = core.Handle[GraphicsPipeline]
	DescriptorSetLayoutHandle = core.Handle[DescriptorSetLayout]
	DescriptorPoolHandle      = core.Handle[DescriptorPoolManager]
	DescriptorSetHandle       = core.Handle[DescriptorSet]
	RenderPassHandle          = core.Handle[RenderPass]
	FramebufferHandle         = core.Handle[Framebuffer]
	CommandPoolHandle         = core.Handle[CommandPoolManager]
	CommandBufferHandle       = core.Handle[CommandBuffer]
	FenceHandle               = core.Handle[Fence]
	SemaphoreHandle           = core.Handle[Semaphore]
	SurfaceHandle             = core.Handle[Surface]
	SwapChainHandle           = core.Handle[SwapChain]
)

// Surface tags handles to a presentation surface. The surface itself lives
// in the driver.
type Surface struct{}

// BufferAllocation describes the memory a driver bound to a new buffer.
type BufferAllocation struct {
	// Mapped is the persistent host mapping, nil for GPU-only memory.
	Mapped []byte
	// Coherent is false when host writes need an explicit flush.
	Coherent bool
}

// DescriptorPoolSize is one entry of a descriptor pool's quota catalog.
type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

// BufferCopy is one region of a buffer-to-buffer copy.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// BufferTextureCopy is one region of a copy between a buffer and a texture
// subresource. A zero Width/Height/Depth takes the mip level's full extent.
type BufferTextureCopy struct {
	BufferOffset uint64
	MipLevel     uint32
	ArrayLayer   uint32
	X, Y, Z      int32
	Width        uint32
	Height       uint32
	Depth        uint32
}

// TextureCopy is one region of a texture-to-texture copy.
type TextureCopy struct {
	SrcMipLevel   uint32
	SrcArrayLayer uint32
	DstMipLevel   uint32
	DstArrayLayer uint32
	Width         uint32
	Height        uint32
	Depth         uint32
}

// ImageBarrier is the resolved, native-ready form of a layout transition.
type ImageBarrier struct {
	Texture   TextureHandle
	OldLayout ResourceLayout
	NewLayout ResourceLayout
	SrcAccess Access
	DstAccess Access
	SrcStages PipelineStage
	DstStages PipelineStage
	Aspect    Aspect
	Range     SubresourceRange
}

// DescriptorWrite is one immediate update of a descriptor set binding.
type DescriptorWrite struct {
	Binding      uint32
	ArrayElement uint32
	Type         DescriptorType
	Buffer       BufferHandle
	Offset       uint64
	Range        uint64
	Texture      TextureHandle
	Layout       ResourceLayout
	Sampler      SamplerHandle
}

// SubmitInfo is one queue submission.
type SubmitInfo struct {
	CommandBuffers   []CommandBufferHandle
	WaitSemaphores   []SemaphoreHandle
	WaitStages       []PipelineStage
	SignalSemaphores []SemaphoreHandle
	Fence            FenceHandle
}

// SurfaceCapabilities mirrors what the presentation engine reports for a
// surface.
type SurfaceCapabilities struct {
	MinImageCount  uint32
	MaxImageCount  uint32
	CurrentExtent  Extent
	MinImageExtent Extent
	MaxImageExtent Extent
}

// SwapChainCreateInfo carries the already-selected swap chain parameters.
type SwapChainCreateInfo struct {
	Surface     SurfaceHandle
	Format      SurfaceFormat
	PresentMode PresentMode
	Extent      Extent
	ImageCount  uint32
}

// Driver is the native half of the RHI. A Device holds exactly one Driver,
// chosen from DeviceDesc.Backend when the device is created; every Device
// method that touches the GPU goes through it.
type Driver interface {
	ResourceDriver
	CommandDriver
	PresentDriver

	Name() string
	// Surface is the surface created from DeviceDesc.Window, nil if none.
	Surface() SurfaceHandle
	Submit(queue QueueType, info *SubmitInfo) error
	WaitIdle() error
	Destroy()
}

// ResourceDriver creates and destroys native objects.
type ResourceDriver interface {
	CreateBuffer(desc *BufferDesc, memory MemoryUsage) (BufferHandle, BufferAllocation, error)
	DestroyBuffer(h BufferHandle)
	FlushBuffer(h BufferHandle, offset, size uint64) error
	InvalidateBuffer(h BufferHandle, offset, size uint64) error

	CreateTexture(desc *TextureDesc) (TextureHandle, error)
	DestroyTexture(h TextureHandle)

	CreateSampler(desc *SamplerDesc) (SamplerHandle, error)
	DestroySampler(h SamplerHandle)

	CreateShader(desc *ShaderDesc) (ShaderHandle, error)
	DestroyShader(h ShaderHandle)

	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (PipelineHandle, error)
	DestroyPipeline(h PipelineHandle)

	CreateDescriptorSetLayout(desc *DescriptorSetLayoutDesc) (DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(h DescriptorSetLayoutHandle)

	CreateDescriptorPool(sizes []DescriptorPoolSize, maxSets uint32) (DescriptorPoolHandle, error)
	// AllocateDescriptorSet returns ErrOutOfPoolMemory or ErrFragmentedPool
	// when the pool cannot serve the request.
	AllocateDescriptorSet(pool DescriptorPoolHandle, layout DescriptorSetLayoutHandle) (DescriptorSetHandle, error)
	// ResetDescriptorPool frees every set allocated from the pool.
	ResetDescriptorPool(pool DescriptorPoolHandle) error
	DestroyDescriptorPool(pool DescriptorPoolHandle)
	UpdateDescriptorSet(set DescriptorSetHandle, writes []DescriptorWrite) error

	CreateRenderPass(desc *RenderPassDesc) (RenderPassHandle, error)
	DestroyRenderPass(h RenderPassHandle)

	CreateFramebuffer(pass RenderPassHandle, attachments []TextureHandle, width, height uint32) (FramebufferHandle, error)
	DestroyFramebuffer(h FramebufferHandle)

	CreateCommandPool(queue QueueType, transient bool) (CommandPoolHandle, error)
	ResetCommandPool(h CommandPoolHandle) error
	DestroyCommandPool(h CommandPoolHandle)
	AllocateCommandBuffer(pool CommandPoolHandle, level CommandBufferLevel) (CommandBufferHandle, error)
	FreeCommandBuffer(pool CommandPoolHandle, h CommandBufferHandle)

	CreateFence(signaled bool) (FenceHandle, error)
	// WaitFence returns ErrTimeout when the fence did not signal in time.
	WaitFence(h FenceHandle, timeout time.Duration) error
	ResetFence(h FenceHandle) error
	FenceSignaled(h FenceHandle) (bool, error)
	DestroyFence(h FenceHandle)

	CreateSemaphore() (SemaphoreHandle, error)
	DestroySemaphore(h SemaphoreHandle)
}

// CommandDriver records native commands. Recording calls never fail; the
// backend logs handles it cannot resolve and skips the command.
type CommandDriver interface {
	BeginCommandBuffer(cmd CommandBufferHandle, oneTimeSubmit bool) error
	EndCommandBuffer(cmd CommandBufferHandle) error
	ResetCommandBuffer(cmd CommandBufferHandle) error

	CmdBindPipeline(cmd CommandBufferHandle, pipeline PipelineHandle)
	CmdSetViewport(cmd CommandBufferHandle, viewport Viewport)
	CmdSetScissor(cmd CommandBufferHandle, scissor Rect)
	CmdBindVertexBuffer(cmd CommandBufferHandle, slot uint32, buffer BufferHandle, offset uint64)
	CmdBindIndexBuffer(cmd CommandBufferHandle, buffer BufferHandle, offset uint64, indexType IndexType)
	CmdBindDescriptorSet(cmd CommandBufferHandle, pipeline PipelineHandle, index uint32, set DescriptorSetHandle)
	CmdPipelineBarrier(cmd CommandBufferHandle, barrier ImageBarrier)
	CmdCopyBuffer(cmd CommandBufferHandle, src, dst BufferHandle, region BufferCopy)
	CmdCopyBufferToTexture(cmd CommandBufferHandle, src BufferHandle, dst TextureHandle, aspect Aspect, region BufferTextureCopy)
	CmdCopyTextureToBuffer(cmd CommandBufferHandle, src TextureHandle, dst BufferHandle, aspect Aspect, region BufferTextureCopy)
	CmdCopyTexture(cmd CommandBufferHandle, src, dst TextureHandle, aspect Aspect, region TextureCopy)
	CmdClearColor(cmd CommandBufferHandle, texture TextureHandle, color [4]float32, rng SubresourceRange)
	CmdClearDepthStencil(cmd CommandBufferHandle, texture TextureHandle, aspect Aspect, depth float32, stencil uint32, rng SubresourceRange)
	CmdBeginRenderPass(cmd CommandBufferHandle, pass RenderPassHandle, framebuffer FramebufferHandle, area Rect, clears []AttachmentClear)
	CmdEndRenderPass(cmd CommandBufferHandle)
	CmdDraw(cmd CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32)
	CmdDrawIndexed(cmd CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// PresentDriver talks to the presentation engine.
type PresentDriver interface {
	SurfaceCapabilities(surface SurfaceHandle) (SurfaceCapabilities, error)
	SurfaceFormats(surface SurfaceHandle) ([]SurfaceFormat, error)
	SurfacePresentModes(surface SurfaceHandle) ([]PresentMode, error)

	CreateSwapChain(info *SwapChainCreateInfo) (SwapChainHandle, error)
	DestroySwapChain(h SwapChainHandle)
	// SwapChainImages wraps every presentable image in a texture handle that
	// owns only its view.
	SwapChainImages(h SwapChainHandle) ([]TextureHandle, error)
	AcquireNextImage(h SwapChainHandle, signal SemaphoreHandle, timeout time.Duration) (uint32, Status)
	Present(h SwapChainHandle, imageIndex uint32, wait SemaphoreHandle) Status
}

// Backend selects the Driver implementation.
type Backend uint32

const (
	BackendVulkan Backend = iota
	BackendHeadless
)

func (b Backend) String() string {
	switch b {
	case BackendVulkan:
		return "vulkan"
	case BackendHeadless:
		return "headless"
	}
	return fmt.Sprintf("Backend(%d)", uint32(b))
}

// ParseBackend maps a config name onto a Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "vulkan", "":
		return BackendVulkan, nil
	case "headless":
		return BackendHeadless, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// DriverFactory opens a Driver for a device description.
type DriverFactory func(desc *DeviceDesc) (Driver, error)

var (
	backendsMu sync.RWMutex
	backends   = map[Backend]DriverFactory{}
)

// RegisterBackend makes a driver available to NewDevice. Backends call it
// from init.
func RegisterBackend(b Backend, factory DriverFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if factory == nil {
		panic("rhi: RegisterBackend factory is nil")
	}
	if _, dup := backends[b]; dup {
		panic("rhi: RegisterBackend called twice for " + b.String())
	}
	backends[b] = factory
}

func lookupBackend(b Backend) (DriverFactory, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	f, ok := backends[b]
	return f, ok
}
