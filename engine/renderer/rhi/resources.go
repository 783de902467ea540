package rhi

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Infinite makes a fence wait block until the fence signals.
const Infinite = time.Duration(math.MaxInt64)

// resourceName returns name, or a unique label for unnamed resources so
// validation messages can still tell them apart.
func resourceName(kind, name string) string {
	if name != "" {
		return name
	}
	return kind + "-" + uuid.NewString()
}

// Buffer is a block of GPU memory. Host-visible buffers stay mapped for
// their whole lifetime.
type Buffer struct {
	device   *Device
	handle   BufferHandle
	desc     BufferDesc
	memory   MemoryUsage
	mapped   []byte
	coherent bool
}

func (b *Buffer) Handle() BufferHandle     { return b.handle }
func (b *Buffer) Desc() BufferDesc         { return b.desc }
func (b *Buffer) Name() string             { return b.desc.Name }
func (b *Buffer) Size() uint64             { return b.desc.Size }
func (b *Buffer) MemoryUsage() MemoryUsage { return b.memory }
func (b *Buffer) IsMapped() bool           { return b.mapped != nil }
func (b *Buffer) IsCoherent() bool         { return b.coherent }

// Mapped returns the persistent host mapping, nil for GPU-only buffers.
// Writes through it to non-coherent memory need Device.UpdateBuffer or an
// explicit Flush.
func (b *Buffer) Mapped() []byte { return b.mapped }

// Flush makes host writes to [offset, offset+size) visible to the device.
func (b *Buffer) Flush(offset, size uint64) error {
	if b.coherent || b.mapped == nil {
		return nil
	}
	return b.device.driver.FlushBuffer(b.handle, offset, size)
}

func (b *Buffer) valid() bool {
	return b != nil && !b.handle.IsNil()
}

// Destroy frees the native buffer and its memory. It is safe to call twice.
func (b *Buffer) Destroy() {
	if !b.valid() {
		return
	}
	b.device.driver.DestroyBuffer(b.handle)
	b.handle = BufferHandle{}
	b.mapped = nil
}

// Texture is an image plus its default view. The current layout is only
// changed by barriers recorded through a CommandBuffer.
type Texture struct {
	device  *Device
	handle  TextureHandle
	desc    TextureDesc
	layout  ResourceLayout
	wrapped bool
}

func (t *Texture) Handle() TextureHandle { return t.handle }
func (t *Texture) Desc() TextureDesc     { return t.desc }
func (t *Texture) Name() string          { return t.desc.Name }
func (t *Texture) Format() Format        { return t.desc.Format }
func (t *Texture) Width() uint32         { return t.desc.Width }
func (t *Texture) Height() uint32        { return t.desc.Height }
func (t *Texture) MipLevels() uint32     { return t.desc.MipLevels }
func (t *Texture) ArrayLayers() uint32   { return t.desc.ArrayLayers }

// CurrentLayout is the layout established by the last recorded barrier.
func (t *Texture) CurrentLayout() ResourceLayout { return t.layout }

// IsWrapped reports whether the texture only owns a view of an image it
// does not own, as for swap chain images.
func (t *Texture) IsWrapped() bool { return t.wrapped }

// MipExtent is the size of the given mip level, never smaller than 1.
func (t *Texture) MipExtent(level uint32) (width, height, depth uint32) {
	width = max(t.desc.Width>>level, 1)
	height = max(t.desc.Height>>level, 1)
	depth = max(t.desc.Depth>>level, 1)
	return width, height, depth
}

// MipByteSize is the tightly packed size of one layer of the given mip level.
func (t *Texture) MipByteSize(level uint32) uint64 {
	w, h, d := t.MipExtent(level)
	return uint64(w) * uint64(h) * uint64(d) * uint64(t.desc.Format.BytesPerTexel())
}

func (t *Texture) clampRange(rng SubresourceRange) SubresourceRange {
	if rng.BaseMipLevel >= t.desc.MipLevels {
		rng.BaseMipLevel = t.desc.MipLevels - 1
	}
	if rng.BaseArrayLayer >= t.desc.ArrayLayers {
		rng.BaseArrayLayer = t.desc.ArrayLayers - 1
	}
	remainingMips := t.desc.MipLevels - rng.BaseMipLevel
	if rng.MipLevelCount == 0 || rng.MipLevelCount > remainingMips {
		rng.MipLevelCount = remainingMips
	}
	remainingLayers := t.desc.ArrayLayers - rng.BaseArrayLayer
	if rng.ArrayLayerCount == 0 || rng.ArrayLayerCount > remainingLayers {
		rng.ArrayLayerCount = remainingLayers
	}
	return rng
}

func (t *Texture) valid() bool {
	return t != nil && !t.handle.IsNil()
}

// Destroy releases the view, and the image and memory unless the texture
// is wrapped.
func (t *Texture) Destroy() {
	if !t.valid() {
		return
	}
	t.device.driver.DestroyTexture(t.handle)
	t.handle = TextureHandle{}
}

type Sampler struct {
	device *Device
	handle SamplerHandle
	desc   SamplerDesc
}

func (s *Sampler) Handle() SamplerHandle { return s.handle }
func (s *Sampler) Desc() SamplerDesc     { return s.desc }

func (s *Sampler) Destroy() {
	if s == nil || s.handle.IsNil() {
		return
	}
	s.device.driver.DestroySampler(s.handle)
	s.handle = SamplerHandle{}
}

type Shader struct {
	device *Device
	handle ShaderHandle
	desc   ShaderDesc
}

func (s *Shader) Handle() ShaderHandle { return s.handle }
func (s *Shader) Stage() ShaderStage   { return s.desc.Stage }
func (s *Shader) Name() string         { return s.desc.Name }
func (s *Shader) EntryPoint() string   { return s.desc.EntryPoint }

func (s *Shader) Destroy() {
	if s == nil || s.handle.IsNil() {
		return
	}
	s.device.driver.DestroyShader(s.handle)
	s.handle = ShaderHandle{}
}

type GraphicsPipeline struct {
	device *Device
	handle PipelineHandle
	desc   GraphicsPipelineDesc
}

func (p *GraphicsPipeline) Handle() PipelineHandle { return p.handle }
func (p *GraphicsPipeline) Name() string           { return p.desc.Name }

func (p *GraphicsPipeline) Destroy() {
	if p == nil || p.handle.IsNil() {
		return
	}
	p.device.driver.DestroyPipeline(p.handle)
	p.handle = PipelineHandle{}
}

// DescriptorSetLayout is immutable once created.
type DescriptorSetLayout struct {
	device   *Device
	handle   DescriptorSetLayoutHandle
	desc     DescriptorSetLayoutDesc
	bindings map[uint32]DescriptorSetLayoutBinding
}

func (l *DescriptorSetLayout) Handle() DescriptorSetLayoutHandle { return l.handle }
func (l *DescriptorSetLayout) Desc() DescriptorSetLayoutDesc     { return l.desc }

// Binding looks up a binding slot by number.
func (l *DescriptorSetLayout) Binding(binding uint32) (DescriptorSetLayoutBinding, bool) {
	b, ok := l.bindings[binding]
	return b, ok
}

func (l *DescriptorSetLayout) Destroy() {
	if l == nil || l.handle.IsNil() {
		return
	}
	l.device.driver.DestroyDescriptorSetLayout(l.handle)
	l.handle = DescriptorSetLayoutHandle{}
}

// RenderPass has one graphics subpass over its color attachments and the
// optional depth/stencil attachment.
type RenderPass struct {
	device *Device
	handle RenderPassHandle
	desc   RenderPassDesc
}

func (r *RenderPass) Handle() RenderPassHandle { return r.handle }
func (r *RenderPass) Desc() RenderPassDesc     { return r.desc }
func (r *RenderPass) Name() string             { return r.desc.Name }

func (r *RenderPass) ColorAttachmentCount() int { return len(r.desc.ColorAttachments) }
func (r *RenderPass) HasDepthStencil() bool     { return r.desc.DepthStencil != nil }

func (r *RenderPass) Destroy() {
	if r == nil || r.handle.IsNil() {
		return
	}
	r.device.driver.DestroyRenderPass(r.handle)
	r.handle = RenderPassHandle{}
}

// Framebuffer binds concrete textures to the attachment slots of a render
// pass, color attachments first.
type Framebuffer struct {
	device *Device
	handle FramebufferHandle
	desc   FramebufferDesc
}

func (f *Framebuffer) Handle() FramebufferHandle { return f.handle }
func (f *Framebuffer) RenderPass() *RenderPass   { return f.desc.RenderPass }
func (f *Framebuffer) Width() uint32             { return f.desc.Width }
func (f *Framebuffer) Height() uint32            { return f.desc.Height }

func (f *Framebuffer) ColorAttachmentCount() int { return len(f.desc.ColorAttachments) }
func (f *Framebuffer) HasDepthStencil() bool     { return f.desc.DepthStencil != nil }

func (f *Framebuffer) Destroy() {
	if f == nil || f.handle.IsNil() {
		return
	}
	f.device.driver.DestroyFramebuffer(f.handle)
	f.handle = FramebufferHandle{}
}

// Fence is a GPU-to-host completion signal.
type Fence struct {
	device *Device
	handle FenceHandle
}

func (f *Fence) Handle() FenceHandle { return f.handle }

// Wait blocks until the fence signals or the timeout expires, in which case
// it returns ErrTimeout. Use Infinite to wait without bound.
func (f *Fence) Wait(timeout time.Duration) error {
	if f == nil || f.handle.IsNil() {
		return ErrStaleHandle
	}
	return f.device.driver.WaitFence(f.handle, timeout)
}

func (f *Fence) Reset() error {
	if f == nil || f.handle.IsNil() {
		return ErrStaleHandle
	}
	return f.device.driver.ResetFence(f.handle)
}

func (f *Fence) IsSignaled() bool {
	if f == nil || f.handle.IsNil() {
		return false
	}
	ok, err := f.device.driver.FenceSignaled(f.handle)
	if err != nil {
		core.LogError("failed to query fence status: %v", err)
		return false
	}
	return ok
}

func (f *Fence) Destroy() {
	if f == nil || f.handle.IsNil() {
		return
	}
	f.device.driver.DestroyFence(f.handle)
	f.handle = FenceHandle{}
}

// Semaphore orders queue operations on the GPU. It is never observed from
// the host.
type Semaphore struct {
	device *Device
	handle SemaphoreHandle
}

func (s *Semaphore) Handle() SemaphoreHandle { return s.handle }

func (s *Semaphore) Destroy() {
	if s == nil || s.handle.IsNil() {
		return
	}
	s.device.driver.DestroySemaphore(s.handle)
	s.handle = SemaphoreHandle{}
}
