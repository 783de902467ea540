// Package headless is an in-memory rhi.Driver. It keeps buffer and texture
// contents in host memory, executes recorded copies and clears at submit
// time and counts every native call, which makes it the backend for tests
// and for running the engine without a GPU.
package headless

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func init() {
	rhi.RegisterBackend(rhi.BackendHeadless, func(desc *rhi.DeviceDesc) (rhi.Driver, error) {
		return New(), nil
	})
}

// Config tunes the simulated device.
type Config struct {
	// SurfaceWidth and SurfaceHeight size the virtual window surface. A
	// zero size creates no surface.
	SurfaceWidth  uint32
	SurfaceHeight uint32
	// NonCoherent makes host-visible memory require explicit flushes.
	NonCoherent bool
}

type buffer struct {
	desc     rhi.BufferDesc
	memory   rhi.MemoryUsage
	data     []byte
	flushed  []rhi.BufferCopy
	coherent bool
}

type texture struct {
	desc    rhi.TextureDesc
	wrapped bool
	// subresources holds one tightly packed slice per mip level and layer,
	// indexed mip*ArrayLayers+layer.
	subresources [][]byte
}

type descriptorPool struct {
	maxSets uint32
	sets    []rhi.DescriptorSetHandle
}

type descriptorSet struct {
	pool   rhi.DescriptorPoolHandle
	layout rhi.DescriptorSetLayoutHandle
	writes map[uint32]rhi.DescriptorWrite
}

type commandPool struct {
	queue     rhi.QueueType
	transient bool
	buffers   map[rhi.CommandBufferHandle]struct{}
}

type commandBuffer struct {
	pool      rhi.CommandPoolHandle
	level     rhi.CommandBufferLevel
	recording bool
	commands  []Command
}

type fence struct {
	signaled bool
}

type swapChain struct {
	info   rhi.SwapChainCreateInfo
	images []rhi.TextureHandle
	next   uint32
}

// Driver implements rhi.Driver in host memory.
type Driver struct {
	cfg Config

	buffers       *core.Arena[rhi.Buffer, *buffer]
	textures      *core.Arena[rhi.Texture, *texture]
	samplers      *core.Arena[rhi.Sampler, rhi.SamplerDesc]
	shaders       *core.Arena[rhi.Shader, rhi.ShaderDesc]
	pipelines     *core.Arena[rhi.GraphicsPipeline, rhi.GraphicsPipelineDesc]
	setLayouts    *core.Arena[rhi.DescriptorSetLayout, rhi.DescriptorSetLayoutDesc]
	pools         *core.Arena[rhi.DescriptorPoolManager, *descriptorPool]
	sets          *core.Arena[rhi.DescriptorSet, *descriptorSet]
	renderPasses  *core.Arena[rhi.RenderPass, rhi.RenderPassDesc]
	framebuffers  *core.Arena[rhi.Framebuffer, []rhi.TextureHandle]
	commandPools  *core.Arena[rhi.CommandPoolManager, *commandPool]
	commands      *core.Arena[rhi.CommandBuffer, *commandBuffer]
	fences        *core.Arena[rhi.Fence, *fence]
	semaphores    *core.Arena[rhi.Semaphore, struct{}]
	surfaces      *core.Arena[rhi.Surface, struct{}]
	swapChains    *core.Arena[rhi.SwapChain, *swapChain]
	surfaceHandle rhi.SurfaceHandle

	mu             sync.Mutex
	calls          map[string]int
	failures       map[string][]error
	caps           rhi.SurfaceCapabilities
	formats        []rhi.SurfaceFormat
	presentModes   []rhi.PresentMode
	acquireResults []rhi.Status
	presentResults []rhi.Status
	destroyed      bool
}

// New returns a driver with an 800x600 surface and coherent memory.
func New() *Driver {
	return NewWithConfig(Config{SurfaceWidth: 800, SurfaceHeight: 600})
}

func NewWithConfig(cfg Config) *Driver {
	d := &Driver{
		cfg:          cfg,
		buffers:      core.NewArena[rhi.Buffer, *buffer](),
		textures:     core.NewArena[rhi.Texture, *texture](),
		samplers:     core.NewArena[rhi.Sampler, rhi.SamplerDesc](),
		shaders:      core.NewArena[rhi.Shader, rhi.ShaderDesc](),
		pipelines:    core.NewArena[rhi.GraphicsPipeline, rhi.GraphicsPipelineDesc](),
		setLayouts:   core.NewArena[rhi.DescriptorSetLayout, rhi.DescriptorSetLayoutDesc](),
		pools:        core.NewArena[rhi.DescriptorPoolManager, *descriptorPool](),
		sets:         core.NewArena[rhi.DescriptorSet, *descriptorSet](),
		renderPasses: core.NewArena[rhi.RenderPass, rhi.RenderPassDesc](),
		framebuffers: core.NewArena[rhi.Framebuffer, []rhi.TextureHandle](),
		commandPools: core.NewArena[rhi.CommandPoolManager, *commandPool](),
		commands:     core.NewArena[rhi.CommandBuffer, *commandBuffer](),
		fences:       core.NewArena[rhi.Fence, *fence](),
		semaphores:   core.NewArena[rhi.Semaphore, struct{}](),
		surfaces:     core.NewArena[rhi.Surface, struct{}](),
		swapChains:   core.NewArena[rhi.SwapChain, *swapChain](),
		calls:        map[string]int{},
		failures:     map[string][]error{},
		formats: []rhi.SurfaceFormat{
			{Format: rhi.FormatBGRA8Srgb, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
			{Format: rhi.FormatBGRA8Unorm, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
		},
		presentModes: []rhi.PresentMode{rhi.PresentModeFifo, rhi.PresentModeMailbox},
	}
	if cfg.SurfaceWidth > 0 && cfg.SurfaceHeight > 0 {
		d.surfaceHandle = d.surfaces.Insert(struct{}{})
		d.caps = rhi.SurfaceCapabilities{
			MinImageCount:  2,
			MaxImageCount:  3,
			CurrentExtent:  rhi.Extent{Width: cfg.SurfaceWidth, Height: cfg.SurfaceHeight},
			MinImageExtent: rhi.Extent{Width: 1, Height: 1},
			MaxImageExtent: rhi.Extent{Width: 16384, Height: 16384},
		}
	}
	return d
}

// call counts a native call and returns the failure queued for it, if any.
func (d *Driver) call(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[name]++
	if errs := d.failures[name]; len(errs) > 0 {
		d.failures[name] = errs[1:]
		return errs[0]
	}
	return nil
}

// Calls reports how many times the named driver method ran, e.g.
// "CmdPipelineBarrier" or "ResetDescriptorPool".
func (d *Driver) Calls(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

// FailNext makes the next call of the named fallible method return err.
// Repeated calls queue up failures for consecutive calls.
func (d *Driver) FailNext(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[name] = append(d.failures[name], err)
}

// Live is the number of native objects currently alive, surfaces excluded.
func (d *Driver) Live() int {
	return d.buffers.Len() + d.textures.Len() + d.samplers.Len() + d.shaders.Len() +
		d.pipelines.Len() + d.setLayouts.Len() + d.pools.Len() + d.sets.Len() +
		d.renderPasses.Len() + d.framebuffers.Len() + d.commandPools.Len() +
		d.commands.Len() + d.fences.Len() + d.semaphores.Len() + d.swapChains.Len()
}

func (d *Driver) Name() string               { return "headless" }
func (d *Driver) Surface() rhi.SurfaceHandle { return d.surfaceHandle }
func (d *Driver) WaitIdle() error            { return d.call("WaitIdle") }

// IsDestroyed reports whether the owning device has released the driver.
func (d *Driver) IsDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *Driver) stale(kind string, h fmt.Stringer) {
	core.LogError("headless: %s %s: %v", kind, h, rhi.ErrStaleHandle)
}

func (d *Driver) Destroy() {
	d.call("Destroy")
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
	d.surfaces.Clear()
	d.surfaceHandle = rhi.SurfaceHandle{}
}

// Buffers

func (d *Driver) CreateBuffer(desc *rhi.BufferDesc, memory rhi.MemoryUsage) (rhi.BufferHandle, rhi.BufferAllocation, error) {
	if err := d.call("CreateBuffer"); err != nil {
		return rhi.BufferHandle{}, rhi.BufferAllocation{}, err
	}
	b := &buffer{
		desc:     *desc,
		memory:   memory,
		data:     make([]byte, desc.Size),
		coherent: !d.cfg.NonCoherent,
	}
	alloc := rhi.BufferAllocation{Coherent: b.coherent}
	if memory.HostVisible() {
		alloc.Mapped = b.data
	}
	return d.buffers.Insert(b), alloc, nil
}

func (d *Driver) DestroyBuffer(h rhi.BufferHandle) {
	d.call("DestroyBuffer")
	if _, ok := d.buffers.Remove(h); !ok {
		d.stale("buffer", h)
	}
}

func (d *Driver) FlushBuffer(h rhi.BufferHandle, offset, size uint64) error {
	if err := d.call("FlushBuffer"); err != nil {
		return err
	}
	b, ok := d.buffers.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	if offset+size > uint64(len(b.data)) {
		return rhi.ErrOutOfBounds
	}
	d.mu.Lock()
	b.flushed = append(b.flushed, rhi.BufferCopy{DstOffset: offset, Size: size})
	d.mu.Unlock()
	return nil
}

func (d *Driver) InvalidateBuffer(h rhi.BufferHandle, offset, size uint64) error {
	if err := d.call("InvalidateBuffer"); err != nil {
		return err
	}
	if !d.buffers.Contains(h) {
		return rhi.ErrStaleHandle
	}
	return nil
}

// Flushes returns the ranges flushed on a buffer, in order. Only DstOffset
// and Size are set.
func (d *Driver) Flushes(h rhi.BufferHandle) []rhi.BufferCopy {
	b, ok := d.buffers.Get(h)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]rhi.BufferCopy(nil), b.flushed...)
}

// BufferContents returns a copy of a buffer's memory, mapped or not.
func (d *Driver) BufferContents(h rhi.BufferHandle) []byte {
	b, ok := d.buffers.Get(h)
	if !ok {
		return nil
	}
	return append([]byte(nil), b.data...)
}

// Textures

func (d *Driver) CreateTexture(desc *rhi.TextureDesc) (rhi.TextureHandle, error) {
	if err := d.call("CreateTexture"); err != nil {
		return rhi.TextureHandle{}, err
	}
	return d.textures.Insert(newTexture(*desc, false)), nil
}

func newTexture(desc rhi.TextureDesc, wrapped bool) *texture {
	t := &texture{desc: desc, wrapped: wrapped}
	t.subresources = make([][]byte, desc.MipLevels*desc.ArrayLayers)
	for mip := uint32(0); mip < desc.MipLevels; mip++ {
		w, h, dep := mipExtent(desc, mip)
		for layer := uint32(0); layer < desc.ArrayLayers; layer++ {
			t.subresources[mip*desc.ArrayLayers+layer] = make([]byte, w*h*dep*desc.Format.BytesPerTexel())
		}
	}
	return t
}

func mipExtent(desc rhi.TextureDesc, mip uint32) (uint32, uint32, uint32) {
	return max(desc.Width>>mip, 1), max(desc.Height>>mip, 1), max(desc.Depth>>mip, 1)
}

func (t *texture) subresource(mip, layer uint32) []byte {
	if mip >= t.desc.MipLevels || layer >= t.desc.ArrayLayers {
		return nil
	}
	return t.subresources[mip*t.desc.ArrayLayers+layer]
}

func (d *Driver) DestroyTexture(h rhi.TextureHandle) {
	d.call("DestroyTexture")
	if _, ok := d.textures.Remove(h); !ok {
		d.stale("texture", h)
	}
}

// TextureContents returns a copy of one texture subresource.
func (d *Driver) TextureContents(h rhi.TextureHandle, mip, layer uint32) []byte {
	t, ok := d.textures.Get(h)
	if !ok {
		return nil
	}
	return append([]byte(nil), t.subresource(mip, layer)...)
}

// Samplers, shaders, pipelines

func (d *Driver) CreateSampler(desc *rhi.SamplerDesc) (rhi.SamplerHandle, error) {
	if err := d.call("CreateSampler"); err != nil {
		return rhi.SamplerHandle{}, err
	}
	return d.samplers.Insert(*desc), nil
}

func (d *Driver) DestroySampler(h rhi.SamplerHandle) {
	d.call("DestroySampler")
	if _, ok := d.samplers.Remove(h); !ok {
		d.stale("sampler", h)
	}
}

func (d *Driver) CreateShader(desc *rhi.ShaderDesc) (rhi.ShaderHandle, error) {
	if err := d.call("CreateShader"); err != nil {
		return rhi.ShaderHandle{}, err
	}
	return d.shaders.Insert(*desc), nil
}

func (d *Driver) DestroyShader(h rhi.ShaderHandle) {
	d.call("DestroyShader")
	if _, ok := d.shaders.Remove(h); !ok {
		d.stale("shader", h)
	}
}

func (d *Driver) CreateGraphicsPipeline(desc *rhi.GraphicsPipelineDesc) (rhi.PipelineHandle, error) {
	if err := d.call("CreateGraphicsPipeline"); err != nil {
		return rhi.PipelineHandle{}, err
	}
	return d.pipelines.Insert(*desc), nil
}

func (d *Driver) DestroyPipeline(h rhi.PipelineHandle) {
	d.call("DestroyPipeline")
	if _, ok := d.pipelines.Remove(h); !ok {
		d.stale("pipeline", h)
	}
}

// Descriptors

func (d *Driver) CreateDescriptorSetLayout(desc *rhi.DescriptorSetLayoutDesc) (rhi.DescriptorSetLayoutHandle, error) {
	if err := d.call("CreateDescriptorSetLayout"); err != nil {
		return rhi.DescriptorSetLayoutHandle{}, err
	}
	return d.setLayouts.Insert(*desc), nil
}

func (d *Driver) DestroyDescriptorSetLayout(h rhi.DescriptorSetLayoutHandle) {
	d.call("DestroyDescriptorSetLayout")
	if _, ok := d.setLayouts.Remove(h); !ok {
		d.stale("descriptor set layout", h)
	}
}

func (d *Driver) CreateDescriptorPool(sizes []rhi.DescriptorPoolSize, maxSets uint32) (rhi.DescriptorPoolHandle, error) {
	if err := d.call("CreateDescriptorPool"); err != nil {
		return rhi.DescriptorPoolHandle{}, err
	}
	return d.pools.Insert(&descriptorPool{maxSets: maxSets}), nil
}

func (d *Driver) AllocateDescriptorSet(pool rhi.DescriptorPoolHandle, layout rhi.DescriptorSetLayoutHandle) (rhi.DescriptorSetHandle, error) {
	if err := d.call("AllocateDescriptorSet"); err != nil {
		return rhi.DescriptorSetHandle{}, err
	}
	p, ok := d.pools.Get(pool)
	if !ok || !d.setLayouts.Contains(layout) {
		return rhi.DescriptorSetHandle{}, rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if uint32(len(p.sets)) >= p.maxSets {
		return rhi.DescriptorSetHandle{}, rhi.ErrOutOfPoolMemory
	}
	h := d.sets.Insert(&descriptorSet{pool: pool, layout: layout, writes: map[uint32]rhi.DescriptorWrite{}})
	p.sets = append(p.sets, h)
	return h, nil
}

func (d *Driver) ResetDescriptorPool(pool rhi.DescriptorPoolHandle) error {
	if err := d.call("ResetDescriptorPool"); err != nil {
		return err
	}
	p, ok := d.pools.Get(pool)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range p.sets {
		d.sets.Remove(s)
	}
	p.sets = nil
	return nil
}

func (d *Driver) DestroyDescriptorPool(pool rhi.DescriptorPoolHandle) {
	d.call("DestroyDescriptorPool")
	p, ok := d.pools.Remove(pool)
	if !ok {
		d.stale("descriptor pool", pool)
		return
	}
	for _, s := range p.sets {
		d.sets.Remove(s)
	}
}

func (d *Driver) UpdateDescriptorSet(set rhi.DescriptorSetHandle, writes []rhi.DescriptorWrite) error {
	if err := d.call("UpdateDescriptorSet"); err != nil {
		return err
	}
	s, ok := d.sets.Get(set)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range writes {
		s.writes[w.Binding] = w
	}
	return nil
}

// DescriptorWrites returns the last write of every binding of a set.
func (d *Driver) DescriptorWrites(set rhi.DescriptorSetHandle) map[uint32]rhi.DescriptorWrite {
	s, ok := d.sets.Get(set)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uint32]rhi.DescriptorWrite, len(s.writes))
	for k, v := range s.writes {
		out[k] = v
	}
	return out
}

// Render passes and framebuffers

func (d *Driver) CreateRenderPass(desc *rhi.RenderPassDesc) (rhi.RenderPassHandle, error) {
	if err := d.call("CreateRenderPass"); err != nil {
		return rhi.RenderPassHandle{}, err
	}
	return d.renderPasses.Insert(*desc), nil
}

func (d *Driver) DestroyRenderPass(h rhi.RenderPassHandle) {
	d.call("DestroyRenderPass")
	if _, ok := d.renderPasses.Remove(h); !ok {
		d.stale("render pass", h)
	}
}

func (d *Driver) CreateFramebuffer(pass rhi.RenderPassHandle, attachments []rhi.TextureHandle, width, height uint32) (rhi.FramebufferHandle, error) {
	if err := d.call("CreateFramebuffer"); err != nil {
		return rhi.FramebufferHandle{}, err
	}
	if !d.renderPasses.Contains(pass) {
		return rhi.FramebufferHandle{}, rhi.ErrStaleHandle
	}
	for _, a := range attachments {
		if !d.textures.Contains(a) {
			return rhi.FramebufferHandle{}, rhi.ErrStaleHandle
		}
	}
	return d.framebuffers.Insert(append([]rhi.TextureHandle(nil), attachments...)), nil
}

func (d *Driver) DestroyFramebuffer(h rhi.FramebufferHandle) {
	d.call("DestroyFramebuffer")
	if _, ok := d.framebuffers.Remove(h); !ok {
		d.stale("framebuffer", h)
	}
}

// Command pools

func (d *Driver) CreateCommandPool(queue rhi.QueueType, transient bool) (rhi.CommandPoolHandle, error) {
	if err := d.call("CreateCommandPool"); err != nil {
		return rhi.CommandPoolHandle{}, err
	}
	return d.commandPools.Insert(&commandPool{
		queue:     queue,
		transient: transient,
		buffers:   map[rhi.CommandBufferHandle]struct{}{},
	}), nil
}

func (d *Driver) ResetCommandPool(h rhi.CommandPoolHandle) error {
	if err := d.call("ResetCommandPool"); err != nil {
		return err
	}
	p, ok := d.commandPools.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for cb := range p.buffers {
		if c, ok := d.commands.Get(cb); ok {
			c.recording = false
			c.commands = nil
		}
	}
	return nil
}

func (d *Driver) DestroyCommandPool(h rhi.CommandPoolHandle) {
	d.call("DestroyCommandPool")
	p, ok := d.commandPools.Remove(h)
	if !ok {
		d.stale("command pool", h)
		return
	}
	for cb := range p.buffers {
		d.commands.Remove(cb)
	}
}

func (d *Driver) AllocateCommandBuffer(pool rhi.CommandPoolHandle, level rhi.CommandBufferLevel) (rhi.CommandBufferHandle, error) {
	if err := d.call("AllocateCommandBuffer"); err != nil {
		return rhi.CommandBufferHandle{}, err
	}
	p, ok := d.commandPools.Get(pool)
	if !ok {
		return rhi.CommandBufferHandle{}, rhi.ErrStaleHandle
	}
	h := d.commands.Insert(&commandBuffer{pool: pool, level: level})
	d.mu.Lock()
	p.buffers[h] = struct{}{}
	d.mu.Unlock()
	return h, nil
}

func (d *Driver) FreeCommandBuffer(pool rhi.CommandPoolHandle, h rhi.CommandBufferHandle) {
	d.call("FreeCommandBuffer")
	if p, ok := d.commandPools.Get(pool); ok {
		d.mu.Lock()
		delete(p.buffers, h)
		d.mu.Unlock()
	}
	if _, ok := d.commands.Remove(h); !ok {
		d.stale("command buffer", h)
	}
}

// Fences and semaphores

func (d *Driver) CreateFence(signaled bool) (rhi.FenceHandle, error) {
	if err := d.call("CreateFence"); err != nil {
		return rhi.FenceHandle{}, err
	}
	return d.fences.Insert(&fence{signaled: signaled}), nil
}

// WaitFence never blocks: all submitted work has already executed, so an
// unsignaled fence can only time out.
func (d *Driver) WaitFence(h rhi.FenceHandle, timeout time.Duration) error {
	if err := d.call("WaitFence"); err != nil {
		return err
	}
	f, ok := d.fences.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !f.signaled {
		return rhi.ErrTimeout
	}
	return nil
}

func (d *Driver) ResetFence(h rhi.FenceHandle) error {
	if err := d.call("ResetFence"); err != nil {
		return err
	}
	f, ok := d.fences.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	f.signaled = false
	d.mu.Unlock()
	return nil
}

func (d *Driver) FenceSignaled(h rhi.FenceHandle) (bool, error) {
	f, ok := d.fences.Get(h)
	if !ok {
		return false, rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return f.signaled, nil
}

func (d *Driver) DestroyFence(h rhi.FenceHandle) {
	d.call("DestroyFence")
	if _, ok := d.fences.Remove(h); !ok {
		d.stale("fence", h)
	}
}

func (d *Driver) CreateSemaphore() (rhi.SemaphoreHandle, error) {
	if err := d.call("CreateSemaphore"); err != nil {
		return rhi.SemaphoreHandle{}, err
	}
	return d.semaphores.Insert(struct{}{}), nil
}

func (d *Driver) DestroySemaphore(h rhi.SemaphoreHandle) {
	d.call("DestroySemaphore")
	if _, ok := d.semaphores.Remove(h); !ok {
		d.stale("semaphore", h)
	}
}

// Submit runs every command of the submitted buffers in order, then
// signals the fence.
func (d *Driver) Submit(queue rhi.QueueType, info *rhi.SubmitInfo) error {
	if err := d.call("Submit"); err != nil {
		return err
	}
	var pending [][]Command
	for _, h := range info.CommandBuffers {
		cb, ok := d.commands.Get(h)
		if !ok {
			return fmt.Errorf("command buffer %s: %w", h, rhi.ErrStaleHandle)
		}
		d.mu.Lock()
		recording := cb.recording
		cmds := cb.commands
		d.mu.Unlock()
		if recording {
			return fmt.Errorf("command buffer %s is still recording", h)
		}
		pending = append(pending, cmds)
	}
	for _, sems := range [][]rhi.SemaphoreHandle{info.WaitSemaphores, info.SignalSemaphores} {
		for _, s := range sems {
			if !d.semaphores.Contains(s) {
				return fmt.Errorf("semaphore %s: %w", s, rhi.ErrStaleHandle)
			}
		}
	}

	for _, cmds := range pending {
		for _, c := range cmds {
			if c.run != nil {
				c.run()
			}
		}
	}

	if !info.Fence.IsNil() {
		f, ok := d.fences.Get(info.Fence)
		if !ok {
			return fmt.Errorf("fence %s: %w", info.Fence, rhi.ErrStaleHandle)
		}
		d.mu.Lock()
		f.signaled = true
		d.mu.Unlock()
	}
	return nil
}

// Presentation

// SetSurfaceCapabilities replaces what the virtual surface reports.
func (d *Driver) SetSurfaceCapabilities(caps rhi.SurfaceCapabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps = caps
}

// SetSurfaceExtent simulates a window resize. math.MaxUint32 lets the swap
// chain pick the extent.
func (d *Driver) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps.CurrentExtent = rhi.Extent{Width: width, Height: height}
}

func (d *Driver) SetSurfaceFormats(formats ...rhi.SurfaceFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.formats = formats
}

func (d *Driver) SetPresentModes(modes ...rhi.PresentMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentModes = modes
}

// QueueAcquireStatus makes the next acquires report the given results, in
// order. Once the queue is empty acquires succeed.
func (d *Driver) QueueAcquireStatus(statuses ...rhi.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acquireResults = append(d.acquireResults, statuses...)
}

// QueuePresentStatus is QueueAcquireStatus for presents.
func (d *Driver) QueuePresentStatus(statuses ...rhi.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.presentResults = append(d.presentResults, statuses...)
}

func (d *Driver) SurfaceCapabilities(surface rhi.SurfaceHandle) (rhi.SurfaceCapabilities, error) {
	if err := d.call("SurfaceCapabilities"); err != nil {
		return rhi.SurfaceCapabilities{}, err
	}
	if !d.surfaces.Contains(surface) {
		return rhi.SurfaceCapabilities{}, rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps, nil
}

func (d *Driver) SurfaceFormats(surface rhi.SurfaceHandle) ([]rhi.SurfaceFormat, error) {
	if err := d.call("SurfaceFormats"); err != nil {
		return nil, err
	}
	if !d.surfaces.Contains(surface) {
		return nil, rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]rhi.SurfaceFormat(nil), d.formats...), nil
}

func (d *Driver) SurfacePresentModes(surface rhi.SurfaceHandle) ([]rhi.PresentMode, error) {
	if err := d.call("SurfacePresentModes"); err != nil {
		return nil, err
	}
	if !d.surfaces.Contains(surface) {
		return nil, rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]rhi.PresentMode(nil), d.presentModes...), nil
}

func (d *Driver) CreateSwapChain(info *rhi.SwapChainCreateInfo) (rhi.SwapChainHandle, error) {
	if err := d.call("CreateSwapChain"); err != nil {
		return rhi.SwapChainHandle{}, err
	}
	if !d.surfaces.Contains(info.Surface) {
		return rhi.SwapChainHandle{}, rhi.ErrStaleHandle
	}
	if info.Extent.Width == 0 || info.Extent.Height == 0 || info.Extent.Width == math.MaxUint32 {
		return rhi.SwapChainHandle{}, fmt.Errorf("invalid swap chain extent %dx%d", info.Extent.Width, info.Extent.Height)
	}
	sc := &swapChain{info: *info}
	for i := uint32(0); i < info.ImageCount; i++ {
		sc.images = append(sc.images, d.textures.Insert(newTexture(rhi.TextureDesc{
			Name:        fmt.Sprintf("headless-swapchain-%d", i),
			Width:       info.Extent.Width,
			Height:      info.Extent.Height,
			Depth:       1,
			MipLevels:   1,
			ArrayLayers: 1,
			Format:      info.Format.Format,
			Samples:     1,
			Usage:       rhi.TextureUsageColorAttachment | rhi.TextureUsageTransferDst,
		}, true)))
	}
	return d.swapChains.Insert(sc), nil
}

// DestroySwapChain frees the presentable images. Views wrapping them are
// expected to be gone already.
func (d *Driver) DestroySwapChain(h rhi.SwapChainHandle) {
	d.call("DestroySwapChain")
	sc, ok := d.swapChains.Remove(h)
	if !ok {
		d.stale("swap chain", h)
		return
	}
	for _, img := range sc.images {
		d.textures.Remove(img)
	}
}

func (d *Driver) SwapChainImages(h rhi.SwapChainHandle) ([]rhi.TextureHandle, error) {
	if err := d.call("SwapChainImages"); err != nil {
		return nil, err
	}
	sc, ok := d.swapChains.Get(h)
	if !ok {
		return nil, rhi.ErrStaleHandle
	}
	return append([]rhi.TextureHandle(nil), sc.images...), nil
}

func (d *Driver) AcquireNextImage(h rhi.SwapChainHandle, signal rhi.SemaphoreHandle, timeout time.Duration) (uint32, rhi.Status) {
	d.call("AcquireNextImage")
	sc, ok := d.swapChains.Get(h)
	if !ok || !d.semaphores.Contains(signal) {
		return 0, rhi.StatusError
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	status := rhi.StatusSuccess
	if len(d.acquireResults) > 0 {
		status = d.acquireResults[0]
		d.acquireResults = d.acquireResults[1:]
	}
	if status != rhi.StatusSuccess && status != rhi.StatusSuboptimal {
		return 0, status
	}
	index := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	return index, status
}

func (d *Driver) Present(h rhi.SwapChainHandle, imageIndex uint32, wait rhi.SemaphoreHandle) rhi.Status {
	d.call("Present")
	sc, ok := d.swapChains.Get(h)
	if !ok || int(imageIndex) >= len(sc.images) || !d.semaphores.Contains(wait) {
		return rhi.StatusError
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.presentResults) > 0 {
		status := d.presentResults[0]
		d.presentResults = d.presentResults[1:]
		return status
	}
	return rhi.StatusSuccess
}

var _ rhi.Driver = (*Driver)(nil)
