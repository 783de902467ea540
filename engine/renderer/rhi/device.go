package rhi

import (
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const (
	defaultDescriptorPoolMaxSets = 1000
	spirvMagic                   = 0x07230203
)

// Device is the root of the RHI: it creates every resource, moves data
// between host and GPU and submits recorded work.
type Device struct {
	desc   DeviceDesc
	driver Driver

	graphicsPool   CommandPoolManager
	transferPool   CommandPoolManager
	descriptorPool DescriptorPoolManager
}

// NewDevice opens the backend named by desc.Backend. Any failure during
// initialization releases what was created and returns an error; there is
// no partially initialized Device.
func NewDevice(desc DeviceDesc) (*Device, error) {
	factory, ok := lookupBackend(desc.Backend)
	if !ok {
		err := fmt.Errorf("%w: %s (missing import of the backend package?)", ErrUnknownBackend, desc.Backend)
		core.LogError("%s", err)
		return nil, err
	}
	drv, err := factory(&desc)
	if err != nil {
		err = fmt.Errorf("failed to open %s backend: %w", desc.Backend, err)
		core.LogError("%s", err)
		return nil, err
	}
	return NewDeviceFromDriver(drv, desc)
}

// NewDeviceFromDriver builds a Device on an already opened driver. The
// device takes ownership of drv and destroys it on failure.
func NewDeviceFromDriver(drv Driver, desc DeviceDesc) (*Device, error) {
	if desc.DescriptorPoolMaxSets == 0 {
		desc.DescriptorPoolMaxSets = defaultDescriptorPoolMaxSets
	}
	d := &Device{desc: desc, driver: drv}

	if err := d.graphicsPool.Initialize(d, QueueGraphics, false); err != nil {
		d.release()
		return nil, err
	}
	if err := d.transferPool.Initialize(d, QueueGraphics, true); err != nil {
		d.release()
		return nil, err
	}
	if err := d.descriptorPool.Initialize(d, desc.DescriptorPoolMaxSets); err != nil {
		d.release()
		return nil, err
	}

	core.LogInfo("RHI device created on the %s driver", drv.Name())
	return d, nil
}

func (d *Device) Backend() Backend { return d.desc.Backend }
func (d *Device) Driver() Driver   { return d.driver }

// CommandPool is the pool CreateCommandBuffer allocates from by default.
func (d *Device) CommandPool() *CommandPoolManager { return &d.graphicsPool }

// DescriptorPool is the pool CreateDescriptorSet allocates from.
func (d *Device) DescriptorPool() *DescriptorPoolManager { return &d.descriptorPool }

func (d *Device) CreateBuffer(desc BufferDesc) (*Buffer, error) {
	desc.Name = resourceName("buffer", desc.Name)
	if desc.Size == 0 {
		err := fmt.Errorf("failed to create buffer %q: size is zero", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	memory := desc.MemoryUsage()
	if memory != MemoryCpuToGpu {
		desc.Usage |= BufferUsageTransferDst
	}

	h, alloc, err := d.driver.CreateBuffer(&desc, memory)
	if err != nil {
		err = fmt.Errorf("failed to create buffer %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	buf := &Buffer{
		device:   d,
		handle:   h,
		desc:     desc,
		memory:   memory,
		coherent: alloc.Coherent,
	}
	if memory.HostVisible() {
		if alloc.Mapped == nil {
			d.driver.DestroyBuffer(h)
			err := fmt.Errorf("failed to create buffer %q: host-visible memory was not mapped", desc.Name)
			core.LogError("%s", err)
			return nil, err
		}
		buf.mapped = alloc.Mapped
	}
	return buf, nil
}

// CreateTexture creates a texture and primes it into its initial layout. An
// Undefined InitialLayout is replaced by the layout its usage implies.
func (d *Device) CreateTexture(desc TextureDesc) (*Texture, error) {
	desc.Name = resourceName("texture", desc.Name)
	if desc.Width == 0 || desc.Height == 0 {
		err := fmt.Errorf("failed to create texture %q: zero extent %dx%d", desc.Name, desc.Width, desc.Height)
		core.LogError("%s", err)
		return nil, err
	}
	if desc.Format == FormatUndefined {
		err := fmt.Errorf("failed to create texture %q: undefined format", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.MipLevels == 0 {
		desc.MipLevels = 1
	}
	if desc.ArrayLayers == 0 {
		desc.ArrayLayers = 1
		if desc.Dimension == TextureDimensionCube {
			desc.ArrayLayers = 6
		}
	}
	if desc.Samples == 0 {
		desc.Samples = 1
	}
	if desc.InitialLayout == LayoutUndefined {
		desc.InitialLayout = defaultLayoutForUsage(desc.Usage)
	}
	desc.Usage |= TextureUsageTransferSrc | TextureUsageTransferDst

	h, err := d.driver.CreateTexture(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create texture %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	tex := &Texture{device: d, handle: h, desc: desc, layout: LayoutUndefined}

	err = d.immediateSubmit("prime "+desc.Name, func(cmd *CommandBuffer) {
		cmd.transition(tex, desc.InitialLayout, SubresourceRange{})
	})
	if err != nil {
		tex.Destroy()
		err = fmt.Errorf("failed to prime texture %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return tex, nil
}

func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	desc.Name = resourceName("sampler", desc.Name)
	if desc.MaxLod == 0 {
		desc.MaxLod = 1000
	}
	h, err := d.driver.CreateSampler(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create sampler %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Sampler{device: d, handle: h, desc: desc}, nil
}

// CreateShader wraps SPIR-V bytecode. Source languages are not compiled
// here.
func (d *Device) CreateShader(desc ShaderDesc) (*Shader, error) {
	desc.Name = resourceName("shader", desc.Name)
	if desc.EntryPoint == "" {
		desc.EntryPoint = "main"
	}
	if len(desc.Code) == 0 || len(desc.Code)%4 != 0 || binary.LittleEndian.Uint32(desc.Code) != spirvMagic {
		err := fmt.Errorf("failed to create shader %q: code is not SPIR-V", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	h, err := d.driver.CreateShader(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create shader %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Shader{device: d, handle: h, desc: desc}, nil
}

func (d *Device) CreateGraphicsPipeline(desc GraphicsPipelineDesc) (*GraphicsPipeline, error) {
	desc.Name = resourceName("pipeline", desc.Name)
	switch {
	case desc.VertexShader == nil || desc.VertexShader.handle.IsNil():
		err := fmt.Errorf("failed to create pipeline %q: missing vertex shader", desc.Name)
		core.LogError("%s", err)
		return nil, err
	case desc.FragmentShader != nil && desc.FragmentShader.handle.IsNil():
		err := fmt.Errorf("failed to create pipeline %q: fragment shader: %w", desc.Name, ErrStaleHandle)
		core.LogError("%s", err)
		return nil, err
	case desc.RenderPass == nil || desc.RenderPass.handle.IsNil():
		err := fmt.Errorf("failed to create pipeline %q: missing render pass", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	for i, l := range desc.DescriptorSetLayouts {
		if l == nil || l.handle.IsNil() {
			err := fmt.Errorf("failed to create pipeline %q: descriptor set layout %d: %w", desc.Name, i, ErrStaleHandle)
			core.LogError("%s", err)
			return nil, err
		}
	}
	h, err := d.driver.CreateGraphicsPipeline(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create pipeline %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &GraphicsPipeline{device: d, handle: h, desc: desc}, nil
}

func (d *Device) CreateDescriptorSetLayout(desc DescriptorSetLayoutDesc) (*DescriptorSetLayout, error) {
	desc.Name = resourceName("descriptor-set-layout", desc.Name)
	desc.Bindings = append([]DescriptorSetLayoutBinding(nil), desc.Bindings...)
	bindings := make(map[uint32]DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, b := range desc.Bindings {
		if _, dup := bindings[b.Binding]; dup {
			err := fmt.Errorf("failed to create descriptor set layout %q: binding %d declared twice", desc.Name, b.Binding)
			core.LogError("%s", err)
			return nil, err
		}
		if b.Count == 0 {
			b.Count = 1
			desc.Bindings[i].Count = 1
		}
		bindings[b.Binding] = b
	}
	h, err := d.driver.CreateDescriptorSetLayout(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create descriptor set layout %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &DescriptorSetLayout{device: d, handle: h, desc: desc, bindings: bindings}, nil
}

// CreateDescriptorSet allocates a set for layout from the device pool.
func (d *Device) CreateDescriptorSet(layout *DescriptorSetLayout) (*DescriptorSet, error) {
	return d.descriptorPool.AllocateDescriptorSet(layout)
}

func (d *Device) CreateRenderPass(desc RenderPassDesc) (*RenderPass, error) {
	desc.Name = resourceName("render-pass", desc.Name)
	if len(desc.ColorAttachments) == 0 && desc.DepthStencil == nil {
		err := fmt.Errorf("failed to create render pass %q: no attachments", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	desc.ColorAttachments = append([]AttachmentDesc(nil), desc.ColorAttachments...)
	for i := range desc.ColorAttachments {
		a := &desc.ColorAttachments[i]
		if a.Format.IsDepth() || a.Format == FormatUndefined {
			err := fmt.Errorf("failed to create render pass %q: color attachment %d has format %s", desc.Name, i, a.Format)
			core.LogError("%s", err)
			return nil, err
		}
		if a.Samples == 0 {
			a.Samples = 1
		}
	}
	if desc.DepthStencil != nil {
		ds := *desc.DepthStencil
		if !ds.Format.IsDepth() {
			err := fmt.Errorf("failed to create render pass %q: depth attachment has format %s", desc.Name, ds.Format)
			core.LogError("%s", err)
			return nil, err
		}
		if ds.Samples == 0 {
			ds.Samples = 1
		}
		desc.DepthStencil = &ds
	}
	h, err := d.driver.CreateRenderPass(&desc)
	if err != nil {
		err = fmt.Errorf("failed to create render pass %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &RenderPass{device: d, handle: h, desc: desc}, nil
}

// CreateFramebuffer checks the attachments against the render pass: same
// color count, same formats, depth present iff the pass has one.
func (d *Device) CreateFramebuffer(desc FramebufferDesc) (*Framebuffer, error) {
	desc.Name = resourceName("framebuffer", desc.Name)
	pass := desc.RenderPass
	if pass == nil || pass.handle.IsNil() {
		err := fmt.Errorf("failed to create framebuffer %q: missing render pass", desc.Name)
		core.LogError("%s", err)
		return nil, err
	}
	if len(desc.ColorAttachments) != pass.ColorAttachmentCount() || (desc.DepthStencil != nil) != pass.HasDepthStencil() {
		err := fmt.Errorf("failed to create framebuffer %q: attachments do not match render pass %q", desc.Name, pass.desc.Name)
		core.LogError("%s", err)
		return nil, err
	}

	attachments := make([]TextureHandle, 0, len(desc.ColorAttachments)+1)
	for i, tex := range desc.ColorAttachments {
		if !tex.valid() || tex.desc.Format != pass.desc.ColorAttachments[i].Format {
			err := fmt.Errorf("failed to create framebuffer %q: color attachment %d does not match render pass %q", desc.Name, i, pass.desc.Name)
			core.LogError("%s", err)
			return nil, err
		}
		attachments = append(attachments, tex.handle)
	}
	if desc.DepthStencil != nil {
		if !desc.DepthStencil.valid() || desc.DepthStencil.desc.Format != pass.desc.DepthStencil.Format {
			err := fmt.Errorf("failed to create framebuffer %q: depth attachment does not match render pass %q", desc.Name, pass.desc.Name)
			core.LogError("%s", err)
			return nil, err
		}
		attachments = append(attachments, desc.DepthStencil.handle)
	}
	if desc.Width == 0 || desc.Height == 0 {
		first := desc.DepthStencil
		if len(desc.ColorAttachments) > 0 {
			first = desc.ColorAttachments[0]
		}
		desc.Width, desc.Height = first.desc.Width, first.desc.Height
	}

	h, err := d.driver.CreateFramebuffer(pass.handle, attachments, desc.Width, desc.Height)
	if err != nil {
		err = fmt.Errorf("failed to create framebuffer %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Framebuffer{device: d, handle: h, desc: desc}, nil
}

func (d *Device) CreateCommandBuffer(desc CommandBufferDesc) (*CommandBuffer, error) {
	desc.Name = resourceName("command-buffer", desc.Name)
	pool := desc.Pool
	if pool == nil {
		pool = &d.graphicsPool
	}
	h, err := pool.allocate(desc.Level)
	if err != nil {
		err = fmt.Errorf("failed to allocate command buffer %q: %w", desc.Name, err)
		core.LogError("%s", err)
		return nil, err
	}
	return &CommandBuffer{
		device:  d,
		pool:    pool,
		handle:  h,
		name:    desc.Name,
		level:   desc.Level,
		oneTime: pool.transient,
	}, nil
}

// CreateCommandPool creates an extra pool, e.g. for recording on another
// goroutine.
func (d *Device) CreateCommandPool(queue QueueType, transient bool) (*CommandPoolManager, error) {
	pool := &CommandPoolManager{}
	if err := pool.Initialize(d, queue, transient); err != nil {
		return nil, err
	}
	return pool, nil
}

func (d *Device) CreateFence(desc FenceDesc) (*Fence, error) {
	h, err := d.driver.CreateFence(desc.Signaled)
	if err != nil {
		err = fmt.Errorf("failed to create fence: %w", err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Fence{device: d, handle: h}, nil
}

func (d *Device) CreateSemaphore() (*Semaphore, error) {
	h, err := d.driver.CreateSemaphore()
	if err != nil {
		err = fmt.Errorf("failed to create semaphore: %w", err)
		core.LogError("%s", err)
		return nil, err
	}
	return &Semaphore{device: d, handle: h}, nil
}

// UpdateBuffer writes data at offset. Mapped buffers are written in place
// and only the written range is flushed; other buffers go through a staging
// buffer and a blocking one-shot copy.
func (d *Device) UpdateBuffer(buf *Buffer, data []byte, offset uint64) error {
	if !buf.valid() {
		err := fmt.Errorf("failed to update buffer: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return err
	}
	size := uint64(len(data))
	if offset > buf.desc.Size || size > buf.desc.Size-offset {
		err := fmt.Errorf("failed to update buffer %q: %d bytes at %d exceed size %d: %w", buf.desc.Name, size, offset, buf.desc.Size, ErrOutOfBounds)
		core.LogError("%s", err)
		return err
	}
	if size == 0 {
		return nil
	}

	if buf.mapped != nil {
		copy(buf.mapped[offset:offset+size], data)
		if err := buf.Flush(offset, size); err != nil {
			err = fmt.Errorf("failed to flush buffer %q: %w", buf.desc.Name, err)
			core.LogError("%s", err)
			return err
		}
		return nil
	}

	staging, err := d.createStaging(data)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	return d.immediateSubmit("upload "+buf.desc.Name, func(cmd *CommandBuffer) {
		cmd.CopyBuffer(staging, buf, 0, offset, size)
	})
}

// ReadBuffer copies size bytes at offset back to the host, staging through a
// readback buffer when buf is not mapped.
func (d *Device) ReadBuffer(buf *Buffer, offset, size uint64) ([]byte, error) {
	if !buf.valid() {
		err := fmt.Errorf("failed to read buffer: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return nil, err
	}
	if offset > buf.desc.Size || size > buf.desc.Size-offset {
		err := fmt.Errorf("failed to read buffer %q: %w", buf.desc.Name, ErrOutOfBounds)
		core.LogError("%s", err)
		return nil, err
	}
	if buf.mapped != nil {
		if !buf.coherent {
			if err := d.driver.InvalidateBuffer(buf.handle, offset, size); err != nil {
				return nil, err
			}
		}
		out := make([]byte, size)
		copy(out, buf.mapped[offset:offset+size])
		return out, nil
	}

	readback, err := d.CreateBuffer(BufferDesc{
		Name:        "readback " + buf.desc.Name,
		Size:        size,
		Usage:       BufferUsageTransferDst,
		CreateFlags: BufferCreateReadback,
	})
	if err != nil {
		return nil, err
	}
	defer readback.Destroy()

	err = d.immediateSubmit("readback "+buf.desc.Name, func(cmd *CommandBuffer) {
		cmd.CopyBuffer(buf, readback, offset, 0, size)
	})
	if err != nil {
		return nil, err
	}
	return d.ReadBuffer(readback, 0, size)
}

// UpdateTexture replaces one mip level of one array layer. data must hold
// exactly that subresource, tightly packed. The texture leaves in the layout
// it entered with.
func (d *Device) UpdateTexture(tex *Texture, data []byte, mipLevel, arrayLayer uint32) error {
	if !tex.valid() {
		err := fmt.Errorf("failed to update texture: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return err
	}
	if mipLevel >= tex.desc.MipLevels || arrayLayer >= tex.desc.ArrayLayers {
		err := fmt.Errorf("failed to update texture %q: subresource %d/%d: %w", tex.desc.Name, mipLevel, arrayLayer, ErrOutOfBounds)
		core.LogError("%s", err)
		return err
	}
	if want := tex.MipByteSize(mipLevel); uint64(len(data)) != want {
		err := fmt.Errorf("failed to update texture %q: have %d bytes for mip %d, want %d: %w", tex.desc.Name, len(data), mipLevel, want, ErrOutOfBounds)
		core.LogError("%s", err)
		return err
	}

	staging, err := d.createStaging(data)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	return d.immediateSubmit("upload "+tex.desc.Name, func(cmd *CommandBuffer) {
		cmd.CopyBufferToTexture(staging, tex, BufferTextureCopy{MipLevel: mipLevel, ArrayLayer: arrayLayer})
	})
}

// ReadTexture copies one subresource back to the host.
func (d *Device) ReadTexture(tex *Texture, mipLevel, arrayLayer uint32) ([]byte, error) {
	if !tex.valid() {
		err := fmt.Errorf("failed to read texture: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return nil, err
	}
	if mipLevel >= tex.desc.MipLevels || arrayLayer >= tex.desc.ArrayLayers {
		err := fmt.Errorf("failed to read texture %q: subresource %d/%d: %w", tex.desc.Name, mipLevel, arrayLayer, ErrOutOfBounds)
		core.LogError("%s", err)
		return nil, err
	}
	size := tex.MipByteSize(mipLevel)
	readback, err := d.CreateBuffer(BufferDesc{
		Name:        "readback " + tex.desc.Name,
		Size:        size,
		Usage:       BufferUsageTransferDst,
		CreateFlags: BufferCreateReadback,
	})
	if err != nil {
		return nil, err
	}
	defer readback.Destroy()

	err = d.immediateSubmit("readback "+tex.desc.Name, func(cmd *CommandBuffer) {
		cmd.CopyTextureToBuffer(tex, readback, BufferTextureCopy{MipLevel: mipLevel, ArrayLayer: arrayLayer})
	})
	if err != nil {
		return nil, err
	}
	return d.ReadBuffer(readback, 0, size)
}

func (d *Device) createStaging(data []byte) (*Buffer, error) {
	staging, err := d.CreateBuffer(BufferDesc{
		Name:        "staging",
		Size:        uint64(len(data)),
		Usage:       BufferUsageTransferSrc,
		CreateFlags: BufferCreateCpuAccess,
	})
	if err != nil {
		return nil, err
	}
	copy(staging.mapped, data)
	if err := staging.Flush(0, staging.desc.Size); err != nil {
		staging.Destroy()
		return nil, err
	}
	return staging, nil
}

// immediateSubmit records fn into a one-shot command buffer from the
// transient pool, submits it and blocks until the GPU is done with it.
func (d *Device) immediateSubmit(name string, fn func(cmd *CommandBuffer)) error {
	cmd, err := d.CreateCommandBuffer(CommandBufferDesc{Name: name, Pool: &d.transferPool})
	if err != nil {
		return err
	}
	defer cmd.Destroy()

	fence, err := d.CreateFence(FenceDesc{})
	if err != nil {
		return err
	}
	defer fence.Destroy()

	if err := cmd.Begin(); err != nil {
		return err
	}
	fn(cmd)
	if err := cmd.End(); err != nil {
		return err
	}
	if err := d.SubmitCommandBuffer(cmd, fence, nil, nil); err != nil {
		return err
	}
	if err := fence.Wait(Infinite); err != nil {
		err = fmt.Errorf("failed to wait for %s: %w", name, err)
		core.LogError("%s", err)
		return err
	}
	return nil
}

// SubmitCommandBuffer submits cmd to the graphics queue. Each wait semaphore
// is waited on at the color attachment output stage. A buffer that is still
// recording is ended first.
func (d *Device) SubmitCommandBuffer(cmd *CommandBuffer, signalFence *Fence, waitSemaphores, signalSemaphores []*Semaphore) error {
	if cmd == nil || cmd.handle.IsNil() {
		err := fmt.Errorf("failed to submit command buffer: %w", ErrStaleHandle)
		core.LogError("%s", err)
		return err
	}
	if signalFence != nil && signalFence.handle.IsNil() {
		err := fmt.Errorf("failed to submit command buffer %q: fence: %w", cmd.name, ErrStaleHandle)
		core.LogError("%s", err)
		return err
	}
	for kind, sems := range map[string][]*Semaphore{"wait": waitSemaphores, "signal": signalSemaphores} {
		for i, s := range sems {
			if s == nil || s.handle.IsNil() {
				err := fmt.Errorf("failed to submit command buffer %q: %s semaphore %d: %w", cmd.name, kind, i, ErrStaleHandle)
				core.LogError("%s", err)
				return err
			}
		}
	}
	switch cmd.state {
	case CommandBufferStateRecording:
		core.LogWarn("command buffer %q submitted while recording, ending it", cmd.name)
		if err := cmd.End(); err != nil {
			return err
		}
	case CommandBufferStateInitial:
		err := fmt.Errorf("failed to submit command buffer %q: nothing recorded", cmd.name)
		core.LogError("%s", err)
		return err
	}

	info := SubmitInfo{CommandBuffers: []CommandBufferHandle{cmd.handle}}
	for _, s := range waitSemaphores {
		info.WaitSemaphores = append(info.WaitSemaphores, s.handle)
		info.WaitStages = append(info.WaitStages, StageColorAttachmentOutput)
	}
	for _, s := range signalSemaphores {
		info.SignalSemaphores = append(info.SignalSemaphores, s.handle)
	}
	if signalFence != nil {
		info.Fence = signalFence.handle
	}

	if err := d.driver.Submit(QueueGraphics, &info); err != nil {
		err = fmt.Errorf("failed to submit command buffer %q: %w", cmd.name, err)
		core.LogError("%s", err)
		return err
	}
	return nil
}

// WaitIdle blocks until the GPU has finished all submitted work.
func (d *Device) WaitIdle() error {
	if err := d.driver.WaitIdle(); err != nil {
		err = fmt.Errorf("failed to wait for device idle: %w", err)
		core.LogError("%s", err)
		return err
	}
	return nil
}

// Destroy drains the GPU and releases the device. Resources created from the
// device must be destroyed before.
func (d *Device) Destroy() {
	if d.driver == nil {
		return
	}
	_ = d.WaitIdle()
	d.release()
	core.LogInfo("RHI device destroyed")
}

func (d *Device) release() {
	d.descriptorPool.Destroy()
	d.transferPool.Destroy()
	d.graphicsPool.Destroy()
	d.driver.Destroy()
	d.driver = nil
}
