package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandPool owns the command buffers allocated from it so that a
// pool reset or destroy can drop their handles too.
type VulkanCommandPool struct {
	Handle  vk.CommandPool
	Family  uint32
	Buffers []rhi.CommandBufferHandle
}

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	Pool   rhi.CommandPoolHandle
	// Command buffer state.
	State VulkanCommandBufferState
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

func (d *Driver) CreateCommandPool(queue rhi.QueueType, transient bool) (rhi.CommandPoolHandle, error) {
	family := d.context.Device.queueFamily(queue)
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	if transient {
		poolCreateInfo.Flags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}

	pool := &VulkanCommandPool{Family: family}
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.CreateCommandPool(d.logicalDevice(), &poolCreateInfo, d.context.Allocator, &pool.Handle); res != vk.Success {
			return resultError("vkCreateCommandPool", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return rhi.CommandPoolHandle{}, err
	}
	core.LogDebug("command pool created for queue family %d", family)
	return d.commandPools.Insert(pool), nil
}

func (d *Driver) ResetCommandPool(h rhi.CommandPoolHandle) error {
	pool, ok := d.commandPools.Get(h)
	if !ok {
		return fmt.Errorf("reset command pool %s: %w", h, rhi.ErrStaleHandle)
	}
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.ResetCommandPool(d.logicalDevice(), pool.Handle, 0); res != vk.Success {
			return resultError("vkResetCommandPool", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return err
	}
	for _, cb := range pool.Buffers {
		if buf, ok := d.commands.Get(cb); ok {
			buf.Reset()
		}
	}
	return nil
}

// DestroyCommandPool frees the pool along with every buffer still
// allocated from it.
func (d *Driver) DestroyCommandPool(h rhi.CommandPoolHandle) {
	pool, ok := d.commandPools.Remove(h)
	if !ok {
		return
	}
	for _, cb := range pool.Buffers {
		d.commands.Remove(cb)
	}
	pool.Buffers = nil
	d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(d.logicalDevice(), pool.Handle, d.context.Allocator)
		return nil
	})
}

func (d *Driver) AllocateCommandBuffer(h rhi.CommandPoolHandle, level rhi.CommandBufferLevel) (rhi.CommandBufferHandle, error) {
	pool, ok := d.commandPools.Get(h)
	if !ok {
		return rhi.CommandBufferHandle{}, fmt.Errorf("allocate command buffer from pool %s: %w", h, rhi.ErrStaleHandle)
	}

	vkLevel := vk.CommandBufferLevelPrimary
	if level == rhi.CommandBufferLevelSecondary {
		vkLevel = vk.CommandBufferLevelSecondary
	}
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.Handle,
		CommandBufferCount: 1,
		Level:              vkLevel,
	}

	handles := make([]vk.CommandBuffer, 1)
	err := d.locks.SafeCall(CommandPoolManagement, func() error {
		if res := vk.AllocateCommandBuffers(d.logicalDevice(), &allocateInfo, handles); res != vk.Success {
			return resultError("vkAllocateCommandBuffers", res)
		}
		return nil
	})
	if err != nil {
		core.LogError("%s", err)
		return rhi.CommandBufferHandle{}, err
	}

	cb := d.commands.Insert(&VulkanCommandBuffer{
		Handle: handles[0],
		Pool:   h,
		State:  COMMAND_BUFFER_STATE_READY,
	})
	pool.Buffers = append(pool.Buffers, cb)
	return cb, nil
}

func (d *Driver) FreeCommandBuffer(h rhi.CommandPoolHandle, cmd rhi.CommandBufferHandle) {
	pool, ok := d.commandPools.Get(h)
	if !ok {
		return
	}
	cb, ok := d.commands.Remove(cmd)
	if !ok {
		return
	}
	for i, other := range pool.Buffers {
		if other == cmd {
			pool.Buffers = append(pool.Buffers[:i], pool.Buffers[i+1:]...)
			break
		}
	}
	d.locks.SafeCall(CommandPoolManagement, func() error {
		vk.FreeCommandBuffers(d.logicalDevice(), pool.Handle, 1, []vk.CommandBuffer{cb.Handle})
		return nil
	})
	cb.Handle = nil
	cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (d *Driver) BeginCommandBuffer(cmd rhi.CommandBufferHandle, oneTimeSubmit bool) error {
	cb, ok := d.commands.Get(cmd)
	if !ok {
		return fmt.Errorf("begin command buffer %s: %w", cmd, rhi.ErrStaleHandle)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(cb.Handle, &beginInfo); res != vk.Success {
		err := resultError("vkBeginCommandBuffer", res)
		core.LogError("%s", err)
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (d *Driver) EndCommandBuffer(cmd rhi.CommandBufferHandle) error {
	cb, ok := d.commands.Get(cmd)
	if !ok {
		return fmt.Errorf("end command buffer %s: %w", cmd, rhi.ErrStaleHandle)
	}
	if res := vk.EndCommandBuffer(cb.Handle); res != vk.Success {
		err := resultError("vkEndCommandBuffer", res)
		core.LogError("%s", err)
		return err
	}
	cb.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (d *Driver) ResetCommandBuffer(cmd rhi.CommandBufferHandle) error {
	cb, ok := d.commands.Get(cmd)
	if !ok {
		return fmt.Errorf("reset command buffer %s: %w", cmd, rhi.ErrStaleHandle)
	}
	if res := vk.ResetCommandBuffer(cb.Handle, 0); res != vk.Success {
		err := resultError("vkResetCommandBuffer", res)
		core.LogError("%s", err)
		return err
	}
	cb.Reset()
	return nil
}

// recording resolves cmd for a Cmd* call. Commands against a stale or
// non-recording buffer are logged and dropped.
func (d *Driver) recording(cmd rhi.CommandBufferHandle, op string) (*VulkanCommandBuffer, bool) {
	cb, ok := d.commands.Get(cmd)
	if !ok {
		core.LogError("%s: command buffer %s: %v", op, cmd, rhi.ErrStaleHandle)
		return nil, false
	}
	if cb.State != COMMAND_BUFFER_STATE_RECORDING {
		core.LogError("%s: command buffer %s: %v", op, cmd, rhi.ErrNotRecording)
		return nil, false
	}
	return cb, true
}

func (d *Driver) CmdBindPipeline(cmd rhi.CommandBufferHandle, pipeline rhi.PipelineHandle) {
	cb, ok := d.recording(cmd, "bind pipeline")
	if !ok {
		return
	}
	p, ok := d.pipelines.Get(pipeline)
	if !ok {
		core.LogError("bind pipeline: pipeline %s: %v", pipeline, rhi.ErrStaleHandle)
		return
	}
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, p.Handle)
}

func (d *Driver) CmdSetViewport(cmd rhi.CommandBufferHandle, viewport rhi.Viewport) {
	if cb, ok := d.recording(cmd, "set viewport"); ok {
		vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{toVkViewport(viewport)})
	}
}

func (d *Driver) CmdSetScissor(cmd rhi.CommandBufferHandle, scissor rhi.Rect) {
	if cb, ok := d.recording(cmd, "set scissor"); ok {
		vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{toVkRect(scissor)})
	}
}

func (d *Driver) CmdBindVertexBuffer(cmd rhi.CommandBufferHandle, slot uint32, buffer rhi.BufferHandle, offset uint64) {
	cb, ok := d.recording(cmd, "bind vertex buffer")
	if !ok {
		return
	}
	buf, ok := d.buffers.Get(buffer)
	if !ok {
		core.LogError("bind vertex buffer: buffer %s: %v", buffer, rhi.ErrStaleHandle)
		return
	}
	vk.CmdBindVertexBuffers(cb.Handle, slot, 1, []vk.Buffer{buf.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (d *Driver) CmdBindIndexBuffer(cmd rhi.CommandBufferHandle, buffer rhi.BufferHandle, offset uint64, indexType rhi.IndexType) {
	cb, ok := d.recording(cmd, "bind index buffer")
	if !ok {
		return
	}
	buf, ok := d.buffers.Get(buffer)
	if !ok {
		core.LogError("bind index buffer: buffer %s: %v", buffer, rhi.ErrStaleHandle)
		return
	}
	vk.CmdBindIndexBuffer(cb.Handle, buf.Handle, vk.DeviceSize(offset), toVkIndexType(indexType))
}

func (d *Driver) CmdPipelineBarrier(cmd rhi.CommandBufferHandle, barrier rhi.ImageBarrier) {
	cb, ok := d.recording(cmd, "pipeline barrier")
	if !ok {
		return
	}
	img, ok := d.images.Get(barrier.Texture)
	if !ok {
		core.LogError("pipeline barrier: texture %s: %v", barrier.Texture, rhi.ErrStaleHandle)
		return
	}

	imageBarrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       toVkAccess(barrier.SrcAccess),
		DstAccessMask:       toVkAccess(barrier.DstAccess),
		OldLayout:           toVkImageLayout(barrier.OldLayout),
		NewLayout:           barrierTargetLayout(barrier.NewLayout),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.Handle,
		SubresourceRange:    toVkSubresourceRange(barrier.Aspect, barrier.Range),
	}

	srcStages := toVkStages(barrier.SrcStages)
	if srcStages == 0 {
		srcStages = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	}
	dstStages := toVkStages(barrier.DstStages)
	if dstStages == 0 {
		dstStages = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}

	vk.CmdPipelineBarrier(cb.Handle, srcStages, dstStages, 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{imageBarrier})
}

func (d *Driver) CmdCopyBuffer(cmd rhi.CommandBufferHandle, src, dst rhi.BufferHandle, region rhi.BufferCopy) {
	cb, ok := d.recording(cmd, "copy buffer")
	if !ok {
		return
	}
	s, ok1 := d.buffers.Get(src)
	t, ok2 := d.buffers.Get(dst)
	if !ok1 || !ok2 {
		core.LogError("copy buffer %s -> %s: %v", src, dst, rhi.ErrStaleHandle)
		return
	}
	copyRegion := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(region.SrcOffset),
		DstOffset: vk.DeviceSize(region.DstOffset),
		Size:      vk.DeviceSize(region.Size),
	}
	vk.CmdCopyBuffer(cb.Handle, s.Handle, t.Handle, 1, []vk.BufferCopy{copyRegion})
}

// bufferImageCopy fills in the mip level's extent for zero-sized regions.
func bufferImageCopy(img *VulkanImage, aspect rhi.Aspect, region rhi.BufferTextureCopy) vk.BufferImageCopy {
	width, height, depth := region.Width, region.Height, region.Depth
	if width == 0 {
		width = mipExtent(img.Width, region.MipLevel)
	}
	if height == 0 {
		height = mipExtent(img.Height, region.MipLevel)
	}
	if depth == 0 {
		depth = mipExtent(img.Depth, region.MipLevel)
	}
	return vk.BufferImageCopy{
		BufferOffset:      vk.DeviceSize(region.BufferOffset),
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     copyAspect(aspect),
			MipLevel:       region.MipLevel,
			BaseArrayLayer: region.ArrayLayer,
			LayerCount:     1,
		},
		ImageOffset: vk.Offset3D{X: region.X, Y: region.Y, Z: region.Z},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: depth},
	}
}

// CmdCopyBufferToTexture expects dst in the transfer destination layout.
func (d *Driver) CmdCopyBufferToTexture(cmd rhi.CommandBufferHandle, src rhi.BufferHandle, dst rhi.TextureHandle, aspect rhi.Aspect, region rhi.BufferTextureCopy) {
	cb, ok := d.recording(cmd, "copy buffer to texture")
	if !ok {
		return
	}
	buf, ok1 := d.buffers.Get(src)
	img, ok2 := d.images.Get(dst)
	if !ok1 || !ok2 {
		core.LogError("copy buffer %s to texture %s: %v", src, dst, rhi.ErrStaleHandle)
		return
	}
	vk.CmdCopyBufferToImage(cb.Handle, buf.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1,
		[]vk.BufferImageCopy{bufferImageCopy(img, aspect, region)})
}

// CmdCopyTextureToBuffer expects src in the transfer source layout.
func (d *Driver) CmdCopyTextureToBuffer(cmd rhi.CommandBufferHandle, src rhi.TextureHandle, dst rhi.BufferHandle, aspect rhi.Aspect, region rhi.BufferTextureCopy) {
	cb, ok := d.recording(cmd, "copy texture to buffer")
	if !ok {
		return
	}
	img, ok1 := d.images.Get(src)
	buf, ok2 := d.buffers.Get(dst)
	if !ok1 || !ok2 {
		core.LogError("copy texture %s to buffer %s: %v", src, dst, rhi.ErrStaleHandle)
		return
	}
	vk.CmdCopyImageToBuffer(cb.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, buf.Handle, 1,
		[]vk.BufferImageCopy{bufferImageCopy(img, aspect, region)})
}

func (d *Driver) CmdCopyTexture(cmd rhi.CommandBufferHandle, src, dst rhi.TextureHandle, aspect rhi.Aspect, region rhi.TextureCopy) {
	cb, ok := d.recording(cmd, "copy texture")
	if !ok {
		return
	}
	s, ok1 := d.images.Get(src)
	t, ok2 := d.images.Get(dst)
	if !ok1 || !ok2 {
		core.LogError("copy texture %s -> %s: %v", src, dst, rhi.ErrStaleHandle)
		return
	}

	width, height, depth := region.Width, region.Height, region.Depth
	if width == 0 {
		width = mipExtent(s.Width, region.SrcMipLevel)
	}
	if height == 0 {
		height = mipExtent(s.Height, region.SrcMipLevel)
	}
	if depth == 0 {
		depth = mipExtent(s.Depth, region.SrcMipLevel)
	}
	mask := copyAspect(aspect)
	imageCopy := vk.ImageCopy{
		SrcSubresource: vk.ImageSubresourceLayers{
			AspectMask:     mask,
			MipLevel:       region.SrcMipLevel,
			BaseArrayLayer: region.SrcArrayLayer,
			LayerCount:     1,
		},
		DstSubresource: vk.ImageSubresourceLayers{
			AspectMask:     mask,
			MipLevel:       region.DstMipLevel,
			BaseArrayLayer: region.DstArrayLayer,
			LayerCount:     1,
		},
		Extent: vk.Extent3D{Width: width, Height: height, Depth: depth},
	}
	vk.CmdCopyImage(cb.Handle, s.Handle, vk.ImageLayoutTransferSrcOptimal, t.Handle, vk.ImageLayoutTransferDstOptimal, 1,
		[]vk.ImageCopy{imageCopy})
}

func (d *Driver) CmdClearColor(cmd rhi.CommandBufferHandle, texture rhi.TextureHandle, color [4]float32, rng rhi.SubresourceRange) {
	cb, ok := d.recording(cmd, "clear color")
	if !ok {
		return
	}
	img, ok := d.images.Get(texture)
	if !ok {
		core.LogError("clear color: texture %s: %v", texture, rhi.ErrStaleHandle)
		return
	}
	// ClearValue and ClearColorValue share the same 16 byte union layout.
	clear := vk.ClearColorValue(vk.NewClearValue(color[:]))
	subresource := toVkSubresourceRange(rhi.AspectColor, rng)
	vk.CmdClearColorImage(cb.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, &clear, 1,
		[]vk.ImageSubresourceRange{subresource})
}

func (d *Driver) CmdClearDepthStencil(cmd rhi.CommandBufferHandle, texture rhi.TextureHandle, aspect rhi.Aspect, depth float32, stencil uint32, rng rhi.SubresourceRange) {
	cb, ok := d.recording(cmd, "clear depth stencil")
	if !ok {
		return
	}
	img, ok := d.images.Get(texture)
	if !ok {
		core.LogError("clear depth stencil: texture %s: %v", texture, rhi.ErrStaleHandle)
		return
	}
	clear := vk.ClearDepthStencilValue{Depth: depth, Stencil: stencil}
	subresource := toVkSubresourceRange(aspect, rng)
	vk.CmdClearDepthStencilImage(cb.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, &clear, 1,
		[]vk.ImageSubresourceRange{subresource})
}

func (d *Driver) CmdDraw(cmd rhi.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if cb, ok := d.recording(cmd, "draw"); ok {
		vk.CmdDraw(cb.Handle, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (d *Driver) CmdDrawIndexed(cmd rhi.CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if cb, ok := d.recording(cmd, "draw indexed"); ok {
		vk.CmdDrawIndexed(cb.Handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}
