package rhi

import (
	"fmt"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type CommandBufferState int

const (
	CommandBufferStateInitial CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateRecorded
)

func (s CommandBufferState) String() string {
	switch s {
	case CommandBufferStateInitial:
		return "Initial"
	case CommandBufferStateRecording:
		return "Recording"
	case CommandBufferStateRecorded:
		return "Recorded"
	}
	return "CommandBufferState(?)"
}

// CommandBuffer records GPU work. Misuse (recording while not recording,
// drawing outside a render pass, ...) is logged and the call dropped.
type CommandBuffer struct {
	device  *Device
	pool    *CommandPoolManager
	handle  CommandBufferHandle
	name    string
	level   CommandBufferLevel
	oneTime bool

	state            CommandBufferState
	renderPassActive bool
	pipeline         *GraphicsPipeline
	renderPass       *RenderPass
	framebuffer      *Framebuffer
}

func (c *CommandBuffer) Handle() CommandBufferHandle { return c.handle }
func (c *CommandBuffer) Name() string                { return c.name }
func (c *CommandBuffer) State() CommandBufferState   { return c.state }
func (c *CommandBuffer) IsRecording() bool           { return c.state == CommandBufferStateRecording }
func (c *CommandBuffer) IsRenderPassActive() bool    { return c.renderPassActive }
func (c *CommandBuffer) Pipeline() *GraphicsPipeline { return c.pipeline }
func (c *CommandBuffer) RenderPass() *RenderPass     { return c.renderPass }
func (c *CommandBuffer) Framebuffer() *Framebuffer   { return c.framebuffer }

func (c *CommandBuffer) Begin() error {
	if c.handle.IsNil() {
		err := fmt.Errorf("command buffer %q: %w", c.name, ErrStaleHandle)
		core.LogError("%s", err)
		return err
	}
	if c.IsRecording() {
		core.LogWarn("command buffer %q is already recording", c.name)
		return nil
	}
	if err := c.device.driver.BeginCommandBuffer(c.handle, c.oneTime); err != nil {
		err = fmt.Errorf("failed to begin command buffer %q: %w", c.name, err)
		core.LogError("%s", err)
		return err
	}
	c.clearCache()
	c.state = CommandBufferStateRecording
	return nil
}

// End closes recording, ending an active render pass first.
func (c *CommandBuffer) End() error {
	if !c.IsRecording() {
		core.LogWarn("command buffer %q: End called while not recording", c.name)
		return nil
	}
	if c.renderPassActive {
		c.EndRenderPass()
	}
	if err := c.device.driver.EndCommandBuffer(c.handle); err != nil {
		err = fmt.Errorf("failed to end command buffer %q: %w", c.name, err)
		core.LogError("%s", err)
		return err
	}
	c.state = CommandBufferStateRecorded
	return nil
}

// Reset returns the buffer to the initial state. It must not be recording.
func (c *CommandBuffer) Reset() error {
	if c.IsRecording() {
		core.LogWarn("command buffer %q: Reset called while recording", c.name)
		return nil
	}
	if err := c.device.driver.ResetCommandBuffer(c.handle); err != nil {
		err = fmt.Errorf("failed to reset command buffer %q: %w", c.name, err)
		core.LogError("%s", err)
		return err
	}
	c.clearCache()
	c.state = CommandBufferStateInitial
	return nil
}

// Destroy returns the buffer to its pool.
func (c *CommandBuffer) Destroy() {
	if c.handle.IsNil() {
		return
	}
	c.pool.free(c.handle)
	c.handle = CommandBufferHandle{}
	c.clearCache()
	c.state = CommandBufferStateInitial
}

func (c *CommandBuffer) clearCache() {
	c.renderPassActive = false
	c.pipeline = nil
	c.renderPass = nil
	c.framebuffer = nil
}

func (c *CommandBuffer) recording(op string) bool {
	if !c.IsRecording() {
		core.LogError("command buffer %q: %s: %v", c.name, op, ErrNotRecording)
		return false
	}
	return true
}

func (c *CommandBuffer) outsideRenderPass(op string) bool {
	if !c.recording(op) {
		return false
	}
	if c.renderPassActive {
		core.LogError("command buffer %q: %s is not allowed inside a render pass", c.name, op)
		return false
	}
	return true
}

func (c *CommandBuffer) insideRenderPass(op string) bool {
	if !c.recording(op) {
		return false
	}
	if !c.renderPassActive {
		core.LogError("command buffer %q: %s needs an active render pass", c.name, op)
		return false
	}
	return true
}

func (c *CommandBuffer) SetPipeline(pipeline *GraphicsPipeline) {
	if !c.recording("SetPipeline") {
		return
	}
	if pipeline == nil || pipeline.handle.IsNil() {
		core.LogError("command buffer %q: SetPipeline: %v", c.name, ErrStaleHandle)
		return
	}
	c.device.driver.CmdBindPipeline(c.handle, pipeline.handle)
	c.pipeline = pipeline
}

func (c *CommandBuffer) SetViewport(viewport Viewport) {
	if !c.recording("SetViewport") {
		return
	}
	c.device.driver.CmdSetViewport(c.handle, viewport)
}

func (c *CommandBuffer) SetScissor(scissor Rect) {
	if !c.recording("SetScissor") {
		return
	}
	c.device.driver.CmdSetScissor(c.handle, scissor)
}

func (c *CommandBuffer) BindVertexBuffer(slot uint32, buf *Buffer, offset uint64) {
	if !c.recording("BindVertexBuffer") {
		return
	}
	if !buf.valid() {
		core.LogError("command buffer %q: BindVertexBuffer: %v", c.name, ErrStaleHandle)
		return
	}
	c.device.driver.CmdBindVertexBuffer(c.handle, slot, buf.handle, offset)
}

func (c *CommandBuffer) BindIndexBuffer(buf *Buffer, offset uint64, indexType IndexType) {
	if !c.recording("BindIndexBuffer") {
		return
	}
	if !buf.valid() {
		core.LogError("command buffer %q: BindIndexBuffer: %v", c.name, ErrStaleHandle)
		return
	}
	c.device.driver.CmdBindIndexBuffer(c.handle, buf.handle, offset, indexType)
}

// BindDescriptorSet binds set at the given set index of the current
// pipeline's layout.
func (c *CommandBuffer) BindDescriptorSet(index uint32, set *DescriptorSet) {
	if !c.recording("BindDescriptorSet") {
		return
	}
	if c.pipeline == nil {
		core.LogError("command buffer %q: BindDescriptorSet needs a bound pipeline", c.name)
		return
	}
	if !set.IsValid() {
		core.LogError("command buffer %q: BindDescriptorSet: %v", c.name, ErrStaleHandle)
		return
	}
	c.device.driver.CmdBindDescriptorSet(c.handle, c.pipeline.handle, index, set.handle)
}

// ResourceBarrier transitions a texture between layouts. The texture's
// tracked layout becomes NewLayout once the barrier is recorded. A
// transition to the same layout records nothing.
func (c *CommandBuffer) ResourceBarrier(desc BarrierDesc) {
	if !c.recording("ResourceBarrier") {
		return
	}
	tex := desc.Texture
	if !tex.valid() {
		core.LogError("command buffer %q: ResourceBarrier: %v", c.name, ErrStaleHandle)
		return
	}
	if desc.OldLayout != tex.layout {
		core.LogWarn("texture %q: barrier from %s but tracked layout is %s", tex.desc.Name, desc.OldLayout, tex.layout)
	}
	if desc.OldLayout == desc.NewLayout {
		tex.layout = desc.NewLayout
		return
	}
	c.device.driver.CmdPipelineBarrier(c.handle, resolveBarrier(tex, desc.OldLayout, desc.NewLayout, desc.Range))
	tex.layout = desc.NewLayout
}

// transition moves tex from its tracked layout to layout and returns the
// layout it was in.
func (c *CommandBuffer) transition(tex *Texture, layout ResourceLayout, rng SubresourceRange) ResourceLayout {
	prev := tex.layout
	c.ResourceBarrier(BarrierDesc{Texture: tex, OldLayout: prev, NewLayout: layout, Range: rng})
	return prev
}

func (c *CommandBuffer) CopyBuffer(src, dst *Buffer, srcOffset, dstOffset, size uint64) {
	if !c.outsideRenderPass("CopyBuffer") {
		return
	}
	if !src.valid() || !dst.valid() {
		core.LogError("command buffer %q: CopyBuffer: %v", c.name, ErrStaleHandle)
		return
	}
	if !fitsRange(srcOffset, size, src.Size()) || !fitsRange(dstOffset, size, dst.Size()) {
		core.LogError("command buffer %q: CopyBuffer: %v", c.name, ErrOutOfBounds)
		return
	}
	c.device.driver.CmdCopyBuffer(c.handle, src.handle, dst.handle, BufferCopy{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	})
}

// CopyBufferToTexture copies buffer data into one texture subresource. The
// texture is moved to the transfer destination layout for the copy and
// back afterwards.
func (c *CommandBuffer) CopyBufferToTexture(src *Buffer, dst *Texture, region BufferTextureCopy) {
	if !c.outsideRenderPass("CopyBufferToTexture") {
		return
	}
	if !src.valid() || !dst.valid() {
		core.LogError("command buffer %q: CopyBufferToTexture: %v", c.name, ErrStaleHandle)
		return
	}
	region, ok := c.textureRegion("CopyBufferToTexture", dst, src, region)
	if !ok {
		return
	}
	rng := SubresourceRange{BaseMipLevel: region.MipLevel, MipLevelCount: 1, BaseArrayLayer: region.ArrayLayer, ArrayLayerCount: 1}
	prev := c.transition(dst, LayoutTransferDst, rng)
	c.device.driver.CmdCopyBufferToTexture(c.handle, src.handle, dst.handle, AspectForFormat(dst.desc.Format), region)
	c.transition(dst, prev, rng)
}

// CopyTextureToBuffer is the reverse of CopyBufferToTexture.
func (c *CommandBuffer) CopyTextureToBuffer(src *Texture, dst *Buffer, region BufferTextureCopy) {
	if !c.outsideRenderPass("CopyTextureToBuffer") {
		return
	}
	if !src.valid() || !dst.valid() {
		core.LogError("command buffer %q: CopyTextureToBuffer: %v", c.name, ErrStaleHandle)
		return
	}
	region, ok := c.textureRegion("CopyTextureToBuffer", src, dst, region)
	if !ok {
		return
	}
	rng := SubresourceRange{BaseMipLevel: region.MipLevel, MipLevelCount: 1, BaseArrayLayer: region.ArrayLayer, ArrayLayerCount: 1}
	prev := c.transition(src, LayoutTransferSrc, rng)
	c.device.driver.CmdCopyTextureToBuffer(c.handle, src.handle, dst.handle, AspectForFormat(src.desc.Format), region)
	c.transition(src, prev, rng)
}

// CopyTexture copies between two textures of the same format, restoring
// both layouts afterwards.
func (c *CommandBuffer) CopyTexture(src, dst *Texture, region TextureCopy) {
	if !c.outsideRenderPass("CopyTexture") {
		return
	}
	if !src.valid() || !dst.valid() {
		core.LogError("command buffer %q: CopyTexture: %v", c.name, ErrStaleHandle)
		return
	}
	if src == dst {
		core.LogError("command buffer %q: CopyTexture from a texture onto itself", c.name)
		return
	}
	if src.desc.Format != dst.desc.Format {
		core.LogError("command buffer %q: CopyTexture between %s and %s", c.name, src.desc.Format, dst.desc.Format)
		return
	}
	if region.SrcMipLevel >= src.desc.MipLevels || region.DstMipLevel >= dst.desc.MipLevels ||
		region.SrcArrayLayer >= src.desc.ArrayLayers || region.DstArrayLayer >= dst.desc.ArrayLayers {
		core.LogError("command buffer %q: CopyTexture: %v", c.name, ErrOutOfBounds)
		return
	}
	if region.Width == 0 || region.Height == 0 || region.Depth == 0 {
		w, h, d := src.MipExtent(region.SrcMipLevel)
		region.Width, region.Height, region.Depth = w, h, d
	}
	if !fitsMip(src, region.SrcMipLevel, 0, 0, 0, region.Width, region.Height, region.Depth) ||
		!fitsMip(dst, region.DstMipLevel, 0, 0, 0, region.Width, region.Height, region.Depth) {
		core.LogError("command buffer %q: CopyTexture: %dx%dx%d region: %v",
			c.name, region.Width, region.Height, region.Depth, ErrOutOfBounds)
		return
	}

	srcRange := SubresourceRange{BaseMipLevel: region.SrcMipLevel, MipLevelCount: 1, BaseArrayLayer: region.SrcArrayLayer, ArrayLayerCount: 1}
	dstRange := SubresourceRange{BaseMipLevel: region.DstMipLevel, MipLevelCount: 1, BaseArrayLayer: region.DstArrayLayer, ArrayLayerCount: 1}
	srcPrev := c.transition(src, LayoutTransferSrc, srcRange)
	dstPrev := c.transition(dst, LayoutTransferDst, dstRange)
	c.device.driver.CmdCopyTexture(c.handle, src.handle, dst.handle, AspectForFormat(src.desc.Format), region)
	c.transition(dst, dstPrev, dstRange)
	c.transition(src, srcPrev, srcRange)
}

// textureRegion validates a buffer/texture copy region and fills in the
// full mip extent when the region leaves it zero. The region must lie inside
// the mip level, and its tightly packed bytes inside the buffer.
func (c *CommandBuffer) textureRegion(op string, tex *Texture, buf *Buffer, region BufferTextureCopy) (BufferTextureCopy, bool) {
	if region.MipLevel >= tex.desc.MipLevels || region.ArrayLayer >= tex.desc.ArrayLayers {
		core.LogError("command buffer %q: %s: subresource %d/%d: %v", c.name, op, region.MipLevel, region.ArrayLayer, ErrOutOfBounds)
		return region, false
	}
	if region.Width == 0 || region.Height == 0 || region.Depth == 0 {
		w, h, d := tex.MipExtent(region.MipLevel)
		region.Width, region.Height, region.Depth = w, h, d
	}
	if !fitsMip(tex, region.MipLevel, region.X, region.Y, region.Z, region.Width, region.Height, region.Depth) {
		core.LogError("command buffer %q: %s: region %dx%dx%d at (%d,%d,%d) outside mip %d: %v", c.name, op,
			region.Width, region.Height, region.Depth, region.X, region.Y, region.Z, region.MipLevel, ErrOutOfBounds)
		return region, false
	}
	size := uint64(region.Width) * uint64(region.Height) * uint64(region.Depth) * uint64(tex.desc.Format.BytesPerTexel())
	if !fitsRange(region.BufferOffset, size, buf.Size()) {
		core.LogError("command buffer %q: %s: %d bytes at offset %d in a %d byte buffer: %v", c.name, op,
			size, region.BufferOffset, buf.Size(), ErrOutOfBounds)
		return region, false
	}
	return region, true
}

// fitsRange reports whether [offset, offset+size) lies within limit. It
// never overflows.
func fitsRange(offset, size, limit uint64) bool {
	return offset <= limit && size <= limit-offset
}

// fitsMip reports whether the box at (x,y,z) lies within the extent of the
// given mip level.
func fitsMip(tex *Texture, level uint32, x, y, z int32, width, height, depth uint32) bool {
	if x < 0 || y < 0 || z < 0 {
		return false
	}
	w, h, d := tex.MipExtent(level)
	return fitsRange(uint64(x), uint64(width), uint64(w)) &&
		fitsRange(uint64(y), uint64(height), uint64(h)) &&
		fitsRange(uint64(z), uint64(depth), uint64(d))
}

func (c *CommandBuffer) ClearColor(tex *Texture, color [4]float32, rng SubresourceRange) {
	if !c.outsideRenderPass("ClearColor") {
		return
	}
	if !tex.valid() {
		core.LogError("command buffer %q: ClearColor: %v", c.name, ErrStaleHandle)
		return
	}
	if tex.desc.Format.IsDepth() {
		core.LogError("command buffer %q: ClearColor on depth texture %q", c.name, tex.desc.Name)
		return
	}
	rng = tex.clampRange(rng)
	prev := c.transition(tex, LayoutTransferDst, rng)
	c.device.driver.CmdClearColor(c.handle, tex.handle, color, rng)
	c.transition(tex, prev, rng)
}

func (c *CommandBuffer) ClearDepthStencil(tex *Texture, depth float32, stencil uint32, rng SubresourceRange) {
	if !c.outsideRenderPass("ClearDepthStencil") {
		return
	}
	if !tex.valid() {
		core.LogError("command buffer %q: ClearDepthStencil: %v", c.name, ErrStaleHandle)
		return
	}
	if !tex.desc.Format.IsDepth() {
		core.LogError("command buffer %q: ClearDepthStencil on color texture %q", c.name, tex.desc.Name)
		return
	}
	rng = tex.clampRange(rng)
	prev := c.transition(tex, LayoutTransferDst, rng)
	c.device.driver.CmdClearDepthStencil(c.handle, tex.handle, AspectForFormat(tex.desc.Format), depth, stencil, rng)
	c.transition(tex, prev, rng)
}

// BeginRenderPass starts pass on framebuffer. Clear values are matched by
// position: the framebuffer's color attachments first, then its
// depth/stencil attachment.
func (c *CommandBuffer) BeginRenderPass(pass *RenderPass, framebuffer *Framebuffer, clearValues []ClearValue) {
	if !c.recording("BeginRenderPass") {
		return
	}
	if c.renderPassActive {
		core.LogError("command buffer %q: BeginRenderPass while a render pass is active", c.name)
		return
	}
	if pass == nil || pass.handle.IsNil() || framebuffer == nil || framebuffer.handle.IsNil() {
		core.LogError("command buffer %q: BeginRenderPass: %v", c.name, ErrStaleHandle)
		return
	}
	if framebuffer.ColorAttachmentCount() != pass.ColorAttachmentCount() ||
		framebuffer.HasDepthStencil() != pass.HasDepthStencil() {
		core.LogError("command buffer %q: framebuffer does not match render pass %q", c.name, pass.desc.Name)
		return
	}

	area := Rect{Width: framebuffer.Width(), Height: framebuffer.Height()}
	c.device.driver.CmdBeginRenderPass(c.handle, pass.handle, framebuffer.handle, area, convertClearValues(framebuffer, clearValues))
	c.renderPassActive = true
	c.renderPass = pass
	c.framebuffer = framebuffer
}

func convertClearValues(framebuffer *Framebuffer, clearValues []ClearValue) []AttachmentClear {
	colors := framebuffer.ColorAttachmentCount()
	count := colors
	if framebuffer.HasDepthStencil() {
		count++
	}
	clears := make([]AttachmentClear, count)
	for i := range clears {
		var v ClearValue
		if i < len(clearValues) {
			v = clearValues[i]
		}
		if i < colors {
			clears[i] = AttachmentClear{Color: v.Color}
		} else {
			clears[i] = AttachmentClear{DepthStencil: true, Depth: v.Depth, Stencil: v.Stencil}
		}
	}
	return clears
}

func (c *CommandBuffer) EndRenderPass() {
	if !c.recording("EndRenderPass") {
		return
	}
	if !c.renderPassActive {
		core.LogError("command buffer %q: EndRenderPass without an active render pass", c.name)
		return
	}
	c.device.driver.CmdEndRenderPass(c.handle)
	c.renderPassActive = false
	c.renderPass = nil
	c.framebuffer = nil
}

func (c *CommandBuffer) Draw(vertexCount, firstVertex uint32) {
	c.DrawInstanced(vertexCount, 1, firstVertex, 0)
}

func (c *CommandBuffer) DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32) {
	c.DrawIndexedInstanced(indexCount, 1, firstIndex, vertexOffset, 0)
}

func (c *CommandBuffer) DrawInstanced(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !c.insideRenderPass("Draw") {
		return
	}
	c.device.driver.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexedInstanced(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !c.insideRenderPass("DrawIndexed") {
		return
	}
	c.device.driver.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
