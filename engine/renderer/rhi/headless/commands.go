package headless

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

// Command is one recorded native command.
type Command struct {
	// Op is the driver method that recorded it, e.g. "CmdDraw".
	Op      string
	Barrier rhi.ImageBarrier
	Clears  []rhi.AttachmentClear
	// Counts holds the numeric arguments of draws and binds in call order.
	Counts []int64

	run func()
}

// Recorded returns the commands currently recorded in a command buffer.
func (d *Driver) Recorded(h rhi.CommandBufferHandle) []Command {
	cb, ok := d.commands.Get(h)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), cb.commands...)
}

func (d *Driver) BeginCommandBuffer(h rhi.CommandBufferHandle, oneTimeSubmit bool) error {
	if err := d.call("BeginCommandBuffer"); err != nil {
		return err
	}
	cb, ok := d.commands.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb.recording {
		return fmt.Errorf("command buffer %s already recording", h)
	}
	cb.recording = true
	cb.commands = nil
	return nil
}

func (d *Driver) EndCommandBuffer(h rhi.CommandBufferHandle) error {
	if err := d.call("EndCommandBuffer"); err != nil {
		return err
	}
	cb, ok := d.commands.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !cb.recording {
		return fmt.Errorf("command buffer %s is not recording", h)
	}
	cb.recording = false
	return nil
}

func (d *Driver) ResetCommandBuffer(h rhi.CommandBufferHandle) error {
	if err := d.call("ResetCommandBuffer"); err != nil {
		return err
	}
	cb, ok := d.commands.Get(h)
	if !ok {
		return rhi.ErrStaleHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cb.recording = false
	cb.commands = nil
	return nil
}

// record appends c to a recording command buffer.
func (d *Driver) record(h rhi.CommandBufferHandle, c Command) {
	d.call(c.Op)
	cb, ok := d.commands.Get(h)
	if !ok {
		d.stale("command buffer", h)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !cb.recording {
		core.LogError("headless: %s on command buffer %s that is not recording", c.Op, h)
		return
	}
	cb.commands = append(cb.commands, c)
}

func (d *Driver) CmdBindPipeline(cmd rhi.CommandBufferHandle, pipeline rhi.PipelineHandle) {
	d.record(cmd, Command{Op: "CmdBindPipeline"})
}

func (d *Driver) CmdSetViewport(cmd rhi.CommandBufferHandle, viewport rhi.Viewport) {
	d.record(cmd, Command{Op: "CmdSetViewport"})
}

func (d *Driver) CmdSetScissor(cmd rhi.CommandBufferHandle, scissor rhi.Rect) {
	d.record(cmd, Command{Op: "CmdSetScissor", Counts: []int64{int64(scissor.X), int64(scissor.Y), int64(scissor.Width), int64(scissor.Height)}})
}

func (d *Driver) CmdBindVertexBuffer(cmd rhi.CommandBufferHandle, slot uint32, buffer rhi.BufferHandle, offset uint64) {
	d.record(cmd, Command{Op: "CmdBindVertexBuffer", Counts: []int64{int64(slot), int64(offset)}})
}

func (d *Driver) CmdBindIndexBuffer(cmd rhi.CommandBufferHandle, buffer rhi.BufferHandle, offset uint64, indexType rhi.IndexType) {
	d.record(cmd, Command{Op: "CmdBindIndexBuffer", Counts: []int64{int64(offset), int64(indexType)}})
}

func (d *Driver) CmdBindDescriptorSet(cmd rhi.CommandBufferHandle, pipeline rhi.PipelineHandle, index uint32, set rhi.DescriptorSetHandle) {
	d.record(cmd, Command{Op: "CmdBindDescriptorSet", Counts: []int64{int64(index)}})
}

func (d *Driver) CmdPipelineBarrier(cmd rhi.CommandBufferHandle, barrier rhi.ImageBarrier) {
	d.record(cmd, Command{Op: "CmdPipelineBarrier", Barrier: barrier})
}

func (d *Driver) CmdCopyBuffer(cmd rhi.CommandBufferHandle, src, dst rhi.BufferHandle, region rhi.BufferCopy) {
	d.record(cmd, Command{Op: "CmdCopyBuffer", run: func() {
		s, ok1 := d.buffers.Get(src)
		t, ok2 := d.buffers.Get(dst)
		if !ok1 || !ok2 {
			d.stale("buffer", src)
			return
		}
		copy(t.data[region.DstOffset:region.DstOffset+region.Size], s.data[region.SrcOffset:region.SrcOffset+region.Size])
	}})
}

func (d *Driver) CmdCopyBufferToTexture(cmd rhi.CommandBufferHandle, src rhi.BufferHandle, dst rhi.TextureHandle, aspect rhi.Aspect, region rhi.BufferTextureCopy) {
	d.record(cmd, Command{Op: "CmdCopyBufferToTexture", run: func() {
		b, ok1 := d.buffers.Get(src)
		t, ok2 := d.textures.Get(dst)
		if !ok1 || !ok2 {
			d.stale("texture copy source or target", dst)
			return
		}
		copyRegion(t, region, b.data, true)
	}})
}

func (d *Driver) CmdCopyTextureToBuffer(cmd rhi.CommandBufferHandle, src rhi.TextureHandle, dst rhi.BufferHandle, aspect rhi.Aspect, region rhi.BufferTextureCopy) {
	d.record(cmd, Command{Op: "CmdCopyTextureToBuffer", run: func() {
		t, ok1 := d.textures.Get(src)
		b, ok2 := d.buffers.Get(dst)
		if !ok1 || !ok2 {
			d.stale("texture copy source or target", src)
			return
		}
		copyRegion(t, region, b.data, false)
	}})
}

// copyRegion moves a box of texels between a texture subresource and a
// tightly packed buffer starting at region.BufferOffset.
func copyRegion(t *texture, region rhi.BufferTextureCopy, buf []byte, toTexture bool) {
	sub := t.subresource(region.MipLevel, region.ArrayLayer)
	if sub == nil {
		return
	}
	bpt := uint64(t.desc.Format.BytesPerTexel())
	mw, mh, _ := mipExtent(t.desc, region.MipLevel)
	row := uint64(region.Width) * bpt
	for z := uint64(0); z < uint64(region.Depth); z++ {
		for y := uint64(0); y < uint64(region.Height); y++ {
			bo := region.BufferOffset + (z*uint64(region.Height)+y)*row
			to := ((uint64(region.Z)+z)*uint64(mh)+uint64(region.Y)+y)*uint64(mw)*bpt + uint64(region.X)*bpt
			if bo+row > uint64(len(buf)) || to+row > uint64(len(sub)) {
				core.LogError("headless: copy region %dx%dx%d at (%d,%d,%d): %v",
					region.Width, region.Height, region.Depth, region.X, region.Y, region.Z, rhi.ErrOutOfBounds)
				return
			}
			if toTexture {
				copy(sub[to:to+row], buf[bo:bo+row])
			} else {
				copy(buf[bo:bo+row], sub[to:to+row])
			}
		}
	}
}

func (d *Driver) CmdCopyTexture(cmd rhi.CommandBufferHandle, src, dst rhi.TextureHandle, aspect rhi.Aspect, region rhi.TextureCopy) {
	d.record(cmd, Command{Op: "CmdCopyTexture", run: func() {
		s, ok1 := d.textures.Get(src)
		t, ok2 := d.textures.Get(dst)
		if !ok1 || !ok2 {
			d.stale("texture", src)
			return
		}
		// Round trip through a packed scratch buffer.
		bpt := uint64(s.desc.Format.BytesPerTexel())
		scratch := make([]byte, uint64(region.Width)*uint64(region.Height)*uint64(region.Depth)*bpt)
		box := rhi.BufferTextureCopy{Width: region.Width, Height: region.Height, Depth: region.Depth}
		box.MipLevel, box.ArrayLayer = region.SrcMipLevel, region.SrcArrayLayer
		copyRegion(s, box, scratch, false)
		box.MipLevel, box.ArrayLayer = region.DstMipLevel, region.DstArrayLayer
		copyRegion(t, box, scratch, true)
	}})
}

func (d *Driver) CmdClearColor(cmd rhi.CommandBufferHandle, texture rhi.TextureHandle, color [4]float32, rng rhi.SubresourceRange) {
	d.record(cmd, Command{Op: "CmdClearColor", run: func() {
		t, ok := d.textures.Get(texture)
		if !ok {
			d.stale("texture", texture)
			return
		}
		fill(t, rng, encodeColor(t.desc.Format, color))
	}})
}

func (d *Driver) CmdClearDepthStencil(cmd rhi.CommandBufferHandle, texture rhi.TextureHandle, aspect rhi.Aspect, depth float32, stencil uint32, rng rhi.SubresourceRange) {
	d.record(cmd, Command{Op: "CmdClearDepthStencil", run: func() {
		t, ok := d.textures.Get(texture)
		if !ok {
			d.stale("texture", texture)
			return
		}
		if t.desc.Format == rhi.FormatD32Float {
			fill(t, rng, binary.LittleEndian.AppendUint32(nil, math.Float32bits(depth)))
		}
	}})
}

func fill(t *texture, rng rhi.SubresourceRange, texel []byte) {
	if len(texel) == 0 {
		return
	}
	for mip := rng.BaseMipLevel; mip < rng.BaseMipLevel+rng.MipLevelCount; mip++ {
		for layer := rng.BaseArrayLayer; layer < rng.BaseArrayLayer+rng.ArrayLayerCount; layer++ {
			sub := t.subresource(mip, layer)
			for i := 0; i+len(texel) <= len(sub); i += len(texel) {
				copy(sub[i:], texel)
			}
		}
	}
}

// encodeColor packs a clear color into one texel, nil for formats the
// simulator does not model.
func encodeColor(f rhi.Format, c [4]float32) []byte {
	unorm := func(v float32) byte {
		return byte(core.Clamp(v, 0, 1)*255 + 0.5)
	}
	switch f {
	case rhi.FormatR8Unorm:
		return []byte{unorm(c[0])}
	case rhi.FormatRG8Unorm:
		return []byte{unorm(c[0]), unorm(c[1])}
	case rhi.FormatRGBA8Unorm, rhi.FormatRGBA8Srgb:
		return []byte{unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])}
	case rhi.FormatBGRA8Unorm, rhi.FormatBGRA8Srgb:
		return []byte{unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])}
	case rhi.FormatR32Float:
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(c[0]))
	case rhi.FormatRGBA32Float:
		out := make([]byte, 0, 16)
		for _, v := range c {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
		}
		return out
	}
	return nil
}

func (d *Driver) CmdBeginRenderPass(cmd rhi.CommandBufferHandle, pass rhi.RenderPassHandle, framebuffer rhi.FramebufferHandle, area rhi.Rect, clears []rhi.AttachmentClear) {
	attachments, ok := d.framebuffers.Get(framebuffer)
	if !ok {
		d.stale("framebuffer", framebuffer)
	}
	desc, _ := d.renderPasses.Get(pass)
	clears = append([]rhi.AttachmentClear(nil), clears...)
	d.record(cmd, Command{Op: "CmdBeginRenderPass", Clears: clears, run: func() {
		// Apply LoadOpClear to the attachments in framebuffer order.
		for i, a := range attachments {
			if i >= len(clears) {
				return
			}
			t, ok := d.textures.Get(a)
			if !ok {
				continue
			}
			all := rhi.SubresourceRange{MipLevelCount: t.desc.MipLevels, ArrayLayerCount: t.desc.ArrayLayers}
			switch {
			case i < len(desc.ColorAttachments) && desc.ColorAttachments[i].LoadOp == rhi.LoadOpClear:
				fill(t, all, encodeColor(t.desc.Format, clears[i].Color))
			case i == len(desc.ColorAttachments) && desc.DepthStencil != nil && desc.DepthStencil.LoadOp == rhi.LoadOpClear &&
				t.desc.Format == rhi.FormatD32Float:
				fill(t, all, binary.LittleEndian.AppendUint32(nil, math.Float32bits(clears[i].Depth)))
			}
		}
	}})
}

func (d *Driver) CmdEndRenderPass(cmd rhi.CommandBufferHandle) {
	d.record(cmd, Command{Op: "CmdEndRenderPass"})
}

func (d *Driver) CmdDraw(cmd rhi.CommandBufferHandle, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.record(cmd, Command{Op: "CmdDraw", Counts: []int64{int64(vertexCount), int64(instanceCount), int64(firstVertex), int64(firstInstance)}})
}

func (d *Driver) CmdDrawIndexed(cmd rhi.CommandBufferHandle, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.record(cmd, Command{Op: "CmdDrawIndexed", Counts: []int64{int64(indexCount), int64(instanceCount), int64(firstIndex), int64(vertexOffset), int64(firstInstance)}})
}
