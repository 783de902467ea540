package rhi_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
)

type target struct {
	pass   *rhi.RenderPass
	fb     *rhi.Framebuffer
	colors []*rhi.Texture
	depth  *rhi.Texture
}

func newTarget(t *testing.T, dev *rhi.Device, colors int, depth bool) target {
	t.Helper()
	var tg target
	desc := rhi.RenderPassDesc{Name: "target"}
	for i := 0; i < colors; i++ {
		desc.ColorAttachments = append(desc.ColorAttachments, rhi.AttachmentDesc{
			Format:      rhi.FormatRGBA8Unorm,
			LoadOp:      rhi.LoadOpClear,
			FinalLayout: rhi.LayoutShaderReadOnly,
		})
		tex, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageColorAttachment})
		if err != nil {
			t.Fatal(err)
		}
		tg.colors = append(tg.colors, tex)
	}
	if depth {
		desc.DepthStencil = &rhi.AttachmentDesc{Format: rhi.FormatD32Float, LoadOp: rhi.LoadOpClear}
		tex, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatD32Float, Usage: rhi.TextureUsageDepthStencilAttachment})
		if err != nil {
			t.Fatal(err)
		}
		tg.depth = tex
	}
	var err error
	if tg.pass, err = dev.CreateRenderPass(desc); err != nil {
		t.Fatal(err)
	}
	if tg.fb, err = dev.CreateFramebuffer(rhi.FramebufferDesc{RenderPass: tg.pass, ColorAttachments: tg.colors, DepthStencil: tg.depth}); err != nil {
		t.Fatal(err)
	}
	return tg
}

func newCommandBuffer(t *testing.T, dev *rhi.Device) *rhi.CommandBuffer {
	t.Helper()
	cmd, err := dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: t.Name()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cmd.Destroy)
	return cmd
}

func ops(drv *headless.Driver, cmd *rhi.CommandBuffer) []string {
	var out []string
	for _, c := range drv.Recorded(cmd.Handle()) {
		out = append(out, c.Op)
	}
	return out
}

func equalOps(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRecordRenderPass(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 2, false)
	cmd := newCommandBuffer(t, dev)

	if cmd.State() != rhi.CommandBufferStateInitial {
		t.Fatalf("State() of new buffer\nhave %v\nwant %v", cmd.State(), rhi.CommandBufferStateInitial)
	}
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BeginRenderPass(tg.pass, tg.fb, []rhi.ClearValue{{Color: [4]float32{1, 0, 0, 1}}, {Color: [4]float32{0, 1, 0, 1}}})
	if !cmd.IsRenderPassActive() {
		t.Fatalf("IsRenderPassActive() after BeginRenderPass: have false\nwant true")
	}
	cmd.SetViewport(rhi.Viewport{Width: 4, Height: 4, MaxDepth: 1})
	cmd.SetScissor(rhi.Rect{Width: 4, Height: 4})
	cmd.Draw(3, 0)
	cmd.EndRenderPass()
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}

	if cmd.State() != rhi.CommandBufferStateRecorded || cmd.IsRenderPassActive() {
		t.Errorf("after End\nhave %v, render pass active %t\nwant %v, false", cmd.State(), cmd.IsRenderPassActive(), rhi.CommandBufferStateRecorded)
	}
	want := []string{"CmdBeginRenderPass", "CmdSetViewport", "CmdSetScissor", "CmdDraw", "CmdEndRenderPass"}
	if have := ops(drv, cmd); !equalOps(have, want) {
		t.Errorf("recorded\nhave %v\nwant %v", have, want)
	}
	draw := drv.Recorded(cmd.Handle())[3]
	if draw.Counts[0] != 3 || draw.Counts[1] != 1 || draw.Counts[2] != 0 {
		t.Errorf("CmdDraw counts\nhave %v\nwant [3 1 0 0]", draw.Counts)
	}

	// Executing the pass applies the clears.
	if err := dev.SubmitCommandBuffer(cmd, nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	if have := drv.TextureContents(tg.colors[1].Handle(), 0, 0)[:4]; !bytes.Equal(have, []byte{0, 255, 0, 255}) {
		t.Errorf("second attachment texel\nhave %v\nwant [0 255 0 255]", have)
	}
}

func TestRecordingRequiresBegin(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 1, false)
	cmd := newCommandBuffer(t, dev)

	cmd.SetViewport(rhi.Viewport{Width: 1, Height: 1})
	cmd.BeginRenderPass(tg.pass, tg.fb, nil)
	cmd.Draw(3, 0)
	if n := drv.Calls("CmdSetViewport") + drv.Calls("CmdBeginRenderPass") + drv.Calls("CmdDraw"); n != 0 {
		t.Errorf("commands recorded before Begin\nhave %d\nwant 0", n)
	}
	if cmd.IsRenderPassActive() {
		t.Errorf("render pass became active outside recording")
	}

	// Creating the target primed its textures through one-shot buffers.
	base := drv.Calls("BeginCommandBuffer")
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	// A second Begin is ignored.
	if err := cmd.Begin(); err != nil {
		t.Errorf("second Begin\nhave %v\nwant nil", err)
	}
	if have := drv.Calls("BeginCommandBuffer") - base; have != 1 {
		t.Errorf("BeginCommandBuffer calls\nhave %d\nwant 1", have)
	}
	// Reset while recording is ignored.
	if err := cmd.Reset(); err != nil || !cmd.IsRecording() {
		t.Errorf("Reset while recording changed state to %v (%v)", cmd.State(), err)
	}
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Reset(); err != nil || cmd.State() != rhi.CommandBufferStateInitial {
		t.Errorf("Reset after End\nhave %v, %v\nwant %v, nil", cmd.State(), err, rhi.CommandBufferStateInitial)
	}
}

func TestRecordingOnlyMethodsNeedRecordingState(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 1, false)
	tex := tg.colors[0]
	layout := newLayout(t, dev)
	set, err := dev.CreateDescriptorSet(layout)
	if err != nil {
		t.Fatal(err)
	}
	vs, err := dev.CreateShader(rhi.ShaderDesc{Stage: rhi.ShaderStageVertex, Code: spirvStub()})
	if err != nil {
		t.Fatal(err)
	}
	pipeline, err := dev.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		VertexShader:         vs,
		RenderPass:           tg.pass,
		DescriptorSetLayouts: []*rhi.DescriptorSetLayout{layout},
	})
	if err != nil {
		t.Fatal(err)
	}
	a, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 64})
	b, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 64})
	other, _ := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	depth, _ := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatD32Float, Usage: rhi.TextureUsageDepthStencilAttachment})

	calls := []struct {
		name string
		fn   func(cmd *rhi.CommandBuffer)
	}{
		{"SetPipeline", func(cmd *rhi.CommandBuffer) { cmd.SetPipeline(pipeline) }},
		{"SetViewport", func(cmd *rhi.CommandBuffer) { cmd.SetViewport(rhi.Viewport{Width: 4, Height: 4, MaxDepth: 1}) }},
		{"SetScissor", func(cmd *rhi.CommandBuffer) { cmd.SetScissor(rhi.Rect{Width: 4, Height: 4}) }},
		{"BindVertexBuffer", func(cmd *rhi.CommandBuffer) { cmd.BindVertexBuffer(0, a, 0) }},
		{"BindIndexBuffer", func(cmd *rhi.CommandBuffer) { cmd.BindIndexBuffer(a, 0, rhi.IndexTypeUint16) }},
		{"BindDescriptorSet", func(cmd *rhi.CommandBuffer) { cmd.BindDescriptorSet(0, set) }},
		{"ResourceBarrier", func(cmd *rhi.CommandBuffer) {
			cmd.ResourceBarrier(rhi.BarrierDesc{Texture: tex, OldLayout: tex.CurrentLayout(), NewLayout: rhi.LayoutTransferSrc})
		}},
		{"CopyBuffer", func(cmd *rhi.CommandBuffer) { cmd.CopyBuffer(a, b, 0, 0, 64) }},
		{"CopyBufferToTexture", func(cmd *rhi.CommandBuffer) { cmd.CopyBufferToTexture(a, tex, rhi.BufferTextureCopy{}) }},
		{"CopyTextureToBuffer", func(cmd *rhi.CommandBuffer) { cmd.CopyTextureToBuffer(tex, b, rhi.BufferTextureCopy{}) }},
		{"CopyTexture", func(cmd *rhi.CommandBuffer) { cmd.CopyTexture(tex, other, rhi.TextureCopy{}) }},
		{"ClearColor", func(cmd *rhi.CommandBuffer) { cmd.ClearColor(tex, [4]float32{1, 1, 1, 1}, rhi.SubresourceRange{}) }},
		{"ClearDepthStencil", func(cmd *rhi.CommandBuffer) { cmd.ClearDepthStencil(depth, 1, 0, rhi.SubresourceRange{}) }},
		{"BeginRenderPass", func(cmd *rhi.CommandBuffer) { cmd.BeginRenderPass(tg.pass, tg.fb, nil) }},
		{"EndRenderPass", func(cmd *rhi.CommandBuffer) { cmd.EndRenderPass() }},
		{"Draw", func(cmd *rhi.CommandBuffer) { cmd.Draw(3, 0) }},
		{"DrawIndexed", func(cmd *rhi.CommandBuffer) { cmd.DrawIndexed(6, 0, 0) }},
		{"DrawInstanced", func(cmd *rhi.CommandBuffer) { cmd.DrawInstanced(3, 2, 0, 0) }},
		{"DrawIndexedInstanced", func(cmd *rhi.CommandBuffer) { cmd.DrawIndexedInstanced(6, 2, 0, 0, 0) }},
	}

	states := []struct {
		name    string
		prepare func(t *testing.T, cmd *rhi.CommandBuffer)
	}{
		{"initial", func(*testing.T, *rhi.CommandBuffer) {}},
		{"recorded", func(t *testing.T, cmd *rhi.CommandBuffer) {
			if err := cmd.Begin(); err != nil {
				t.Fatal(err)
			}
			if err := cmd.End(); err != nil {
				t.Fatal(err)
			}
		}},
	}

	textures := []*rhi.Texture{tex, other, depth}
	for _, st := range states {
		for _, call := range calls {
			t.Run(st.name+"/"+call.name, func(t *testing.T) {
				cmd := newCommandBuffer(t, dev)
				st.prepare(t, cmd)
				layouts := make([]rhi.ResourceLayout, len(textures))
				for i, tx := range textures {
					layouts[i] = tx.CurrentLayout()
				}

				call.fn(cmd)

				if have := drv.Recorded(cmd.Handle()); len(have) != 0 {
					t.Errorf("recorded on a %s buffer\nhave %d commands\nwant 0", st.name, len(have))
				}
				if cmd.Pipeline() != nil || cmd.RenderPass() != nil || cmd.Framebuffer() != nil || cmd.IsRenderPassActive() {
					t.Errorf("cached state changed on a %s buffer", st.name)
				}
				for i, tx := range textures {
					if tx.CurrentLayout() != layouts[i] {
						t.Errorf("texture %d layout\nhave %v\nwant %v", i, tx.CurrentLayout(), layouts[i])
					}
				}
			})
		}
	}
}

func TestDrawOutsideRenderPassIsDropped(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.Draw(3, 0)
	cmd.DrawIndexed(6, 0, 0)
	cmd.EndRenderPass()
	if n := len(drv.Recorded(cmd.Handle())); n != 0 {
		t.Errorf("recorded outside render pass\nhave %d commands\nwant 0", n)
	}
}

func TestEndClosesActiveRenderPass(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 1, true)
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BeginRenderPass(tg.pass, tg.fb, nil)
	cmd.DrawInstanced(3, 2, 0, 0)
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	want := []string{"CmdBeginRenderPass", "CmdDraw", "CmdEndRenderPass"}
	if have := ops(drv, cmd); !equalOps(have, want) {
		t.Errorf("recorded\nhave %v\nwant %v", have, want)
	}
	if cmd.IsRenderPassActive() || cmd.RenderPass() != nil || cmd.Framebuffer() != nil {
		t.Errorf("render pass state left behind after End")
	}
}

func TestClearValuesArePositional(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 2, true)
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BeginRenderPass(tg.pass, tg.fb, []rhi.ClearValue{
		{Color: [4]float32{1, 0, 0, 1}},
		{Color: [4]float32{0, 0, 1, 1}},
		{Depth: 1, Stencil: 7},
	})
	cmd.EndRenderPass()

	clears := drv.Recorded(cmd.Handle())[0].Clears
	if len(clears) != 3 {
		t.Fatalf("clear count\nhave %d\nwant 3", len(clears))
	}
	if clears[0].DepthStencil || clears[0].Color != [4]float32{1, 0, 0, 1} {
		t.Errorf("clear 0\nhave %+v\nwant color red", clears[0])
	}
	if clears[1].DepthStencil || clears[1].Color != [4]float32{0, 0, 1, 1} {
		t.Errorf("clear 1\nhave %+v\nwant color blue", clears[1])
	}
	if !clears[2].DepthStencil || clears[2].Depth != 1 || clears[2].Stencil != 7 {
		t.Errorf("clear 2\nhave %+v\nwant depth 1 stencil 7", clears[2])
	}
}

func TestBeginRenderPassRejectsMismatchedFramebuffer(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	two := newTarget(t, dev, 2, false)
	one := newTarget(t, dev, 1, false)
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BeginRenderPass(two.pass, one.fb, nil)
	if cmd.IsRenderPassActive() || drv.Calls("CmdBeginRenderPass") != 0 {
		t.Errorf("mismatched framebuffer started a render pass")
	}
}

func TestResourceBarrierTracksLayout(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tex, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, MipLevels: 3, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	base := drv.Calls("CmdPipelineBarrier")

	cmd.ResourceBarrier(rhi.BarrierDesc{Texture: tex, OldLayout: rhi.LayoutShaderReadOnly, NewLayout: rhi.LayoutColorAttachment})
	if tex.CurrentLayout() != rhi.LayoutColorAttachment {
		t.Errorf("CurrentLayout()\nhave %v\nwant %v", tex.CurrentLayout(), rhi.LayoutColorAttachment)
	}
	recorded := drv.Recorded(cmd.Handle())
	if len(recorded) != 1 {
		t.Fatalf("recorded barriers\nhave %d\nwant 1", len(recorded))
	}
	b := recorded[0].Barrier
	if b.SrcAccess != rhi.AccessShaderRead || b.DstAccess != rhi.AccessColorAttachmentRead|rhi.AccessColorAttachmentWrite {
		t.Errorf("barrier access\nhave %b -> %b\nwant shader read -> color attachment", b.SrcAccess, b.DstAccess)
	}
	if b.DstStages != rhi.StageColorAttachmentOutput || b.Aspect != rhi.AspectColor {
		t.Errorf("barrier stages/aspect\nhave %b, %b\nwant %b, %b", b.DstStages, b.Aspect, rhi.StageColorAttachmentOutput, rhi.AspectColor)
	}
	if b.Range.MipLevelCount != 3 || b.Range.ArrayLayerCount != 1 {
		t.Errorf("zero range not expanded\nhave %+v\nwant 3 mips, 1 layer", b.Range)
	}

	// Same layout: tracked, nothing recorded.
	cmd.ResourceBarrier(rhi.BarrierDesc{Texture: tex, OldLayout: rhi.LayoutColorAttachment, NewLayout: rhi.LayoutColorAttachment})
	if have := drv.Calls("CmdPipelineBarrier") - base; have != 1 {
		t.Errorf("barriers after no-op transition\nhave %d\nwant 1", have)
	}
}

func TestTransfersRestoreLayout(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	src, err := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageColorAttachment})
	if err != nil {
		t.Fatal(err)
	}
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.ClearColor(src, [4]float32{0, 0, 1, 1}, rhi.SubresourceRange{})
	cmd.CopyTexture(src, dst, rhi.TextureCopy{})
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}

	if src.CurrentLayout() != rhi.LayoutShaderReadOnly || dst.CurrentLayout() != rhi.LayoutColorAttachment {
		t.Errorf("layouts after transfers\nhave %v, %v\nwant %v, %v",
			src.CurrentLayout(), dst.CurrentLayout(), rhi.LayoutShaderReadOnly, rhi.LayoutColorAttachment)
	}
	want := []string{
		"CmdPipelineBarrier", "CmdClearColor", "CmdPipelineBarrier",
		"CmdPipelineBarrier", "CmdPipelineBarrier", "CmdCopyTexture", "CmdPipelineBarrier", "CmdPipelineBarrier",
	}
	if have := ops(drv, cmd); !equalOps(have, want) {
		t.Errorf("recorded\nhave %v\nwant %v", have, want)
	}

	if err := dev.SubmitCommandBuffer(cmd, nil, nil, nil); err != nil {
		t.Fatal(err)
	}
	blue := bytes.Repeat([]byte{0, 0, 255, 255}, 4)
	if have := drv.TextureContents(dst.Handle(), 0, 0); !bytes.Equal(have, blue) {
		t.Errorf("copied texture\nhave %v\nwant %v", have, blue)
	}
}

func TestTransfersRejectedInsideRenderPass(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	tg := newTarget(t, dev, 1, false)
	a, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 16})
	b, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 16})
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BeginRenderPass(tg.pass, tg.fb, nil)
	cmd.CopyBuffer(a, b, 0, 0, 16)
	cmd.ClearColor(tg.colors[0], [4]float32{}, rhi.SubresourceRange{})
	if n := drv.Calls("CmdCopyBuffer") + drv.Calls("CmdClearColor"); n != 0 {
		t.Errorf("transfers recorded inside a render pass\nhave %d\nwant 0", n)
	}
}

func TestClearFormatChecks(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	color, _ := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	depth, _ := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatD32Float, Usage: rhi.TextureUsageDepthStencilAttachment})
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.ClearColor(depth, [4]float32{}, rhi.SubresourceRange{})
	cmd.ClearDepthStencil(color, 1, 0, rhi.SubresourceRange{})
	if n := drv.Calls("CmdClearColor") + drv.Calls("CmdClearDepthStencil"); n != 0 {
		t.Errorf("clears of the wrong kind recorded: %d", n)
	}
	cmd.ClearDepthStencil(depth, 0.5, 0, rhi.SubresourceRange{})
	if have := drv.Recorded(cmd.Handle()); len(have) != 3 || have[0].Barrier.Aspect != rhi.AspectDepth {
		t.Errorf("depth clear\nhave %+v\nwant barrier, clear, barrier on the depth aspect", have)
	}
}

func TestBindDescriptorSetNeedsPipeline(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	layout, err := dev.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Bindings: []rhi.DescriptorSetLayoutBinding{{Binding: 0, Type: rhi.DescriptorTypeUniformBuffer, Stages: rhi.ShaderStageVertex}},
	})
	if err != nil {
		t.Fatal(err)
	}
	set, err := dev.CreateDescriptorSet(layout)
	if err != nil {
		t.Fatal(err)
	}
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	cmd.BindDescriptorSet(0, set)
	if drv.Calls("CmdBindDescriptorSet") != 0 {
		t.Errorf("descriptor set bound without a pipeline")
	}
}

func countOp(drv *headless.Driver, cmd *rhi.CommandBuffer, op string) int {
	n := 0
	for _, o := range ops(drv, cmd) {
		if o == op {
			n++
		}
	}
	return n
}

func TestCopyBufferBounds(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	a, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 16})
	b, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 16})
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}

	// offset+size wraps around uint64.
	cmd.CopyBuffer(a, b, 8, 8, math.MaxUint64-3)
	cmd.CopyBuffer(a, b, 0, 8, 16)
	cmd.CopyBuffer(a, b, 17, 0, 0)
	if have := countOp(drv, cmd, "CmdCopyBuffer"); have != 0 {
		t.Fatalf("out of bounds copies recorded\nhave %d\nwant 0", have)
	}
	cmd.CopyBuffer(a, b, 8, 0, 8)
	if have := countOp(drv, cmd, "CmdCopyBuffer"); have != 1 {
		t.Errorf("in bounds copy\nhave %d recorded\nwant 1", have)
	}
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	if err := dev.SubmitCommandBuffer(cmd, nil, nil, nil); err != nil {
		t.Errorf("SubmitCommandBuffer: %v", err)
	}
}

func TestTextureCopyRegionsBounds(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	big, _ := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	small, _ := dev.CreateTexture(rhi.TextureDesc{Width: 2, Height: 2, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	tiny, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 4})
	buf, _ := dev.CreateBuffer(rhi.BufferDesc{Size: 64})
	cmd := newCommandBuffer(t, dev)
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}

	rejected := []struct {
		name string
		fn   func()
	}{
		{"texture into smaller texture", func() { cmd.CopyTexture(big, small, rhi.TextureCopy{}) }},
		{"region larger than destination", func() { cmd.CopyTexture(small, big, rhi.TextureCopy{Width: 8, Height: 1, Depth: 1}) }},
		{"whole mip from short buffer", func() { cmd.CopyBufferToTexture(tiny, big, rhi.BufferTextureCopy{}) }},
		{"region past the mip edge", func() {
			cmd.CopyBufferToTexture(buf, big, rhi.BufferTextureCopy{X: 2, Width: 4, Height: 1, Depth: 1})
		}},
		{"negative offset", func() {
			cmd.CopyBufferToTexture(buf, big, rhi.BufferTextureCopy{Y: -1, Width: 1, Height: 1, Depth: 1})
		}},
		{"buffer offset past the data", func() { cmd.CopyBufferToTexture(buf, small, rhi.BufferTextureCopy{BufferOffset: 60}) }},
		{"readback into short buffer", func() { cmd.CopyTextureToBuffer(small, tiny, rhi.BufferTextureCopy{}) }},
	}
	for _, r := range rejected {
		before := len(ops(drv, cmd))
		layouts := [2]rhi.ResourceLayout{big.CurrentLayout(), small.CurrentLayout()}
		r.fn()
		if have := len(ops(drv, cmd)) - before; have != 0 {
			t.Errorf("%s: recorded %d commands\nwant 0", r.name, have)
		}
		if big.CurrentLayout() != layouts[0] || small.CurrentLayout() != layouts[1] {
			t.Errorf("%s: layouts changed by a rejected copy", r.name)
		}
	}

	cmd.CopyTexture(small, big, rhi.TextureCopy{})
	cmd.CopyBufferToTexture(buf, big, rhi.BufferTextureCopy{X: 2, Y: 2, Width: 2, Height: 2, Depth: 1, BufferOffset: 48})
	cmd.CopyTextureToBuffer(big, tiny, rhi.BufferTextureCopy{X: 3, Y: 3, Width: 1, Height: 1, Depth: 1})
	if have := countOp(drv, cmd, "CmdCopyTexture"); have != 1 {
		t.Errorf("CmdCopyTexture\nhave %d\nwant 1", have)
	}
	if have := countOp(drv, cmd, "CmdCopyBufferToTexture") + countOp(drv, cmd, "CmdCopyTextureToBuffer"); have != 2 {
		t.Errorf("buffer/texture copies\nhave %d\nwant 2", have)
	}
}
