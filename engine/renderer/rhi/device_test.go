package rhi_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
)

func init() {
	core.SetLogOutput(io.Discard)
}

func newDevice(t *testing.T, cfg headless.Config) (*rhi.Device, *headless.Driver) {
	t.Helper()
	if cfg.SurfaceWidth == 0 && cfg.SurfaceHeight == 0 {
		cfg.SurfaceWidth, cfg.SurfaceHeight = 800, 600
	}
	drv := headless.NewWithConfig(cfg)
	dev, err := rhi.NewDeviceFromDriver(drv, rhi.DeviceDesc{
		Backend:               rhi.BackendHeadless,
		ApplicationName:       t.Name(),
		DescriptorPoolMaxSets: 4,
	})
	if err != nil {
		t.Fatalf("NewDeviceFromDriver: %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev, drv
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestNewDeviceUnknownBackend(t *testing.T) {
	dev, err := rhi.NewDevice(rhi.DeviceDesc{Backend: rhi.Backend(99)})
	if !errors.Is(err, rhi.ErrUnknownBackend) {
		t.Fatalf("NewDevice(Backend(99))\nhave %v\nwant %v", err, rhi.ErrUnknownBackend)
	}
	if dev != nil {
		t.Errorf("NewDevice(Backend(99)): have non-nil device\nwant nil")
	}
}

func TestNewDeviceRegisteredBackend(t *testing.T) {
	dev, err := rhi.NewDevice(rhi.DeviceDesc{Backend: rhi.BackendHeadless})
	if err != nil {
		t.Fatalf("NewDevice(headless): %v", err)
	}
	defer dev.Destroy()
	if name := dev.Driver().Name(); name != "headless" {
		t.Errorf("Driver().Name()\nhave %q\nwant %q", name, "headless")
	}
}

func TestParseBackend(t *testing.T) {
	for name, want := range map[string]rhi.Backend{
		"vulkan": rhi.BackendVulkan, "": rhi.BackendVulkan, "headless": rhi.BackendHeadless,
	} {
		if have, err := rhi.ParseBackend(name); err != nil || have != want {
			t.Errorf("ParseBackend(%q)\nhave %v, %v\nwant %v, nil", name, have, err, want)
		}
	}
	if _, err := rhi.ParseBackend("d3d12"); !errors.Is(err, rhi.ErrUnknownBackend) {
		t.Errorf("ParseBackend(d3d12)\nhave %v\nwant %v", err, rhi.ErrUnknownBackend)
	}
}

func TestNewDeviceInitFailureReleasesEverything(t *testing.T) {
	drv := headless.New()
	boom := errors.New("boom")
	drv.FailNext("CreateDescriptorPool", boom)

	dev, err := rhi.NewDeviceFromDriver(drv, rhi.DeviceDesc{Backend: rhi.BackendHeadless})
	if !errors.Is(err, boom) {
		t.Fatalf("NewDeviceFromDriver\nhave %v\nwant %v", err, boom)
	}
	if dev != nil {
		t.Errorf("NewDeviceFromDriver: have partial device\nwant nil")
	}
	if !drv.IsDestroyed() {
		t.Errorf("driver not destroyed after failed init")
	}
	if n := drv.Live(); n != 0 {
		t.Errorf("Live() after failed init\nhave %d\nwant 0", n)
	}
}

func TestDestroyReleasesAllObjects(t *testing.T) {
	drv := headless.New()
	dev, err := rhi.NewDeviceFromDriver(drv, rhi.DeviceDesc{Backend: rhi.BackendHeadless})
	if err != nil {
		t.Fatal(err)
	}
	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 64, Usage: rhi.BufferUsageVertex})
	if err != nil {
		t.Fatal(err)
	}
	tex, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled})
	if err != nil {
		t.Fatal(err)
	}
	buf.Destroy()
	buf.Destroy()
	tex.Destroy()
	dev.Destroy()

	if n := drv.Live(); n != 0 {
		t.Errorf("Live() after Destroy\nhave %d\nwant 0", n)
	}
	if have := drv.Calls("DestroyBuffer"); have != 1 {
		t.Errorf("DestroyBuffer calls after double Destroy\nhave %d\nwant 1", have)
	}
}

func TestBufferMemoryUsage(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	for _, c := range []struct {
		desc   rhi.BufferDesc
		memory rhi.MemoryUsage
		mapped bool
	}{
		{rhi.BufferDesc{Size: 16, Type: rhi.BufferTypeStatic}, rhi.MemoryGpuOnly, false},
		{rhi.BufferDesc{Size: 16, Type: rhi.BufferTypeDynamic}, rhi.MemoryCpuToGpu, true},
		{rhi.BufferDesc{Size: 16, CreateFlags: rhi.BufferCreateCpuAccess}, rhi.MemoryCpuToGpu, true},
		{rhi.BufferDesc{Size: 16, CreateFlags: rhi.BufferCreateReadback}, rhi.MemoryGpuToCpu, true},
	} {
		buf, err := dev.CreateBuffer(c.desc)
		if err != nil {
			t.Fatalf("CreateBuffer(%+v): %v", c.desc, err)
		}
		if buf.MemoryUsage() != c.memory || buf.IsMapped() != c.mapped {
			t.Errorf("CreateBuffer(%+v)\nhave memory %v, mapped %t\nwant memory %v, mapped %t",
				c.desc, buf.MemoryUsage(), buf.IsMapped(), c.memory, c.mapped)
		}
		buf.Destroy()
	}
}

func TestCreateBufferZeroSize(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	if buf, err := dev.CreateBuffer(rhi.BufferDesc{}); err == nil || buf != nil {
		t.Errorf("CreateBuffer(size 0)\nhave %v, %v\nwant nil, error", buf, err)
	}
}

func TestCreateBufferDriverFailure(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	drv.FailNext("CreateBuffer", rhi.ErrDeviceLost)
	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 8})
	if buf != nil || !errors.Is(err, rhi.ErrDeviceLost) {
		t.Errorf("CreateBuffer\nhave %v, %v\nwant nil, %v", buf, err, rhi.ErrDeviceLost)
	}
}

func TestUpdateMappedBuffer(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	buf, err := dev.CreateBuffer(rhi.BufferDesc{
		Size:        256,
		Type:        rhi.BufferTypeDynamic,
		CreateFlags: rhi.BufferCreateCpuAccess,
	})
	if err != nil {
		t.Fatal(err)
	}
	data := pattern(64)
	submits := drv.Calls("Submit")
	if err := dev.UpdateBuffer(buf, data, 0); err != nil {
		t.Fatalf("UpdateBuffer: %v", err)
	}
	if have := buf.Mapped()[:64]; !bytes.Equal(have, data) {
		t.Errorf("mapped[:64]\nhave %v\nwant %v", have, data)
	}
	if have := drv.Calls("Submit"); have != submits {
		t.Errorf("mapped update submitted work: have %d submits\nwant %d", have, submits)
	}
}

func TestUpdateBufferBounds(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 256, Type: rhi.BufferTypeDynamic})
	if err != nil {
		t.Fatal(err)
	}
	created := drv.Calls("CreateBuffer")

	for _, c := range []struct {
		size   int
		offset uint64
	}{
		{65, 192},
		{1, 256},
		{257, 0},
		{1, 1 << 63},
	} {
		err := dev.UpdateBuffer(buf, pattern(c.size), c.offset)
		if !errors.Is(err, rhi.ErrOutOfBounds) {
			t.Errorf("UpdateBuffer(%d bytes at %d)\nhave %v\nwant %v", c.size, c.offset, err, rhi.ErrOutOfBounds)
		}
	}
	if !bytes.Equal(buf.Mapped(), make([]byte, 256)) {
		t.Errorf("out of bounds update wrote to the buffer")
	}
	if have := drv.Calls("CreateBuffer"); have != created {
		t.Errorf("out of bounds update created staging buffers")
	}

	// Exactly at the end is fine and writes exactly size bytes.
	if err := dev.UpdateBuffer(buf, pattern(64), 192); err != nil {
		t.Fatalf("UpdateBuffer(64 bytes at 192): %v", err)
	}
	want := append(make([]byte, 192), pattern(64)...)
	if !bytes.Equal(buf.Mapped(), want) {
		t.Errorf("mapped after update\nhave %v\nwant %v", buf.Mapped(), want)
	}
}

func TestUpdateBufferNonCoherentFlushesWrittenRange(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{NonCoherent: true})
	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 128, Type: rhi.BufferTypeDynamic})
	if err != nil {
		t.Fatal(err)
	}
	if buf.IsCoherent() {
		t.Fatalf("IsCoherent(): have true\nwant false")
	}
	if err := dev.UpdateBuffer(buf, pattern(16), 32); err != nil {
		t.Fatal(err)
	}
	flushes := drv.Flushes(buf.Handle())
	if len(flushes) != 1 || flushes[0].DstOffset != 32 || flushes[0].Size != 16 {
		t.Errorf("Flushes()\nhave %+v\nwant [{DstOffset:32 Size:16}]", flushes)
	}
}

func TestUpdateBufferStaged(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	buf, err := dev.CreateBuffer(rhi.BufferDesc{Size: 128, Usage: rhi.BufferUsageVertex})
	if err != nil {
		t.Fatal(err)
	}
	if buf.IsMapped() {
		t.Fatalf("GPU-only buffer is mapped")
	}
	live := drv.Live()
	submits := drv.Calls("Submit")
	waits := drv.Calls("WaitFence")

	data := pattern(32)
	if err := dev.UpdateBuffer(buf, data, 16); err != nil {
		t.Fatalf("UpdateBuffer: %v", err)
	}
	if have := drv.BufferContents(buf.Handle())[16:48]; !bytes.Equal(have, data) {
		t.Errorf("contents[16:48]\nhave %v\nwant %v", have, data)
	}
	if have := drv.Calls("Submit") - submits; have != 1 {
		t.Errorf("submits\nhave %d\nwant 1", have)
	}
	if have := drv.Calls("WaitFence") - waits; have != 1 {
		t.Errorf("fence waits\nhave %d\nwant 1", have)
	}
	if have := drv.Live(); have != live {
		t.Errorf("Live() after staged upload\nhave %d\nwant %d (staging leaked)", have, live)
	}

	back, err := dev.ReadBuffer(buf, 16, 32)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if !bytes.Equal(back, data) {
		t.Errorf("ReadBuffer\nhave %v\nwant %v", back, data)
	}
}

func TestCreateTexturePrimesLayout(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	for _, c := range []struct {
		desc rhi.TextureDesc
		want rhi.ResourceLayout
	}{
		{rhi.TextureDesc{Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled}, rhi.LayoutShaderReadOnly},
		{rhi.TextureDesc{Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageColorAttachment}, rhi.LayoutColorAttachment},
		{rhi.TextureDesc{Format: rhi.FormatD32Float, Usage: rhi.TextureUsageDepthStencilAttachment}, rhi.LayoutDepthStencilAttachment},
		{rhi.TextureDesc{Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageStorage}, rhi.LayoutGeneral},
		{rhi.TextureDesc{Format: rhi.FormatRGBA8Unorm}, rhi.LayoutTransferDst},
		{rhi.TextureDesc{Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageSampled, InitialLayout: rhi.LayoutGeneral}, rhi.LayoutGeneral},
	} {
		c.desc.Width, c.desc.Height = 8, 8
		barriers := drv.Calls("CmdPipelineBarrier")
		tex, err := dev.CreateTexture(c.desc)
		if err != nil {
			t.Fatalf("CreateTexture(%+v): %v", c.desc, err)
		}
		if have := tex.CurrentLayout(); have != c.want {
			t.Errorf("CreateTexture(usage %b).CurrentLayout()\nhave %v\nwant %v", c.desc.Usage, have, c.want)
		}
		if have := drv.Calls("CmdPipelineBarrier") - barriers; have != 1 {
			t.Errorf("priming barriers\nhave %d\nwant 1", have)
		}
		tex.Destroy()
	}
}

func TestCreateTextureDefaults(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	tex, err := dev.CreateTexture(rhi.TextureDesc{
		Dimension: rhi.TextureDimensionCube,
		Width:     16,
		Height:    16,
		Format:    rhi.FormatRGBA8Unorm,
		Usage:     rhi.TextureUsageSampled,
	})
	if err != nil {
		t.Fatal(err)
	}
	if tex.MipLevels() != 1 || tex.ArrayLayers() != 6 || tex.Desc().Samples != 1 {
		t.Errorf("cube defaults\nhave mips %d layers %d samples %d\nwant 1 6 1",
			tex.MipLevels(), tex.ArrayLayers(), tex.Desc().Samples)
	}
	if tex.Name() == "" {
		t.Errorf("unnamed texture got no generated name")
	}

	if _, err := dev.CreateTexture(rhi.TextureDesc{Width: 0, Height: 4, Format: rhi.FormatRGBA8Unorm}); err == nil {
		t.Errorf("CreateTexture(zero width): have nil error")
	}
	if _, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4}); err == nil {
		t.Errorf("CreateTexture(undefined format): have nil error")
	}
}

func TestUpdateTextureRoundTrip(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	tex, err := dev.CreateTexture(rhi.TextureDesc{
		Width:     8,
		Height:    4,
		MipLevels: 2,
		Format:    rhi.FormatRGBA8Unorm,
		Usage:     rhi.TextureUsageSampled,
	})
	if err != nil {
		t.Fatal(err)
	}
	before := tex.CurrentLayout()

	mip1 := pattern(4 * 2 * 4)
	if err := dev.UpdateTexture(tex, mip1, 1, 0); err != nil {
		t.Fatalf("UpdateTexture: %v", err)
	}
	if have := tex.CurrentLayout(); have != before {
		t.Errorf("CurrentLayout() after UpdateTexture\nhave %v\nwant %v", have, before)
	}
	back, err := dev.ReadTexture(tex, 1, 0)
	if err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	if !bytes.Equal(back, mip1) {
		t.Errorf("ReadTexture(mip 1)\nhave %v\nwant %v", back, mip1)
	}
	if have := tex.CurrentLayout(); have != before {
		t.Errorf("CurrentLayout() after ReadTexture\nhave %v\nwant %v", have, before)
	}

	if err := dev.UpdateTexture(tex, mip1[:10], 1, 0); !errors.Is(err, rhi.ErrOutOfBounds) {
		t.Errorf("UpdateTexture(short data)\nhave %v\nwant %v", err, rhi.ErrOutOfBounds)
	}
	if err := dev.UpdateTexture(tex, mip1, 2, 0); !errors.Is(err, rhi.ErrOutOfBounds) {
		t.Errorf("UpdateTexture(mip 2)\nhave %v\nwant %v", err, rhi.ErrOutOfBounds)
	}
}

func TestCreateShaderRequiresSpirv(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	if _, err := dev.CreateShader(rhi.ShaderDesc{Stage: rhi.ShaderStageVertex, Code: []byte("#version 450\n")}); err == nil {
		t.Errorf("CreateShader(GLSL source): have nil error")
	}
	sh, err := dev.CreateShader(rhi.ShaderDesc{Stage: rhi.ShaderStageVertex, Code: spirvStub()})
	if err != nil {
		t.Fatalf("CreateShader(SPIR-V): %v", err)
	}
	if sh.EntryPoint() != "main" {
		t.Errorf("EntryPoint()\nhave %q\nwant %q", sh.EntryPoint(), "main")
	}
}

// spirvStub is a SPIR-V header with no instructions.
func spirvStub() []byte {
	return []byte{
		0x03, 0x02, 0x23, 0x07, // magic
		0x00, 0x00, 0x01, 0x00, // version 1.0
		0x00, 0x00, 0x00, 0x00, // generator
		0x01, 0x00, 0x00, 0x00, // bound
		0x00, 0x00, 0x00, 0x00, // schema
	}
}

func TestCreateFramebufferValidatesAttachments(t *testing.T) {
	dev, _ := newDevice(t, headless.Config{})
	pass, err := dev.CreateRenderPass(rhi.RenderPassDesc{
		ColorAttachments: []rhi.AttachmentDesc{{Format: rhi.FormatRGBA8Unorm, LoadOp: rhi.LoadOpClear, FinalLayout: rhi.LayoutShaderReadOnly}},
	})
	if err != nil {
		t.Fatal(err)
	}
	color, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatRGBA8Unorm, Usage: rhi.TextureUsageColorAttachment})
	if err != nil {
		t.Fatal(err)
	}
	wrongFormat, err := dev.CreateTexture(rhi.TextureDesc{Width: 4, Height: 4, Format: rhi.FormatBGRA8Unorm, Usage: rhi.TextureUsageColorAttachment})
	if err != nil {
		t.Fatal(err)
	}

	for name, desc := range map[string]rhi.FramebufferDesc{
		"too many":     {RenderPass: pass, ColorAttachments: []*rhi.Texture{color, color}},
		"none":         {RenderPass: pass},
		"wrong format": {RenderPass: pass, ColorAttachments: []*rhi.Texture{wrongFormat}},
		"extra depth":  {RenderPass: pass, ColorAttachments: []*rhi.Texture{color}, DepthStencil: color},
		"no pass":      {ColorAttachments: []*rhi.Texture{color}},
	} {
		if fb, err := dev.CreateFramebuffer(desc); err == nil || fb != nil {
			t.Errorf("CreateFramebuffer(%s)\nhave %v, %v\nwant nil, error", name, fb, err)
		}
	}

	fb, err := dev.CreateFramebuffer(rhi.FramebufferDesc{RenderPass: pass, ColorAttachments: []*rhi.Texture{color}})
	if err != nil {
		t.Fatalf("CreateFramebuffer: %v", err)
	}
	if fb.Width() != 4 || fb.Height() != 4 {
		t.Errorf("framebuffer extent\nhave %dx%d\nwant 4x4", fb.Width(), fb.Height())
	}
}

func TestSubmitCommandBuffer(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	cmd, err := dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: "submit"})
	if err != nil {
		t.Fatal(err)
	}
	if err := dev.SubmitCommandBuffer(cmd, nil, nil, nil); err == nil {
		t.Errorf("SubmitCommandBuffer(initial): have nil error")
	}

	fence, err := dev.CreateFence(rhi.FenceDesc{})
	if err != nil {
		t.Fatal(err)
	}
	if err := fence.Wait(0); !errors.Is(err, rhi.ErrTimeout) {
		t.Errorf("Wait on unsignaled fence\nhave %v\nwant %v", err, rhi.ErrTimeout)
	}
	wait, _ := dev.CreateSemaphore()
	signal, _ := dev.CreateSemaphore()

	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	// Still recording: the device ends it.
	if err := dev.SubmitCommandBuffer(cmd, fence, []*rhi.Semaphore{wait}, []*rhi.Semaphore{signal}); err != nil {
		t.Fatalf("SubmitCommandBuffer: %v", err)
	}
	if cmd.State() != rhi.CommandBufferStateRecorded {
		t.Errorf("State() after submit\nhave %v\nwant %v", cmd.State(), rhi.CommandBufferStateRecorded)
	}
	if !fence.IsSignaled() {
		t.Errorf("fence not signaled after submit")
	}
	if err := fence.Reset(); err != nil || fence.IsSignaled() {
		t.Errorf("fence still signaled after Reset (%v)", err)
	}
	if drv.Calls("EndCommandBuffer") == 0 {
		t.Errorf("submit did not end the recording buffer")
	}
}

func TestSubmitRejectsBadSyncObjects(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	cmd, err := dev.CreateCommandBuffer(rhi.CommandBufferDesc{Name: "submit"})
	if err != nil {
		t.Fatal(err)
	}
	defer cmd.Destroy()
	if err := cmd.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := cmd.End(); err != nil {
		t.Fatal(err)
	}
	live, _ := dev.CreateSemaphore()
	defer live.Destroy()
	gone, _ := dev.CreateSemaphore()
	gone.Destroy()
	deadFence, _ := dev.CreateFence(rhi.FenceDesc{})
	deadFence.Destroy()

	submits := drv.Calls("Submit")
	for name, submit := range map[string]func() error{
		"nil wait semaphore": func() error {
			return dev.SubmitCommandBuffer(cmd, nil, []*rhi.Semaphore{live, nil}, nil)
		},
		"nil signal semaphore": func() error {
			return dev.SubmitCommandBuffer(cmd, nil, nil, []*rhi.Semaphore{nil})
		},
		"destroyed semaphore": func() error {
			return dev.SubmitCommandBuffer(cmd, nil, []*rhi.Semaphore{gone}, nil)
		},
		"destroyed fence": func() error {
			return dev.SubmitCommandBuffer(cmd, deadFence, nil, nil)
		},
	} {
		if err := submit(); !errors.Is(err, rhi.ErrStaleHandle) {
			t.Errorf("%s\nhave %v\nwant %v", name, err, rhi.ErrStaleHandle)
		}
	}
	if have := drv.Calls("Submit") - submits; have != 0 {
		t.Errorf("driver submits with bad sync objects\nhave %d\nwant 0", have)
	}
	if err := dev.SubmitCommandBuffer(cmd, nil, []*rhi.Semaphore{live}, nil); err != nil {
		t.Errorf("SubmitCommandBuffer with a live semaphore: %v", err)
	}
}
