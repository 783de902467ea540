package rhi_test

import (
	"errors"
	"math"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
)

func newSwapChain(t *testing.T, dev *rhi.Device, desc rhi.SwapChainDesc) *rhi.SwapChain {
	t.Helper()
	sc, err := dev.CreateSwapChain(desc)
	if err != nil {
		t.Fatalf("CreateSwapChain: %v", err)
	}
	t.Cleanup(sc.Destroy)
	return sc
}

func TestCreateSwapChain(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{SurfaceWidth: 640, SurfaceHeight: 480})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 640, Height: 480, Format: rhi.FormatBGRA8Unorm, VSync: true})

	if sc.Width() != 640 || sc.Height() != 480 {
		t.Errorf("extent\nhave %dx%d\nwant 640x480", sc.Width(), sc.Height())
	}
	if sc.Format() != rhi.FormatBGRA8Srgb {
		t.Errorf("Format()\nhave %v\nwant %v", sc.Format(), rhi.FormatBGRA8Srgb)
	}
	if sc.PresentMode() != rhi.PresentModeFifo {
		t.Errorf("PresentMode() with vsync\nhave %v\nwant %v", sc.PresentMode(), rhi.PresentModeFifo)
	}
	if sc.BufferCount() != 3 {
		t.Errorf("BufferCount()\nhave %d\nwant 3", sc.BufferCount())
	}
	for i, img := range sc.Images() {
		if !img.IsWrapped() || img.CurrentLayout() != rhi.LayoutUndefined {
			t.Errorf("image %d: wrapped %t layout %v\nwant wrapped, Undefined", i, img.IsWrapped(), img.CurrentLayout())
		}
	}
	if sc.Generation() != 1 || drv.Calls("CreateSwapChain") != 1 {
		t.Errorf("Generation() %d, CreateSwapChain calls %d\nwant 1, 1", sc.Generation(), drv.Calls("CreateSwapChain"))
	}
}

func TestCreateSwapChainWithoutSurface(t *testing.T) {
	drv := headless.NewWithConfig(headless.Config{})
	dev, err := rhi.NewDeviceFromDriver(drv, rhi.DeviceDesc{Backend: rhi.BackendHeadless})
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Destroy()
	if sc, err := dev.CreateSwapChain(rhi.SwapChainDesc{Width: 1, Height: 1}); err == nil || sc != nil {
		t.Errorf("CreateSwapChain without surface\nhave %v, %v\nwant nil, error", sc, err)
	}
}

func TestSwapChainFormatFallback(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	drv.SetSurfaceFormats(
		rhi.SurfaceFormat{Format: rhi.FormatBGRA8Srgb, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
		rhi.SurfaceFormat{Format: rhi.FormatRGBA8Unorm, ColorSpace: rhi.ColorSpaceSrgbNonlinear},
	)
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600, Format: rhi.FormatRGBA8Unorm})
	if have := sc.SurfaceFormat(); have.Format != rhi.FormatBGRA8Srgb {
		t.Errorf("SurfaceFormat()\nhave %v\nwant %v", have.Format, rhi.FormatBGRA8Srgb)
	}
}

func TestAcquireOutOfDateRecreates(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})
	gen := sc.Generation()

	drv.QueueAcquireStatus(rhi.StatusOutOfDate)
	if _, err := sc.AcquireNextImage(); !errors.Is(err, rhi.ErrOutOfDate) {
		t.Fatalf("AcquireNextImage\nhave %v\nwant %v", err, rhi.ErrOutOfDate)
	}
	if have := drv.Calls("CreateSwapChain"); have != 2 {
		t.Errorf("CreateSwapChain calls\nhave %d\nwant 2", have)
	}
	if sc.Generation() != gen+1 {
		t.Errorf("Generation()\nhave %d\nwant %d", sc.Generation(), gen+1)
	}

	// The next frame goes through.
	if _, err := sc.AcquireNextImage(); err != nil {
		t.Errorf("AcquireNextImage after recreate: %v", err)
	}
}

func TestAcquireTimeoutAndErrors(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})

	drv.QueueAcquireStatus(rhi.StatusTimeout, rhi.StatusSurfaceLost)
	if _, err := sc.AcquireNextImage(); !errors.Is(err, rhi.ErrTimeout) {
		t.Errorf("AcquireNextImage\nhave %v\nwant %v", err, rhi.ErrTimeout)
	}
	if _, err := sc.AcquireNextImage(); err == nil {
		t.Errorf("AcquireNextImage with surface lost: have nil error")
	}
	// A failed acquire leaves the frame fence signaled.
	if !sc.InFlightFence().IsSignaled() {
		t.Errorf("in-flight fence reset by a failed acquire")
	}
}

func TestFrameLoop(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600, MaxFramesInFlight: 2})
	cmd := newCommandBuffer(t, dev)

	for frame := 0; frame < 4; frame++ {
		if sc.CurrentFrame() != uint32(frame%2) {
			t.Fatalf("frame %d: CurrentFrame()\nhave %d\nwant %d", frame, sc.CurrentFrame(), frame%2)
		}
		index, err := sc.AcquireNextImage()
		if err != nil {
			t.Fatalf("frame %d: AcquireNextImage: %v", frame, err)
		}
		if want := uint32(frame % sc.BufferCount()); index != want {
			t.Errorf("frame %d: image index\nhave %d\nwant %d", frame, index, want)
		}
		again, _ := sc.AcquireNextImage()
		if again != index {
			t.Errorf("frame %d: double acquire\nhave %d\nwant %d", frame, again, index)
		}

		img := sc.CurrentImage()
		if err := cmd.Reset(); err != nil {
			t.Fatal(err)
		}
		if err := cmd.Begin(); err != nil {
			t.Fatal(err)
		}
		cmd.ResourceBarrier(rhi.BarrierDesc{Texture: img, OldLayout: img.CurrentLayout(), NewLayout: rhi.LayoutPresent})
		err = dev.SubmitCommandBuffer(cmd, sc.InFlightFence(),
			[]*rhi.Semaphore{sc.ImageAvailable()}, []*rhi.Semaphore{sc.RenderFinished()})
		if err != nil {
			t.Fatalf("frame %d: submit: %v", frame, err)
		}
		if err := sc.Present(); err != nil {
			t.Fatalf("frame %d: Present: %v", frame, err)
		}
	}
	if have := drv.Calls("Present"); have != 4 {
		t.Errorf("Present calls\nhave %d\nwant 4", have)
	}
	if err := sc.Present(); err == nil {
		t.Errorf("Present without acquire: have nil error")
	}
}

func TestPresentSuboptimalRecreates(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})
	if _, err := sc.AcquireNextImage(); err != nil {
		t.Fatal(err)
	}
	drv.QueuePresentStatus(rhi.StatusSuboptimal)
	if err := sc.Present(); !errors.Is(err, rhi.ErrSuboptimal) {
		t.Errorf("Present\nhave %v\nwant %v", err, rhi.ErrSuboptimal)
	}
	if sc.Generation() != 2 {
		t.Errorf("Generation()\nhave %d\nwant 2", sc.Generation())
	}
}

func TestSwapChainResize(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	drv.SetSurfaceExtent(math.MaxUint32, math.MaxUint32)
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})

	if err := sc.Resize(800, 600); err != nil || drv.Calls("CreateSwapChain") != 1 {
		t.Errorf("Resize to the same size rebuilt the chain (%v)", err)
	}
	if err := sc.Resize(1024, 20000); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if sc.Width() != 1024 || sc.Height() != 16384 {
		t.Errorf("extent after resize\nhave %dx%d\nwant 1024x16384", sc.Width(), sc.Height())
	}

	// Minimized window.
	drv.SetSurfaceExtent(0, 0)
	if err := sc.Resize(0, 0); err != nil {
		t.Fatalf("Resize(0, 0): %v", err)
	}
	if !sc.IsSuspended() || sc.CurrentImage() != nil {
		t.Errorf("zero extent did not suspend the chain")
	}
	if _, err := sc.AcquireNextImage(); !errors.Is(err, core.ErrSwapchainBooting) {
		t.Errorf("AcquireNextImage while suspended\nhave %v\nwant %v", err, core.ErrSwapchainBooting)
	}

	drv.SetSurfaceExtent(640, 480)
	if err := sc.Resize(640, 480); err != nil {
		t.Fatalf("Resize back: %v", err)
	}
	if sc.IsSuspended() || sc.Width() != 640 {
		t.Errorf("chain not restored after minimize: suspended %t width %d", sc.IsSuspended(), sc.Width())
	}
}

func TestSwapChainVSyncToggle(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	drv.SetPresentModes(rhi.PresentModeFifo, rhi.PresentModeMailbox, rhi.PresentModeImmediate)
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600, VSync: true})

	if err := sc.SetVSync(false); err != nil {
		t.Fatal(err)
	}
	if sc.PresentMode() != rhi.PresentModeImmediate {
		t.Errorf("PresentMode() without vsync\nhave %v\nwant %v", sc.PresentMode(), rhi.PresentModeImmediate)
	}
	if err := sc.SetVSync(false); err != nil || drv.Calls("CreateSwapChain") != 2 {
		t.Errorf("SetVSync with the same value rebuilt the chain (%v)", err)
	}
}

func TestSwapChainDestroyReleasesEverything(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	before := drv.Live()
	sc, err := dev.CreateSwapChain(rhi.SwapChainDesc{Width: 800, Height: 600})
	if err != nil {
		t.Fatal(err)
	}
	sc.Destroy()
	sc.Destroy()
	if have := drv.Live(); have != before {
		t.Errorf("Live() after Destroy\nhave %d\nwant %d", have, before)
	}
}

func TestSwapChainFailedRebuildRecovers(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	drv.SetSurfaceExtent(math.MaxUint32, math.MaxUint32)
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})
	gen := sc.Generation()

	transient := errors.New("transient")
	drv.FailNext("SurfaceCapabilities", transient)
	if err := sc.Resize(1024, 768); !errors.Is(err, transient) {
		t.Fatalf("Resize\nhave %v\nwant %v", err, transient)
	}
	if !sc.IsLost() || sc.InFlightFence() != nil || sc.CurrentImage() != nil {
		t.Fatalf("failed rebuild left the chain usable: lost %t", sc.IsLost())
	}

	// Present without an acquired image fails cleanly.
	if err := sc.Present(); err == nil {
		t.Errorf("Present on a lost chain: have nil error")
	}

	// The rebuild keeps failing: acquire reports it instead of indexing
	// empty frame slots.
	drv.FailNext("SurfaceCapabilities", transient)
	if _, err := sc.AcquireNextImage(); !errors.Is(err, rhi.ErrSwapChainLost) {
		t.Fatalf("AcquireNextImage on a lost chain\nhave %v\nwant %v", err, rhi.ErrSwapChainLost)
	}

	// Next acquire rebuilds and asks the caller to skip the frame.
	if _, err := sc.AcquireNextImage(); !errors.Is(err, rhi.ErrOutOfDate) {
		t.Fatalf("AcquireNextImage after recovery\nhave %v\nwant %v", err, rhi.ErrOutOfDate)
	}
	if sc.IsLost() || sc.Width() != 1024 || sc.Generation() != gen+1 {
		t.Errorf("recovered chain: lost %t width %d generation %d\nwant false 1024 %d",
			sc.IsLost(), sc.Width(), sc.Generation(), gen+1)
	}
	if _, err := sc.AcquireNextImage(); err != nil {
		t.Fatalf("AcquireNextImage: %v", err)
	}
	if err := sc.Present(); err != nil {
		t.Errorf("Present: %v", err)
	}
}

func TestSwapChainFailedRebuildOnPresent(t *testing.T) {
	dev, drv := newDevice(t, headless.Config{})
	sc := newSwapChain(t, dev, rhi.SwapChainDesc{Width: 800, Height: 600})
	if _, err := sc.AcquireNextImage(); err != nil {
		t.Fatal(err)
	}
	drv.QueuePresentStatus(rhi.StatusOutOfDate)
	drv.FailNext("SurfaceCapabilities", errors.New("transient"))
	if err := sc.Present(); !errors.Is(err, rhi.ErrSwapChainLost) {
		t.Fatalf("Present\nhave %v\nwant %v", err, rhi.ErrSwapChainLost)
	}
	if _, err := sc.AcquireNextImage(); !errors.Is(err, rhi.ErrOutOfDate) {
		t.Errorf("AcquireNextImage after lost present\nhave %v\nwant %v", err, rhi.ErrOutOfDate)
	}
}
