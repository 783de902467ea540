package rhi

import (
	"fmt"
	"math"

	"github.com/spaghettifunk/anima-rhi/engine/core"
)

const defaultMaxFramesInFlight = 2

// SwapChain owns the presentable images of a surface and the per-frame
// synchronization around them. Any change (resize, vsync toggle,
// out-of-date surface) tears the whole chain down and builds it again.
type SwapChain struct {
	device  *Device
	desc    SwapChainDesc
	surface SurfaceHandle
	handle  SwapChainHandle

	format      SurfaceFormat
	presentMode PresentMode
	extent      Extent

	images         []*Texture
	imageAvailable []*Semaphore
	renderFinished []*Semaphore
	inFlight       []*Fence

	imageIndex   uint32
	currentFrame uint32
	acquired     bool
	suspended    bool
	// lost is set when a rebuild failed part way. The chain owns no images
	// or sync objects until a later rebuild succeeds.
	lost bool
	generation   uint64
}

// CreateSwapChain builds a swap chain on the device's window surface.
func (d *Device) CreateSwapChain(desc SwapChainDesc) (*SwapChain, error) {
	surface := d.driver.Surface()
	if surface.IsNil() {
		err := fmt.Errorf("failed to create swap chain: device has no surface")
		core.LogError("%s", err)
		return nil, err
	}
	if desc.MaxFramesInFlight == 0 {
		desc.MaxFramesInFlight = defaultMaxFramesInFlight
	}
	if desc.AcquireTimeout <= 0 {
		desc.AcquireTimeout = Infinite
	}
	if desc.Format == FormatUndefined {
		desc.Format = FormatBGRA8Unorm
	}

	s := &SwapChain{device: d, desc: desc, surface: surface}
	if err := s.create(); err != nil {
		s.release()
		return nil, err
	}
	return s, nil
}

func (s *SwapChain) create() error {
	drv := s.device.driver

	caps, err := drv.SurfaceCapabilities(s.surface)
	if err != nil {
		err = fmt.Errorf("failed to query surface capabilities: %w", err)
		core.LogError("%s", err)
		return err
	}
	formats, err := drv.SurfaceFormats(s.surface)
	if err != nil {
		err = fmt.Errorf("failed to query surface formats: %w", err)
		core.LogError("%s", err)
		return err
	}
	if len(formats) == 0 {
		err = fmt.Errorf("surface reports no formats")
		core.LogError("%s", err)
		return err
	}
	modes, err := drv.SurfacePresentModes(s.surface)
	if err != nil {
		err = fmt.Errorf("failed to query surface present modes: %w", err)
		core.LogError("%s", err)
		return err
	}

	extent := selectExtent(caps, s.desc.Width, s.desc.Height)
	if extent.Width == 0 || extent.Height == 0 {
		// Minimized. Nothing to present to until the next resize.
		core.LogInfo("surface has zero extent, swap chain suspended")
		s.suspended = true
		s.extent = extent
		return nil
	}

	s.format = selectSurfaceFormat(formats, s.desc.Format)
	s.presentMode = selectPresentMode(modes, s.desc.VSync)
	s.extent = extent

	h, err := drv.CreateSwapChain(&SwapChainCreateInfo{
		Surface:     s.surface,
		Format:      s.format,
		PresentMode: s.presentMode,
		Extent:      extent,
		ImageCount:  selectImageCount(caps),
	})
	if err != nil {
		err = fmt.Errorf("failed to create swap chain: %w", err)
		core.LogError("%s", err)
		return err
	}
	s.handle = h

	handles, err := drv.SwapChainImages(h)
	if err != nil {
		err = fmt.Errorf("failed to get swap chain images: %w", err)
		core.LogError("%s", err)
		return err
	}
	s.images = make([]*Texture, len(handles))
	for i, th := range handles {
		s.images[i] = &Texture{
			device: s.device,
			handle: th,
			desc: TextureDesc{
				Name:          fmt.Sprintf("swapchain-image-%d", i),
				Dimension:     TextureDimension2D,
				Width:         extent.Width,
				Height:        extent.Height,
				Depth:         1,
				MipLevels:     1,
				ArrayLayers:   1,
				Format:        s.format.Format,
				Samples:       1,
				Usage:         TextureUsageColorAttachment | TextureUsageTransferDst,
				InitialLayout: LayoutUndefined,
			},
			layout:  LayoutUndefined,
			wrapped: true,
		}
	}

	frames := s.desc.MaxFramesInFlight
	s.imageAvailable = make([]*Semaphore, frames)
	s.renderFinished = make([]*Semaphore, frames)
	s.inFlight = make([]*Fence, frames)
	for i := uint32(0); i < frames; i++ {
		if s.imageAvailable[i], err = s.device.CreateSemaphore(); err != nil {
			return err
		}
		if s.renderFinished[i], err = s.device.CreateSemaphore(); err != nil {
			return err
		}
		// Signaled so the first wait on each frame slot returns at once.
		if s.inFlight[i], err = s.device.CreateFence(FenceDesc{Signaled: true}); err != nil {
			return err
		}
	}

	s.suspended = false
	s.acquired = false
	s.currentFrame = 0
	s.imageIndex = 0
	s.generation++

	core.LogInfo("swap chain created: %dx%d %s, %s, %d images",
		extent.Width, extent.Height, s.format.Format, s.presentMode, len(s.images))
	return nil
}

// release destroys everything create built, in reverse order.
func (s *SwapChain) release() {
	for i := range s.inFlight {
		s.inFlight[i].Destroy()
		s.renderFinished[i].Destroy()
		s.imageAvailable[i].Destroy()
	}
	s.inFlight, s.renderFinished, s.imageAvailable = nil, nil, nil

	for _, img := range s.images {
		img.Destroy()
	}
	s.images = nil

	if !s.handle.IsNil() {
		s.device.driver.DestroySwapChain(s.handle)
		s.handle = SwapChainHandle{}
	}
	s.acquired = false
}

func (s *SwapChain) recreate() error {
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	s.release()
	if err := s.create(); err != nil {
		s.release()
		s.lost = true
		return err
	}
	s.lost = false
	return nil
}

// AcquireNextImage waits for the current frame slot to be free and acquires
// the next image. When the surface is out of date the chain is recreated
// and ErrOutOfDate returned; the caller should skip the frame.
func (s *SwapChain) AcquireNextImage() (uint32, error) {
	if s.suspended {
		return 0, core.ErrSwapchainBooting
	}
	if s.lost || len(s.inFlight) == 0 {
		if err := s.recreate(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrSwapChainLost, err)
		}
		if s.suspended {
			return 0, core.ErrSwapchainBooting
		}
		return 0, ErrOutOfDate
	}
	if s.acquired {
		core.LogWarn("swap chain image %d acquired twice without present", s.imageIndex)
		return s.imageIndex, nil
	}

	fence := s.inFlight[s.currentFrame]
	if err := fence.Wait(s.desc.AcquireTimeout); err != nil {
		err = fmt.Errorf("failed to wait for frame %d: %w", s.currentFrame, err)
		core.LogError("%s", err)
		return 0, err
	}

	index, status := s.device.driver.AcquireNextImage(s.handle, s.imageAvailable[s.currentFrame].handle, s.desc.AcquireTimeout)
	switch status {
	case StatusSuccess, StatusSuboptimal:
	case StatusOutOfDate:
		core.LogDebug("swap chain out of date on acquire, recreating")
		if err := s.recreate(); err != nil {
			return 0, err
		}
		return 0, ErrOutOfDate
	case StatusTimeout:
		return 0, ErrTimeout
	default:
		err := fmt.Errorf("failed to acquire swap chain image: %s", status)
		core.LogError("%s", err)
		return 0, err
	}

	// Reset only after a successful acquire.
	if err := fence.Reset(); err != nil {
		return 0, err
	}
	s.imageIndex = index
	s.acquired = true
	return index, nil
}

// Present queues the acquired image for display once the current frame's
// render-finished semaphore signals, then moves to the next frame slot.
func (s *SwapChain) Present() error {
	if !s.acquired {
		err := fmt.Errorf("failed to present: no image acquired")
		core.LogWarn("%s", err)
		return err
	}
	if s.lost || int(s.currentFrame) >= len(s.renderFinished) {
		s.acquired = false
		return ErrSwapChainLost
	}

	status := s.device.driver.Present(s.handle, s.imageIndex, s.renderFinished[s.currentFrame].handle)
	s.acquired = false
	s.currentFrame = (s.currentFrame + 1) % s.desc.MaxFramesInFlight

	switch status {
	case StatusSuccess:
		return nil
	case StatusOutOfDate, StatusSuboptimal:
		core.LogDebug("swap chain %s on present, recreating", status)
		if err := s.recreate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSwapChainLost, err)
		}
		if status == StatusOutOfDate {
			return ErrOutOfDate
		}
		return ErrSuboptimal
	}
	err := fmt.Errorf("failed to present swap chain image: %s", status)
	core.LogError("%s", err)
	return err
}

// Resize rebuilds the chain for a new window size. Same size is a no-op.
func (s *SwapChain) Resize(width, height uint32) error {
	if width == s.desc.Width && height == s.desc.Height && !s.suspended && !s.lost {
		return nil
	}
	s.desc.Width, s.desc.Height = width, height
	return s.recreate()
}

// SetVSync switches between FIFO and the lowest-latency mode available.
func (s *SwapChain) SetVSync(vsync bool) error {
	if vsync == s.desc.VSync {
		return nil
	}
	s.desc.VSync = vsync
	return s.recreate()
}

func (s *SwapChain) Destroy() {
	if s.device == nil {
		return
	}
	_ = s.device.WaitIdle()
	s.release()
	s.device = nil
}

// CurrentImage is the texture of the last acquired image, nil while the
// chain is suspended.
func (s *SwapChain) CurrentImage() *Texture {
	if s.suspended || int(s.imageIndex) >= len(s.images) {
		return nil
	}
	return s.images[s.imageIndex]
}

func (s *SwapChain) CurrentImageIndex() uint32    { return s.imageIndex }
func (s *SwapChain) Images() []*Texture           { return s.images }
func (s *SwapChain) Format() Format               { return s.format.Format }
func (s *SwapChain) SurfaceFormat() SurfaceFormat { return s.format }
func (s *SwapChain) PresentMode() PresentMode     { return s.presentMode }
func (s *SwapChain) Width() uint32                { return s.extent.Width }
func (s *SwapChain) Height() uint32               { return s.extent.Height }
func (s *SwapChain) Extent() Extent               { return s.extent }
func (s *SwapChain) BufferCount() int             { return len(s.images) }
func (s *SwapChain) MaxFramesInFlight() uint32    { return s.desc.MaxFramesInFlight }
func (s *SwapChain) CurrentFrame() uint32         { return s.currentFrame }
func (s *SwapChain) IsSuspended() bool            { return s.suspended }
func (s *SwapChain) IsLost() bool                 { return s.lost }
func (s *SwapChain) VSync() bool                  { return s.desc.VSync }

// ImageAvailable is signaled when the image acquired for the current frame
// slot is ready to be rendered to. Nil while suspended.
func (s *SwapChain) ImageAvailable() *Semaphore {
	if int(s.currentFrame) >= len(s.imageAvailable) {
		return nil
	}
	return s.imageAvailable[s.currentFrame]
}

// RenderFinished is waited on by Present for the current frame slot.
func (s *SwapChain) RenderFinished() *Semaphore {
	if int(s.currentFrame) >= len(s.renderFinished) {
		return nil
	}
	return s.renderFinished[s.currentFrame]
}

// InFlightFence must be signaled by the submission that renders the current
// frame; AcquireNextImage waits on it before reusing the slot.
func (s *SwapChain) InFlightFence() *Fence {
	if int(s.currentFrame) >= len(s.inFlight) {
		return nil
	}
	return s.inFlight[s.currentFrame]
}

// Generation changes every time the chain is rebuilt. Anything built on
// the swap chain images (framebuffers) must be rebuilt when it does.
func (s *SwapChain) Generation() uint64 { return s.generation }

// selectSurfaceFormat prefers the sRGB variant of the requested format in
// the sRGB nonlinear color space, then any 8-bit BGRA/RGBA sRGB format,
// then whatever the surface lists first.
func selectSurfaceFormat(available []SurfaceFormat, requested Format) SurfaceFormat {
	want := requested.Srgb()
	for _, f := range available {
		if f.Format == want && f.ColorSpace == ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range available {
		if (f.Format == FormatBGRA8Srgb || f.Format == FormatRGBA8Srgb) && f.ColorSpace == ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return available[0]
}

// selectPresentMode returns FIFO when vsync is on. Otherwise it prefers
// immediate, then mailbox, then FIFO, which is always available.
func selectPresentMode(available []PresentMode, vsync bool) PresentMode {
	if vsync {
		return PresentModeFifo
	}
	for _, want := range []PresentMode{PresentModeImmediate, PresentModeMailbox} {
		for _, m := range available {
			if m == want {
				return m
			}
		}
	}
	return PresentModeFifo
}

// selectExtent uses the surface's current extent unless the surface leaves
// the choice to the swap chain.
func selectExtent(caps SurfaceCapabilities, width, height uint32) Extent {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return Extent{
		Width:  core.Clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: core.Clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// selectImageCount asks for one image more than the minimum. A zero
// maximum means no limit.
func selectImageCount(caps SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}
