package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

// Context is what the engine hands the game once the device is up.
type Context struct {
	Config    *config.Config
	Device    *rhi.Device
	SwapChain *rhi.SwapChain
	// Jobs runs CPU work off the frame loop. Completion callbacks run on
	// the frame loop before Update, so they may use the device.
	Jobs *systems.JobSystem
}

// Frame is one frame being recorded. CommandBuffer is already begun; the
// engine ends, submits and presents it after Render returns.
type Frame struct {
	CommandBuffer *rhi.CommandBuffer
	Image         *rhi.Texture
	ImageIndex    uint32
	FrameIndex    uint32
	Extent        rhi.Extent
	// Generation changes every time the swap chain is rebuilt. Per-image
	// objects such as framebuffers must be recreated when it does.
	Generation uint64
}

type Initialize func(ctx *Context) error
type Update func(deltaTime float64) error
type Render func(frame *Frame, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
