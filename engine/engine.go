package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/config"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       *config.Config
	events       *core.EventBus
	platform     *platform.Platform
	watcher      *config.Watcher
	jobs         *systems.JobSystem

	device         *rhi.Device
	swapChain      *rhi.SwapChain
	commandBuffers []*rhi.CommandBuffer

	isRunning   atomic.Bool
	isSuspended bool
	clock       *core.Clock
	metrics     *core.FrameMetrics
	lastTime    float64
	frames      uint64

	// Reloaded configs arrive on the watcher goroutine and are applied by
	// the frame loop.
	reloadMu      sync.Mutex
	pendingConfig *config.Config
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		err := fmt.Errorf("engine: game and application config are required")
		core.LogError("%s", err)
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		events:       core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}, nil
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return fmt.Errorf("engine: already initialized")
	}
	e.currentStage = EngineStageInitializing
	app := e.gameInstance.ApplicationConfig

	cfg := config.Default()
	if app.ConfigPath != "" {
		c, err := config.Load(app.ConfigPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if app.Backend != "" {
		cfg.Renderer.Backend = app.Backend
		if err := cfg.Validate(); err != nil {
			core.LogError("%s", err)
			return err
		}
	}
	e.config = cfg
	core.SetLogLevel(cfg.LogLevel())

	e.events.Register(core.EVENT_CODE_APPLICATION_QUIT, e.onEvent)
	e.events.Register(core.EVENT_CODE_KEY_PRESSED, e.onKey)
	e.events.Register(core.EVENT_CODE_RESIZED, e.onResized)
	e.events.Register(core.EVENT_CODE_CONFIG_RELOADED, e.onConfigReloaded)

	name := app.Name
	if name == "" {
		name = cfg.Window.Title
	}

	width, height := cfg.Window.Width, cfg.Window.Height
	desc := rhi.DeviceDesc{
		Backend:               cfg.Backend(),
		ApplicationName:       name,
		EnableValidation:      cfg.Renderer.Validation,
		DescriptorPoolMaxSets: cfg.Renderer.DescriptorPoolMaxSets,
	}
	if desc.Backend == rhi.BackendVulkan {
		e.platform = platform.New(e.events)
		if err := e.platform.Startup(name, cfg.Window.X, cfg.Window.Y, width, height); err != nil {
			return err
		}
		desc.Window = e.platform.Window
		width, height = e.platform.FramebufferSize()
	}

	device, err := rhi.NewDevice(desc)
	if err != nil {
		e.shutdownPlatform()
		return err
	}
	e.device = device

	sc, err := device.CreateSwapChain(cfg.SwapChainDesc(width, height))
	if err != nil {
		e.releaseDevice()
		return err
	}
	e.swapChain = sc

	e.commandBuffers = make([]*rhi.CommandBuffer, sc.MaxFramesInFlight())
	for i := range e.commandBuffers {
		cmd, err := device.CreateCommandBuffer(rhi.CommandBufferDesc{
			Name:  fmt.Sprintf("frame-%d", i),
			Level: rhi.CommandBufferLevelPrimary,
		})
		if err != nil {
			e.releaseDevice()
			return err
		}
		e.commandBuffers[i] = cmd
	}

	jobs, err := systems.NewJobSystem(cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	if err != nil {
		e.releaseDevice()
		return err
	}
	e.jobs = jobs

	if app.ConfigPath != "" {
		w, err := config.Watch(app.ConfigPath, e.queueReload)
		if err != nil {
			// Hot reload is a convenience; run without it.
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			e.watcher = w
		}
	}

	if e.gameInstance.FnInitialize != nil {
		ctx := &Context{Config: cfg, Device: device, SwapChain: sc, Jobs: jobs}
		if err := e.gameInstance.FnInitialize(ctx); err != nil {
			core.LogError("game failed to initialize: %s", err)
			if e.gameInstance.FnShutdown != nil {
				_ = e.gameInstance.FnShutdown()
			}
			e.releaseDevice()
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized on the %s backend", desc.Backend)
	return nil
}

// Run drives the frame loop until the window closes, Quit is called or
// MaxFrames frames have been presented, then shuts everything down.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine: Run before Initialize")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var runErr error
	for e.isRunning.Load() {
		if e.platform != nil && !e.platform.PumpMessages() {
			e.isRunning.Store(false)
			break
		}
		e.applyPendingConfig()
		e.jobs.Update()

		if e.isSuspended || e.swapChain.IsSuspended() {
			e.metrics.Drop()
			if e.platform != nil {
				e.platform.WaitMessages()
			}
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				runErr = err
				break
			}
		}

		presented, err := e.drawFrame(delta)
		if err != nil {
			core.LogError("frame failed, shutting down: %s", err)
			runErr = err
			break
		}
		if presented {
			e.metrics.Update(delta)
			e.frames++
		} else {
			e.metrics.Drop()
		}

		e.lastTime = currentTime

		if max := e.gameInstance.ApplicationConfig.MaxFrames; max > 0 && e.frames >= max {
			break
		}
	}

	core.LogInfo("frame loop stopped: %d frames, %d dropped, %.1f fps", e.frames, e.metrics.Dropped(), e.metrics.FPS())
	if err := e.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// drawFrame acquires, records, submits and presents one frame. It reports
// false when the frame had to be skipped because the swap chain was rebuilt.
func (e *Engine) drawFrame(delta float64) (bool, error) {
	sc := e.swapChain

	index, err := sc.AcquireNextImage()
	switch {
	case errors.Is(err, rhi.ErrOutOfDate):
		return false, e.notifyResize()
	case errors.Is(err, core.ErrSwapchainBooting), errors.Is(err, rhi.ErrTimeout):
		return false, nil
	case errors.Is(err, rhi.ErrSwapChainLost):
		// Rebuilt again on the next acquire.
		core.LogWarn("skipping frame: %s", err)
		return false, nil
	case err != nil:
		return false, err
	}

	cmd := e.commandBuffers[sc.CurrentFrame()]
	if cmd.State() != rhi.CommandBufferStateInitial {
		if err := cmd.Reset(); err != nil {
			return false, err
		}
	}
	if err := cmd.Begin(); err != nil {
		return false, err
	}

	frame := &Frame{
		CommandBuffer: cmd,
		Image:         sc.CurrentImage(),
		ImageIndex:    index,
		FrameIndex:    sc.CurrentFrame(),
		Extent:        sc.Extent(),
		Generation:    sc.Generation(),
	}
	if e.gameInstance.FnRender != nil {
		if err := e.gameInstance.FnRender(frame, delta); err != nil {
			return false, err
		}
	}
	if err := cmd.End(); err != nil {
		return false, err
	}

	if err := e.device.SubmitCommandBuffer(cmd, sc.InFlightFence(),
		[]*rhi.Semaphore{sc.ImageAvailable()},
		[]*rhi.Semaphore{sc.RenderFinished()}); err != nil {
		return false, err
	}

	// InFlightFence, ImageAvailable and RenderFinished above belong to the
	// current frame slot; Present advances it.
	switch err := sc.Present(); {
	case errors.Is(err, rhi.ErrOutOfDate), errors.Is(err, rhi.ErrSuboptimal):
		// The image was queued before the rebuild. It still counts.
		return true, e.notifyResize()
	case errors.Is(err, rhi.ErrSwapChainLost):
		core.LogWarn("swap chain rebuild after present failed: %s", err)
		return true, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (e *Engine) notifyResize() error {
	if e.gameInstance.FnOnResize == nil || e.swapChain.IsSuspended() || e.swapChain.IsLost() {
		return nil
	}
	return e.gameInstance.FnOnResize(e.swapChain.Width(), e.swapChain.Height())
}

// Quit asks the frame loop to stop after the current frame. It is safe to
// call from any goroutine.
func (e *Engine) Quit() {
	e.isRunning.Store(false)
}

// Shutdown waits for the GPU and releases everything Initialize created.
// Run calls it on exit.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShuttingDown || e.currentStage == EngineStageUninitialized {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.jobs != nil {
		_ = e.jobs.Shutdown()
	}

	var err error
	if e.device != nil {
		err = e.device.WaitIdle()
	}
	if e.gameInstance.FnShutdown != nil {
		if gerr := e.gameInstance.FnShutdown(); gerr != nil {
			core.LogError("game shutdown failed: %s", gerr)
			if err == nil {
				err = gerr
			}
		}
	}
	e.releaseDevice()
	e.events.Reset()
	core.LogInfo("engine shut down")
	return err
}

func (e *Engine) releaseDevice() {
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("failed to close config watcher: %s", err)
		}
		e.watcher = nil
	}
	// Workers may still hold CPU data for uploads; stop them before the
	// device goes.
	if e.jobs != nil {
		_ = e.jobs.Shutdown()
		e.jobs = nil
	}
	for _, cmd := range e.commandBuffers {
		cmd.Destroy()
	}
	e.commandBuffers = nil
	if e.swapChain != nil {
		e.swapChain.Destroy()
		e.swapChain = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	e.shutdownPlatform()
}

func (e *Engine) shutdownPlatform() {
	if e.platform != nil {
		_ = e.platform.Shutdown()
		e.platform = nil
	}
}

func (e *Engine) Stage() Stage                { return e.currentStage }
func (e *Engine) Config() *config.Config      { return e.config }
func (e *Engine) Events() *core.EventBus      { return e.events }
func (e *Engine) Metrics() *core.FrameMetrics { return e.metrics }
func (e *Engine) FramesPresented() uint64     { return e.frames }
func (e *Engine) Device() *rhi.Device         { return e.device }
func (e *Engine) SwapChain() *rhi.SwapChain   { return e.swapChain }
func (e *Engine) Jobs() *systems.JobSystem    { return e.jobs }

func (e *Engine) queueReload(cfg *config.Config) {
	e.reloadMu.Lock()
	e.pendingConfig = cfg
	e.reloadMu.Unlock()
}

func (e *Engine) applyPendingConfig() {
	e.reloadMu.Lock()
	cfg := e.pendingConfig
	e.pendingConfig = nil
	e.reloadMu.Unlock()
	if cfg != nil {
		e.events.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, core.EventContext{Any: cfg})
	}
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
	switch context.U32[0] {
	case platform.KeyEscape:
		e.events.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
		return true
	case platform.KeyV:
		if err := e.swapChain.SetVSync(!e.swapChain.VSync()); err != nil {
			core.LogError("failed to toggle vsync: %s", err)
		} else {
			core.LogInfo("vsync %t", e.swapChain.VSync())
			_ = e.notifyResize()
		}
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
	width, height := context.U32[0], context.U32[1]
	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending application")
		e.isSuspended = true
		return true
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application")
		e.isSuspended = false
	}
	if err := e.swapChain.Resize(width, height); err != nil {
		core.LogError("failed to resize swap chain to %dx%d: %s", width, height, err)
		return true
	}
	if err := e.notifyResize(); err != nil {
		core.LogError("game resize failed: %s", err)
	}
	return true
}

func (e *Engine) onConfigReloaded(code core.SystemEventCode, sender interface{}, context core.EventContext) bool {
	cfg, ok := context.Any.(*config.Config)
	if !ok {
		return false
	}
	core.SetLogLevel(cfg.LogLevel())
	if cfg.Backend() != e.config.Backend() {
		core.LogWarn("renderer.backend changes need a restart")
	}
	if cfg.Renderer.VSync != e.swapChain.VSync() {
		if err := e.swapChain.SetVSync(cfg.Renderer.VSync); err != nil {
			core.LogError("failed to apply vsync from config: %s", err)
		} else {
			_ = e.notifyResize()
		}
	}
	e.config = cfg
	return true
}
