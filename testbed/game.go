package testbed

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

const checkerSize = 256

type TestGame struct {
	*engine.Game
}

type gameState struct {
	device    *rhi.Device
	swapChain *rhi.SwapChain
	jobs      *systems.JobSystem
	shaderDir string

	elapsed float64

	vertexShader   *rhi.Shader
	fragmentShader *rhi.Shader
	vertexBuffer   *rhi.Buffer
	checker        *rhi.Texture
	checkerReady   bool
	sampler        *rhi.Sampler
	setLayout      *rhi.DescriptorSetLayout
	set            *rhi.DescriptorSet
	renderPass     *rhi.RenderPass
	pipeline       *rhi.GraphicsPipeline

	framebuffers []*rhi.Framebuffer
	generation   uint64
}

// NewTestGame builds the demo: a textured triangle over an animated clear
// color. configPath may be empty.
func NewTestGame(configPath string) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:       "Anima RHI testbed",
				ConfigPath: configPath,
			},
			State: &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) Initialize(ctx *engine.Context) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.State.(*gameState)
	state.device = ctx.Device
	state.swapChain = ctx.SwapChain
	state.jobs = ctx.Jobs
	state.shaderDir = ctx.Config.Renderer.ShaderDir

	var err error
	if state.vertexShader, err = g.loadShader("vert.spv", rhi.ShaderStageVertex); err != nil {
		return err
	}
	if state.fragmentShader, err = g.loadShader("frag.spv", rhi.ShaderStageFragment); err != nil {
		return err
	}
	if err := g.createTriangle(); err != nil {
		return err
	}
	if err := g.createChecker(); err != nil {
		return err
	}

	state.renderPass, err = state.device.CreateRenderPass(rhi.RenderPassDesc{
		Name: "testbed-pass",
		ColorAttachments: []rhi.AttachmentDesc{{
			Format:        state.swapChain.Format(),
			Samples:       1,
			LoadOp:        rhi.LoadOpClear,
			StoreOp:       rhi.StoreOpStore,
			InitialLayout: rhi.LayoutColorAttachment,
			FinalLayout:   rhi.LayoutColorAttachment,
		}},
	})
	if err != nil {
		return err
	}

	state.pipeline, err = state.device.CreateGraphicsPipeline(rhi.GraphicsPipelineDesc{
		Name:           "testbed-triangle",
		VertexShader:   state.vertexShader,
		FragmentShader: state.fragmentShader,
		VertexLayout: rhi.VertexLayout{
			Stride: 16,
			Attributes: []rhi.VertexAttribute{
				{Location: 0, Format: rhi.FormatRG32Float, Offset: 0},
				{Location: 1, Format: rhi.FormatRG32Float, Offset: 8},
			},
		},
		Topology:             rhi.TopologyTriangleList,
		CullMode:             rhi.CullModeNone,
		FrontFace:            rhi.FrontFaceCounterClockwise,
		DescriptorSetLayouts: []*rhi.DescriptorSetLayout{state.setLayout},
		RenderPass:           state.renderPass,
	})
	if err != nil {
		return err
	}

	return g.createFramebuffers()
}

func (g *TestGame) loadShader(name string, stage rhi.ShaderStage) (*rhi.Shader, error) {
	state := g.State.(*gameState)
	path := filepath.Join(state.shaderDir, name)
	code, err := os.ReadFile(path)
	if err != nil {
		err = fmt.Errorf("failed to read shader %s (run `mage build:shaders`): %w", path, err)
		core.LogError("%s", err)
		return nil, err
	}
	return state.device.CreateShader(rhi.ShaderDesc{Name: name, Stage: stage, Code: code})
}

// createTriangle uploads three vertices of position (x, y) and uv (u, v).
func (g *TestGame) createTriangle() error {
	state := g.State.(*gameState)
	vertices := []float32{
		0.0, -0.6, 0.5, 0.0,
		0.6, 0.6, 1.0, 1.0,
		-0.6, 0.6, 0.0, 1.0,
	}
	data := make([]byte, 0, len(vertices)*4)
	for _, v := range vertices {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}

	buf, err := state.device.CreateBuffer(rhi.BufferDesc{
		Name:  "testbed-vertices",
		Size:  uint64(len(data)),
		Type:  rhi.BufferTypeStatic,
		Usage: rhi.BufferUsageVertex | rhi.BufferUsageTransferDst,
	})
	if err != nil {
		return err
	}
	state.vertexBuffer = buf
	return state.device.UpdateBuffer(buf, data, 0)
}

// checkerboard is an 8x8 grid alternating between two colors.
func checkerboard(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := size / 8
	light := color.RGBA{R: 235, G: 225, B: 200, A: 255}
	dark := color.RGBA{R: 40, G: 60, B: 90, A: 255}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/cell+y/cell)%2 == 0 {
				img.SetRGBA(x, y, light)
			} else {
				img.SetRGBA(x, y, dark)
			}
		}
	}
	return img
}

func (g *TestGame) createChecker() error {
	state := g.State.(*gameState)
	levels := rhi.MipLevelCount(checkerSize, checkerSize)

	tex, err := state.device.CreateTexture(rhi.TextureDesc{
		Name:        "testbed-checker",
		Dimension:   rhi.TextureDimension2D,
		Width:       checkerSize,
		Height:      checkerSize,
		Depth:       1,
		MipLevels:   levels,
		ArrayLayers: 1,
		Format:      rhi.FormatRGBA8Srgb,
		Samples:     1,
		Usage:       rhi.TextureUsageSampled | rhi.TextureUsageTransferDst,
	})
	if err != nil {
		return err
	}
	state.checker = tex

	// The chain is built on a worker and uploaded from the frame loop. The
	// triangle is not drawn until then.
	err = state.jobs.Submit(systems.JobTask{
		Name: "checker-mips",
		Run: func() (interface{}, error) {
			return rhi.GenerateMipChain(checkerboard(checkerSize), levels), nil
		},
		OnComplete: func(result interface{}) {
			if state.checker == nil {
				return
			}
			if err := state.device.UploadMipChain(state.checker, result.([]*image.RGBA), 0); err != nil {
				core.LogError("failed to upload checker texture: %s", err)
				return
			}
			state.checkerReady = true
			core.LogDebug("checker texture uploaded, %d levels", levels)
		},
	})
	if err != nil {
		return err
	}

	state.sampler, err = state.device.CreateSampler(rhi.SamplerDesc{
		Name:       "testbed-sampler",
		MinFilter:  rhi.FilterLinear,
		MagFilter:  rhi.FilterLinear,
		MipmapMode: rhi.MipmapModeLinear,
		AddressU:   rhi.AddressModeRepeat,
		AddressV:   rhi.AddressModeRepeat,
		AddressW:   rhi.AddressModeRepeat,
		MaxLod:     float32(levels),
	})
	if err != nil {
		return err
	}

	state.setLayout, err = state.device.CreateDescriptorSetLayout(rhi.DescriptorSetLayoutDesc{
		Name: "testbed-layout",
		Bindings: []rhi.DescriptorSetLayoutBinding{
			{Binding: 0, Type: rhi.DescriptorTypeCombinedImageSampler, Count: 1, Stages: rhi.ShaderStageFragment},
		},
	})
	if err != nil {
		return err
	}
	state.set, err = state.device.CreateDescriptorSet(state.setLayout)
	if err != nil {
		return err
	}
	return state.set.SetCombinedTextureSampler(0, state.checker, state.sampler)
}

// createFramebuffers wraps every swap chain image. It runs again whenever
// the chain is rebuilt.
func (g *TestGame) createFramebuffers() error {
	state := g.State.(*gameState)
	g.destroyFramebuffers()

	sc := state.swapChain
	if sc.IsSuspended() {
		return nil
	}
	for i, img := range sc.Images() {
		fb, err := state.device.CreateFramebuffer(rhi.FramebufferDesc{
			Name:             fmt.Sprintf("testbed-fb-%d", i),
			RenderPass:       state.renderPass,
			ColorAttachments: []*rhi.Texture{img},
			Width:            sc.Width(),
			Height:           sc.Height(),
		})
		if err != nil {
			return err
		}
		state.framebuffers = append(state.framebuffers, fb)
	}
	state.generation = sc.Generation()
	return nil
}

func (g *TestGame) destroyFramebuffers() {
	state := g.State.(*gameState)
	for _, fb := range state.framebuffers {
		fb.Destroy()
	}
	state.framebuffers = nil
}

func (g *TestGame) Update(deltaTime float64) error {
	state := g.State.(*gameState)
	state.elapsed += deltaTime
	return nil
}

func (g *TestGame) Render(frame *engine.Frame, deltaTime float64) error {
	state := g.State.(*gameState)
	if frame.Generation != state.generation {
		if err := g.createFramebuffers(); err != nil {
			return err
		}
	}
	if int(frame.ImageIndex) >= len(state.framebuffers) {
		return fmt.Errorf("no framebuffer for swap chain image %d", frame.ImageIndex)
	}

	cmd := frame.CommandBuffer
	img := frame.Image
	cmd.ResourceBarrier(rhi.BarrierDesc{Texture: img, OldLayout: img.CurrentLayout(), NewLayout: rhi.LayoutColorAttachment})

	clear := rhi.ClearValue{Color: [4]float32{
		float32(0.1 + 0.1*math.Sin(state.elapsed)),
		0.1,
		float32(0.2 + 0.1*math.Cos(state.elapsed*0.7)),
		1,
	}}
	cmd.BeginRenderPass(state.renderPass, state.framebuffers[frame.ImageIndex], []rhi.ClearValue{clear})
	if state.checkerReady {
		cmd.SetPipeline(state.pipeline)
		cmd.SetViewport(rhi.Viewport{Width: float32(frame.Extent.Width), Height: float32(frame.Extent.Height), MaxDepth: 1})
		cmd.SetScissor(rhi.Rect{Width: frame.Extent.Width, Height: frame.Extent.Height})
		cmd.BindDescriptorSet(0, state.set)
		cmd.BindVertexBuffer(0, state.vertexBuffer, 0)
		cmd.Draw(3, 0)
	}
	cmd.EndRenderPass()

	cmd.ResourceBarrier(rhi.BarrierDesc{Texture: img, OldLayout: rhi.LayoutColorAttachment, NewLayout: rhi.LayoutPresent})
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	core.LogDebug("testbed resized to %dx%d", width, height)
	return g.createFramebuffers()
}

func (g *TestGame) Shutdown() error {
	state := g.State.(*gameState)
	g.destroyFramebuffers()
	if state.pipeline != nil {
		state.pipeline.Destroy()
	}
	if state.renderPass != nil {
		state.renderPass.Destroy()
	}
	if state.setLayout != nil {
		state.setLayout.Destroy()
	}
	if state.sampler != nil {
		state.sampler.Destroy()
	}
	if state.checker != nil {
		state.checker.Destroy()
		state.checker = nil
	}
	if state.vertexBuffer != nil {
		state.vertexBuffer.Destroy()
	}
	if state.fragmentShader != nil {
		state.fragmentShader.Destroy()
	}
	if state.vertexShader != nil {
		state.vertexShader.Destroy()
	}
	return nil
}
