// Package config loads the application settings from a TOML file and
// watches it for changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Window   WindowConfig   `toml:"window"`
	Renderer RendererConfig `toml:"renderer"`
	Jobs     JobsConfig     `toml:"jobs"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type RendererConfig struct {
	// Backend is "vulkan" or "headless".
	Backend           string `toml:"backend"`
	VSync             bool   `toml:"vsync"`
	Validation        bool   `toml:"validation"`
	MaxFramesInFlight uint32 `toml:"max_frames_in_flight"`
	// AcquireTimeout is a Go duration string; empty waits forever.
	AcquireTimeout        string `toml:"acquire_timeout"`
	DescriptorPoolMaxSets uint32 `toml:"descriptor_pool_max_sets"`
	ShaderDir             string `toml:"shader_dir"`
}

// JobsConfig sizes the worker pool that runs CPU work off the frame loop.
type JobsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// Default is the configuration used for every key the file leaves out.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Window: WindowConfig{
			Title:  "Anima RHI",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Renderer: RendererConfig{
			Backend:               "vulkan",
			VSync:                 true,
			MaxFramesInFlight:     2,
			DescriptorPoolMaxSets: 256,
			ShaderDir:             "shaders",
		},
		Jobs: JobsConfig{
			Workers:   2,
			QueueSize: 64,
		},
	}
}

// Parse decodes data on top of Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("config: line %d column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path. A missing file is not an error: the defaults apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		core.LogWarn("config file %s not found, using defaults", path)
		return Default(), nil
	}
	if err != nil {
		err = fmt.Errorf("config: %w", err)
		core.LogError("%s", err)
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		core.LogError("%s", err)
		return nil, err
	}
	core.LogDebug("config loaded from %s", path)
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := rhi.ParseBackend(c.Renderer.Backend); err != nil {
		return fmt.Errorf("config: renderer.backend: %w", err)
	}
	if c.Renderer.MaxFramesInFlight == 0 {
		return fmt.Errorf("config: renderer.max_frames_in_flight must be at least 1")
	}
	if c.Renderer.DescriptorPoolMaxSets == 0 {
		return fmt.Errorf("config: renderer.descriptor_pool_max_sets must be at least 1")
	}
	if c.Window.Width == 0 || c.Window.Height == 0 {
		return fmt.Errorf("config: window size %dx%d is empty", c.Window.Width, c.Window.Height)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("config: jobs.workers must be at least 1")
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("config: jobs.queue_size must not be negative")
	}
	if _, err := c.Renderer.acquireTimeout(); err != nil {
		return err
	}
	return nil
}

func (r RendererConfig) acquireTimeout() (time.Duration, error) {
	if r.AcquireTimeout == "" {
		return rhi.Infinite, nil
	}
	d, err := time.ParseDuration(r.AcquireTimeout)
	if err != nil {
		return 0, fmt.Errorf("config: renderer.acquire_timeout: %w", err)
	}
	return d, nil
}

// LogLevel is the parsed [log] level.
func (c *Config) LogLevel() core.LogLevel {
	return core.ParseLogLevel(c.Log.Level)
}

// Backend is the parsed renderer backend. Validate has already rejected
// unknown names.
func (c *Config) Backend() rhi.Backend {
	b, _ := rhi.ParseBackend(c.Renderer.Backend)
	return b
}

// AcquireTimeout is the swap chain acquire timeout, rhi.Infinite by default.
func (c *Config) AcquireTimeout() time.Duration {
	d, err := c.Renderer.acquireTimeout()
	if err != nil {
		return rhi.Infinite
	}
	return d
}

// SwapChainDesc maps the renderer section onto a swap chain request for a
// window of the given size.
func (c *Config) SwapChainDesc(width, height uint32) rhi.SwapChainDesc {
	return rhi.SwapChainDesc{
		Width:             width,
		Height:            height,
		Format:            rhi.FormatBGRA8Srgb,
		VSync:             c.Renderer.VSync,
		MaxFramesInFlight: c.Renderer.MaxFramesInFlight,
		AcquireTimeout:    c.AcquireTimeout(),
	}
}
