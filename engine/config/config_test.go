package config

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/rhi"
)

func TestMain(m *testing.M) {
	core.SetLogOutput(io.Discard)
	os.Exit(m.Run())
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Errorf("Parse(nil)\nhave %+v\nwant %+v", *cfg, *want)
	}
	if cfg.Backend() != rhi.BackendVulkan {
		t.Errorf("Backend()\nhave %v\nwant %v", cfg.Backend(), rhi.BackendVulkan)
	}
	if cfg.AcquireTimeout() != rhi.Infinite {
		t.Errorf("AcquireTimeout()\nhave %v\nwant Infinite", cfg.AcquireTimeout())
	}
}

func TestParseOverrides(t *testing.T) {
	data := []byte(`
[log]
level = "debug"

[window]
width = 640

[renderer]
backend = "headless"
vsync = false
max_frames_in_flight = 3
acquire_timeout = "250ms"
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.LogLevel() != core.DebugLevel {
		t.Errorf("LogLevel()\nhave %v\nwant %v", cfg.LogLevel(), core.DebugLevel)
	}
	if cfg.Window.Width != 640 || cfg.Window.Height != 720 {
		t.Errorf("window\nhave %dx%d\nwant 640x720", cfg.Window.Width, cfg.Window.Height)
	}
	if cfg.Backend() != rhi.BackendHeadless {
		t.Errorf("Backend()\nhave %v\nwant %v", cfg.Backend(), rhi.BackendHeadless)
	}

	desc := cfg.SwapChainDesc(640, 480)
	if desc.VSync {
		t.Errorf("SwapChainDesc.VSync: have true\nwant false")
	}
	if desc.MaxFramesInFlight != 3 {
		t.Errorf("SwapChainDesc.MaxFramesInFlight\nhave %d\nwant 3", desc.MaxFramesInFlight)
	}
	if desc.AcquireTimeout != 250*time.Millisecond {
		t.Errorf("SwapChainDesc.AcquireTimeout\nhave %v\nwant 250ms", desc.AcquireTimeout)
	}
}

func TestParseRejects(t *testing.T) {
	for _, test := range []struct {
		name string
		data string
	}{
		{"unknown backend", "[renderer]\nbackend = \"d3d12\""},
		{"zero frames", "[renderer]\nmax_frames_in_flight = 0"},
		{"zero pool", "[renderer]\ndescriptor_pool_max_sets = 0"},
		{"bad timeout", "[renderer]\nacquire_timeout = \"soon\""},
		{"empty window", "[window]\nheight = 0"},
		{"no workers", "[jobs]\nworkers = 0"},
		{"syntax", "[renderer\nbackend = 1"},
	} {
		if _, err := Parse([]byte(test.data)); err == nil {
			t.Errorf("%s: Parse\nhave nil error\nwant error", test.name)
		}
	}

	_, err := Parse([]byte("[renderer]\nbackend = \"d3d12\""))
	if !errors.Is(err, rhi.ErrUnknownBackend) {
		t.Errorf("unknown backend error\nhave %v\nwant %v", err, rhi.ErrUnknownBackend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load(missing): %v", err)
	}
	if *cfg != *Default() {
		t.Errorf("Load(missing)\nhave %+v\nwant defaults", *cfg)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[log]\nlevel = \"info\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan *Config, 4)
	w, err := Watch(path, func(cfg *Config) { reloaded <- cfg })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	// A broken save is skipped, the fixed one comes through.
	if err := os.WriteFile(path, []byte("[renderer]\nbackend = \"nope\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * debounce)
	if err := os.WriteFile(path, []byte("[renderer]\nvsync = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Renderer.VSync {
			t.Errorf("reloaded VSync: have true\nwant false")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestWatchNeedsCallback(t *testing.T) {
	if _, err := Watch(filepath.Join(t.TempDir(), "config.toml"), nil); err == nil {
		t.Errorf("Watch(nil callback)\nhave nil error\nwant error")
	}
}
