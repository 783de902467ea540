package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	_ "github.com/spaghettifunk/anima-rhi/engine/renderer/rhi/headless"
	_ "github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
	"github.com/spaghettifunk/anima-rhi/testbed"
)

func main() {
	backend := flag.String("backend", "", "renderer backend, overrides the config file (vulkan or headless)")
	frames := flag.Uint64("frames", 0, "stop after this many presented frames, 0 runs until the window closes")
	flag.Parse()

	configPath := "config.toml"
	if flag.NArg() > 0 {
		configPath = flag.Arg(0)
	}

	tb := testbed.NewTestGame(configPath)
	tb.ApplicationConfig.Backend = *backend
	tb.ApplicationConfig.MaxFrames = *frames

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// stop the frame loop on sigterm and friends; Run shuts down
	go func() {
		<-sigCh
		e.Quit()
	}()

	if err := e.Run(); err != nil {
		core.LogFatal("%s", err)
	}
}
