package engine

type ApplicationConfig struct {
	// The application name used in windowing and as the Vulkan application name.
	Name string
	// ConfigPath is the TOML file the engine loads and watches. Empty uses
	// the defaults and disables hot reload.
	ConfigPath string
	// Backend overrides renderer.backend from the config file when set.
	Backend string
	// MaxFrames stops the loop after that many presented frames. Zero runs
	// until the window closes or Quit is called.
	MaxFrames uint64
}
