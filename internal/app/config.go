package app

// Config carries the command line settings into the bootstrap.
type Config struct {
	// ConfigPath is the configuration file to load and watch.
	ConfigPath string

	// Debug enables verbose logging.
	Debug bool
}

// NewConfig creates the application configuration from command line flags.
func NewConfig(configPath string, debug bool) Config {
	return Config{
		ConfigPath: configPath,
		Debug:      debug,
	}
}
