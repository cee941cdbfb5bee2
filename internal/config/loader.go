package config

import (
	"fmt"
	"os"

	"prwatch/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// config malformed
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if errs := Validate(cfg); errs.HasErrors() {
		return Config{}, errs
	}

	logging.Info("Config", "Loaded configuration from %s (%d repositories)", path, len(cfg.Repos))
	return cfg, nil
}
