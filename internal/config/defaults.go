package config

import "time"

// Default knobs for per-repository settings left unset in the config file.
// These are applied by ApplyDefaults before validation.
const (
	DefaultPollInterval         = 30 * time.Second
	DefaultMinRetriggerInterval = 5 * time.Minute
	DefaultMaxBackoff           = 10 * time.Minute
	DefaultTriggerConcurrency   = 4
)

// ApplyDefaults fills unset per-repository fields with their defaults.
func ApplyDefaults(cfg *Config) {
	for i := range cfg.Repos {
		repo := &cfg.Repos[i]
		if repo.PollInterval == 0 {
			repo.PollInterval = DefaultPollInterval
		}
		if repo.MinRetriggerInterval == 0 {
			repo.MinRetriggerInterval = DefaultMinRetriggerInterval
		}
		if repo.MaxBackoff == 0 {
			repo.MaxBackoff = DefaultMaxBackoff
		}
		if repo.TriggerConcurrency == 0 {
			repo.TriggerConcurrency = DefaultTriggerConcurrency
		}
	}
}
