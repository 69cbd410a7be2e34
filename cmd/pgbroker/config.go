package main

import (
	"github.com/oriys/pgbroker/internal/config"
)

// loadConfig resolves the effective configuration: defaults, then an
// optional --config file, then FASTPUBSUB_-prefixed environment overrides.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)
	return cfg, nil
}
