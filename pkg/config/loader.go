package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the struct pointed to by cfg using
// `env` / `envDefault` tags. An optional env.Options replaces the process
// environment, which keeps tests hermetic:
//
//	err := config.Load(&cfg, env.Options{Environment: map[string]string{"LOG_LEVEL": "debug"}})
func Load(cfg any, opts ...env.Options) error {
	var err error
	if len(opts) > 0 {
		err = env.ParseWithOptions(cfg, opts[0])
	} else {
		err = env.Parse(cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
