// Package config reads allocator settings from the environment.
package config

import (
	"github.com/caarlos0/env/v6"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/cellgc"
	"github.com/vkngwrapper/cellgc/collect"
	"golang.org/x/exp/slog"
)

// Config holds the settings needed to create an Allocator. Every field has a default, so an
// empty environment is valid.
type Config struct {
	// Capacity is the heap size in bytes
	Capacity int `env:"CELLGC_CAPACITY" envDefault:"1024"`
	// Strategy is "copying" or "mark-and-compact"
	Strategy collect.Kind `env:"CELLGC_STRATEGY" envDefault:"copying"`
	// LogLevel is one of debug, info, warn or error
	LogLevel slog.Level `env:"CELLGC_LOG_LEVEL" envDefault:"info"`
	// DisableImplicitCollect stops Allocate from collecting when the heap is exhausted
	DisableImplicitCollect bool `env:"CELLGC_DISABLE_IMPLICIT_COLLECT"`
}

// Load reads a Config from the environment
func Load() (Config, error) {
	var cfg Config
	err := env.Parse(&cfg)
	if err != nil {
		return cfg, errors.Wrap(err, "cannot read configuration from the environment")
	}

	return cfg, cfg.Validate()
}

// Validate verifies the values that the environment parser cannot check on its own
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.Newf("capacity must be positive, got %d", c.Capacity)
	}

	return nil
}

// CreateOptions converts the configuration into options for cellgc.New
func (c Config) CreateOptions() cellgc.CreateOptions {
	return cellgc.CreateOptions{
		Capacity:               c.Capacity,
		Strategy:               c.Strategy,
		DisableImplicitCollect: c.DisableImplicitCollect,
	}
}
