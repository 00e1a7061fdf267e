package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/config"
	"golang.org/x/exp/slog"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.Config{
		Capacity: 1024,
		Strategy: collect.KindCopying,
		LogLevel: slog.LevelInfo,
	}, cfg)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CELLGC_CAPACITY", "4096")
	t.Setenv("CELLGC_STRATEGY", "mark-and-compact")
	t.Setenv("CELLGC_LOG_LEVEL", "debug")
	t.Setenv("CELLGC_DISABLE_IMPLICIT_COLLECT", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.Capacity)
	require.Equal(t, collect.KindMarkCompact, cfg.Strategy)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)

	opts := cfg.CreateOptions()
	require.Equal(t, 4096, opts.Capacity)
	require.Equal(t, collect.KindMarkCompact, opts.Strategy)
	require.True(t, opts.DisableImplicitCollect)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("strategy", func(t *testing.T) {
		t.Setenv("CELLGC_STRATEGY", "reference-counting")
		_, err := config.Load()
		require.Error(t, err)
	})

	t.Run("capacity", func(t *testing.T) {
		t.Setenv("CELLGC_CAPACITY", "-1")
		_, err := config.Load()
		require.Error(t, err)
	})

	t.Run("level", func(t *testing.T) {
		t.Setenv("CELLGC_LOG_LEVEL", "loud")
		_, err := config.Load()
		require.Error(t, err)
	})
}
