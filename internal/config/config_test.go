package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/config"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.EnvName)
	require.Equal(t, int64(1_000_000), cfg.InitialSurvivalBudget)
	require.Equal(t, "/tmp/stemrun.sock", cfg.WireSocketPath)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	require.NoError(t, os.Setenv("LOG_LEVEL", "not-a-level"))
	defer os.Unsetenv("LOG_LEVEL")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadHonorsOverrides(t *testing.T) {
	require.NoError(t, os.Setenv("INITIAL_SURVIVAL_BUDGET", "42"))
	defer os.Unsetenv("INITIAL_SURVIVAL_BUDGET")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, int64(42), cfg.InitialSurvivalBudget)
}
