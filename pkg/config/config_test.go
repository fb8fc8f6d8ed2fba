package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Default)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Models.Default, cfg.Models.Default)
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  default: gpt-4o
  windows:
    gpt-4o:
      context_limit: 128000
      response_reserve: 8192
session:
  ttl: 2h
pipeline:
  max_iterations: 5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", cfg.Models.Default)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 5, cfg.Pipeline.MaxIterations)
	assert.Equal(t, 8192, cfg.Models.Windows["gpt-4o"].ResponseReserve)
	// Untouched settings keep their defaults.
	assert.Equal(t, "@every 10m", cfg.Session.SweepSpec)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models:\n  default: gpt-4o\n"), 0o644))

	t.Setenv("CTXFORGE_MODEL", "gpt-4o-mini")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.Models.Default)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\nnot yaml {{{"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadWindow(t *testing.T) {
	cfg := Default()
	cfg.Models.Windows = map[string]WindowEntry{
		"m": {ContextLimit: 100, ResponseReserve: 100},
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveLimits(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.MaxIterations = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Models.Default = ""
	assert.Error(t, cfg.Validate())
}

func TestModelForRoleFallback(t *testing.T) {
	m := &ModelsConfig{Default: "base", Planner: "bigger"}
	assert.Equal(t, "bigger", m.ModelFor("planner"))
	assert.Equal(t, "base", m.ModelFor("classifier"))
	assert.Equal(t, "base", m.ModelFor("anything"))
}
