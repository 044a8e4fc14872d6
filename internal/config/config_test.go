package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "canopy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.NotEmpty(t, cfg.Path)

	b := cfg.TableBinding()
	assert.Equal(t, "nodes", b.Table)
	assert.Equal(t, "id", b.IDColumn)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
backend = "badger"
path    = "/tmp/canopy-badger"

binding {
  table  = "org_units"
  id     = "unit_id"
  parent = "reports_to"
  path   = "chain"
}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, "/tmp/canopy-badger", cfg.Path)

	b := cfg.TableBinding()
	assert.Equal(t, "org_units", b.Table)
	assert.Equal(t, "unit_id", b.IDColumn)
	assert.Equal(t, "reports_to", b.ParentColumn)
	assert.Equal(t, "chain", b.PathColumn)
	// Unset fields keep the default.
	assert.Equal(t, "payload", b.PayloadColumn)
}

func TestLoadUnknownBackend(t *testing.T) {
	path := writeConfig(t, `backend = "etcd"`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMemoryBackendNeedsNoPath(t *testing.T) {
	path := writeConfig(t, `backend = "memory"`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
}

func TestLoadMalformedHCL(t *testing.T) {
	path := writeConfig(t, `backend = `)
	_, err := Load(path)
	assert.Error(t, err)
}
