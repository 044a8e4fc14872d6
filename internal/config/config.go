// Package config loads canopy's HCL configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/canopy/api"
)

// Config is the on-disk configuration. Every field is optional; zero
// values fall back to the defaults applied by Load.
//
//	backend = "sqlite"
//	path    = "/var/lib/canopy/forest.db"
//
//	binding {
//	  table  = "org_units"
//	  id     = "unit_id"
//	  parent = "reports_to"
//	  path   = "chain"
//	}
type Config struct {
	Backend string        `hcl:"backend,optional"`
	Path    string        `hcl:"path,optional"`
	Binding *BindingBlock `hcl:"binding,block"`
}

// BindingBlock maps the binding { ... } block onto api.Binding.
type BindingBlock struct {
	Table   string `hcl:"table,optional"`
	ID      string `hcl:"id,optional"`
	Parent  string `hcl:"parent,optional"`
	Path    string `hcl:"path,optional"`
	Payload string `hcl:"payload,optional"`
}

const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// DefaultDir is where canopy keeps its files when nothing is
// configured: ~/.agentic-research/canopy.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".agentic-research", "canopy"), nil
}

// DefaultPath is the default config file location inside DefaultDir.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "canopy.hcl"), nil
}

// Load reads the config at path and fills in defaults. A missing file
// is not an error: it yields the pure default config, so a fresh
// install works without writing anything.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err == nil {
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	switch cfg.Backend {
	case BackendSQLite, BackendBadger, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown backend %q (want sqlite, badger, or memory)", cfg.Backend)
	}

	if cfg.Path == "" && cfg.Backend != BackendMemory {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		switch cfg.Backend {
		case BackendSQLite:
			cfg.Path = filepath.Join(dir, "forest.db")
		case BackendBadger:
			cfg.Path = filepath.Join(dir, "badger")
		}
	}
	return cfg, nil
}

// TableBinding resolves the binding block against api.DefaultBinding.
// Unset fields keep the default column names, so a block can rename a
// single column without restating the rest.
func (c *Config) TableBinding() api.Binding {
	b := api.DefaultBinding()
	if c.Binding == nil {
		return b
	}
	if c.Binding.Table != "" {
		b.Table = c.Binding.Table
	}
	if c.Binding.ID != "" {
		b.IDColumn = c.Binding.ID
	}
	if c.Binding.Parent != "" {
		b.ParentColumn = c.Binding.Parent
	}
	if c.Binding.Path != "" {
		b.PathColumn = c.Binding.Path
	}
	if c.Binding.Payload != "" {
		b.PayloadColumn = c.Binding.Payload
	}
	return b
}
