// Package cmd implements the canopy command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/config"
	"github.com/agentic-research/canopy/internal/forest"
)

var (
	cfgPath     string
	backendFlag string
	dbPath      string
)

var rootCmd = &cobra.Command{
	Use:           "canopy",
	Short:         "Canopy: hierarchies over flat record stores",
	Long:          "Canopy keeps trees of records in flat stores (SQLite, Badger) using materialized paths,\nso ancestry and subtree queries stay cheap without recursive joins.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (default ~/.agentic-research/canopy/canopy.hcl)")
	rootCmd.PersistentFlags().StringVarP(&backendFlag, "backend", "b", "", "Storage backend: sqlite, badger or memory (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (overrides config)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration: file first, then
// command line overrides.
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if dbPath != "" {
		cfg.Path = dbPath
	}
	return cfg, nil
}

// openTree opens the configured store and wraps it in a Tree. The
// caller must Close the tree's store.
func openTree() (*forest.Tree, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var store forest.Store
	switch cfg.Backend {
	case config.BackendMemory:
		store = forest.NewMemoryStore()
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = forest.OpenSQLite(cfg.Path, cfg.TableBinding())
		if err != nil {
			return nil, err
		}
	case config.BackendBadger:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		store, err = forest.OpenBadger(cfg.Path)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return forest.New(store), nil
}
