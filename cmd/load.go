package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/ingest"
)

var loadMapping ingest.Mapping

var loadCmd = &cobra.Command{
	Use:   "load [file.json]",
	Short: "Plant records from a JSON document",
	Long:  "Load reads a JSON document, selects records with JSONPath, and creates them\nparents-first. Records may attach to parents already in the store.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		nodes, err := ingest.Parse(raw, loadMapping)
		if err != nil {
			return err
		}

		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		start := time.Now()
		created, err := ingest.Plant(cmd.Context(), tree, nodes)
		if err != nil {
			return err
		}
		fmt.Printf("Planted %d record(s) in %v\n", created, time.Since(start))
		return nil
	},
}

func init() {
	m := ingest.DefaultMapping()
	loadCmd.Flags().StringVar(&loadMapping.Records, "records", m.Records, "JSONPath selecting record objects")
	loadCmd.Flags().StringVar(&loadMapping.ID, "id", m.ID, "JSONPath to a record's id")
	loadCmd.Flags().StringVar(&loadMapping.Parent, "parent", m.Parent, "JSONPath to a record's parent id")
	rootCmd.AddCommand(loadCmd)
}
