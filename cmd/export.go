package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/forest"
	"github.com/agentic-research/canopy/internal/ingest"
)

var exportCmd = &cobra.Command{
	Use:   "export [id]",
	Short: "Export the forest (or one subtree) as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		var root *forest.Node
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			root, err = tree.Store().Get(cmd.Context(), id)
			if err != nil {
				return err
			}
		}

		raw, err := ingest.Export(cmd.Context(), tree, root)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(raw))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
