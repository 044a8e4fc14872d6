package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/forest"
)

var pathCmd = &cobra.Command{
	Use:   "path [id]",
	Short: "Show a record's path, depth and ancestry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		n, err := tree.Store().Get(cmd.Context(), id)
		if err != nil {
			return err
		}

		depth, err := forest.Depth(n)
		if err != nil {
			return err
		}
		chain, err := forest.AncestorIDs(n, true)
		if err != nil {
			return err
		}
		parts := make([]string, len(chain))
		for i, a := range chain {
			parts[i] = strconv.FormatInt(a, 10)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "id:       %d\n", n.ID)
		fmt.Fprintf(out, "depth:    %d\n", depth)
		fmt.Fprintf(out, "path:     %q\n", n.PathString())
		fmt.Fprintf(out, "ancestry: %s\n", strings.Join(parts, " > "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pathCmd)
}
