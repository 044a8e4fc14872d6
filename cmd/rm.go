package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:   "rm [id]",
	Short: "Delete a record and its whole subtree",
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
		sub, err := tree.DescendantIDs(cmd.Context(), n)
		if err != nil {
			return err
		}

		if err := tree.Store().Delete(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted %d and %d descendant(s)\n", id, len(sub))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
