package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var moveTo string

var moveCmd = &cobra.Command{
	Use:   "move [id]",
	Short: "Re-parent a record, relocating its whole subtree",
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
		prev := n.ParentID

		if moveTo == "root" {
			n.ParentID = nil
		} else {
			to, err := strconv.ParseInt(moveTo, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --to %q (want a record id or \"root\"): %w", moveTo, err)
			}
			n.ParentID = &to
		}

		if err := tree.Move(cmd.Context(), n, prev); err != nil {
			return err
		}
		fmt.Printf("Moved %d (path %q)\n", n.ID, n.PathString())
		return nil
	},
}

func init() {
	moveCmd.Flags().StringVarP(&moveTo, "to", "t", "root", "New parent id, or \"root\" to detach")
	rootCmd.AddCommand(moveCmd)
}
