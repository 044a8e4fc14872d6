package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/forest"
)

var treeCmd = &cobra.Command{
	Use:   "tree [id]",
	Short: "Render the forest (or one subtree) as ASCII",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		ctx := cmd.Context()
		var tops []*forest.Node
		if len(args) == 1 {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}
			n, err := tree.Store().Get(ctx, id)
			if err != nil {
				return err
			}
			tops = []*forest.Node{n}
		} else {
			tops, err = tree.Store().ByParent(ctx, nil)
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for _, n := range tops {
			fmt.Fprintln(out, label(n))
			if err := renderChildren(ctx, tree, out, n.ID, ""); err != nil {
				return err
			}
		}
		return nil
	},
}

// renderChildren prints the subtree below parentID with box-drawing
// guides, one record per line.
func renderChildren(ctx context.Context, tree *forest.Tree, out io.Writer, parentID int64, indent string) error {
	children, err := tree.Store().ByParent(ctx, &parentID)
	if err != nil {
		return err
	}
	for i, c := range children {
		guide, next := "├── ", indent+"│   "
		if i == len(children)-1 {
			guide, next = "└── ", indent+"    "
		}
		fmt.Fprintln(out, indent+guide+label(c))
		if err := renderChildren(ctx, tree, out, c.ID, next); err != nil {
			return err
		}
	}
	return nil
}

// label shows the id, plus the payload name when there is one.
func label(n *forest.Node) string {
	if name, ok := n.Payload["name"].(string); ok && name != "" {
		return fmt.Sprintf("%d (%s)", n.ID, name)
	}
	return strconv.FormatInt(n.ID, 10)
}

func init() {
	rootCmd.AddCommand(treeCmd)
}
