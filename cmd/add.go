package cmd

import (
	"fmt"
	"strconv"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"

	"github.com/agentic-research/canopy/internal/forest"
)

var (
	addParent  int64
	addPayload string
)

var addCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Create a record, optionally under a parent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid id %q: %w", args[0], err)
		}

		n := &forest.Node{ID: id}
		if cmd.Flags().Changed("parent") {
			n.ParentID = &addParent
		}
		if addPayload != "" {
			doc, err := oj.ParseString(addPayload)
			if err != nil {
				return fmt.Errorf("parse payload: %w", err)
			}
			payload, ok := doc.(map[string]any)
			if !ok {
				return fmt.Errorf("payload must be a JSON object, got %T", doc)
			}
			n.Payload = payload
		}

		tree, err := openTree()
		if err != nil {
			return err
		}
		defer func() { _ = tree.Store().Close() }()

		if err := tree.Create(cmd.Context(), n); err != nil {
			return err
		}
		fmt.Printf("Created %d (path %q)\n", n.ID, n.PathString())
		return nil
	},
}

func init() {
	addCmd.Flags().Int64VarP(&addParent, "parent", "p", 0, "Parent record id (omit for a root)")
	addCmd.Flags().StringVar(&addPayload, "payload", "", "Payload as a JSON object")
	rootCmd.AddCommand(addCmd)
}
