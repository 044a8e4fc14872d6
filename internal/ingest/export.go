package ingest

import (
	"context"
	"sort"

	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/canopy/internal/forest"
)

// Export serializes records as a JSON array the loader can re-plant:
// each element is the record's payload plus id, parent_id and depth.
// With root == nil every record in the store is exported; otherwise
// the subtree under root, root included. Records are ordered parents
// before children.
func Export(ctx context.Context, tree *forest.Tree, root *forest.Node) ([]byte, error) {
	var nodes []*forest.Node
	if root == nil {
		roots, err := tree.Store().ByParent(ctx, nil)
		if err != nil {
			return nil, err
		}
		for _, r := range roots {
			nodes = append(nodes, r)
			sub, err := tree.Descendants(ctx, r)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, sub...)
		}
	} else {
		sub, err := tree.Descendants(ctx, root)
		if err != nil {
			return nil, err
		}
		nodes = append(append(nodes, root), sub...)
	}

	// Shorter path means closer to the root, so this keeps every
	// parent ahead of its children.
	sort.SliceStable(nodes, func(i, j int) bool {
		pi, pj := len(nodes[i].PathString()), len(nodes[j].PathString())
		if pi != pj {
			return pi < pj
		}
		return nodes[i].ID < nodes[j].ID
	})

	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		depth, err := forest.Depth(n)
		if err != nil {
			return nil, err
		}
		rec := make(map[string]any, len(n.Payload)+3)
		for k, v := range n.Payload {
			rec[k] = v
		}
		rec["id"] = n.ID
		if n.ParentID != nil {
			rec["parent_id"] = *n.ParentID
		} else {
			rec["parent_id"] = nil
		}
		rec["depth"] = depth
		out = append(out, rec)
	}
	return []byte(oj.JSON(out, oj.Options{Indent: 2, Sort: true})), nil
}
