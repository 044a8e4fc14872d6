// Package ingest turns JSON documents into forest records. Record
// selection is JSONPath driven, so callers can point canopy at any
// document shape without pre-transforming it.
package ingest

import (
	"context"
	"fmt"
	"math"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/canopy/internal/forest"
)

// Mapping tells the loader where records live inside a document and
// which fields carry the identifiers. All three are JSONPath
// expressions; ID and Parent are evaluated against each record.
type Mapping struct {
	Records string `json:"records"`
	ID      string `json:"id"`
	Parent  string `json:"parent"`
}

// DefaultMapping reads a top-level array of objects with id and
// parent_id fields.
func DefaultMapping() Mapping {
	return Mapping{
		Records: "$[*]",
		ID:      "$.id",
		Parent:  "$.parent_id",
	}
}

// Parse extracts records from a raw JSON document. Each matched record
// becomes a Node carrying the whole record object as payload; a
// missing or null parent field marks a root.
func Parse(raw []byte, m Mapping) ([]*forest.Node, error) {
	doc, err := oj.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	recX, err := jp.ParseString(m.Records)
	if err != nil {
		return nil, fmt.Errorf("invalid records jsonpath '%s': %w", m.Records, err)
	}
	idX, err := jp.ParseString(m.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid id jsonpath '%s': %w", m.ID, err)
	}
	parentX, err := jp.ParseString(m.Parent)
	if err != nil {
		return nil, fmt.Errorf("invalid parent jsonpath '%s': %w", m.Parent, err)
	}

	matches := recX.Get(doc)
	nodes := make([]*forest.Node, 0, len(matches))
	for i, match := range matches {
		rec, ok := match.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d: expected an object, got %T", i, match)
		}

		n := &forest.Node{Payload: rec}
		n.ID, err = requiredID(idX.Get(rec))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		n.ParentID, err = optionalID(parentX.Get(rec))
		if err != nil {
			return nil, fmt.Errorf("record %d (id %d): parent: %w", i, n.ID, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// Plant creates the parsed records through the tree, ordering them so
// every parent is persisted before its children. Parents may also be
// records that already exist in the store. Returns the number of
// records created.
func Plant(ctx context.Context, tree *forest.Tree, nodes []*forest.Node) (int, error) {
	inBatch := make(map[int64]bool, len(nodes))
	for _, n := range nodes {
		if inBatch[n.ID] {
			return 0, fmt.Errorf("%w: duplicate id %d in batch", forest.ErrInvalidArgument, n.ID)
		}
		inBatch[n.ID] = true
	}

	created := 0
	pending := nodes
	for len(pending) > 0 {
		var deferred []*forest.Node
		progress := false
		for _, n := range pending {
			// A parent still waiting in this batch must go first;
			// anything else resolves (or fails) against the store.
			if n.ParentID != nil && inBatch[*n.ParentID] {
				deferred = append(deferred, n)
				continue
			}
			if err := tree.Create(ctx, n); err != nil {
				return created, fmt.Errorf("create record %d: %w", n.ID, err)
			}
			delete(inBatch, n.ID)
			created++
			progress = true
		}
		if !progress {
			return created, fmt.Errorf("%w: records form a parent cycle (e.g. id %d)", forest.ErrCyclicParent, deferred[0].ID)
		}
		pending = deferred
	}
	return created, nil
}

// requiredID coerces a JSONPath result into the record's id.
func requiredID(vals []any) (int64, error) {
	if len(vals) == 0 || vals[0] == nil {
		return 0, fmt.Errorf("%w: record has no id", forest.ErrInvalidArgument)
	}
	return coerceID(vals[0])
}

// optionalID is like requiredID but maps an absent or null value to
// nil (a root).
func optionalID(vals []any) (*int64, error) {
	if len(vals) == 0 || vals[0] == nil {
		return nil, nil
	}
	id, err := coerceID(vals[0])
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func coerceID(v any) (int64, error) {
	switch id := v.(type) {
	case int64:
		return id, nil
	case int:
		return int64(id), nil
	case float64:
		// JSON numbers may arrive as floats; only exact integers pass.
		if id != math.Trunc(id) || id > math.MaxInt64 || id < math.MinInt64 {
			return 0, fmt.Errorf("%w: %v is not an integer id", forest.ErrInvalidArgument, id)
		}
		return int64(id), nil
	default:
		return 0, fmt.Errorf("%w: id has type %T, want integer", forest.ErrInvalidArgument, v)
	}
}
