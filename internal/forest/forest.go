// Package forest maintains trees of records inside flat stores using
// materialized paths. Each record carries a compact string encoding of
// its ancestor chain, so ancestor/descendant/depth queries are plain
// key lookups and prefix scans, with no recursive joins.
//
// The package is split along one seam: the token codec (codec.go) is
// pure string work, and Tree is the invariant-preserving layer that
// drives a Store. Three stores ship with it: SQLite (server-side bulk
// relocation), Badger (transactional prefix-scan relocation), and an
// in-memory store for tests and ephemeral forests.
package forest

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when no record has the given id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidArgument covers negative identifiers, out-of-range depth
	// arguments, and operations on unsaved records.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMalformedPath means a stored path does not parse as a token
	// chain. It is data corruption, never an expected condition.
	ErrMalformedPath = errors.New("malformed path")

	// ErrCyclicParent is returned when a re-parent would make a record
	// an ancestor of itself. Nothing is persisted in that case.
	ErrCyclicParent = errors.New("record cannot become a descendant of itself")
)

// Node is the one record shape every store speaks. ParentID and Path
// are nil for roots; the two are nil together, that is invariant.
// Path is derived from the parent chain and owned by Tree; callers
// never author it. Payload carries whatever extra fields a use case
// attaches; Tree treats it as opaque.
type Node struct {
	ID       int64
	ParentID *int64
	Path     *string
	Payload  map[string]any
}

// PathString maps an absent path to the empty string.
func (n *Node) PathString() string {
	if n.Path == nil {
		return ""
	}
	return *n.Path
}

// Clone returns a copy of n sharing only the Payload values.
func (n *Node) Clone() *Node {
	c := &Node{ID: n.ID}
	if n.ParentID != nil {
		pid := *n.ParentID
		c.ParentID = &pid
	}
	if n.Path != nil {
		p := *n.Path
		c.Path = &p
	}
	if n.Payload != nil {
		c.Payload = make(map[string]any, len(n.Payload))
		for k, v := range n.Payload {
			c.Payload[k] = v
		}
	}
	return c
}

// Rewrite describes one bulk path relocation: every record other than
// the moved one whose path starts with Match has its leading Old
// replaced by New. Old is the moved record's previous own path (the
// parent-chain portion of Match), so each descendant keeps the moved
// record's own token and its relative sub-path verbatim.
type Rewrite struct {
	Match string
	Old   string
	New   string
}

// Store is what forest requires from a record store. Implementations
// own persistence, transactions, and cascade delete; Tree only
// computes values and calls through this interface.
//
// Ordering: ByParent and ByPathPrefix return records in ascending id
// order; GetMany returns records in the order of the requested ids,
// silently omitting ids that do not exist.
type Store interface {
	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id int64) (*Node, error)

	// GetMany returns the records for ids, in the given order.
	GetMany(ctx context.Context, ids []int64) ([]*Node, error)

	// ByParent returns all records with the given parent id; nil
	// selects the roots.
	ByParent(ctx context.Context, parentID *int64) ([]*Node, error)

	// ByPathPrefix returns all records whose path starts with prefix.
	ByPathPrefix(ctx context.Context, prefix string) ([]*Node, error)

	// ChildExists reports whether any record has parentID as parent.
	ChildExists(ctx context.Context, parentID int64) (bool, error)

	// Create persists a new record.
	Create(ctx context.Context, n *Node) error

	// SaveWithRewrite persists n (parent and path already recomputed)
	// and, when rw is non-nil, applies the bulk relocation, both as
	// one atomic unit. A concurrent reader never sees n on its new
	// path while descendants still carry the old prefix.
	SaveWithRewrite(ctx context.Context, n *Node, rw *Rewrite) error

	// Delete removes the record and, cascading, its entire subtree.
	Delete(ctx context.Context, id int64) error

	Close() error
}

// Tree layers the path state machine over a Store.
type Tree struct {
	store Store
}

// New returns a Tree driving the given store.
func New(store Store) *Tree {
	return &Tree{store: store}
}

// Store exposes the underlying store for callers that need custom
// queries (e.g. scoping by DescendantsPrefix themselves).
func (t *Tree) Store() Store {
	return t.store
}

// Create computes the path for a new record from its parent and
// persists it. Roots get an absent path; everything else gets the
// parent's own path plus the parent's token.
func (t *Tree) Create(ctx context.Context, n *Node) error {
	if n.ID <= 0 {
		return fmt.Errorf("%w: record must carry a positive id before create", ErrInvalidArgument)
	}
	if n.ParentID == nil {
		n.Path = nil
		return t.store.Create(ctx, n)
	}

	parent, err := t.store.Get(ctx, *n.ParentID)
	if err != nil {
		return fmt.Errorf("resolve parent %d: %w", *n.ParentID, err)
	}
	path, err := childPath(parent)
	if err != nil {
		return err
	}
	n.Path = &path
	return t.store.Create(ctx, n)
}

// Move persists a parent change. n carries the new desired ParentID
// while its Path still reflects the previously persisted parent chain;
// prevParentID is the parent id the record had when it was loaded;
// the caller supplies it explicitly, there is no hidden dirty state.
//
// When the parent actually changed, Move recomputes n's path, rejects
// any cycle before touching the store, and relocates every descendant
// with a single prefix substitution. Same parent in and out is a
// complete no-op.
func (t *Tree) Move(ctx context.Context, n *Node, prevParentID *int64) error {
	if n.ID <= 0 {
		return fmt.Errorf("%w: record must carry a positive id before move", ErrInvalidArgument)
	}
	if idPtrEqual(n.ParentID, prevParentID) {
		return nil
	}

	selfTok, err := EncodeID(n.ID)
	if err != nil {
		return err
	}
	oldPath := n.PathString()
	rw := &Rewrite{
		Match: oldPath + selfTok,
		Old:   oldPath,
	}

	if n.ParentID == nil {
		n.Path = nil
	} else {
		parent, err := t.store.Get(ctx, *n.ParentID)
		if err != nil {
			return fmt.Errorf("resolve parent %d: %w", *n.ParentID, err)
		}
		path, err := childPath(parent)
		if err != nil {
			return err
		}

		// A record may not become a descendant of its own subtree
		// (or its own parent). Checked before any mutation so a
		// rejected move leaves the stored path untouched.
		ancestors, err := DecodePath(path)
		if err != nil {
			return err
		}
		for _, id := range ancestors {
			if id == n.ID {
				return fmt.Errorf("%w: re-parenting %d under %d", ErrCyclicParent, n.ID, *n.ParentID)
			}
		}
		n.Path = &path
	}

	rw.New = n.PathString()
	return t.store.SaveWithRewrite(ctx, n, rw)
}

// Depth is the number of ancestors; roots have depth 0.
func Depth(n *Node) (int, error) {
	ids, err := DecodePath(n.PathString())
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// AncestorIDs returns the decoded ancestor chain, root first.
// With includeSelf the record's own id is appended.
func AncestorIDs(n *Node, includeSelf bool) ([]int64, error) {
	ids, err := DecodePath(n.PathString())
	if err != nil {
		return nil, err
	}
	if includeSelf {
		ids = append(ids, n.ID)
	}
	return ids, nil
}

// Ancestors fetches the ancestor records, root first. A root record
// yields nil (absent), not an empty collection.
func (t *Tree) Ancestors(ctx context.Context, n *Node) ([]*Node, error) {
	ids, err := AncestorIDs(n, false)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return t.store.GetMany(ctx, ids)
}

// AncestorAt fetches the ancestor at the given depth: the root at 0,
// the record itself at its own depth. Negative depth or depth beyond
// the record's own is ErrInvalidArgument.
func (t *Tree) AncestorAt(ctx context.Context, n *Node, depth int) (*Node, error) {
	if depth < 0 {
		return nil, fmt.Errorf("%w: the minimum depth is 0, got %d", ErrInvalidArgument, depth)
	}
	if depth == 0 {
		return t.Root(ctx, n)
	}

	ids, err := DecodePath(n.PathString())
	if err != nil {
		return nil, err
	}
	switch {
	case depth == len(ids):
		return n, nil
	case depth > len(ids):
		return nil, fmt.Errorf("%w: depth %d exceeds record depth %d", ErrInvalidArgument, depth, len(ids))
	}
	return t.store.Get(ctx, ids[depth])
}

// DescendantsPrefix is the path prefix every descendant of n is filed
// under: n's own path plus n's token. Exposed for custom queries.
func DescendantsPrefix(n *Node) (string, error) {
	tok, err := EncodeID(n.ID)
	if err != nil {
		return "", err
	}
	return n.PathString() + tok, nil
}

// Descendants returns the whole subtree below n, possibly empty,
// never nil.
func (t *Tree) Descendants(ctx context.Context, n *Node) ([]*Node, error) {
	prefix, err := DescendantsPrefix(n)
	if err != nil {
		return nil, err
	}
	rows, err := t.store.ByPathPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []*Node{}
	}
	return rows, nil
}

// DescendantIDs returns the identifiers of Descendants.
func (t *Tree) DescendantIDs(ctx context.Context, n *Node) ([]int64, error) {
	rows, err := t.Descendants(ctx, n)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

// Root returns the root ancestor, or n itself when n is a root.
func (t *Tree) Root(ctx context.Context, n *Node) (*Node, error) {
	ids, err := DecodePath(n.PathString())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return n, nil
	}
	return t.store.Get(ctx, ids[0])
}

// Siblings returns all other records sharing n's parent; for a root
// that is all other roots. No siblings yields nil (absent), so callers
// can distinguish "none" without counting. Calling this on an unsaved
// record is ErrInvalidArgument: the self-exclusion would otherwise
// match everything.
func (t *Tree) Siblings(ctx context.Context, n *Node) ([]*Node, error) {
	if n.ID <= 0 {
		return nil, fmt.Errorf("%w: siblings of an unsaved record", ErrInvalidArgument)
	}
	rows, err := t.store.ByParent(ctx, n.ParentID)
	if err != nil {
		return nil, err
	}
	siblings := rows[:0]
	for _, r := range rows {
		if r.ID != n.ID {
			siblings = append(siblings, r)
		}
	}
	if len(siblings) == 0 {
		return nil, nil
	}
	return siblings, nil
}

// IsDescendantOf reports whether ancestorID appears in n's ancestor
// chain.
func IsDescendantOf(n *Node, ancestorID int64) (bool, error) {
	ids, err := DecodePath(n.PathString())
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == ancestorID {
			return true, nil
		}
	}
	return false, nil
}

// HasChildren reports whether any record points at n as parent.
func (t *Tree) HasChildren(ctx context.Context, n *Node) (bool, error) {
	return t.store.ChildExists(ctx, n.ID)
}

// childPath is the path a child of parent carries: the parent's own
// path followed by the parent's token.
func childPath(parent *Node) (string, error) {
	tok, err := EncodeID(parent.ID)
	if err != nil {
		return "", err
	}
	return parent.PathString() + tok, nil
}

func idPtrEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
