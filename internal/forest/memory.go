package forest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// MemoryStore keeps a forest in process memory. It exists for tests
// and for ephemeral forests, but it implements the full Store
// contract including atomic relocation: SaveWithRewrite applies the
// record update and every descendant rewrite under one write lock.
//
// Children are indexed as roaring bitmaps keyed by parent id (roots
// under a separate bitmap), which gives O(1) ChildExists and lets
// ByParent return ascending-id order straight off the bitmap iterator.
type MemoryStore struct {
	mu       sync.RWMutex
	nodes    map[int64]*Node
	children map[int64]*roaring64.Bitmap // parent id → child ids
	roots    *roaring64.Bitmap
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[int64]*Node),
		children: make(map[int64]*roaring64.Bitmap),
		roots:    roaring64.New(),
	}
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return n.Clone(), nil
}

func (s *MemoryStore) GetMany(_ context.Context, ids []int64) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ByParent(_ context.Context, parentID *int64) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bm := s.roots
	if parentID != nil {
		bm = s.children[*parentID]
		if bm == nil {
			return []*Node{}, nil
		}
	}

	out := make([]*Node, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		if n, ok := s.nodes[int64(it.Next())]; ok {
			out = append(out, n.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ByPathPrefix(_ context.Context, prefix string) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Node
	for _, n := range s.nodes {
		if n.Path != nil && strings.HasPrefix(*n.Path, prefix) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if out == nil {
		out = []*Node{}
	}
	return out, nil
}

func (s *MemoryStore) ChildExists(_ context.Context, parentID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm := s.children[parentID]
	return bm != nil && !bm.IsEmpty(), nil
}

func (s *MemoryStore) Create(_ context.Context, n *Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[n.ID]; exists {
		return fmt.Errorf("%w: duplicate id %d", ErrInvalidArgument, n.ID)
	}
	s.nodes[n.ID] = n.Clone()
	s.indexParent(n)
	return nil
}

func (s *MemoryStore) SaveWithRewrite(_ context.Context, n *Node, rw *Rewrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.nodes[n.ID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, n.ID)
	}

	if rw != nil {
		for _, other := range s.nodes {
			if other.ID == n.ID || other.Path == nil {
				continue
			}
			if strings.HasPrefix(*other.Path, rw.Match) {
				moved := rw.New + (*other.Path)[len(rw.Old):]
				other.Path = &moved
			}
		}
	}

	s.unindexParent(stored)
	s.nodes[n.ID] = n.Clone()
	s.indexParent(n)
	return nil
}

// Delete removes a record and cascades through its subtree, the way a
// relational store with ON DELETE CASCADE would.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}

	stack := []int64{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if bm := s.children[cur]; bm != nil {
			it := bm.Iterator()
			for it.HasNext() {
				stack = append(stack, int64(it.Next()))
			}
		}
		if victim, ok := s.nodes[cur]; ok {
			s.unindexParent(victim)
			delete(s.nodes, cur)
			delete(s.children, cur)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// indexParent registers n in the children bitmap of its parent.
// Must be called with s.mu held.
func (s *MemoryStore) indexParent(n *Node) {
	if n.ParentID == nil {
		s.roots.Add(uint64(n.ID))
		return
	}
	bm := s.children[*n.ParentID]
	if bm == nil {
		bm = roaring64.New()
		s.children[*n.ParentID] = bm
	}
	bm.Add(uint64(n.ID))
}

// unindexParent removes n from its parent's children bitmap.
// Must be called with s.mu held.
func (s *MemoryStore) unindexParent(n *Node) {
	if n.ParentID == nil {
		s.roots.Remove(uint64(n.ID))
		return
	}
	if bm := s.children[*n.ParentID]; bm != nil {
		bm.Remove(uint64(n.ID))
		if bm.IsEmpty() {
			delete(s.children, *n.ParentID)
		}
	}
}

var _ Store = (*MemoryStore)(nil)
