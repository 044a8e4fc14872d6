package forest

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps the forest in a Badger key-value database.
//
// Key layout (all ids 8-byte big-endian, so key order is id order):
//
//	n/<id>              → record value (JSON)
//	p/<path>\x00<id>    → nil; path index for prefix scans
//	c/<parent><id>      → nil; children index
//	r/<id>              → nil; root set
//
// Path bodies only use 0-9A-Z, so the \x00 separator cannot collide
// and iterating p/<prefix> matches exactly the string-prefix filter.
//
// Badger has no server-side bulk substitution, so SaveWithRewrite
// takes the fallback the store contract allows: one read-write
// transaction that scans the matched prefix and rewrites each
// descendant, committing all of it or nothing. Subtrees beyond
// Badger's transaction size limit will fail with ErrTxnTooBig rather
// than commit a torn state.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database rooted at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

type badgerRecord struct {
	ParentID *int64         `json:"parent_id,omitempty"`
	Path     *string        `json:"path,omitempty"`
	Payload  map[string]any `json:"payload,omitempty"`
}

func nodeKey(id int64) []byte {
	k := make([]byte, 2+8)
	copy(k, "n/")
	binary.BigEndian.PutUint64(k[2:], uint64(id))
	return k
}

func pathKey(path string, id int64) []byte {
	k := make([]byte, 2+len(path)+1+8)
	copy(k, "p/")
	copy(k[2:], path)
	k[2+len(path)] = 0
	binary.BigEndian.PutUint64(k[3+len(path):], uint64(id))
	return k
}

func childKey(parentID, id int64) []byte {
	k := make([]byte, 2+8+8)
	copy(k, "c/")
	binary.BigEndian.PutUint64(k[2:], uint64(parentID))
	binary.BigEndian.PutUint64(k[10:], uint64(id))
	return k
}

func rootKey(id int64) []byte {
	k := make([]byte, 2+8)
	copy(k, "r/")
	binary.BigEndian.PutUint64(k[2:], uint64(id))
	return k
}

// idFromTail reads the trailing 8-byte id off an index key.
func idFromTail(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}

func encodeRecord(n *Node) ([]byte, error) {
	raw, err := json.Marshal(badgerRecord{ParentID: n.ParentID, Path: n.Path, Payload: n.Payload})
	if err != nil {
		return nil, fmt.Errorf("encode record %d: %w", n.ID, err)
	}
	return raw, nil
}

func decodeRecord(id int64, raw []byte) (*Node, error) {
	var rec badgerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", id, err)
	}
	return &Node{ID: id, ParentID: rec.ParentID, Path: rec.Path, Payload: rec.Payload}, nil
}

func getNode(txn *badger.Txn, id int64) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("get %d: %w", id, err)
	}
	return decodeRecord(id, raw)
}

// setNode writes the record value and all its index keys.
func setNode(txn *badger.Txn, n *Node) error {
	raw, err := encodeRecord(n)
	if err != nil {
		return err
	}
	if err := txn.Set(nodeKey(n.ID), raw); err != nil {
		return err
	}
	if n.Path != nil {
		if err := txn.Set(pathKey(*n.Path, n.ID), nil); err != nil {
			return err
		}
	}
	if n.ParentID != nil {
		return txn.Set(childKey(*n.ParentID, n.ID), nil)
	}
	return txn.Set(rootKey(n.ID), nil)
}

// dropIndexes removes the index keys derived from n's current state.
func dropIndexes(txn *badger.Txn, n *Node) error {
	if n.Path != nil {
		if err := txn.Delete(pathKey(*n.Path, n.ID)); err != nil {
			return err
		}
	}
	if n.ParentID != nil {
		return txn.Delete(childKey(*n.ParentID, n.ID))
	}
	return txn.Delete(rootKey(n.ID))
}

func (s *BadgerStore) Get(_ context.Context, id int64) (*Node, error) {
	var n *Node
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = getNode(txn, id)
		return err
	})
	return n, err
}

func (s *BadgerStore) GetMany(_ context.Context, ids []int64) ([]*Node, error) {
	out := make([]*Node, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			n, err := getNode(txn, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue
				}
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ByParent(_ context.Context, parentID *int64) ([]*Node, error) {
	var prefix []byte
	if parentID == nil {
		prefix = []byte("r/")
	} else {
		prefix = childKey(*parentID, 0)[:10]
	}

	out := []*Node{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n, err := getNode(txn, idFromTail(it.Item().Key()))
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ByPathPrefix(_ context.Context, prefix string) ([]*Node, error) {
	scan := append([]byte("p/"), prefix...)

	var ids []int64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
			ids = append(ids, idFromTail(it.Item().Key()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Path-index order is path order; the contract wants id order.
	return s.sortedByID(ids)
}

func (s *BadgerStore) sortedByID(ids []int64) ([]*Node, error) {
	out := []*Node{}
	err := s.db.View(func(txn *badger.Txn) error {
		seen := make(map[int64]bool, len(ids))
		for _, id := range ids {
			seen[id] = true
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("n/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := idFromTail(it.Item().Key())
			if !seen[id] {
				continue
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			n, err := decodeRecord(id, raw)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) ChildExists(_ context.Context, parentID int64) (bool, error) {
	prefix := childKey(parentID, 0)[:10]
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		defer it.Close()
		it.Seek(prefix)
		exists = it.ValidForPrefix(prefix)
		return nil
	})
	return exists, err
}

func (s *BadgerStore) Create(_ context.Context, n *Node) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(n.ID)); err == nil {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidArgument, n.ID)
		} else if err != badger.ErrKeyNotFound {
			return fmt.Errorf("create %d: %w", n.ID, err)
		}
		return setNode(txn, n)
	})
}

func (s *BadgerStore) SaveWithRewrite(_ context.Context, n *Node, rw *Rewrite) error {
	return s.db.Update(func(txn *badger.Txn) error {
		stored, err := getNode(txn, n.ID)
		if err != nil {
			return err
		}

		if rw != nil {
			// Collect the subtree first, then rewrite: mutating keys
			// under a live iterator is asking for trouble.
			scan := append([]byte("p/"), rw.Match...)
			var ids []int64
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			for it.Seek(scan); it.ValidForPrefix(scan); it.Next() {
				ids = append(ids, idFromTail(it.Item().Key()))
			}
			it.Close()

			for _, id := range ids {
				if id == n.ID {
					continue
				}
				desc, err := getNode(txn, id)
				if err != nil {
					return err
				}
				moved := rw.New + (*desc.Path)[len(rw.Old):]
				if err := txn.Delete(pathKey(*desc.Path, id)); err != nil {
					return err
				}
				desc.Path = &moved
				raw, err := encodeRecord(desc)
				if err != nil {
					return err
				}
				if err := txn.Set(nodeKey(id), raw); err != nil {
					return err
				}
				if err := txn.Set(pathKey(moved, id), nil); err != nil {
					return err
				}
			}
		}

		if err := dropIndexes(txn, stored); err != nil {
			return err
		}
		return setNode(txn, n)
	})
}

// Delete removes the record and its whole subtree in one transaction,
// standing in for the cascade a relational store would provide.
func (s *BadgerStore) Delete(_ context.Context, id int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		stack := []int64{id}
		first := true
		for len(stack) > 0 {
			cur := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			n, err := getNode(txn, cur)
			if err != nil {
				if first {
					return err
				}
				continue
			}
			first = false

			prefix := childKey(cur, 0)[:10]
			it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				stack = append(stack, idFromTail(it.Item().Key()))
			}
			it.Close()

			if err := dropIndexes(txn, n); err != nil {
				return err
			}
			if err := txn.Delete(nodeKey(cur)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BadgerStore)(nil)
