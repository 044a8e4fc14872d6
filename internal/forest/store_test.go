package forest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/canopy/api"
)

// storeFactories builds one fresh store per backend so the whole
// Store contract runs against every implementation.
var storeFactories = map[string]func(t *testing.T) Store{
	"memory": func(t *testing.T) Store {
		return NewMemoryStore()
	},
	"sqlite": func(t *testing.T) Store {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "forest.db"), api.DefaultBinding())
		require.NoError(t, err)
		return s
	},
	"badger": func(t *testing.T) Store {
		s, err := OpenBadger(t.TempDir())
		require.NoError(t, err)
		return s
	},
}

func forEachStore(t *testing.T, run func(t *testing.T, store Store)) {
	for name, open := range storeFactories {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()
			run(t, store)
		})
	}
}

// seedChain persists 1 → 2 → 3 plus a lone root 4 through the tree.
func seedChain(t *testing.T, store Store) *Tree {
	t.Helper()
	ctx := context.Background()
	tree := New(store)
	require.NoError(t, tree.Create(ctx, &Node{ID: 1}))
	require.NoError(t, tree.Create(ctx, &Node{ID: 2, ParentID: idp(1)}))
	require.NoError(t, tree.Create(ctx, &Node{ID: 3, ParentID: idp(2)}))
	require.NoError(t, tree.Create(ctx, &Node{ID: 4}))
	return tree
}

func TestStoreGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedChain(t, store)

		n, err := store.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n.ID)
		require.NotNil(t, n.ParentID)
		assert.Equal(t, int64(1), *n.ParentID)
		require.NotNil(t, n.Path)
		assert.Equal(t, "11", *n.Path)

		_, err = store.Get(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreGetMany(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		seedChain(t, store)

		// Requested order is preserved; missing ids are omitted.
		rows, err := store.GetMany(context.Background(), []int64{3, 99, 1})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(3), rows[0].ID)
		assert.Equal(t, int64(1), rows[1].ID)
	})
}

func TestStoreByParent(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedChain(t, store)

		roots, err := store.ByParent(ctx, nil)
		require.NoError(t, err)
		require.Len(t, roots, 2)
		assert.Equal(t, int64(1), roots[0].ID)
		assert.Equal(t, int64(4), roots[1].ID)

		kids, err := store.ByParent(ctx, idp(1))
		require.NoError(t, err)
		require.Len(t, kids, 1)
		assert.Equal(t, int64(2), kids[0].ID)

		none, err := store.ByParent(ctx, idp(3))
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestStoreByPathPrefix(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedChain(t, store)

		rows, err := store.ByPathPrefix(ctx, "11")
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, int64(2), rows[0].ID)
		assert.Equal(t, int64(3), rows[1].ID)

		rows, err = store.ByPathPrefix(ctx, "1112")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(3), rows[0].ID)

		rows, err = store.ByPathPrefix(ctx, "2ZZ")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStoreChildExists(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedChain(t, store)

		has, err := store.ChildExists(ctx, 1)
		require.NoError(t, err)
		assert.True(t, has)

		has, err = store.ChildExists(ctx, 3)
		require.NoError(t, err)
		assert.False(t, has)
	})
}

func TestStoreSaveWithRewrite(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		tree := seedChain(t, store)

		// Move 2 (with its child 3) under the other root 4.
		n, err := store.Get(ctx, 2)
		require.NoError(t, err)
		prev := n.ParentID
		n.ParentID = idp(4)
		require.NoError(t, tree.Move(ctx, n, prev))

		moved, err := store.Get(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "14", *moved.Path)

		child, err := store.Get(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "1412", *child.Path)

		// The old subtree prefix is vacated.
		rows, err := store.ByPathPrefix(ctx, "11")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestStoreSaveWithRewriteMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		err := store.SaveWithRewrite(context.Background(), &Node{ID: 42}, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDeleteCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		seedChain(t, store)

		require.NoError(t, store.Delete(ctx, 1))

		for _, id := range []int64{1, 2, 3} {
			_, err := store.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound, "id %d should be gone", id)
		}

		// Unrelated roots survive.
		_, err := store.Get(ctx, 4)
		assert.NoError(t, err)

		assert.ErrorIs(t, store.Delete(ctx, 99), ErrNotFound)
	})
}

func TestStorePayloadRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		payload := map[string]any{"name": "acacia", "height": 12.5}
		require.NoError(t, store.Create(ctx, &Node{ID: 10, Payload: payload}))

		n, err := store.Get(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, "acacia", n.Payload["name"])
		assert.Equal(t, 12.5, n.Payload["height"])
	})
}
