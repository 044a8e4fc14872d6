package tests

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/canopy/api"
	"github.com/agentic-research/canopy/internal/forest"
	"github.com/agentic-research/canopy/internal/forestmount"
	"github.com/agentic-research/canopy/internal/ingest"
)

// testFixture bundles the shared state for integration tests: a real
// SQLite-backed tree planted from a JSON document, plus the NFS
// filesystem projection over it.
type testFixture struct {
	tree *forest.Tree
	ffs  *forestmount.ForestFS
}

// orgChart is a small org document: engineering with two sub-teams,
// one of which has a child team, plus a separate sales root. The
// records are deliberately out of parent-first order.
const orgChart = `[
  {"id": 30, "parent_id": 10, "name": "platform"},
  {"id": 10, "parent_id": null, "name": "engineering"},
  {"id": 20, "parent_id": null, "name": "sales"},
  {"id": 31, "parent_id": 10, "name": "product"},
  {"id": 40, "parent_id": 30, "name": "storage"}
]`

// setup opens a SQLite store in a temp dir, plants the org chart
// through the ingest pipeline, and wraps the tree in a ForestFS.
func setup(t *testing.T) *testFixture {
	t.Helper()

	store, err := forest.OpenSQLite(filepath.Join(t.TempDir(), "org.db"), api.DefaultBinding())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tree := forest.New(store)
	nodes, err := ingest.Parse([]byte(orgChart), ingest.DefaultMapping())
	require.NoError(t, err)
	created, err := ingest.Plant(context.Background(), tree, nodes)
	require.NoError(t, err)
	require.Equal(t, 5, created)

	return &testFixture{
		tree: tree,
		ffs:  forestmount.NewForestFS(tree, map[string]any{"backend": "sqlite"}),
	}
}

func TestPlantedHierarchy(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	storage, err := fx.tree.Store().Get(ctx, 40)
	require.NoError(t, err)

	depth, err := forest.Depth(storage)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	ids, err := forest.AncestorIDs(storage, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, ids)

	root, err := fx.tree.Root(ctx, storage)
	require.NoError(t, err)
	assert.Equal(t, "engineering", root.Payload["name"])

	eng, err := fx.tree.Store().Get(ctx, 10)
	require.NoError(t, err)
	sub, err := fx.tree.DescendantIDs(ctx, eng)
	require.NoError(t, err)
	assert.Equal(t, []int64{30, 31, 40}, sub)
}

func TestMoveSubtreeAcrossRoots(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	// platform (with storage under it) leaves engineering for sales.
	platform, err := fx.tree.Store().Get(ctx, 30)
	require.NoError(t, err)
	prev := platform.ParentID
	newParent := int64(20)
	platform.ParentID = &newParent
	require.NoError(t, fx.tree.Move(ctx, platform, prev))

	storage, err := fx.tree.Store().Get(ctx, 40)
	require.NoError(t, err)
	ids, err := forest.AncestorIDs(storage, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30}, ids)

	eng, err := fx.tree.Store().Get(ctx, 10)
	require.NoError(t, err)
	left, err := fx.tree.DescendantIDs(ctx, eng)
	require.NoError(t, err)
	assert.Equal(t, []int64{31}, left)
}

func TestCycleRejectedEndToEnd(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	eng, err := fx.tree.Store().Get(ctx, 10)
	require.NoError(t, err)
	prev := eng.ParentID
	under := int64(40)
	eng.ParentID = &under
	assert.ErrorIs(t, fx.tree.Move(ctx, eng, prev), forest.ErrCyclicParent)

	// The store still holds the old shape.
	stored, err := fx.tree.Store().Get(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, stored.ParentID)
	assert.Nil(t, stored.Path)
}

func TestExportReplantsElsewhere(t *testing.T) {
	ctx := context.Background()
	fx := setup(t)

	raw, err := ingest.Export(ctx, fx.tree, nil)
	require.NoError(t, err)

	replant := forest.New(forest.NewMemoryStore())
	nodes, err := ingest.Parse(raw, ingest.DefaultMapping())
	require.NoError(t, err)
	created, err := ingest.Plant(ctx, replant, nodes)
	require.NoError(t, err)
	assert.Equal(t, 5, created)

	n, err := replant.Store().Get(ctx, 40)
	require.NoError(t, err)
	ids, err := forest.AncestorIDs(n, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, ids)
}

func TestMountProjection(t *testing.T) {
	fx := setup(t)

	entries, err := fx.ffs.ReadDir("/")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Contains(t, names, "10")
	assert.Contains(t, names, "20")
	assert.NotContains(t, names, "30")

	f, err := fx.ffs.Open("/10/30/40/ancestry")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	buf := make([]byte, 64)
	n, _ := f.Read(buf)
	assert.Equal(t, "10\n30\n40\n", string(buf[:n]))

	info, err := fx.ffs.Stat("/10/30/40/record.json")
	require.NoError(t, err)
	assert.True(t, info.Size() > 0)
}
