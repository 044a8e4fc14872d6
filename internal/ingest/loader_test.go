package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/canopy/internal/forest"
)

const orgDoc = `[
  {"id": 3, "parent_id": 1, "name": "platform"},
  {"id": 1, "parent_id": null, "name": "engineering"},
  {"id": 2, "parent_id": 1, "name": "product"},
  {"id": 4, "parent_id": 3, "name": "storage"}
]`

func idp(v int64) *int64 { return &v }

func TestParseDefaultMapping(t *testing.T) {
	nodes, err := Parse([]byte(orgDoc), DefaultMapping())
	require.NoError(t, err)
	require.Len(t, nodes, 4)

	assert.Equal(t, int64(3), nodes[0].ID)
	require.NotNil(t, nodes[0].ParentID)
	assert.Equal(t, int64(1), *nodes[0].ParentID)
	assert.Equal(t, "platform", nodes[0].Payload["name"])

	// Null parent marks a root.
	assert.Equal(t, int64(1), nodes[1].ID)
	assert.Nil(t, nodes[1].ParentID)
}

func TestParseCustomMapping(t *testing.T) {
	doc := `{"units": [{"unit": 7, "boss": 0, "name": "hq"}, {"unit": 8, "boss": 7}]}`
	m := Mapping{Records: "$.units[*]", ID: "$.unit", Parent: "$.boss"}

	nodes, err := Parse([]byte(doc), m)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, int64(7), nodes[0].ID)
	require.NotNil(t, nodes[0].ParentID)
	assert.Equal(t, int64(0), *nodes[0].ParentID)
	assert.Equal(t, int64(7), *nodes[1].ParentID)
}

func TestParseMissingParentFieldIsRoot(t *testing.T) {
	nodes, err := Parse([]byte(`[{"id": 1, "name": "lone"}]`), DefaultMapping())
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Nil(t, nodes[0].ParentID)
}

func TestParseRejectsBadIDs(t *testing.T) {
	for name, doc := range map[string]string{
		"missing":    `[{"parent_id": null}]`,
		"fractional": `[{"id": 1.5}]`,
		"string":     `[{"id": "x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc), DefaultMapping())
			assert.ErrorIs(t, err, forest.ErrInvalidArgument)
		})
	}
}

func TestParseRejectsNonObjectRecord(t *testing.T) {
	_, err := Parse([]byte(`[42]`), DefaultMapping())
	assert.Error(t, err)
}

func TestPlantOrdersParentsFirst(t *testing.T) {
	// orgDoc lists child 3 before its parent 1.
	ctx := context.Background()
	tree := forest.New(forest.NewMemoryStore())

	nodes, err := Parse([]byte(orgDoc), DefaultMapping())
	require.NoError(t, err)
	created, err := Plant(ctx, tree, nodes)
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	n, err := tree.Store().Get(ctx, 4)
	require.NoError(t, err)
	ids, err := forest.AncestorIDs(n, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestPlantAttachesToExistingRecords(t *testing.T) {
	ctx := context.Background()
	tree := forest.New(forest.NewMemoryStore())
	require.NoError(t, tree.Create(ctx, &forest.Node{ID: 1}))

	created, err := Plant(ctx, tree, []*forest.Node{{ID: 5, ParentID: idp(1)}})
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	n, err := tree.Store().Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "11", *n.Path)
}

func TestPlantUnknownParent(t *testing.T) {
	tree := forest.New(forest.NewMemoryStore())
	_, err := Plant(context.Background(), tree, []*forest.Node{{ID: 5, ParentID: idp(99)}})
	assert.ErrorIs(t, err, forest.ErrNotFound)
}

func TestPlantParentCycle(t *testing.T) {
	tree := forest.New(forest.NewMemoryStore())
	batch := []*forest.Node{
		{ID: 1, ParentID: idp(2)},
		{ID: 2, ParentID: idp(1)},
	}
	_, err := Plant(context.Background(), tree, batch)
	assert.ErrorIs(t, err, forest.ErrCyclicParent)
}

func TestPlantDuplicateID(t *testing.T) {
	tree := forest.New(forest.NewMemoryStore())
	_, err := Plant(context.Background(), tree, []*forest.Node{{ID: 1}, {ID: 1}})
	assert.ErrorIs(t, err, forest.ErrInvalidArgument)
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	tree := forest.New(forest.NewMemoryStore())
	nodes, err := Parse([]byte(orgDoc), DefaultMapping())
	require.NoError(t, err)
	_, err = Plant(ctx, tree, nodes)
	require.NoError(t, err)

	raw, err := Export(ctx, tree, nil)
	require.NoError(t, err)

	// The export re-plants into an empty forest with identical shape.
	replant := forest.New(forest.NewMemoryStore())
	again, err := Parse(raw, DefaultMapping())
	require.NoError(t, err)
	created, err := Plant(ctx, replant, again)
	require.NoError(t, err)
	assert.Equal(t, 4, created)

	n, err := replant.Store().Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "platform", n.Payload["name"])
	ids, err := forest.AncestorIDs(n, false)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}

func TestExportSubtree(t *testing.T) {
	ctx := context.Background()
	tree := forest.New(forest.NewMemoryStore())
	nodes, err := Parse([]byte(orgDoc), DefaultMapping())
	require.NoError(t, err)
	_, err = Plant(ctx, tree, nodes)
	require.NoError(t, err)

	root, err := tree.Store().Get(ctx, 3)
	require.NoError(t, err)
	raw, err := Export(ctx, tree, root)
	require.NoError(t, err)

	sub, err := Parse(raw, DefaultMapping())
	require.NoError(t, err)
	require.Len(t, sub, 2)
	assert.Equal(t, int64(3), sub[0].ID)
	assert.Equal(t, int64(4), sub[1].ID)
}
