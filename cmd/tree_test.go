package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/canopy/internal/forest"
)

func TestRenderChildren(t *testing.T) {
	ctx := context.Background()
	tree := forest.New(forest.NewMemoryStore())
	one, two := int64(1), int64(2)
	require.NoError(t, tree.Create(ctx, &forest.Node{ID: 1, Payload: map[string]any{"name": "engineering"}}))
	require.NoError(t, tree.Create(ctx, &forest.Node{ID: 2, ParentID: &one, Payload: map[string]any{"name": "platform"}}))
	require.NoError(t, tree.Create(ctx, &forest.Node{ID: 3, ParentID: &one}))
	require.NoError(t, tree.Create(ctx, &forest.Node{ID: 4, ParentID: &two}))

	var b strings.Builder
	require.NoError(t, renderChildren(ctx, tree, &b, 1, ""))

	want := strings.Join([]string{
		"├── 2 (platform)",
		"│   └── 4",
		"└── 3",
		"",
	}, "\n")
	assert.Equal(t, want, b.String())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "7", label(&forest.Node{ID: 7}))
	assert.Equal(t, "7 (hq)", label(&forest.Node{ID: 7, Payload: map[string]any{"name": "hq"}}))
}
