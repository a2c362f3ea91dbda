package reference

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree(t *testing.T) {
	t.Run("groups by parent and sorts siblings by name", func(t *testing.T) {
		entities := []Entity{
			{ID: 1, Name: "Electronics", ParentID: 0},
			{ID: 2, Name: "phones", ParentID: 1},
			{ID: 3, Name: "Laptops", ParentID: 1},
			{ID: 4, Name: "Books", ParentID: 0},
		}

		roots := BuildTree(entities)
		require.Len(t, roots, 2)
		assert.Equal(t, int64(4), roots[0].ID)
		assert.Equal(t, int64(1), roots[1].ID)
		assert.Empty(t, roots[0].Children)
		assert.NotNil(t, roots[0].Children)

		children := roots[1].Children
		require.Len(t, children, 2)
		assert.Equal(t, int64(3), children[0].ID)
		assert.Equal(t, int64(2), children[1].ID)
	})

	t.Run("children 2 and 3 land under root 1", func(t *testing.T) {
		entities := []Entity{
			{ID: 1, Name: "A", ParentID: 0},
			{ID: 2, Name: "B", ParentID: 1},
			{ID: 3, Name: "C", ParentID: 1},
			{ID: 4, Name: "D", ParentID: 0},
		}

		roots := BuildTree(entities)
		require.Len(t, roots, 2)
		assert.Equal(t, int64(1), roots[0].ID)
		assert.Equal(t, int64(4), roots[1].ID)
		require.Len(t, roots[0].Children, 2)
		assert.Equal(t, int64(2), roots[0].Children[0].ID)
		assert.Equal(t, int64(3), roots[0].Children[1].ID)
	})

	t.Run("orphans become roots", func(t *testing.T) {
		roots := BuildTree([]Entity{
			{ID: 10, Name: "Orphan", ParentID: 99},
			{ID: 11, Name: "Self", ParentID: 11},
		})
		require.Len(t, roots, 2)
		assert.Equal(t, int64(10), roots[0].ID)
		assert.Equal(t, int64(11), roots[1].ID)
	})

	t.Run("two-node cycle is broken at the lowest id", func(t *testing.T) {
		roots := BuildTree([]Entity{
			{ID: 21, Name: "Left", ParentID: 22},
			{ID: 22, Name: "Right", ParentID: 21},
			{ID: 1, Name: "Top"},
		})
		require.Len(t, roots, 2)
		assert.Equal(t, int64(21), roots[0].ID)
		assert.Equal(t, int64(1), roots[1].ID)
		require.Len(t, roots[0].Children, 1)
		assert.Equal(t, int64(22), roots[0].Children[0].ID)
		assert.Len(t, Flatten(roots), 3)
	})

	t.Run("cycle with hanging descendants keeps them attached", func(t *testing.T) {
		roots := BuildTree([]Entity{
			{ID: 3, Name: "Leaf", ParentID: 6},
			{ID: 5, Name: "A", ParentID: 7},
			{ID: 6, Name: "B", ParentID: 5},
			{ID: 7, Name: "C", ParentID: 6},
		})
		require.Len(t, roots, 1)
		assert.Equal(t, int64(5), roots[0].ID)

		leaf, ok := FindNode(roots, 3)
		require.True(t, ok)
		assert.Equal(t, "Leaf", leaf.Name)

		ids := map[int64]int{}
		for _, e := range Flatten(roots) {
			ids[e.ID]++
		}
		assert.Equal(t, map[int64]int{3: 1, 5: 1, 6: 1, 7: 1}, ids)
	})

	t.Run("equal names order by id", func(t *testing.T) {
		roots := BuildTree([]Entity{
			{ID: 7, Name: "Same"},
			{ID: 5, Name: "same"},
		})
		require.Len(t, roots, 2)
		assert.Equal(t, int64(5), roots[0].ID)
		assert.Equal(t, int64(7), roots[1].ID)
	})

	t.Run("nested levels", func(t *testing.T) {
		roots := BuildTree([]Entity{
			{ID: 1, Name: "Root"},
			{ID: 2, Name: "Mid", ParentID: 1},
			{ID: 3, Name: "Leaf", ParentID: 2},
		})
		node, ok := FindNode(roots, 3)
		require.True(t, ok)
		assert.Equal(t, "Leaf", node.Name)

		flat := Flatten(roots)
		require.Len(t, flat, 3)
		assert.Equal(t, []int64{1, 2, 3}, []int64{flat[0].ID, flat[1].ID, flat[2].ID})

		_, ok = FindNode(roots, 42)
		assert.False(t, ok)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, BuildTree(nil))
	})
}

func TestTreeNode_JSON(t *testing.T) {
	roots := BuildTree([]Entity{
		{ID: 1, Name: "Root"},
		{ID: 2, Name: "Child", ParentID: 1},
	})

	data, err := json.Marshal(roots)
	require.NoError(t, err)

	var decoded []TreeNode
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, roots, decoded)
}
