package jsontree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_NestsDottedPaths(t *testing.T) {
	tree := Assemble(map[string]any{
		"id":                    "ORD-1",
		"customer.name":         "Acme",
		"customer.address.city": "Oslo",
		"customer.address.zip":  "0150",
	})

	assert.Equal(t, Tree{
		"id": "ORD-1",
		"customer": Tree{
			"name": "Acme",
			"address": Tree{
				"city": "Oslo",
				"zip":  "0150",
			},
		},
	}, tree)
}

func TestAssemble_GetRoundTrip(t *testing.T) {
	paths := map[string]any{
		"a":     1,
		"b.c":   "two",
		"b.d.e": 3.0,
	}
	tree := Assemble(paths)
	for path, want := range paths {
		got, ok := Get(tree, path)
		require.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
}

func TestSet_TruncatesDeepPaths(t *testing.T) {
	tree := Tree{}
	require.True(t, Set(tree, "a.b.c.d.e.f.g", "deep"))

	// Only the first five segments survive.
	got, ok := Get(tree, "a.b.c.d.e")
	require.True(t, ok)
	assert.Equal(t, "deep", got)
}

func TestSet_ArraySegments(t *testing.T) {
	tree := Tree{}
	require.True(t, Set(tree, "items[1].sku", "SKU-9"))
	require.True(t, Set(tree, "items[1].qty", 2))
	require.True(t, Set(tree, "tags[0]", "red"))

	items, ok := tree["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, Tree{}, items[0])
	assert.Equal(t, Tree{"sku": "SKU-9", "qty": 2}, items[1])

	tags, ok := tree["tags"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"red"}, tags)
}

func TestSet_ConflictLeavesTreeIntact(t *testing.T) {
	tree := Tree{}
	require.True(t, Set(tree, "a.b", 1))

	// a.b is a scalar; descending through it must refuse.
	assert.False(t, Set(tree, "a.b.c", 2))

	got, ok := Get(tree, "a.b")
	require.True(t, ok)
	assert.Equal(t, 1, got)
}

func TestAssemble_SkipsConflictingPathOnly(t *testing.T) {
	tree := Assemble(map[string]any{
		"a":   "scalar",
		"a.b": "nested under scalar",
		"c":   "fine",
	})
	// One of the conflicting paths wins depending on map order; the
	// independent key is always present.
	got, ok := Get(tree, "c")
	require.True(t, ok)
	assert.Equal(t, "fine", got)
}

func TestMerge_OverlayWinsAndBaseUnchanged(t *testing.T) {
	base := Assemble(map[string]any{
		"customer.name": "Acme",
		"customer.tier": "gold",
		"total":         10,
	})
	overlay := Assemble(map[string]any{
		"customer.tier": "platinum",
		"note":          "rush",
	})

	merged := Merge(base, overlay)

	tier, _ := Get(merged, "customer.tier")
	assert.Equal(t, "platinum", tier)
	name, _ := Get(merged, "customer.name")
	assert.Equal(t, "Acme", name)
	note, _ := Get(merged, "note")
	assert.Equal(t, "rush", note)

	// Base must not be mutated through the merge result.
	Set(merged, "customer.name", "Mutated")
	origName, _ := Get(base, "customer.name")
	assert.Equal(t, "Acme", origName)
}

func TestMerge_ScalarOverObjectReplaces(t *testing.T) {
	base := Assemble(map[string]any{"customer.name": "Acme"})
	merged := Merge(base, Tree{"customer": "collapsed"})
	assert.Equal(t, "collapsed", merged["customer"])
}

func TestRemove(t *testing.T) {
	tree := Assemble(map[string]any{"a.b": 1, "a.c": 2})

	assert.True(t, Remove(tree, "a.b"))
	_, ok := Get(tree, "a.b")
	assert.False(t, ok)

	got, ok := Get(tree, "a.c")
	require.True(t, ok)
	assert.Equal(t, 2, got)

	assert.False(t, Remove(tree, "a.b"))
	assert.False(t, Remove(tree, "x.y"))
}
