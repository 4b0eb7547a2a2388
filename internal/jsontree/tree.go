// Package jsontree assembles flat dotted-path maps into bounded-depth
// nested structures and provides merge/get/remove over them.
//
// Paths look like "customer.address.city" with at most 5 segments; a
// segment of the form "items[2]" addresses an element of an array,
// growing it with empty objects as needed. All operations share one
// path-splitting rule so assemble/get/merge round-trips are consistent.
package jsontree

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MaxDepth bounds path depth regardless of input.
const MaxDepth = 5

var logger zerolog.Logger = log.With().Str("component", "jsontree").Logger()

// Tree is a nested JSON-shaped structure: string keys mapping to scalars,
// []any arrays or further Trees.
type Tree = map[string]any

// splitPath splits a dotted path, trims each segment and truncates paths
// deeper than MaxDepth. Every operation in this package must go through
// it.
func splitPath(path string) []string {
	parts := strings.Split(path, ".")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > MaxDepth {
		logger.Warn().Str("path", path).Int("max_depth", MaxDepth).
			Msg("path exceeds maximum nesting depth, truncating")
		parts = parts[:MaxDepth]
	}
	return parts
}

// Assemble builds a Tree from a map of dotted paths to values. A path that
// conflicts with an existing leaf (an object is required where a scalar
// already sits) is skipped with a warning; the rest of the map is
// unaffected.
func Assemble(pathValues map[string]any) Tree {
	root := Tree{}
	for path, value := range pathValues {
		if path == "" {
			logger.Warn().Msg("skipping empty path")
			continue
		}
		Set(root, path, value)
	}
	return root
}

// Set writes value at path inside root, creating intermediate objects and
// arrays. It reports whether the write happened.
func Set(root Tree, path string, value any) bool {
	parts := splitPath(path)
	node := root

	for _, part := range parts[:len(parts)-1] {
		name, idx, isArray := splitArraySegment(part)
		if isArray {
			child, ok := descendArray(node, name, idx)
			if !ok {
				logger.Warn().Str("path", path).Str("segment", part).
					Msg("path conflict: existing node is not an array")
				return false
			}
			node = child
			continue
		}

		existing, ok := node[part]
		if !ok {
			child := Tree{}
			node[part] = child
			node = child
			continue
		}
		child, ok := existing.(Tree)
		if !ok {
			logger.Warn().Str("path", path).Str("segment", part).
				Msg("path conflict: existing node is not an object")
			return false
		}
		node = child
	}

	last := parts[len(parts)-1]
	if name, idx, isArray := splitArraySegment(last); isArray {
		arr, ok := node[name].([]any)
		if !ok && node[name] != nil {
			logger.Warn().Str("path", path).Str("segment", last).
				Msg("path conflict: existing node is not an array")
			return false
		}
		for len(arr) <= idx {
			arr = append(arr, Tree{})
		}
		arr[idx] = value
		node[name] = arr
		return true
	}
	node[last] = value
	return true
}

// descendArray returns the object at node[name][idx], growing the array
// with empty object placeholders up to idx+1 elements.
func descendArray(node Tree, name string, idx int) (Tree, bool) {
	var arr []any
	if existing, ok := node[name]; ok {
		arr, ok = existing.([]any)
		if !ok {
			return nil, false
		}
	}
	for len(arr) <= idx {
		arr = append(arr, Tree{})
	}
	node[name] = arr

	elem, ok := arr[idx].(Tree)
	if !ok {
		return nil, false
	}
	return elem, true
}

// splitArraySegment recognizes "name[idx]" segments.
func splitArraySegment(segment string) (name string, idx int, ok bool) {
	open := strings.Index(segment, "[")
	if open <= 0 || !strings.HasSuffix(segment, "]") {
		return "", 0, false
	}
	n, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return segment[:open], n, true
}

// Get returns the value at path, or false if any intermediate segment is
// absent or not an object.
func Get(root Tree, path string) (any, bool) {
	var current any = root
	for _, part := range splitPath(path) {
		node, ok := current.(Tree)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Merge deep-merges overlay onto a copy of base. When both sides hold an
// object at a key the children are merged recursively; otherwise the
// overlay value wins.
func Merge(base, overlay Tree) Tree {
	out := deepCopy(base)
	for key, overlayValue := range overlay {
		baseChild, baseIsTree := out[key].(Tree)
		overlayChild, overlayIsTree := overlayValue.(Tree)
		if baseIsTree && overlayIsTree {
			out[key] = Merge(baseChild, overlayChild)
			continue
		}
		out[key] = deepCopyValue(overlayValue)
	}
	return out
}

// Remove deletes the value at path and reports whether anything was
// removed.
func Remove(root Tree, path string) bool {
	parts := splitPath(path)
	node := root
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(Tree)
		if !ok {
			return false
		}
		node = child
	}
	last := parts[len(parts)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}

func deepCopy(t Tree) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case Tree:
		return deepCopy(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return v
	}
}
