// Package pathtree builds prefix trees from dotted attribute-access paths.
// Shared prefixes merge: "tenant.user.email" and "tenant.phone" produce a
// single "tenant" branch with two children.
package pathtree

import "sort"

// Separator splits path segments.
const Separator = "."

// Tree maps a path segment to its subtree. An empty subtree marks a leaf
// (terminal access).
type Tree map[string]Tree

// Build constructs a tree from a list of dotted paths. Duplicate paths
// merge, input order does not matter, and an empty input yields an empty
// tree. Empty strings and empty segments are skipped.
func Build(paths []string) Tree {
	tree := Tree{}
	for _, path := range paths {
		node := tree
		for _, segment := range splitPath(path) {
			child, ok := node[segment]
			if !ok {
				child = Tree{}
				node[segment] = child
			}
			node = child
		}
	}
	return tree
}

// Normalize returns a sorted, deduplicated copy of paths. The normalized
// list is the identity unit for code generation and caching: two inputs
// with the same normalized form are the same path set.
func Normalize(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// SortedKeys returns the node's segments in lexical order, for
// deterministic traversal.
func (t Tree) SortedKeys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsLeaf reports whether the node terminates a path.
func (t Tree) IsLeaf() bool {
	return len(t) == 0
}

// Leaves returns every full path that terminates in the tree, sorted.
func (t Tree) Leaves() []string {
	var out []string
	var walk func(node Tree, prefix string)
	walk = func(node Tree, prefix string) {
		if node.IsLeaf() {
			if prefix != "" {
				out = append(out, prefix)
			}
			return
		}
		for _, seg := range node.SortedKeys() {
			next := seg
			if prefix != "" {
				next = prefix + Separator + seg
			}
			walk(node[seg], next)
		}
	}
	walk(t, "")
	return out
}

func splitPath(path string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				segs = append(segs, path[start:i])
			}
			start = i + 1
		}
	}
	return segs
}
