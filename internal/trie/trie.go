// Package trie implements the name-to-identifier lookup structure used by
// the file-set core to map a logical path (a sequence of path components)
// to a FileID, and to deterministically disambiguate two sites that
// concurrently create files at the same path.
//
// A Trie is a rooted tree keyed at each edge by one path component.
// Directories are implicit: any node with children is a directory. A node
// carries a FileID only when a file terminates there.
package trie

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// FileID globally identifies a tracked file. It is unique by construction:
// each site only ever issues IDs carrying its own Site value.
type FileID struct {
	Site uint32
	ID   uint32
}

// String renders a FileID as "site:id", used in log lines and error text.
func (f FileID) String() string {
	return fmt.Sprintf("%d:%d", f.Site, f.ID)
}

// node is one edge-endpoint of the trie. children is nil until first use to
// keep leaf nodes small.
type node struct {
	id       *FileID
	children map[string]*node
}

// Trie is the path ↔ FileID lookup structure. The zero value is not usable;
// construct with New.
type Trie struct {
	root *node
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{root: &node{}}
}

// normalizeComponent applies Unicode NFC normalization so that two sites
// whose filesystem handed back differently-normalized UTF-8 for the same
// visible name still compare equal. This keeps invariant 5 of the file-set
// state machine (no two distinct FileIDs share one on-disk path) meaningful
// across platforms, not just byte-for-byte on one.
func normalizeComponent(c string) string {
	return norm.NFC.String(c)
}

// Add descends (creating nodes as needed) along every component but the
// last, then attempts to install id at the terminal component. If a file
// already occupies that slot, the terminal component is disambiguated by
// appending "(site {authorSite})" and the attempt is retried at the new
// sibling name, repeating until an empty slot is found. It returns the
// terminal name actually used on disk.
//
// authorSite MUST be the site_id of the operation's author, not the local
// replica's site_id — this is what lets two replicas integrating the same
// remote Create compute the identical printed name.
func (t *Trie) Add(path []string, id FileID, authorSite uint32) string {
	components := make([]string, len(path))
	for i, c := range path {
		components[i] = normalizeComponent(c)
	}

	cur := t.root
	for _, c := range components[:len(components)-1] {
		child, ok := cur.children[c]
		if !ok {
			child = &node{}
			if cur.children == nil {
				cur.children = make(map[string]*node)
			}
			cur.children[c] = child
		}
		cur = child
	}

	name := components[len(components)-1]
	for {
		if cur.children == nil {
			cur.children = make(map[string]*node)
		}

		leaf, ok := cur.children[name]
		if !ok {
			leaf = &node{}
			cur.children[name] = leaf
		}

		if leaf.id == nil {
			idCopy := id
			leaf.id = &idCopy

			return name
		}

		name = fmt.Sprintf("%s(site %d)", name, authorSite)
	}
}

// Get performs an exact-match descent and returns the FileID at path, if
// any.
func (t *Trie) Get(path []string) (FileID, bool) {
	n := t.descend(path)
	if n == nil || n.id == nil {
		return FileID{}, false
	}

	return *n.id, true
}

// descend walks path from the root, returning nil if any intermediate
// component is missing.
func (t *Trie) descend(path []string) *node {
	cur := t.root
	for _, c := range path {
		c = normalizeComponent(c)
		if cur.children == nil {
			return nil
		}

		next, ok := cur.children[c]
		if !ok {
			return nil
		}
		cur = next
	}

	return cur
}

// RemoveFile clears the FileID at path, pruning any ancestor left with no
// FileID and no children. It returns the removed FileID, or false if path
// did not resolve to a file.
func (t *Trie) RemoveFile(path []string) (FileID, bool) {
	components := make([]string, len(path))
	for i, c := range path {
		components[i] = normalizeComponent(c)
	}

	id, _, ok := removeFileComponent(t.root, components)
	if !ok {
		return FileID{}, false
	}

	return id, true
}

// removeFileComponent recurses toward the leaf named by path, clearing its
// FileID, then prunes empty nodes on the way back up. It returns the
// removed FileID, whether node itself is now empty (no id, no children,
// i.e. prunable by the caller), and whether anything was removed.
func removeFileComponent(n *node, path []string) (FileID, bool, bool) {
	if len(path) == 0 {
		if n.id == nil {
			return FileID{}, false, false
		}

		id := *n.id
		n.id = nil

		return id, len(n.children) == 0, true
	}

	child, ok := n.children[path[0]]
	if !ok {
		return FileID{}, false, false
	}

	id, childEmpty, removed := removeFileComponent(child, path[1:])
	if !removed {
		return FileID{}, false, false
	}

	if childEmpty {
		delete(n.children, path[0])
	}

	return id, n.id == nil && len(n.children) == 0, true
}

// RemoveFolder detaches the node at path from its parent (pruning empty
// ancestors) and returns every FileID that was at or under that node, in
// depth-first traversal order. If the node at path itself carries a
// FileID, it is included in the result like any other collected leaf.
// Removing a non-existent path returns an empty, non-nil slice.
func (t *Trie) RemoveFolder(path []string) []FileID {
	components := make([]string, len(path))
	for i, c := range path {
		components[i] = normalizeComponent(c)
	}

	ids, _, _ := removeFolderComponent(t.root, components)

	return ids
}

func removeFolderComponent(n *node, path []string) ([]FileID, bool, bool) {
	if len(path) == 0 {
		ids := make([]FileID, 0)
		collectIDs(n, &ids)
		n.id = nil
		n.children = nil

		return ids, true, true
	}

	child, ok := n.children[path[0]]
	if !ok {
		return []FileID{}, false, false
	}

	ids, childEmpty, removed := removeFolderComponent(child, path[1:])
	if !removed {
		return []FileID{}, false, false
	}

	if childEmpty {
		delete(n.children, path[0])
	}

	return ids, n.id == nil && len(n.children) == 0, true
}

// collectIDs appends every FileID at or under n, in depth-first order.
func collectIDs(n *node, out *[]FileID) {
	if n.id != nil {
		*out = append(*out, *n.id)
	}

	for _, child := range n.children {
		collectIDs(child, out)
	}
}
