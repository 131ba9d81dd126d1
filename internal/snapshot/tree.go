package snapshot

import (
	"fmt"
	"log"
	"path"
	"sync"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// Tree is the authoritative instance tree. Nodes have stable ids; the tree
// keeps a reverse index from every relevant path to the ids it affects.
//
// A single writer lock guards mutation; the patch applier is the only
// writer. Readers (the serve layer) take the read lock.
type Tree struct {
	mu     sync.RWMutex
	rootID rbxdom.Ref
	nodes  map[rbxdom.Ref]*Node

	// byPath is a multimap: a meta file adjacent to a script affects the
	// script's node as well as its own, so one path can map to many ids.
	byPath map[string]map[rbxdom.Ref]struct{}
}

// Node is one instance in the tree.
type Node struct {
	ID         rbxdom.Ref
	Parent     rbxdom.Ref
	Name       string
	ClassName  string
	Properties map[string]variant.Value
	Children   []rbxdom.Ref
	Meta       Metadata
}

// NewTree builds a tree from a snapshot, minting ids for every node.
func NewTree(root *Snapshot) *Tree {
	t := &Tree{
		nodes:  make(map[rbxdom.Ref]*Node),
		byPath: make(map[string]map[rbxdom.Ref]struct{}),
	}
	t.rootID = t.insertLocked("", root)
	return t
}

// RootID returns the id of the root instance.
func (t *Tree) RootID() rbxdom.Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rootID
}

// Get returns the node with the given id, or nil. The returned node must be
// treated as read-only.
func (t *Tree) Get(id rbxdom.Ref) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

// IDsAtPath returns every id whose relevant paths include p.
func (t *Tree) IDsAtPath(p string) []rbxdom.Ref {
	p = path.Clean(p)
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]rbxdom.Ref, 0, len(t.byPath[p]))
	for id := range t.byPath[p] {
		ids = append(ids, id)
	}
	return ids
}

// ChildrenOf returns the node's children in insertion order.
func (t *Tree) ChildrenOf(id rbxdom.Ref) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node := t.nodes[id]
	if node == nil {
		return nil
	}
	out := make([]*Node, 0, len(node.Children))
	for _, child := range node.Children {
		if c := t.nodes[child]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// SnapshotOf reconstructs a snapshot of the subtree rooted at id.
func (t *Tree) SnapshotOf(id rbxdom.Ref) *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked(id)
}

func (t *Tree) snapshotLocked(id rbxdom.Ref) *Snapshot {
	node := t.nodes[id]
	if node == nil {
		return nil
	}
	snap := &Snapshot{
		ID:         node.ID,
		Name:       node.Name,
		ClassName:  node.ClassName,
		Properties: make(map[string]variant.Value, len(node.Properties)),
		Metadata:   node.Meta,
	}
	for k, v := range node.Properties {
		snap.Properties[k] = v
	}
	for _, child := range node.Children {
		if c := t.snapshotLocked(child); c != nil {
			snap.Children = append(snap.Children, c)
		}
	}
	return snap
}

// insertLocked adds a snapshot subtree under parent, preserving a pinned id
// when the snapshot carries one. Caller holds the write lock (or owns the
// tree exclusively during construction).
func (t *Tree) insertLocked(parent rbxdom.Ref, snap *Snapshot) rbxdom.Ref {
	id := snap.ID
	if id.IsNone() {
		id = rbxdom.NewRef()
	} else if _, exists := t.nodes[id]; exists {
		// Two sources pinned the same explicit id. The first wins its
		// identity; the collider gets a fresh one so the arena stays
		// consistent.
		log.Printf("[tree] Warning: explicit id %s already in use, minting a new id for %q", id, snap.Name)
		id = rbxdom.NewRef()
	}

	node := &Node{
		ID:         id,
		Parent:     parent,
		Name:       snap.Name,
		ClassName:  snap.ClassName,
		Properties: make(map[string]variant.Value, len(snap.Properties)),
		Meta:       snap.Metadata,
	}
	for k, v := range snap.Properties {
		node.Properties[k] = v
	}
	t.nodes[id] = node

	if p := t.nodes[parent]; p != nil {
		p.Children = append(p.Children, id)
	}

	t.indexLocked(node)

	for _, child := range snap.Children {
		t.insertLocked(id, child)
	}
	return id
}

// removeLocked detaches id and its subtree, unindexing every node.
func (t *Tree) removeLocked(id rbxdom.Ref) {
	node := t.nodes[id]
	if node == nil {
		return
	}
	if p := t.nodes[node.Parent]; p != nil {
		for i, child := range p.Children {
			if child == id {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	var drop func(rbxdom.Ref)
	drop = func(r rbxdom.Ref) {
		n := t.nodes[r]
		if n == nil {
			return
		}
		for _, child := range n.Children {
			drop(child)
		}
		t.unindexLocked(n)
		delete(t.nodes, r)
	}
	drop(id)
}

func (t *Tree) indexLocked(node *Node) {
	for _, p := range node.Meta.RelevantPaths {
		p = path.Clean(p)
		set, ok := t.byPath[p]
		if !ok {
			set = make(map[rbxdom.Ref]struct{})
			t.byPath[p] = set
		}
		set[node.ID] = struct{}{}
	}
}

func (t *Tree) unindexLocked(node *Node) {
	for _, p := range node.Meta.RelevantPaths {
		p = path.Clean(p)
		if set, ok := t.byPath[p]; ok {
			delete(set, node.ID)
			if len(set) == 0 {
				delete(t.byPath, p)
			}
		}
	}
}

// reindexLocked swaps a node's path index entries after a metadata update.
func (t *Tree) reindexLocked(node *Node, old Metadata) {
	for _, p := range old.RelevantPaths {
		p = path.Clean(p)
		if set, ok := t.byPath[p]; ok {
			delete(set, node.ID)
			if len(set) == 0 {
				delete(t.byPath, p)
			}
		}
	}
	t.indexLocked(node)
}

// DebugString renders the tree for test failures.
func (t *Tree) DebugString() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out string
	var walk func(id rbxdom.Ref, depth int)
	walk = func(id rbxdom.Ref, depth int) {
		node := t.nodes[id]
		if node == nil {
			return
		}
		for i := 0; i < depth; i++ {
			out += "  "
		}
		out += fmt.Sprintf("%s (%s)\n", node.Name, node.ClassName)
		for _, child := range node.Children {
			walk(child, depth+1)
		}
	}
	walk(t.rootID, 0)
	return out
}
