package snapshot

import (
	"strings"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// Diff computes the PatchSet that makes the subtree of t rooted at id equal
// to newSnap. Child ordering is not diffed: middleware output is sorted by
// name before insertion, so a pure reorder produces no patch.
func Diff(t *Tree, id rbxdom.Ref, newSnap *Snapshot) *PatchSet {
	patch := &PatchSet{}
	t.mu.RLock()
	defer t.mu.RUnlock()
	diffNode(t, id, newSnap, patch)
	return patch
}

func diffNode(t *Tree, id rbxdom.Ref, newSnap *Snapshot, patch *PatchSet) {
	node := t.nodes[id]
	if node == nil {
		return
	}

	update := PatchUpdate{ID: id}

	if node.Name != newSnap.Name {
		name := newSnap.Name
		update.Name = &name
	}
	if node.ClassName != newSnap.ClassName {
		class := newSnap.ClassName
		update.ClassName = &class
	}

	for name, newValue := range newSnap.Properties {
		oldValue, present := node.Properties[name]
		if !present || !variant.Equal(oldValue, newValue) {
			if update.Properties == nil {
				update.Properties = make(map[string]variant.Value)
			}
			update.Properties[name] = newValue
		}
	}
	for name := range node.Properties {
		if _, present := newSnap.Properties[name]; !present {
			update.RemovedProperties = append(update.RemovedProperties, name)
		}
	}

	if !metadataEqual(node.Meta, newSnap.Metadata) {
		meta := newSnap.Metadata
		update.Metadata = &meta
	}

	if update.HasChanges() {
		patch.Updated = append(patch.Updated, update)
	}

	diffChildren(t, node, newSnap, patch)
}

// diffChildren pairs old children against new children by name, then class,
// with a property-overlap tie-break. Unmatched old children are removed;
// unmatched new children are added as whole subtrees.
func diffChildren(t *Tree, node *Node, newSnap *Snapshot, patch *PatchSet) {
	oldChildren := make([]*Node, 0, len(node.Children))
	for _, childID := range node.Children {
		if child := t.nodes[childID]; child != nil {
			oldChildren = append(oldChildren, child)
		}
	}

	matchedOld := make([]bool, len(oldChildren))
	matchedNew := make([]bool, len(newSnap.Children))

	// First pass: pair by name and class, resolving collisions with the
	// shared tie-break.
	for newIndex, newChild := range newSnap.Children {
		best := -1
		bestScore := -1
		for oldIndex, oldChild := range oldChildren {
			if matchedOld[oldIndex] {
				continue
			}
			if oldChild.Name != newChild.Name || oldChild.ClassName != newChild.ClassName {
				continue
			}
			score := matchScore(oldChild.Properties, newChild.Properties, oldChild.Meta.InstigatingSource, newChild.Metadata.InstigatingSource)
			if score > bestScore {
				best, bestScore = oldIndex, score
			}
		}
		if best >= 0 {
			matchedOld[best] = true
			matchedNew[newIndex] = true
			diffNode(t, oldChildren[best].ID, newChild, patch)
		}
	}

	// Second pass: same name, different class still pairs (the class
	// change rides in the update) when nothing better claimed either side.
	for newIndex, newChild := range newSnap.Children {
		if matchedNew[newIndex] {
			continue
		}
		for oldIndex, oldChild := range oldChildren {
			if matchedOld[oldIndex] || oldChild.Name != newChild.Name {
				continue
			}
			matchedOld[oldIndex] = true
			matchedNew[newIndex] = true
			diffNode(t, oldChild.ID, newChild, patch)
			break
		}
	}

	for oldIndex, oldChild := range oldChildren {
		if !matchedOld[oldIndex] {
			patch.Removed = append(patch.Removed, oldChild.ID)
		}
	}
	for newIndex, newChild := range newSnap.Children {
		if !matchedNew[newIndex] {
			patch.Added = append(patch.Added, PatchAdd{ParentID: node.ID, Snapshot: newChild})
		}
	}
}

// matchScore ranks candidate pairs that share name and class: the count of
// matching properties, weighted above an instigating-source proximity bonus
// so property overlap always dominates.
func matchScore(oldProps, newProps map[string]variant.Value, oldSource, newSource string) int {
	score := 0
	for name, oldValue := range oldProps {
		if newValue, ok := newProps[name]; ok && variant.Equal(oldValue, newValue) {
			score += 4
		}
	}
	if oldSource != "" && oldSource == newSource {
		score += 2
	} else if oldSource != "" && newSource != "" && samePathDir(oldSource, newSource) {
		score++
	}
	return score
}

func samePathDir(a, b string) bool {
	ai := strings.LastIndexByte(a, '/')
	bi := strings.LastIndexByte(b, '/')
	if ai < 0 || bi < 0 {
		return false
	}
	return a[:ai] == b[:bi]
}
