package syncback

import (
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// pairing is the result of matching one level of children: new instances
// paired to old nodes, new-only additions, and old-only removals.
type pairing struct {
	matched map[rbxdom.Ref]*snapshot.Node // new ref -> old node
	added   []*rbxdom.Instance
	removed []*snapshot.Node
}

// explicitID extracts a pinned stable id from a model instance, carried in
// its attribute bag under "Rojo_Id".
func explicitID(inst *rbxdom.Instance) (rbxdom.Ref, bool) {
	attrs, ok := inst.Properties["Attributes"].(variant.Attributes)
	if !ok {
		return "", false
	}
	id, ok := attrs["Rojo_Id"].(variant.String)
	if !ok || id == "" {
		return "", false
	}
	return rbxdom.Ref(id), true
}

// matchChildren pairs the children of a model instance against the children
// of a tree node: explicit id first, then unique name within the parent,
// then name+class with a property-overlap tie-break, remaining collisions
// in document order.
func matchChildren(tree *snapshot.Tree, oldNode *snapshot.Node, dom *rbxdom.Dom, newInst *rbxdom.Instance) pairing {
	result := pairing{matched: make(map[rbxdom.Ref]*snapshot.Node)}

	var oldChildren []*snapshot.Node
	if oldNode != nil {
		oldChildren = tree.ChildrenOf(oldNode.ID)
	}
	newChildren := dom.ChildrenOf(newInst.Referent)

	oldTaken := make([]bool, len(oldChildren))
	newTaken := make([]bool, len(newChildren))

	// Pass 1: explicit ids.
	byID := make(map[rbxdom.Ref]int, len(oldChildren))
	for i, old := range oldChildren {
		byID[old.ID] = i
	}
	for newIndex, child := range newChildren {
		id, ok := explicitID(child)
		if !ok {
			continue
		}
		if oldIndex, found := byID[id]; found && !oldTaken[oldIndex] {
			oldTaken[oldIndex] = true
			newTaken[newIndex] = true
			result.matched[child.Referent] = oldChildren[oldIndex]
		}
	}

	// Pass 2: unique name within the parent.
	oldByName := make(map[string][]int)
	for i, old := range oldChildren {
		oldByName[old.Name] = append(oldByName[old.Name], i)
	}
	newNameCount := make(map[string]int)
	for _, child := range newChildren {
		newNameCount[child.Name]++
	}
	for newIndex, child := range newChildren {
		if newTaken[newIndex] || newNameCount[child.Name] != 1 {
			continue
		}
		candidates := availableIndices(oldByName[child.Name], oldTaken)
		if len(candidates) == 1 {
			oldIndex := candidates[0]
			oldTaken[oldIndex] = true
			newTaken[newIndex] = true
			result.matched[child.Referent] = oldChildren[oldIndex]
		}
	}

	// Pass 3: name+class with the tie-break: most matching properties,
	// then document order.
	for newIndex, child := range newChildren {
		if newTaken[newIndex] {
			continue
		}
		best := -1
		bestScore := -1
		for _, oldIndex := range oldByName[child.Name] {
			if oldTaken[oldIndex] {
				continue
			}
			old := oldChildren[oldIndex]
			if old.ClassName != child.ClassName {
				continue
			}
			score := propertyOverlap(old.Properties, child.Properties)
			if score > bestScore {
				best, bestScore = oldIndex, score
			}
		}
		if best >= 0 {
			oldTaken[best] = true
			newTaken[newIndex] = true
			result.matched[child.Referent] = oldChildren[best]
		}
	}

	for newIndex, child := range newChildren {
		if !newTaken[newIndex] {
			result.added = append(result.added, child)
		}
	}
	for oldIndex, old := range oldChildren {
		if !oldTaken[oldIndex] {
			result.removed = append(result.removed, old)
		}
	}
	return result
}

func availableIndices(indices []int, taken []bool) []int {
	out := indices[:0:0]
	for _, i := range indices {
		if !taken[i] {
			out = append(out, i)
		}
	}
	return out
}

func propertyOverlap(oldProps map[string]variant.Value, newProps map[string]variant.Value) int {
	score := 0
	for name, oldValue := range oldProps {
		if newValue, ok := newProps[name]; ok && variant.Equal(oldValue, newValue) {
			score++
		}
	}
	return score
}
