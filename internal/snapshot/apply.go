package snapshot

import (
	"fmt"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// ApplyMode selects the nil-Ref convention for property updates.
type ApplyMode int

const (
	// ForwardSync treats a nil Ref value as "unresolved reference" and
	// leaves the old value in place. Removals must use
	// RemovedProperties.
	ForwardSync ApplyMode = iota

	// Syncback applies nil Refs literally; callers convert nil refs to
	// removals before building the patch.
	Syncback
)

// Apply mutates the tree according to patch, in the order removed, updated,
// added (parents before children). It returns the applied set with newly
// minted ids resolved.
//
// Apply never fails on dangling references. It fails on a missing parent or
// update target, which is a programming error in the caller.
func Apply(t *Tree, patch *PatchSet, mode ApplyMode) (*AppliedPatchSet, error) {
	applied := &AppliedPatchSet{}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range patch.Removed {
		if t.nodes[id] == nil {
			return nil, fmt.Errorf("internal error: patch removes unknown instance %s", id)
		}
		t.removeLocked(id)
		applied.Removed = append(applied.Removed, id)
	}

	for _, update := range patch.Updated {
		node := t.nodes[update.ID]
		if node == nil {
			return nil, fmt.Errorf("internal error: patch updates unknown instance %s", update.ID)
		}

		if update.Name != nil {
			node.Name = *update.Name
		}
		if update.ClassName != nil {
			node.ClassName = *update.ClassName
		}
		for name, value := range update.Properties {
			if mode == ForwardSync {
				if ref, ok := value.(variant.Ref); ok && ref.IsNone() {
					// Unresolved reference sentinel: keep the old value.
					continue
				}
			}
			node.Properties[name] = value
		}
		for _, name := range update.RemovedProperties {
			delete(node.Properties, name)
		}
		if update.Metadata != nil {
			old := node.Meta
			node.Meta = *update.Metadata
			t.reindexLocked(node, old)
		}

		applied.Updated = append(applied.Updated, update)
	}

	for _, add := range patch.Added {
		if t.nodes[add.ParentID] == nil {
			return nil, fmt.Errorf("internal error: patch adds under unknown parent %s", add.ParentID)
		}
		id := t.insertLocked(add.ParentID, add.Snapshot)
		applied.Added = append(applied.Added, AppliedAdd{
			ParentID: add.ParentID,
			ID:       id,
			Snapshot: add.Snapshot,
		})
	}

	return applied, nil
}
