package snapshot

import (
	"fmt"
	"strings"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// PatchSet describes changes to apply to a Tree: removed ids, property and
// identity updates, and added subtrees.
type PatchSet struct {
	Removed []rbxdom.Ref
	Updated []PatchUpdate
	Added   []PatchAdd
}

// PatchAdd grafts a full snapshot subtree under an existing parent (or a
// parent added earlier in the same patch).
type PatchAdd struct {
	ParentID rbxdom.Ref
	Snapshot *Snapshot
}

// PatchUpdate changes one instance in place. Nil pointer fields mean "no
// change"; entries in Properties are set as given, and properties are
// removed only through RemovedProperties.
type PatchUpdate struct {
	ID         rbxdom.Ref
	Name       *string
	ClassName  *string
	Properties map[string]variant.Value
	// RemovedProperties lists properties to delete. Kept separate from
	// Properties so a nil variant never has to act as a marker value.
	RemovedProperties []string
	Metadata          *Metadata
}

// IsEmpty reports whether the patch would change nothing.
func (p *PatchSet) IsEmpty() bool {
	return len(p.Removed) == 0 && len(p.Updated) == 0 && len(p.Added) == 0
}

// Merge appends other's changes onto p.
func (p *PatchSet) Merge(other *PatchSet) {
	p.Removed = append(p.Removed, other.Removed...)
	p.Updated = append(p.Updated, other.Updated...)
	p.Added = append(p.Added, other.Added...)
}

// HasChanges on an update reports whether any field is set.
func (u *PatchUpdate) HasChanges() bool {
	return u.Name != nil || u.ClassName != nil || len(u.Properties) > 0 ||
		len(u.RemovedProperties) > 0 || u.Metadata != nil
}

// AppliedPatchSet mirrors PatchSet with every newly minted id resolved, so
// subscribers can refer to added instances.
type AppliedPatchSet struct {
	Removed []rbxdom.Ref
	Updated []PatchUpdate
	Added   []AppliedAdd
}

// AppliedAdd records where a subtree landed and the ids it received.
type AppliedAdd struct {
	ParentID rbxdom.Ref
	ID       rbxdom.Ref
	Snapshot *Snapshot
}

// IsEmpty reports whether anything was applied.
func (a *AppliedPatchSet) IsEmpty() bool {
	return len(a.Removed) == 0 && len(a.Updated) == 0 && len(a.Added) == 0
}

// Summary renders a short human-readable description for logs.
func (a *AppliedPatchSet) Summary() string {
	var parts []string
	if n := len(a.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	if n := len(a.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", n))
	}
	if n := len(a.Updated); n > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", n))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, ", ")
}
