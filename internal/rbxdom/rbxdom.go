// Package rbxdom holds the weak-identity document model for parsed model
// files, and the registry of codecs that read and write them.
//
// Instances live in an arena keyed by opaque referents. Parent/child links
// and Ref properties are by referent, never by pointer, so dangling
// references are representable and harmless.
package rbxdom

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// Ref is an opaque 128-bit instance referent, rendered as 32 hex characters.
// The zero value is the null referent.
type Ref string

// NewRef mints a fresh referent.
func NewRef() Ref {
	id := uuid.New()
	return Ref(strings.ReplaceAll(id.String(), "-", ""))
}

// IsNone reports whether r is the null referent.
func (r Ref) IsNone() bool { return r == "" }

// Instance is one node of a model document.
type Instance struct {
	Referent   Ref
	Name       string
	ClassName  string
	Properties map[string]variant.Value
	Parent     Ref
	Children   []Ref
}

// Dom is an arena of instances with a single root.
type Dom struct {
	root      Ref
	instances map[Ref]*Instance
}

// NewDom creates a document holding only the given root instance. The root's
// referent is minted if unset.
func NewDom(root *Instance) *Dom {
	if root.Referent.IsNone() {
		root.Referent = NewRef()
	}
	if root.Properties == nil {
		root.Properties = make(map[string]variant.Value)
	}
	return &Dom{
		root:      root.Referent,
		instances: map[Ref]*Instance{root.Referent: root},
	}
}

// RootRef returns the root instance's referent.
func (d *Dom) RootRef() Ref { return d.root }

// Root returns the root instance.
func (d *Dom) Root() *Instance { return d.instances[d.root] }

// Get returns the instance with the given referent, or nil.
func (d *Dom) Get(ref Ref) *Instance {
	return d.instances[ref]
}

// Insert adds inst as the last child of parent and returns its referent.
// The referent is minted if unset.
func (d *Dom) Insert(parent Ref, inst *Instance) Ref {
	if inst.Referent.IsNone() {
		inst.Referent = NewRef()
	}
	if inst.Properties == nil {
		inst.Properties = make(map[string]variant.Value)
	}
	inst.Parent = parent
	d.instances[inst.Referent] = inst
	if p := d.instances[parent]; p != nil {
		p.Children = append(p.Children, inst.Referent)
	}
	return inst.Referent
}

// Remove detaches the instance and its whole subtree from the document.
func (d *Dom) Remove(ref Ref) {
	inst := d.instances[ref]
	if inst == nil {
		return
	}
	if p := d.instances[inst.Parent]; p != nil {
		for i, child := range p.Children {
			if child == ref {
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				break
			}
		}
	}
	var drop func(Ref)
	drop = func(r Ref) {
		node := d.instances[r]
		if node == nil {
			return
		}
		for _, child := range node.Children {
			drop(child)
		}
		delete(d.instances, r)
	}
	drop(ref)
}

// Descendants returns ref and every instance below it, depth first.
func (d *Dom) Descendants(ref Ref) []Ref {
	var out []Ref
	var walk func(Ref)
	walk = func(r Ref) {
		if d.instances[r] == nil {
			return
		}
		out = append(out, r)
		for _, child := range d.instances[r].Children {
			walk(child)
		}
	}
	walk(ref)
	return out
}

// ChildrenOf returns the instance's children, in document order.
func (d *Dom) ChildrenOf(ref Ref) []*Instance {
	inst := d.instances[ref]
	if inst == nil {
		return nil
	}
	out := make([]*Instance, 0, len(inst.Children))
	for _, child := range inst.Children {
		if c := d.instances[child]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

// SortChildrenByName orders the children of ref lexicographically by name.
// Model files carry children in arbitrary order; sorting them makes walks
// deterministic.
func (d *Dom) SortChildrenByName(ref Ref) {
	inst := d.instances[ref]
	if inst == nil {
		return
	}
	sort.SliceStable(inst.Children, func(i, j int) bool {
		a, b := d.instances[inst.Children[i]], d.instances[inst.Children[j]]
		if a == nil || b == nil {
			return false
		}
		return a.Name < b.Name
	})
}
