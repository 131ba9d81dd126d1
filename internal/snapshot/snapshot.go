// Package snapshot holds the core tree machinery: instance snapshots
// produced by middlewares, the authoritative instance store, the diff that
// turns two trees into a patch set, and the patch applier.
package snapshot

import (
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/project"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// ErrCancelled aborts a snapshot without touching the tree. It is never
// surfaced to the user as a failure.
var ErrCancelled = errors.New("snapshot cancelled")

// Context carries the inherited environment a middleware runs in: ignore
// globs, sync rules, project root, and script emission mode.
type Context struct {
	ProjectRoot       string
	EmitLegacyScripts bool
	SyncRules         []project.SyncRule
	IgnoreGlobs       []string
	TreeGlobs         []string

	// ClaimedPaths are filesystem paths materialized by their own $path
	// nodes. Orphan scans of ancestor directories skip them so an
	// instance never appears under two logical parents.
	ClaimedPaths map[string]struct{}
}

// NewContext returns a context with defaults matching an empty project.
func NewContext() *Context {
	return &Context{EmitLegacyScripts: true}
}

// Clone returns a copy that can be extended without affecting the parent.
// The claimed-path set is shared; it is read-only after construction.
func (c *Context) Clone() *Context {
	out := *c
	out.SyncRules = append([]project.SyncRule(nil), c.SyncRules...)
	out.IgnoreGlobs = append([]string(nil), c.IgnoreGlobs...)
	out.TreeGlobs = append([]string(nil), c.TreeGlobs...)
	return &out
}

// IsClaimed reports whether p is materialized by its own $path node.
func (c *Context) IsClaimed(p string) bool {
	_, ok := c.ClaimedPaths[path.Clean(p)]
	return ok
}

// ShouldIgnore reports whether p is matched by an ignore glob. Patterns are
// evaluated against p relative to the project root.
func (c *Context) ShouldIgnore(p string) bool {
	rel := c.relToRoot(p)
	for _, glob := range c.IgnoreGlobs {
		if ok, err := doublestar.Match(glob, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// MatchSyncRule returns the first sync rule whose pattern matches p.
func (c *Context) MatchSyncRule(p string) *project.SyncRule {
	for i := range c.SyncRules {
		rule := &c.SyncRules[i]
		rel := p
		if rule.Base != "" {
			if r, ok := relPath(rule.Base, p); ok {
				rel = r
			}
		}
		if ok, err := doublestar.Match(rule.Pattern, rel); err == nil && ok {
			return rule
		}
	}
	return nil
}

func (c *Context) relToRoot(p string) string {
	if c.ProjectRoot == "" {
		return p
	}
	if rel, ok := relPath(c.ProjectRoot, p); ok {
		return rel
	}
	return p
}

func relPath(base, p string) (string, bool) {
	base = path.Clean(base)
	p = path.Clean(p)
	if p == base {
		return ".", true
	}
	if strings.HasPrefix(p, base+"/") {
		return p[len(base)+1:], true
	}
	return "", false
}

// Metadata describes how a snapshot came to be and which paths invalidate
// it.
type Metadata struct {
	// InstigatingSource is the single path whose disappearance removes
	// the instance. Empty for project-defined inline nodes below the
	// project root, whose life is tied to the project file instead; the
	// root of a project tree carries the project file itself.
	InstigatingSource string

	// RelevantPaths are the paths whose change invalidates this
	// instance. Always includes the instigating source.
	RelevantPaths []string

	// Middleware tags the producer, so incremental syncback can keep the
	// on-disk format.
	Middleware string

	IgnoreUnknownInstances bool

	Context *Context
}

// WithInstigatingSource records src as instigating and relevant.
func (m Metadata) WithInstigatingSource(src string) Metadata {
	m.InstigatingSource = src
	m.RelevantPaths = addPath(m.RelevantPaths, src)
	return m
}

// WithRelevantPath adds p to the relevant set.
func (m Metadata) WithRelevantPath(p string) Metadata {
	m.RelevantPaths = addPath(m.RelevantPaths, p)
	return m
}

func addPath(paths []string, p string) []string {
	p = path.Clean(p)
	for _, existing := range paths {
		if existing == p {
			return paths
		}
	}
	out := append([]string(nil), paths...)
	out = append(out, p)
	return out
}

// metadataEqual reports whether two metadata values describe the same
// provenance. Contexts are compared by identity-relevant fields only.
func metadataEqual(a, b Metadata) bool {
	if a.InstigatingSource != b.InstigatingSource ||
		a.Middleware != b.Middleware ||
		a.IgnoreUnknownInstances != b.IgnoreUnknownInstances {
		return false
	}
	if len(a.RelevantPaths) != len(b.RelevantPaths) {
		return false
	}
	as := append([]string(nil), a.RelevantPaths...)
	bs := append([]string(nil), b.RelevantPaths...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

// Snapshot is an immutable description of an instance subtree produced by a
// middleware. Re-running a middleware on unchanged inputs yields an equal
// snapshot.
type Snapshot struct {
	// ID optionally pins a stable id (from meta files or `$id`).
	ID rbxdom.Ref

	Name       string
	ClassName  string
	Properties map[string]variant.Value
	Children   []*Snapshot
	Metadata   Metadata
}

// New returns an empty snapshot of the given name and class.
func New(name, className string) *Snapshot {
	return &Snapshot{
		Name:       name,
		ClassName:  className,
		Properties: make(map[string]variant.Value),
	}
}

// WithProperty sets one property and returns the snapshot for chaining
// during construction.
func (s *Snapshot) WithProperty(name string, v variant.Value) *Snapshot {
	s.Properties[name] = v
	return s
}

// SortChildren orders children lexicographically by name. Middlewares sort
// before returning so insertion order is deterministic.
func (s *Snapshot) SortChildren() {
	sort.SliceStable(s.Children, func(i, j int) bool {
		return s.Children[i].Name < s.Children[j].Name
	})
}

// ToDom converts a snapshot tree into a model document whose root is a
// synthetic container, ready for a model codec. Pinned ids become the
// document referents so Ref properties stay resolvable.
func (s *Snapshot) ToDom() *rbxdom.Dom {
	dom := rbxdom.NewDom(&rbxdom.Instance{Name: "<root>", ClassName: "DataModel"})
	var insert func(parent rbxdom.Ref, snap *Snapshot)
	insert = func(parent rbxdom.Ref, snap *Snapshot) {
		inst := &rbxdom.Instance{
			Referent:   snap.ID,
			Name:       snap.Name,
			ClassName:  snap.ClassName,
			Properties: make(map[string]variant.Value, len(snap.Properties)),
		}
		for k, v := range snap.Properties {
			inst.Properties[k] = v
		}
		ref := dom.Insert(parent, inst)
		for _, child := range snap.Children {
			insert(ref, child)
		}
	}
	insert(dom.RootRef(), s)
	return dom
}

// FromDom converts a model-document subtree into a snapshot tree.
func FromDom(dom *rbxdom.Dom, ref rbxdom.Ref) *Snapshot {
	inst := dom.Get(ref)
	if inst == nil {
		return nil
	}
	snap := &Snapshot{
		Name:       inst.Name,
		ClassName:  inst.ClassName,
		Properties: make(map[string]variant.Value, len(inst.Properties)),
	}
	for k, v := range inst.Properties {
		snap.Properties[k] = v
	}
	for _, child := range inst.Children {
		if c := FromDom(dom, child); c != nil {
			snap.Children = append(snap.Children, c)
		}
	}
	return snap
}
