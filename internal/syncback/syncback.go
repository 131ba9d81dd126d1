package syncback

import (
	"fmt"
	"log"
	"path"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/pathenc"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/refdb"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// Mode selects how much of the existing on-disk state the planner respects.
type Mode int

const (
	// Clean removes anything under a planned directory that the plan
	// itself does not produce, except hidden entries and project files.
	Clean Mode = iota

	// Incremental reuses the middleware kind recorded per instance
	// wherever the new instance still fits it. It removes the files of
	// instances that disappeared and the old files of instances whose
	// primary path moved, and runs no orphan scan.
	Incremental
)

// Options configures a syncback plan.
type Options struct {
	Mode             Mode
	RefDB            refdb.Database
	SyncUnscriptable bool
}

// SyncbackReturn describes one planned subtree: the work for this instance
// and the child pairs to recurse into.
type SyncbackReturn struct {
	Children        []ChildJob
	RemovedChildren []*snapshot.Node
}

// ChildJob pairs a model child with its (possibly nil) old node and the
// directory it will live in.
type ChildJob struct {
	Old       *snapshot.Node
	New       *rbxdom.Instance
	ParentDir string
}

type planner struct {
	tree *snapshot.Tree
	dom  *rbxdom.Dom
	vfs  *vfs.VFS
	ictx *snapshot.Context
	opts Options
	out  *FsSnapshot

	matches  map[rbxdom.Ref]*snapshot.Node
	ids      map[rbxdom.Ref]string
	needsID  map[rbxdom.Ref]bool
	produced map[string]struct{}
}

// Plan computes the filesystem mutations that make a build of the project
// reproduce the model rooted at newRoot. Running Plan twice over an
// unchanged pair yields an empty plan the second time.
func Plan(tree *snapshot.Tree, dom *rbxdom.Dom, newRoot rbxdom.Ref, v *vfs.VFS, ictx *snapshot.Context, opts Options) (*FsSnapshot, error) {
	if opts.RefDB == nil {
		opts.RefDB = refdb.Builtin()
	}
	if ictx == nil {
		ictx = snapshot.NewContext()
	}

	pl := &planner{
		tree:     tree,
		dom:      dom,
		vfs:      v,
		ictx:     ictx,
		opts:     opts,
		out:      NewFsSnapshot(),
		matches:  make(map[rbxdom.Ref]*snapshot.Node),
		ids:      make(map[rbxdom.Ref]string),
		needsID:  make(map[rbxdom.Ref]bool),
		produced: make(map[string]struct{}),
	}

	rootInst := dom.Get(newRoot)
	if rootInst == nil {
		return nil, fmt.Errorf("internal error: model root %s not in document", newRoot)
	}
	oldRoot := tree.Get(tree.RootID())

	pl.matches[newRoot] = oldRoot
	pl.buildMatches(oldRoot, rootInst)
	pl.linkRefs()

	if err := pl.emit(oldRoot, rootInst, ""); err != nil {
		return nil, err
	}
	return pl.out, nil
}

// buildMatches pairs every model instance with an old node before any
// emission, so reference linking can see the whole tree.
func (pl *planner) buildMatches(oldNode *snapshot.Node, newInst *rbxdom.Instance) {
	pair := matchChildren(pl.tree, oldNode, pl.dom, newInst)
	for newRef, old := range pair.matched {
		pl.matches[newRef] = old
		pl.buildMatches(old, pl.dom.Get(newRef))
	}
	for _, added := range pair.added {
		pl.buildMatches(nil, added)
	}
}

// linkRefs assigns a stable string id to every instance targeted by a Ref
// property, and marks it as needing an id in its emitted metadata.
func (pl *planner) linkRefs() {
	for _, ref := range pl.dom.Descendants(pl.dom.RootRef()) {
		inst := pl.dom.Get(ref)
		for _, value := range inst.Properties {
			target, ok := value.(variant.Ref)
			if !ok || target.IsNone() {
				continue
			}
			targetRef := rbxdom.Ref(target)
			if pl.dom.Get(targetRef) == nil {
				// Dangling reference: nothing to link.
				continue
			}
			if _, done := pl.ids[targetRef]; done {
				continue
			}
			if old := pl.matches[targetRef]; old != nil {
				pl.ids[targetRef] = string(old.ID)
			} else {
				pl.ids[targetRef] = string(rbxdom.NewRef())
			}
			pl.needsID[targetRef] = true
		}
	}
}

// emit plans one instance. parentDir is empty only for the root, whose
// location comes from its old node's provenance.
func (pl *planner) emit(oldNode *snapshot.Node, inst *rbxdom.Instance, parentDir string) error {
	if oldNode != nil && middleware.Kind(oldNode.Meta.Middleware) == middleware.KindProject {
		return pl.emitProjectNode(oldNode, inst)
	}

	fsPath := pl.locate(oldNode, inst, parentDir)
	if fsPath == "" {
		log.Printf("[syncback] Warning: no on-disk location for %q, skipping", inst.Name)
		return nil
	}

	kind := pl.chooseKind(oldNode, inst)
	switch kind {
	case middleware.KindDir, middleware.KindInitModule, middleware.KindInitServerScript,
		middleware.KindInitClientScript, middleware.KindInitCSV:
		return pl.emitDir(oldNode, inst, fsPath, kind)
	case middleware.KindModule, middleware.KindServerScript, middleware.KindClientScript:
		return pl.emitScript(oldNode, inst, fsPath, kind)
	case middleware.KindText:
		return pl.emitText(oldNode, inst, fsPath)
	case middleware.KindCSV:
		return pl.emitCSV(oldNode, inst, fsPath)
	case middleware.KindJSONModel:
		return pl.emitJSONModel(oldNode, inst, fsPath)
	case middleware.KindRbxmx:
		return pl.emitRbxmx(inst, fsPath)
	}
	return fmt.Errorf("internal error: no emitter for middleware %q", kind)
}

// emitProjectNode recurses through an instance whose shape is defined by
// the project descriptor itself: nothing is written for the node, matched
// children emit in their own locations, and children with no on-disk home
// are reported.
func (pl *planner) emitProjectNode(oldNode *snapshot.Node, inst *rbxdom.Instance) error {
	pair := matchChildren(pl.tree, oldNode, pl.dom, inst)
	for newRef, old := range pair.matched {
		if err := pl.emit(old, pl.dom.Get(newRef), ""); err != nil {
			return err
		}
	}
	for _, added := range pair.added {
		log.Printf("[syncback] Warning: %q has no $path under project-defined node %q, skipping", added.Name, oldNode.Name)
	}
	for _, removed := range pair.removed {
		pl.removeOldNode(removed)
	}
	return nil
}

// locate decides where an instance lives on disk. Matched instances keep
// their provenance; new instances are named into their parent directory.
func (pl *planner) locate(oldNode *snapshot.Node, inst *rbxdom.Instance, parentDir string) string {
	if oldNode != nil && oldNode.Meta.InstigatingSource != "" {
		src := oldNode.Meta.InstigatingSource
		if middleware.IsProjectFile(path.Base(src)) {
			// A tree whose root is re-evaluated from the descriptor
			// still serializes into its $path target, which is the
			// first relevant path that is not descriptor bookkeeping.
			for _, p := range oldNode.Meta.RelevantPaths {
				base := path.Base(p)
				if !middleware.IsProjectFile(base) && !middleware.IsMetaFile(base) {
					src = p
					break
				}
			}
			if middleware.IsProjectFile(path.Base(src)) {
				return ""
			}
		}
		if isInitName(path.Base(src)) {
			// Promoted directories are addressed by the directory.
			return path.Dir(src)
		}
		return src
	}
	if parentDir == "" {
		return ""
	}
	return path.Join(parentDir, pathenc.Encode(inst.Name))
}

// chooseKind picks the on-disk format. Incremental mode reuses the old
// kind when the instance still fits it; otherwise the preference order is
// init-promoted directory for nodes with children, then a standalone file
// for the classes that have one, then JSON model.
func (pl *planner) chooseKind(oldNode *snapshot.Node, inst *rbxdom.Instance) middleware.Kind {
	hasChildren := len(inst.Children) > 0

	if pl.opts.Mode == Incremental && oldNode != nil {
		old := middleware.Kind(oldNode.Meta.Middleware)
		if kindFits(old, inst, hasChildren) {
			return old
		}
	}

	if hasChildren {
		if _, initKind, isScript := scriptKinds(inst); isScript {
			return initKind
		}
		if inst.ClassName == "LocalizationTable" {
			return middleware.KindInitCSV
		}
		return middleware.KindDir
	}

	if fileKind, _, isScript := scriptKinds(inst); isScript {
		return fileKind
	}
	switch inst.ClassName {
	case "StringValue":
		return middleware.KindText
	case "LocalizationTable":
		return middleware.KindCSV
	case "Folder":
		return middleware.KindDir
	}
	return middleware.KindJSONModel
}

// scriptKinds resolves the file and init-promoted kinds for a script
// instance. Modern server and client scripts share ClassName "Script" and
// differ only in RunContext, so the suffix choice must consult it: the
// suffix is the only on-disk record of the distinction once RunContext is
// stripped from the emitted metadata.
func scriptKinds(inst *rbxdom.Instance) (file, init middleware.Kind, ok bool) {
	switch inst.ClassName {
	case "ModuleScript":
		return middleware.KindModule, middleware.KindInitModule, true
	case "LocalScript":
		return middleware.KindClientScript, middleware.KindInitClientScript, true
	case "Script":
		if rc, _ := inst.Properties["RunContext"].(variant.String); rc == "Client" {
			return middleware.KindClientScript, middleware.KindInitClientScript, true
		}
		return middleware.KindServerScript, middleware.KindInitServerScript, true
	}
	return "", "", false
}

// kindFits reports whether an instance can still serialize in a previously
// recorded format.
func kindFits(kind middleware.Kind, inst *rbxdom.Instance, hasChildren bool) bool {
	switch kind {
	case middleware.KindModule, middleware.KindServerScript, middleware.KindClientScript:
		fileKind, _, isScript := scriptKinds(inst)
		return isScript && fileKind == kind && !hasChildren
	case middleware.KindText:
		return inst.ClassName == "StringValue" && !hasChildren
	case middleware.KindCSV:
		return inst.ClassName == "LocalizationTable" && !hasChildren
	case middleware.KindDir:
		// A class change away from Folder must force an init-promoted
		// kind, or properties like Source would have nowhere to live.
		return inst.ClassName == "Folder"
	case middleware.KindInitModule, middleware.KindInitServerScript, middleware.KindInitClientScript:
		_, initKind, isScript := scriptKinds(inst)
		return isScript && initKind == kind
	case middleware.KindInitCSV:
		return inst.ClassName == "LocalizationTable"
	case middleware.KindJSONModel, middleware.KindRbxm, middleware.KindRbxmx:
		// Model formats carry arbitrary subtrees.
		return true
	}
	return false
}

func isInitName(name string) bool {
	switch name {
	case "init.lua", "init.luau", "init.server.lua", "init.server.luau",
		"init.client.lua", "init.client.luau", "init.csv", "init.meta.json5", "init.meta.json":
		return true
	}
	return false
}
