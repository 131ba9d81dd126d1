package middleware

import (
	"context"
	"fmt"
	"path"

	"dario.cat/mergo"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/project"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// SnapshotProjectFile is the build entry point: it snapshots the tree a
// project descriptor declares, starting from a fresh context.
func SnapshotProjectFile(gctx context.Context, v *vfs.VFS, projPath string) (*snapshot.Snapshot, *project.Project, error) {
	data, err := v.Read(projPath)
	if err != nil {
		return nil, nil, err
	}
	proj, err := project.Parse(data, path.Clean(projPath))
	if err != nil {
		return nil, nil, err
	}

	pctx := projectContext(snapshot.NewContext(), proj)
	snap, err := snapshotProjectTree(gctx, pctx, v, proj, proj.Name)
	if err != nil {
		return nil, nil, err
	}
	return snap, proj, nil
}

// snapshotProject handles a *.project.json5 file reached through the tree
// (a nested project), inheriting the outer context's settings.
func snapshotProject(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, p, name string) (*snapshot.Snapshot, error) {
	data, err := v.Read(p)
	if err != nil {
		return nil, err
	}
	proj, err := project.Parse(data, path.Clean(p))
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = proj.Name
	}
	pctx := projectContext(ictx, proj)
	return snapshotProjectTree(gctx, pctx, v, proj, name)
}

// projectContext derives the context a project's tree is snapshot under.
func projectContext(parent *snapshot.Context, proj *project.Project) *snapshot.Context {
	pctx := parent.Clone()
	pctx.ProjectRoot = proj.FolderLocation
	pctx.EmitLegacyScripts = proj.EmitLegacyScripts
	pctx.IgnoreGlobs = append(pctx.IgnoreGlobs, proj.GlobIgnorePaths...)
	pctx.SyncRules = append(pctx.SyncRules, proj.SyncRules...)

	// Record every $path target so overlapping nodes (src and
	// src/shared) never duplicate a subtree: the inner node's target is
	// skipped by the outer node's orphan scan.
	claims := make(map[string]struct{})
	for existing := range pctx.ClaimedPaths {
		claims[existing] = struct{}{}
	}
	var collect func(node *project.Node)
	collect = func(node *project.Node) {
		if node.Path != "" {
			claims[path.Clean(path.Join(proj.FolderLocation, node.Path))] = struct{}{}
		}
		for _, name := range node.ChildOrder {
			collect(node.Children[name])
		}
	}
	collect(proj.Tree)
	pctx.ClaimedPaths = claims
	return pctx
}

func snapshotProjectTree(gctx context.Context, pctx *snapshot.Context, v *vfs.VFS, proj *project.Project, name string) (*snapshot.Snapshot, error) {
	snap, err := snapshotProjectNode(gctx, pctx, v, proj, proj.Tree, name)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &StructureError{Path: proj.FilePath, Msg: "project tree produced no instance"}
	}

	// The whole declared tree is re-evaluated when the descriptor
	// changes, so the root carries the descriptor as instigating source.
	snap.Metadata = snap.Metadata.WithInstigatingSource(proj.FilePath)
	return snap, nil
}

func snapshotProjectNode(gctx context.Context, pctx *snapshot.Context, v *vfs.VFS, proj *project.Project, node *project.Node, name string) (*snapshot.Snapshot, error) {
	if err := gctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrCancelled, proj.FilePath)
	}

	nodeCtx := pctx
	if len(node.IgnorePaths) > 0 || len(node.IgnoreTrees) > 0 {
		nodeCtx = pctx.Clone()
		nodeCtx.IgnoreGlobs = append(nodeCtx.IgnoreGlobs, node.IgnorePaths...)
		nodeCtx.TreeGlobs = append(nodeCtx.TreeGlobs, node.IgnoreTrees...)
	}

	var snap *snapshot.Snapshot
	if node.Path != "" {
		target := path.Join(proj.FolderLocation, node.Path)
		exists := v.Exists(target)
		if !exists && !node.PathOptional {
			return nil, &StructureError{
				Path: target,
				Msg:  fmt.Sprintf("project file %s names a $path that does not exist", proj.FilePath),
			}
		}
		if exists {
			var err error
			snap, err = SnapshotNamed(gctx, nodeCtx, v, target, name)
			if err != nil {
				return nil, err
			}
			if snap == nil {
				return nil, &StructureError{
					Path: target,
					Msg:  "no middleware knows how to interpret this $path target",
				}
			}
		}
	}

	if snap == nil {
		className := node.ClassName
		if className == "" {
			className = "Folder"
		}
		snap = snapshot.New(name, className)
		snap.Metadata = snapshot.Metadata{
			Middleware: string(KindProject),
			Context:    nodeCtx,
		}.WithRelevantPath(proj.FilePath)
	} else {
		if node.ClassName != "" && node.ClassName != snap.ClassName {
			if snap.ClassName != "Folder" {
				return nil, &MetaMismatch{
					Path: proj.FilePath,
					Msg:  fmt.Sprintf("node %q cannot change class %s to %s", name, snap.ClassName, node.ClassName),
				}
			}
			snap.ClassName = node.ClassName
		}
		snap.Metadata = snap.Metadata.WithRelevantPath(proj.FilePath)
	}

	if len(node.Properties) > 0 {
		if err := mergo.Merge(&snap.Properties, node.Properties, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("%s: merging properties of %q: %w", proj.FilePath, name, err)
		}
	}
	if len(node.Attributes) > 0 {
		snap.Properties["Attributes"] = node.Attributes
	}
	if node.IgnoreUnknownInstances != nil {
		snap.Metadata.IgnoreUnknownInstances = *node.IgnoreUnknownInstances
	}
	if node.ID != "" {
		snap.ID = rbxdom.Ref(node.ID)
	}

	for _, childName := range node.ChildOrder {
		child, err := snapshotProjectNode(gctx, pctx, v, proj, node.Children[childName], childName)
		if err != nil {
			return nil, err
		}
		if child != nil {
			snap.Children = append(snap.Children, child)
		}
	}
	snap.SortChildren()

	return snap, nil
}
