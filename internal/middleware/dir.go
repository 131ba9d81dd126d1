package middleware

import (
	"context"
	"path"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// snapshotDir turns a directory into an instance. Without an init file the
// result is a Folder whose children come from the orphan scan; with one,
// the directory is promoted: the init middleware produces the instance,
// named after the directory, and the scan attaches the other children.
func snapshotDir(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, dirPath, name string) (*snapshot.Snapshot, error) {
	names, err := v.ReadDir(dirPath)
	if err != nil {
		return nil, err
	}

	initName, initKind, err := findInit(dirPath, names)
	if err != nil {
		return nil, err
	}

	scanNames := make([]string, 0, len(names))
	for _, entry := range names {
		if !orphanVisible(entry) || entry == initName {
			continue
		}
		if IsMetaFile(entry) {
			// Overlays ride along with their primary file.
			continue
		}
		if ictx.IsClaimed(path.Join(dirPath, entry)) {
			// Another $path node materializes this entry.
			continue
		}
		scanNames = append(scanNames, entry)
	}

	children, err := snapshotChildren(gctx, ictx, v, dirPath, scanNames)
	if err != nil {
		return nil, err
	}

	if initName != "" {
		return promoteDir(gctx, ictx, v, dirPath, name, initName, initKind, children)
	}

	snap := snapshot.New(name, "Folder")
	snap.Children = children
	snap.SortChildren()
	snap.Metadata = snapshot.Metadata{
		Middleware: string(KindDir),
		Context:    ictx,
	}.WithInstigatingSource(dirPath)

	if err := applyDirectoryMeta(v, dirPath, snap, false); err != nil {
		return nil, err
	}
	return snap, nil
}

// promoteDir produces the directory's instance from its init file.
func promoteDir(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, dirPath, name, initName string, initKind Kind, children []*snapshot.Snapshot) (*snapshot.Snapshot, error) {
	initPath := path.Join(dirPath, initName)

	var snap *snapshot.Snapshot
	var err error
	switch initKind {
	case KindInitModule:
		snap, err = snapshotScript(ictx, v, initPath, name, KindModule)
	case KindInitServerScript:
		snap, err = snapshotScript(ictx, v, initPath, name, KindServerScript)
	case KindInitClientScript:
		snap, err = snapshotScript(ictx, v, initPath, name, KindClientScript)
	case KindInitCSV:
		snap, err = snapshotCSV(ictx, v, initPath, name)
	case KindInitProject:
		snap, err = snapshotProject(gctx, ictx, v, initPath, name)
	}
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, &StructureError{Path: initPath, Msg: "init file produced no instance"}
	}

	snap.Children = append(snap.Children, children...)
	snap.SortChildren()

	// Promotion keeps the init file as the instigating source, so
	// deleting it demotes the directory back to a Folder; the directory
	// itself stays relevant so renames invalidate correctly.
	snap.Metadata.Middleware = string(initKind)
	snap.Metadata = snap.Metadata.
		WithInstigatingSource(initPath).
		WithRelevantPath(dirPath)

	if err := applyDirectoryMeta(v, dirPath, snap, true); err != nil {
		return nil, err
	}
	return snap, nil
}
