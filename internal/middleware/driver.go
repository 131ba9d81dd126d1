package middleware

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/pathenc"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// Snapshot produces the instance snapshot for the subtree rooted at p,
// deriving the instance name from the path. It is the driver entry point
// for $path targets and for re-running a middleware after a change.
func Snapshot(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, p string) (*snapshot.Snapshot, error) {
	p = path.Clean(p)
	return SnapshotNamed(gctx, ictx, v, p, "")
}

// SnapshotNamed is Snapshot with an explicit instance name. An empty name
// derives the name from the file or directory name.
//
// A nil snapshot with a nil error means the path maps to no instance.
func SnapshotNamed(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, p, name string) (*snapshot.Snapshot, error) {
	if err := gctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrCancelled, p)
	}
	p = path.Clean(p)

	if ictx.ShouldIgnore(p) {
		return nil, nil
	}

	isFile, err := v.IsFile(p)
	if err != nil {
		if vfs.NotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	if !isFile {
		if name == "" {
			name = pathBaseName(p)
		}
		return snapshotDir(gctx, ictx, v, p, name)
	}

	kind, derivedName, ok := SelectFile(ictx, p, path.Base(p))
	if !ok {
		return nil, nil
	}
	if name == "" {
		name = derivedName
	}
	return runFileKind(gctx, ictx, v, p, name, kind)
}

// runFileKind dispatches to the middleware for a plain file.
func runFileKind(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, p, name string, kind Kind) (*snapshot.Snapshot, error) {
	switch kind {
	case KindModule, KindServerScript, KindClientScript:
		return snapshotScript(ictx, v, p, name, kind)
	case KindText:
		return snapshotText(ictx, v, p, name)
	case KindCSV:
		return snapshotCSV(ictx, v, p, name)
	case KindJSONModel:
		return snapshotJSONModel(ictx, v, p, name)
	case KindRbxm, KindRbxmx:
		return snapshotRbxm(ictx, v, p, name, kind)
	case KindProject:
		return snapshotProject(gctx, ictx, v, p, name)
	}
	return nil, fmt.Errorf("internal error: no middleware for kind %q at %s", kind, p)
}

// snapshotChildren runs the driver over directory entries in parallel.
// Entries are already sorted by the VFS; results assemble in input order so
// the snapshot is deterministic across thread counts.
func snapshotChildren(gctx context.Context, ictx *snapshot.Context, v *vfs.VFS, dirPath string, names []string) ([]*snapshot.Snapshot, error) {
	results := make([]*snapshot.Snapshot, len(names))
	errs := make([]error, len(names))

	group, groupCtx := errgroup.WithContext(gctx)
	group.SetLimit(runtime.GOMAXPROCS(0))

	for i, name := range names {
		if err := gctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s", snapshot.ErrCancelled, dirPath)
		}
		childPath := path.Join(dirPath, name)
		group.Go(func() error {
			snap, err := SnapshotNamed(groupCtx, ictx, v, childPath, "")
			results[i], errs[i] = snap, err
			return err
		})
	}

	// The group's own error is ignored in favor of the first error in
	// path order, so parallel runs fail deterministically.
	_ = group.Wait()

	var firstErr error
	for _, err := range errs {
		if err != nil && !errors.Is(err, snapshot.ErrCancelled) {
			firstErr = err
			break
		}
	}
	if firstErr == nil {
		for _, err := range errs {
			if err != nil {
				firstErr = err
				break
			}
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	out := make([]*snapshot.Snapshot, 0, len(results))
	for _, snap := range results {
		if snap != nil {
			out = append(out, snap)
		}
	}
	return out, nil
}

// pathBaseName is the instance name for a directory path, decoded from any
// filename-safe encoding.
func pathBaseName(p string) string {
	return pathenc.Decode(path.Base(p))
}

// orphanVisible reports whether a directory entry takes part in the orphan
// scan. Hidden entries are invisible to scans but stay readable when
// referenced directly by $path.
func orphanVisible(name string) bool {
	return !strings.HasPrefix(name, ".")
}
