package middleware

import (
	"bytes"
	"fmt"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// snapshotRbxm maps a model file to the single instance it contains, via
// the codec registered for its extension. The file's contents are opaque to
// the engine beyond the decoded document.
func snapshotRbxm(ictx *snapshot.Context, v *vfs.VFS, p, name string, kind Kind) (*snapshot.Snapshot, error) {
	contents, err := v.Read(p)
	if err != nil {
		return nil, err
	}

	ext := ".rbxm"
	if kind == KindRbxmx {
		ext = ".rbxmx"
	}
	codec, err := rbxdom.CodecFor(ext)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}

	dom, err := codec.Decode(bytes.NewReader(contents))
	if err != nil {
		return nil, fmt.Errorf("malformed model file %s: %w", p, err)
	}

	tops := dom.ChildrenOf(dom.RootRef())
	if len(tops) != 1 {
		return nil, &StructureError{
			Path: p,
			Msg:  fmt.Sprintf("model files must contain exactly one top-level instance, found %d", len(tops)),
		}
	}

	snap := snapshot.FromDom(dom, tops[0].Referent)
	snap.Name = name
	snap.Metadata = snapshot.Metadata{
		Middleware: string(kind),
		Context:    ictx,
	}.WithInstigatingSource(p)

	if err := applyAdjacentMeta(v, p, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
