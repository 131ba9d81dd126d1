package middleware

import (
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// snapshotScript maps a Luau source file to a script instance. The class
// depends on the name suffix convention and the emitLegacyScripts setting.
func snapshotScript(ictx *snapshot.Context, v *vfs.VFS, p, name string, kind Kind) (*snapshot.Snapshot, error) {
	source, err := v.Read(p)
	if err != nil {
		return nil, err
	}

	var className string
	var runContext string
	switch kind {
	case KindServerScript:
		if ictx.EmitLegacyScripts {
			className = "Script"
		} else {
			className, runContext = "Script", "Server"
		}
	case KindClientScript:
		if ictx.EmitLegacyScripts {
			className = "LocalScript"
		} else {
			className, runContext = "Script", "Client"
		}
	default:
		className = "ModuleScript"
	}

	snap := snapshot.New(name, className).
		WithProperty("Source", variant.String(string(source)))
	if runContext != "" {
		snap.WithProperty("RunContext", variant.String(runContext))
	}
	snap.Metadata = snapshot.Metadata{
		Middleware: string(kind),
		Context:    ictx,
	}.WithInstigatingSource(p)

	if err := applyAdjacentMeta(v, p, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// snapshotText maps a .txt file to a StringValue.
func snapshotText(ictx *snapshot.Context, v *vfs.VFS, p, name string) (*snapshot.Snapshot, error) {
	contents, err := v.Read(p)
	if err != nil {
		return nil, err
	}

	snap := snapshot.New(name, "StringValue").
		WithProperty("Value", variant.String(string(contents)))
	snap.Metadata = snapshot.Metadata{
		Middleware: string(KindText),
		Context:    ictx,
	}.WithInstigatingSource(p)

	if err := applyAdjacentMeta(v, p, snap); err != nil {
		return nil, err
	}
	return snap, nil
}
