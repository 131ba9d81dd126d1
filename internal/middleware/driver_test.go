package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// snapshotsEqual compares snapshots structurally, ignoring metadata.
func snapshotsEqual(a, b *snapshot.Snapshot) bool {
	if a.Name != b.Name || a.ClassName != b.ClassName {
		return false
	}
	if !variant.MapsEqual(a.Properties, b.Properties) {
		return false
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !snapshotsEqual(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

func TestSnapshotProjectFile(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "game",
			tree: {
				$className: "DataModel",
				ReplicatedStorage: {
					$className: "ReplicatedStorage",
					Shared: { $path: "src" },
				},
			},
		}`,
		"/proj/src/foo.luau": "return 1",
	})

	snap, proj, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	if err != nil {
		t.Fatalf("SnapshotProjectFile: %v", err)
	}
	if proj.Name != "game" {
		t.Errorf("project name = %q", proj.Name)
	}
	if snap.Name != "game" || snap.ClassName != "DataModel" {
		t.Errorf("root = %s %q", snap.ClassName, snap.Name)
	}

	rs := findChild(snap, "ReplicatedStorage")
	if rs == nil {
		t.Fatal("no ReplicatedStorage child")
	}
	shared := findChild(rs, "Shared")
	if shared == nil || shared.ClassName != "Folder" {
		t.Fatalf("Shared = %+v", shared)
	}
	if len(shared.Children) != 1 || shared.Children[0].Name != "foo" {
		t.Errorf("Shared children = %+v", shared.Children)
	}
}

func TestProjectMissingPathTargetFails(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "broken",
			tree: { $path: "does-not-exist" },
		}`,
	})

	_, _, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	var structErr *StructureError
	if !errors.As(err, &structErr) {
		t.Fatalf("err = %v, want StructureError", err)
	}
}

func TestProjectOptionalPathTolerated(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "opt",
			tree: {
				$className: "DataModel",
				Maybe: { $path: { optional: "not-there" } },
			},
		}`,
	})

	snap, _, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	if err != nil {
		t.Fatalf("SnapshotProjectFile: %v", err)
	}
	maybe := findChild(snap, "Maybe")
	if maybe == nil || maybe.ClassName != "Folder" {
		t.Errorf("Maybe = %+v, want empty Folder placeholder", maybe)
	}
}

// Scenario: two $path entries point at nested directories. The inner
// directory's subtree appears exactly once.
func TestOverlappingPathsDoNotDuplicate(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "overlap",
			tree: {
				$className: "DataModel",
				Src: { $path: "src" },
				Shared: { $path: "src/shared" },
			},
		}`,
		"/proj/src/top.luau":           "return 1",
		"/proj/src/shared/inner.luau":  "return 2",
	})

	snap, _, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	if err != nil {
		t.Fatalf("SnapshotProjectFile: %v", err)
	}

	src := findChild(snap, "Src")
	if src == nil {
		t.Fatal("no Src child")
	}
	if findChild(src, "shared") != nil {
		t.Error("shared duplicated under Src")
	}
	if len(src.Children) != 1 || src.Children[0].Name != "top" {
		t.Errorf("Src children = %+v, want only top", src.Children)
	}

	shared := findChild(snap, "Shared")
	if shared == nil || len(shared.Children) != 1 || shared.Children[0].Name != "inner" {
		t.Errorf("Shared = %+v, want one child inner", shared)
	}
}

func TestProjectNodePropertiesOverlay(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "overlay",
			tree: {
				$className: "DataModel",
				Workspace: {
					$className: "Workspace",
					$properties: { Gravity: 196.2 },
				},
			},
		}`,
	})

	snap, _, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	if err != nil {
		t.Fatal(err)
	}
	ws := findChild(snap, "Workspace")
	if !variant.Equal(ws.Properties["Gravity"], variant.Float(196.2)) {
		t.Errorf("Gravity = %v", ws.Properties["Gravity"])
	}
}

func TestNestedProjectFile(t *testing.T) {
	t.Parallel()
	v := newTestVFS(t, map[string]string{
		"/proj/default.project.json5": `{
			name: "outer",
			tree: {
				$className: "DataModel",
				Pkg: { $path: "pkg.project.json5" },
			},
		}`,
		"/proj/pkg.project.json5": `{
			name: "pkg",
			tree: { $path: "pkg-src" },
		}`,
		"/proj/pkg-src/mod.luau": "return 0",
	})

	snap, _, err := SnapshotProjectFile(context.Background(), v, "/proj/default.project.json5")
	if err != nil {
		t.Fatalf("SnapshotProjectFile: %v", err)
	}
	pkg := findChild(snap, "Pkg")
	if pkg == nil || pkg.ClassName != "Folder" {
		t.Fatalf("Pkg = %+v", pkg)
	}
	if len(pkg.Children) != 1 || pkg.Children[0].Name != "mod" {
		t.Errorf("Pkg children = %+v", pkg.Children)
	}
}

// The prefetch-cache law: a snapshot through a prefetch cache equals the
// snapshot taken directly.
func TestPrefetchedSnapshotEqualsDirect(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"/src/init.luau":       "return {}",
		"/src/a.luau":          "return 1",
		"/src/b.server.luau":   "print(2)",
		"/src/c/notes.txt":     "hello",
		"/src/c/strings.csv":   "Key,Source,es\nAck,Ack!,¡Ay!\n",
		"/src/a.meta.json5":    `{ "properties": { "Disabled": true } }`,
	}

	direct := newTestVFS(t, files)
	directSnap, err := Snapshot(context.Background(), snapshot.NewContext(), direct, "/src")
	if err != nil {
		t.Fatal(err)
	}

	prefetched := newTestVFS(t, files)
	pc := vfs.NewPrefetchCache()
	if err := pc.Populate(prefetched, "/src"); err != nil {
		t.Fatal(err)
	}
	prefetched.SetPrefetch(pc)
	prefetchedSnap, err := Snapshot(context.Background(), snapshot.NewContext(), prefetched, "/src")
	if err != nil {
		t.Fatal(err)
	}

	if !snapshotsEqual(directSnap, prefetchedSnap) {
		t.Error("prefetched snapshot differs from direct snapshot")
	}
}

// Determinism across repeated runs: parallel dispatch must not leak
// completion order into the result.
func TestSnapshotDeterministic(t *testing.T) {
	t.Parallel()
	files := map[string]string{}
	for _, name := range []string{"m", "a", "z", "q", "b", "x", "c", "y"} {
		files["/src/"+name+".luau"] = "return '" + name + "'"
	}

	v := newTestVFS(t, files)
	first, err := Snapshot(context.Background(), snapshot.NewContext(), v, "/src")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		again, err := Snapshot(context.Background(), snapshot.NewContext(), v, "/src")
		if err != nil {
			t.Fatal(err)
		}
		if !snapshotsEqual(first, again) {
			t.Fatalf("run %d produced a different snapshot", i)
		}
	}
}
