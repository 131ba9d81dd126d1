// Package integration exercises the whole pipeline end to end: project
// parse, snapshot, tree, change processing, syncback, and the model codec,
// all over in-memory filesystems.
package integration

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/change"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxmx"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/syncback"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

func writeAll(t *testing.T, backend billy.Filesystem, files map[string]string) {
	t.Helper()
	for p, contents := range files {
		if err := util.WriteFile(backend, p, []byte(contents), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func snapshotProject(t *testing.T, v *vfs.VFS, projPath string) *snapshot.Snapshot {
	t.Helper()
	snap, _, err := middleware.SnapshotProjectFile(context.Background(), v, projPath)
	if err != nil {
		t.Fatalf("SnapshotProjectFile: %v", err)
	}
	return snap
}

// instancesEqual is the §8 equivalence: same name, class, properties, and
// children matched by name.
func instancesEqual(t *testing.T, a, b *snapshot.Snapshot, path string) bool {
	t.Helper()
	if a.Name != b.Name || a.ClassName != b.ClassName {
		t.Logf("%s: identity differs: %s %q vs %s %q", path, a.ClassName, a.Name, b.ClassName, b.Name)
		return false
	}
	if !variant.MapsEqual(a.Properties, b.Properties) {
		t.Logf("%s: properties differ: %v vs %v", path, a.Properties, b.Properties)
		return false
	}
	if len(a.Children) != len(b.Children) {
		t.Logf("%s: child count %d vs %d", path, len(a.Children), len(b.Children))
		return false
	}
	for i := range a.Children {
		if !instancesEqual(t, a.Children[i], b.Children[i], path+"/"+a.Children[i].Name) {
			return false
		}
	}
	return true
}

// Build, encode to rbxmx, decode, syncback into a fresh project, rebuild:
// both builds must agree on name, class, Source, and Value.
func TestBuildSyncbackBuildRoundtrip(t *testing.T) {
	t.Parallel()
	backend := memfs.New()
	writeAll(t, backend, map[string]string{
		"/proj/default.project.json5": `{
			name: "roundtrip",
			tree: { $path: "src" },
		}`,
		"/proj/src/init.meta.json5": `{ "className": "Folder" }`,
		"/proj/src/mod.luau":        "return 1",
		"/proj/src/note.txt":        "some text",
		"/proj/src/pkg/init.luau":   "return {}",
		"/proj/src/pkg/inner.luau":  "return 'inner'",
	})
	v := vfs.New(backend)
	first := snapshotProject(t, v, "/proj/default.project.json5")

	// Encode the built tree as a model file.
	dom := first.ToDom()
	var model bytes.Buffer
	if err := (rbxmx.Codec{}).Encode(&model, dom, []rbxdom.Ref{dom.Root().Children[0]}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Sync the model back into a fresh copy of the project skeleton.
	fresh := memfs.New()
	writeAll(t, fresh, map[string]string{
		"/proj/default.project.json5": `{
			name: "roundtrip",
			tree: { $path: "src" },
		}`,
	})
	if err := fresh.MkdirAll("/proj/src", 0o755); err != nil {
		t.Fatal(err)
	}
	freshVFS := vfs.New(fresh)
	freshSnap := snapshotProject(t, freshVFS, "/proj/default.project.json5")
	tree := snapshot.NewTree(freshSnap)

	decoded, err := rbxmx.Codec{}.Decode(bytes.NewReader(model.Bytes()))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	tops := decoded.ChildrenOf(decoded.RootRef())
	if len(tops) != 1 {
		t.Fatalf("model has %d roots", len(tops))
	}

	ictx := tree.Get(tree.RootID()).Meta.Context
	plan, err := syncback.Plan(tree, decoded, tops[0].Referent, freshVFS, ictx, syncback.Options{Mode: syncback.Clean})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := plan.Apply(fresh); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	second := snapshotProject(t, vfs.New(fresh), "/proj/default.project.json5")
	if !instancesEqual(t, first, second, first.Name) {
		t.Error("rebuilt tree differs from the original build")
	}
}

// The serve-path scenario: snapshot a project into a tree, edit files, let
// the change processor catch up, and verify the tree matches a full
// re-snapshot.
func TestWatchLoopConvergence(t *testing.T) {
	t.Parallel()
	backend := memfs.New()
	writeAll(t, backend, map[string]string{
		"/proj/default.project.json5": `{
			name: "watched",
			tree: { $path: "src" },
		}`,
		"/proj/src/foo.luau": "return 1",
	})
	v := vfs.New(backend)
	snap := snapshotProject(t, v, "/proj/default.project.json5")
	tree := snapshot.NewTree(snap)
	processor := change.New(tree, v)

	// Edit, create, and overlay in one batch.
	writeAll(t, backend, map[string]string{
		"/proj/src/foo.luau":       "return 2",
		"/proj/src/bar.luau":       "return 'new'",
		"/proj/src/foo.meta.json5": `{ "properties": { "Disabled": true } }`,
	})
	batch := []vfs.Event{
		{Kind: vfs.Changed, Path: "/proj/src/foo.luau"},
		{Kind: vfs.Created, Path: "/proj/src/bar.luau"},
		{Kind: vfs.Created, Path: "/proj/src/foo.meta.json5"},
	}
	for _, ev := range batch {
		v.Commit(ev)
	}
	if _, err := processor.ProcessBatch(batch); err != nil {
		t.Fatal(err)
	}

	fresh := snapshotProject(t, v, "/proj/default.project.json5")
	patch := snapshot.Diff(tree, tree.RootID(), fresh)
	if !patch.IsEmpty() {
		t.Errorf("tree drifted from a full re-snapshot: %+v", patch)
	}
}

// Scenario 3 from the test plan: renaming a script file to an equivalent
// extension keeps the instance's name, class, and Source.
func TestRenameScriptExtensionNoNetChange(t *testing.T) {
	t.Parallel()
	backend := memfs.New()
	writeAll(t, backend, map[string]string{
		"/proj/default.project.json5": `{
			name: "rename",
			tree: { $path: "src" },
		}`,
		"/proj/src/foo.lua": "return 1",
	})
	v := vfs.New(backend)
	snap := snapshotProject(t, v, "/proj/default.project.json5")
	tree := snapshot.NewTree(snap)
	processor := change.New(tree, v)

	var fooID rbxdom.Ref
	for _, child := range tree.ChildrenOf(tree.RootID()) {
		if child.Name == "foo" {
			fooID = child.ID
		}
	}
	if fooID.IsNone() {
		t.Fatal("foo not found")
	}

	// Rename foo.lua -> foo.luau.
	if err := backend.Remove("/proj/src/foo.lua"); err != nil {
		t.Fatal(err)
	}
	writeAll(t, backend, map[string]string{"/proj/src/foo.luau": "return 1"})
	batch := []vfs.Event{
		{Kind: vfs.Removed, Path: "/proj/src/foo.lua"},
		{Kind: vfs.Created, Path: "/proj/src/foo.luau"},
	}
	for _, ev := range batch {
		v.Commit(ev)
	}
	if _, err := processor.ProcessBatch(batch); err != nil {
		t.Fatal(err)
	}

	foo := tree.Get(fooID)
	if foo == nil {
		t.Fatal("instance identity lost across extension rename")
	}
	if foo.Name != "foo" || foo.ClassName != "ModuleScript" ||
		!variant.Equal(foo.Properties["Source"], variant.String("return 1")) {
		t.Errorf("foo = %s %q %v", foo.ClassName, foo.Name, foo.Properties["Source"])
	}
}

// Clean-mode syncback into a mutated tree ends up byte-equal to clean-mode
// syncback into a pristine copy, for a set of representative mutations.
func TestCleanModeMutationInsensitive(t *testing.T) {
	t.Parallel()

	projectFiles := map[string]string{
		"/proj/default.project.json5": `{
			name: "stress",
			tree: { $path: "src" },
		}`,
	}

	buildModel := func(t *testing.T) *rbxdom.Dom {
		dom := rbxdom.NewDom(&rbxdom.Instance{Name: "<root>", ClassName: "DataModel"})
		folder := dom.Insert(dom.RootRef(), &rbxdom.Instance{Name: "src", ClassName: "Folder"})
		dom.Insert(folder, &rbxdom.Instance{
			Name: "keep", ClassName: "ModuleScript",
			Properties: map[string]variant.Value{"Source": variant.String("return 'keep'")},
		})
		dom.Insert(folder, &rbxdom.Instance{
			Name: "note", ClassName: "StringValue",
			Properties: map[string]variant.Value{"Value": variant.String("hello")},
		})
		return dom
	}

	syncInto := func(t *testing.T, extra map[string]string) map[string]string {
		backend := memfs.New()
		writeAll(t, backend, projectFiles)
		if err := backend.MkdirAll("/proj/src", 0o755); err != nil {
			t.Fatal(err)
		}
		writeAll(t, backend, extra)

		v := vfs.New(backend)
		snap := snapshotProject(t, v, "/proj/default.project.json5")
		tree := snapshot.NewTree(snap)
		ictx := tree.Get(tree.RootID()).Meta.Context

		dom := buildModel(t)
		roots := dom.ChildrenOf(dom.RootRef())
		plan, err := syncback.Plan(tree, dom, roots[0].Referent, v, ictx, syncback.Options{Mode: syncback.Clean})
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if err := plan.Apply(backend); err != nil {
			t.Fatalf("Apply: %v", err)
		}

		out := make(map[string]string)
		var walk func(dir string)
		walk = func(dir string) {
			entries, err := backend.ReadDir(dir)
			if err != nil {
				return
			}
			for _, entry := range entries {
				full := dir + "/" + entry.Name()
				if entry.IsDir() {
					walk(full)
					continue
				}
				data, err := util.ReadFile(backend, full)
				if err != nil {
					t.Fatal(err)
				}
				out[full] = string(data)
			}
		}
		walk("/proj/src")
		return out
	}

	pristine := syncInto(t, nil)

	mutations := map[string]map[string]string{
		"orphan file":       {"/proj/src/orphan.luau": "return 'stale'"},
		"changed source":    {"/proj/src/keep.luau": "return 'old version'"},
		"extension change":  {"/proj/src/keep.lua": "return 'keep'"},
		"format change":     {"/proj/src/note.model.json5": `{ className: "StringValue", properties: { Value: "hello" } }`},
		"corrupted sibling": {"/proj/src/junk.model.json5.bak": "not json"},
	}

	for name, extra := range mutations {
		t.Run(name, func(t *testing.T) {
			got := syncInto(t, extra)
			if len(got) != len(pristine) {
				t.Fatalf("file sets differ: got %d files, want %d\n got: %v\n want: %v", len(got), len(pristine), keys(got), keys(pristine))
			}
			for p, want := range pristine {
				if got[p] != want {
					t.Errorf("%s differs:\n got: %q\nwant: %q", p, got[p], want)
				}
			}
		})
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
