package snapshot

import (
	"testing"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

func emptyTree() *Tree {
	return NewTree(New("ROOT", "ROOT"))
}

func strPtr(s string) *string { return &s }

func TestApplySetNameAndClassName(t *testing.T) {
	t.Parallel()
	tree := emptyTree()

	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:        tree.RootID(),
			Name:      strPtr("Hello, world!"),
			ClassName: strPtr("Folder"),
		}},
	}

	applied, err := Apply(tree, patch, ForwardSync)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied.Updated) != 1 {
		t.Fatalf("applied %d updates, want 1", len(applied.Updated))
	}

	root := tree.Get(tree.RootID())
	if root.Name != "Hello, world!" || root.ClassName != "Folder" {
		t.Errorf("root = %s (%s), want Hello, world! (Folder)", root.Name, root.ClassName)
	}
}

func TestApplyAddProperty(t *testing.T) {
	t.Parallel()
	tree := emptyTree()

	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         tree.RootID(),
			Properties: map[string]variant.Value{"Foo": variant.String("Value of Foo")},
		}},
	}

	if _, err := Apply(tree, patch, ForwardSync); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := tree.Get(tree.RootID()).Properties["Foo"]
	if !variant.Equal(got, variant.String("Value of Foo")) {
		t.Errorf("Foo = %v", got)
	}
}

func TestApplyRemoveProperty(t *testing.T) {
	t.Parallel()
	tree := NewTree(New("ROOT", "ROOT").WithProperty("Foo", variant.String("Should be removed")))

	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:                tree.RootID(),
			RemovedProperties: []string{"Foo"},
		}},
	}

	if _, err := Apply(tree, patch, ForwardSync); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if _, present := tree.Get(tree.RootID()).Properties["Foo"]; present {
		t.Error("Foo survived removal")
	}
}

func TestApplyRefPropertyUpdate(t *testing.T) {
	t.Parallel()
	root := New("ROOT", "DataModel")
	root.Children = []*Snapshot{
		New("ChildA", "Part"),
		New("ChildB", "Model"),
	}
	tree := NewTree(root)

	children := tree.ChildrenOf(tree.RootID())
	childA, childB := children[0], children[1]

	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         childB.ID,
			Properties: map[string]variant.Value{"PrimaryPart": variant.Ref(childA.ID)},
		}},
	}

	applied, err := Apply(tree, patch, ForwardSync)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied.Updated) != 1 {
		t.Fatalf("applied %d updates, want 1", len(applied.Updated))
	}

	pp := tree.Get(childB.ID).Properties["PrimaryPart"]
	if !variant.Equal(pp, variant.Ref(childA.ID)) {
		t.Errorf("PrimaryPart = %v, want ref to ChildA", pp)
	}
}

func TestApplyNilRefSkipsInForwardSync(t *testing.T) {
	t.Parallel()
	root := New("ROOT", "DataModel")
	root.Children = []*Snapshot{New("Model", "Model")}
	tree := NewTree(root)

	rootID := tree.RootID()
	modelID := tree.ChildrenOf(rootID)[0].ID

	setup := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         modelID,
			Properties: map[string]variant.Value{"PrimaryPart": variant.Ref(rootID)},
		}},
	}
	if _, err := Apply(tree, setup, ForwardSync); err != nil {
		t.Fatal(err)
	}

	// A nil Ref is the unresolved-reference sentinel on the forward-sync
	// path; the old value must survive.
	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         modelID,
			Properties: map[string]variant.Value{"PrimaryPart": variant.Ref("")},
		}},
	}
	if _, err := Apply(tree, patch, ForwardSync); err != nil {
		t.Fatal(err)
	}

	pp := tree.Get(modelID).Properties["PrimaryPart"]
	if !variant.Equal(pp, variant.Ref(rootID)) {
		t.Errorf("PrimaryPart = %v, want unchanged ref to root", pp)
	}

	// On the syncback path the same patch applies literally.
	if _, err := Apply(tree, patch, Syncback); err != nil {
		t.Fatal(err)
	}
	pp = tree.Get(modelID).Properties["PrimaryPart"]
	if !variant.Equal(pp, variant.Ref("")) {
		t.Errorf("PrimaryPart = %v, want nil ref after syncback apply", pp)
	}
}

func TestApplyRefPropertyRemoval(t *testing.T) {
	t.Parallel()
	root := New("ROOT", "DataModel")
	root.Children = []*Snapshot{New("Model", "Model")}
	tree := NewTree(root)

	modelID := tree.ChildrenOf(tree.RootID())[0].ID
	setup := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         modelID,
			Properties: map[string]variant.Value{"PrimaryPart": variant.Ref(tree.RootID())},
		}},
	}
	if _, err := Apply(tree, setup, ForwardSync); err != nil {
		t.Fatal(err)
	}

	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:                modelID,
			RemovedProperties: []string{"PrimaryPart"},
		}},
	}
	if _, err := Apply(tree, patch, ForwardSync); err != nil {
		t.Fatal(err)
	}

	if _, present := tree.Get(modelID).Properties["PrimaryPart"]; present {
		t.Error("PrimaryPart survived removal")
	}
}

func TestApplyRefToNonexistentInstance(t *testing.T) {
	t.Parallel()
	root := New("ROOT", "DataModel")
	root.Children = []*Snapshot{New("Model", "Model")}
	tree := NewTree(root)

	modelID := tree.ChildrenOf(tree.RootID())[0].ID

	// Dangling refs are allowed; Apply must not fail.
	patch := &PatchSet{
		Updated: []PatchUpdate{{
			ID:         modelID,
			Properties: map[string]variant.Value{"PrimaryPart": variant.Ref(rbxdom.NewRef())},
		}},
	}
	applied, err := Apply(tree, patch, ForwardSync)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied.Updated) != 1 {
		t.Errorf("applied %d updates, want 1", len(applied.Updated))
	}
}

func TestApplyAddedSubtreeResolvesIDs(t *testing.T) {
	t.Parallel()
	tree := emptyTree()

	child := New("NewChild", "Folder")
	child.Children = []*Snapshot{New("Grandchild", "ModuleScript")}

	patch := &PatchSet{
		Added: []PatchAdd{{ParentID: tree.RootID(), Snapshot: child}},
	}

	applied, err := Apply(tree, patch, ForwardSync)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(applied.Added) != 1 {
		t.Fatalf("applied %d adds, want 1", len(applied.Added))
	}

	newID := applied.Added[0].ID
	node := tree.Get(newID)
	if node == nil || node.Name != "NewChild" {
		t.Fatalf("added node not found by resolved id %s", newID)
	}
	if len(node.Children) != 1 {
		t.Fatalf("added node has %d children, want 1", len(node.Children))
	}
}

func TestApplyRemoveUnknownIDFails(t *testing.T) {
	t.Parallel()
	tree := emptyTree()

	patch := &PatchSet{Removed: []rbxdom.Ref{rbxdom.NewRef()}}
	if _, err := Apply(tree, patch, ForwardSync); err == nil {
		t.Fatal("Apply succeeded removing unknown id, want error")
	}
}

func TestApplyPreservesPinnedID(t *testing.T) {
	t.Parallel()
	tree := emptyTree()

	pinned := New("Pinned", "Folder")
	pinned.ID = "deadbeefdeadbeefdeadbeefdeadbeef"

	patch := &PatchSet{Added: []PatchAdd{{ParentID: tree.RootID(), Snapshot: pinned}}}
	applied, err := Apply(tree, patch, ForwardSync)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Added[0].ID != pinned.ID {
		t.Errorf("pinned id not preserved: got %s", applied.Added[0].ID)
	}
}
