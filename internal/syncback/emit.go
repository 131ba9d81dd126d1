package syncback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"path"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/pathenc"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxmx"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

func initFileName(kind middleware.Kind) string {
	switch kind {
	case middleware.KindInitServerScript:
		return "init.server.luau"
	case middleware.KindInitClientScript:
		return "init.client.luau"
	case middleware.KindInitCSV:
		return "init.csv"
	}
	return "init.luau"
}

// ensureDir marks a directory as produced, scheduling creation when it does
// not exist yet.
func (pl *planner) ensureDir(p string) {
	pl.produced[p] = struct{}{}
	if isFile, err := pl.vfs.IsFile(p); err == nil && !isFile {
		return
	}
	pl.out.AddDir(p)
}

// writeFile marks a file as produced, scheduling the write only when the
// on-disk contents differ. Skipping identical writes is what makes a second
// syncback over an unchanged pair empty.
func (pl *planner) writeFile(p string, data []byte) {
	pl.produced[p] = struct{}{}
	if existing, err := pl.vfs.Read(p); err == nil && bytes.Equal(existing, data) {
		return
	}
	pl.out.AddFile(p, data)
}

// retarget schedules removal of an instance's old paths when its primary
// path moved (format change, rename, file-to-directory conversion).
func (pl *planner) retarget(oldNode *snapshot.Node, newPrimary string) {
	if oldNode == nil || oldNode.Meta.InstigatingSource == "" {
		return
	}
	old := oldNode.Meta.InstigatingSource
	if old == newPrimary {
		return
	}
	if _, produced := pl.produced[old]; produced {
		return
	}
	for _, p := range oldNode.Meta.RelevantPaths {
		if _, produced := pl.produced[p]; !produced && pl.vfs.Exists(p) {
			pl.out.Remove(p)
		}
	}
}

// removeOldNode schedules removal of everything a vanished instance owns.
func (pl *planner) removeOldNode(node *snapshot.Node) {
	if node.Meta.InstigatingSource == "" {
		// Project-defined: the descriptor still declares it; the user
		// is told rather than the project file rewritten.
		log.Printf("[syncback] Warning: project-defined instance %q no longer exists in the model; update the project file", node.Name)
		return
	}
	src := node.Meta.InstigatingSource
	if isInitName(path.Base(src)) {
		src = path.Dir(src)
	}
	if pl.vfs.Exists(src) {
		pl.out.Remove(src)
	}
	for _, p := range node.Meta.RelevantPaths {
		if p != src && pl.vfs.Exists(p) && path.Dir(p) != src {
			pl.out.Remove(p)
		}
	}
}

// emitProps converts an instance's properties for emission: defaults and
// unscriptable properties are dropped, Ref values become stable string ids.
// exclude lists properties the primary file already carries.
func (pl *planner) emitProps(inst *rbxdom.Instance, exclude ...string) (map[string]any, map[string]any) {
	skip := make(map[string]bool, len(exclude)+1)
	skip["Attributes"] = true
	for _, name := range exclude {
		skip[name] = true
	}

	props := make(map[string]any)
	for name, value := range inst.Properties {
		if skip[name] {
			continue
		}
		if def, ok := pl.opts.RefDB.DefaultValue(inst.ClassName, name); ok && variant.Equal(def, value) {
			continue
		}
		if !pl.opts.RefDB.Scriptable(inst.ClassName, name) && !pl.opts.SyncUnscriptable {
			continue
		}
		if ref, isRef := value.(variant.Ref); isRef {
			if ref.IsNone() {
				continue
			}
			stable, linked := pl.ids[rbxdom.Ref(ref)]
			if !linked {
				log.Printf("[syncback] Warning: %q.%s references an instance outside the model, dropping", inst.Name, name)
				continue
			}
			props[name] = stable
			continue
		}
		props[name] = variant.ToJSON(value)
	}

	var attrs map[string]any
	if bag, ok := inst.Properties["Attributes"].(variant.Attributes); ok && len(bag) > 0 {
		attrs = make(map[string]any, len(bag))
		for name, value := range bag {
			attrs[name] = variant.ToJSON(value)
		}
	}
	return props, attrs
}

// metaDoc assembles a meta file body, or nil when there is nothing to say.
func (pl *planner) metaDoc(inst *rbxdom.Instance, className string, props, attrs map[string]any) map[string]any {
	doc := make(map[string]any)
	if className != "" {
		doc["className"] = className
	}
	if len(props) > 0 {
		doc["properties"] = props
	}
	if len(attrs) > 0 {
		doc["attributes"] = attrs
	}
	if pl.needsID[inst.Referent] {
		doc["id"] = pl.ids[inst.Referent]
	}
	if len(doc) == 0 {
		return nil
	}
	return doc
}

func marshalMeta(doc map[string]any) []byte {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		// Only plain JSON shapes reach here.
		panic(fmt.Sprintf("syncback: cannot serialize meta: %v", err))
	}
	return append(data, '\n')
}

func (pl *planner) emitScript(oldNode *snapshot.Node, inst *rbxdom.Instance, fsPath string, kind middleware.Kind) error {
	primary := pl.primaryPath(fsPath, inst.Name, kind)
	source, _ := inst.Properties["Source"].(variant.String)
	pl.writeFile(primary, []byte(source))

	props, attrs := pl.emitProps(inst, "Source", "RunContext")
	if doc := pl.metaDoc(inst, "", props, attrs); doc != nil {
		pl.writeFile(metaPath(primary), marshalMeta(doc))
	}
	pl.retarget(oldNode, primary)
	return nil
}

func (pl *planner) emitText(oldNode *snapshot.Node, inst *rbxdom.Instance, fsPath string) error {
	primary := pl.primaryPath(fsPath, inst.Name, middleware.KindText)
	value, _ := inst.Properties["Value"].(variant.String)
	pl.writeFile(primary, []byte(value))

	props, attrs := pl.emitProps(inst, "Value")
	if doc := pl.metaDoc(inst, "", props, attrs); doc != nil {
		pl.writeFile(metaPath(primary), marshalMeta(doc))
	}
	pl.retarget(oldNode, primary)
	return nil
}

func (pl *planner) emitCSV(oldNode *snapshot.Node, inst *rbxdom.Instance, fsPath string) error {
	primary := pl.primaryPath(fsPath, inst.Name, middleware.KindCSV)
	contents, ok := inst.Properties["Contents"].(variant.String)
	if !ok {
		return fmt.Errorf("LocalizationTable %q has no string Contents property", inst.Name)
	}
	body, err := middleware.LocalizationToCSV(string(contents))
	if err != nil {
		return fmt.Errorf("%q: %w", inst.Name, err)
	}
	pl.writeFile(primary, body)

	props, attrs := pl.emitProps(inst, "Contents")
	if doc := pl.metaDoc(inst, "", props, attrs); doc != nil {
		pl.writeFile(metaPath(primary), marshalMeta(doc))
	}
	pl.retarget(oldNode, primary)
	return nil
}

func (pl *planner) emitJSONModel(oldNode *snapshot.Node, inst *rbxdom.Instance, fsPath string) error {
	primary := pl.primaryPath(fsPath, inst.Name, middleware.KindJSONModel)

	doc, err := pl.jsonModelDoc(inst, true)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize JSON model for %q: %w", inst.Name, err)
	}
	pl.writeFile(primary, append(data, '\n'))

	// Pinned ids live in the adjacent meta, never inline.
	if pl.needsID[inst.Referent] {
		pl.writeFile(metaPath(primary), marshalMeta(map[string]any{"id": pl.ids[inst.Referent]}))
	}
	pl.retarget(oldNode, primary)
	return nil
}

func (pl *planner) jsonModelDoc(inst *rbxdom.Instance, root bool) (map[string]any, error) {
	props, attrs := pl.emitProps(inst)

	doc := map[string]any{"className": inst.ClassName}
	if !root {
		doc["name"] = inst.Name
	}
	if len(props) > 0 {
		doc["properties"] = props
	}
	if len(attrs) > 0 {
		doc["attributes"] = attrs
	}

	if len(inst.Children) > 0 {
		children := make([]any, 0, len(inst.Children))
		for _, child := range pl.dom.ChildrenOf(inst.Referent) {
			childDoc, err := pl.jsonModelDoc(child, false)
			if err != nil {
				return nil, err
			}
			children = append(children, childDoc)
		}
		doc["children"] = children
	}
	return doc, nil
}

func (pl *planner) emitRbxmx(inst *rbxdom.Instance, fsPath string) error {
	primary := pl.primaryPath(fsPath, inst.Name, middleware.KindRbxmx)

	var buf bytes.Buffer
	if err := (rbxmx.Codec{}).Encode(&buf, pl.dom, []rbxdom.Ref{inst.Referent}); err != nil {
		return fmt.Errorf("serialize %q: %w", inst.Name, err)
	}
	pl.writeFile(primary, buf.Bytes())
	return nil
}

func (pl *planner) emitDir(oldNode *snapshot.Node, inst *rbxdom.Instance, fsPath string, kind middleware.Kind) error {
	dirPath := fsPath
	if isFile, err := pl.vfs.IsFile(fsPath); err == nil && isFile {
		// Converting a file-backed instance to a directory.
		dirPath = path.Join(path.Dir(fsPath), pathenc.Encode(inst.Name))
	}
	pl.ensureDir(dirPath)

	metaClass := ""
	switch kind {
	case middleware.KindInitModule, middleware.KindInitServerScript, middleware.KindInitClientScript:
		source, _ := inst.Properties["Source"].(variant.String)
		pl.writeFile(path.Join(dirPath, initFileName(kind)), []byte(source))
	case middleware.KindInitCSV:
		contents, _ := inst.Properties["Contents"].(variant.String)
		body, err := middleware.LocalizationToCSV(string(contents))
		if err != nil {
			return fmt.Errorf("%q: %w", inst.Name, err)
		}
		pl.writeFile(path.Join(dirPath, initFileName(kind)), body)
	default:
		if inst.ClassName != "Folder" {
			metaClass = inst.ClassName
		}
	}

	props, attrs := pl.emitProps(inst, "Source", "Contents", "RunContext")
	if doc := pl.metaDoc(inst, metaClass, props, attrs); doc != nil {
		pl.writeFile(path.Join(dirPath, "init.meta.json5"), marshalMeta(doc))
	}

	pair := matchChildren(pl.tree, oldNode, pl.dom, inst)
	for _, child := range pl.dom.ChildrenOf(inst.Referent) {
		if old, ok := pair.matched[child.Referent]; ok {
			if err := pl.emit(old, child, dirPath); err != nil {
				return err
			}
			continue
		}
		if err := pl.emit(nil, child, dirPath); err != nil {
			return err
		}
	}
	for _, removed := range pair.removed {
		if pl.opts.Mode == Incremental {
			pl.removeOldNode(removed)
		}
	}

	if pl.opts.Mode == Clean {
		pl.cleanScan(dirPath)
	}
	pl.retarget(oldNode, dirPath)
	return nil
}

// cleanScan removes anything under dirPath the plan did not produce.
// Hidden entries, project files, and paths owned by other $path nodes are
// exempt.
func (pl *planner) cleanScan(dirPath string) {
	names, err := pl.vfs.ReadDir(dirPath)
	if err != nil {
		return
	}
	for _, name := range names {
		full := path.Join(dirPath, name)
		if name == "" || name[0] == '.' {
			continue
		}
		if middleware.IsProjectFile(name) {
			continue
		}
		if pl.ictx.IsClaimed(full) {
			continue
		}
		if _, ok := pl.produced[full]; ok {
			continue
		}
		pl.out.Remove(full)
	}
}

var scriptExts = []string{".server.luau", ".server.lua", ".client.luau", ".client.lua", ".luau", ".lua"}

func extFor(kind middleware.Kind) string {
	switch kind {
	case middleware.KindServerScript:
		return ".server.luau"
	case middleware.KindClientScript:
		return ".client.luau"
	case middleware.KindModule:
		return ".luau"
	case middleware.KindText:
		return ".txt"
	case middleware.KindCSV:
		return ".csv"
	case middleware.KindJSONModel:
		return ".model.json5"
	case middleware.KindRbxmx:
		return ".rbxmx"
	}
	return ""
}

// primaryPath picks the file an instance serializes into. Incremental mode
// keeps fsPath when its extension already selects the wanted middleware
// (preserving .lua vs .luau spellings); clean mode always canonicalizes, so
// a clean syncback lands byte-identical regardless of what was on disk.
func (pl *planner) primaryPath(fsPath, name string, kind middleware.Kind) string {
	if pl.opts.Mode == Incremental {
		base := path.Base(fsPath)
		if existing, _, ok := middleware.SelectFile(snapshot.NewContext(), fsPath, base); ok && existing == kind {
			return fsPath
		}
	}
	return path.Join(path.Dir(fsPath), pathenc.Encode(name)+extFor(kind))
}

// metaPath is the adjacent overlay path for a primary file.
func metaPath(primary string) string {
	dir := path.Dir(primary)
	base := path.Base(primary)
	stem := base
	for _, ext := range append(append([]string{}, scriptExts...), ".model.json5", ".model.json", ".txt", ".csv", ".rbxm", ".rbxmx") {
		if len(stem) > len(ext) && stem[len(stem)-len(ext):] == ext {
			stem = stem[:len(stem)-len(ext)]
			break
		}
	}
	return path.Join(dir, stem+".meta.json5")
}
