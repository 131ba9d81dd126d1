package middleware

import (
	"fmt"
	"path"
	"strings"

	"dario.cat/mergo"
	"github.com/hjson/hjson-go/v4"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// metaFile is a parsed NAME.meta.json5 or init.meta.json5 overlay.
type metaFile struct {
	ClassName              string
	Properties             map[string]variant.Value
	Attributes             variant.Attributes
	IgnoreUnknownInstances *bool
	ID                     string
}

func parseMetaFile(data []byte, filePath string) (*metaFile, error) {
	var raw map[string]any
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("malformed meta file %s: %w", filePath, err)
	}

	meta := &metaFile{Properties: make(map[string]variant.Value)}
	for key, value := range raw {
		switch key {
		case "className":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: `className` must be a string", filePath)
			}
			meta.ClassName = s
		case "properties":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: `properties` must be an object", filePath)
			}
			for name, propRaw := range obj {
				prop, err := variant.FromJSON(propRaw)
				if err != nil {
					return nil, fmt.Errorf("%s: property %q: %w", filePath, name, err)
				}
				meta.Properties[name] = prop
			}
		case "attributes":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: `attributes` must be an object", filePath)
			}
			attrs := make(variant.Attributes, len(obj))
			for name, attrRaw := range obj {
				attr, err := variant.FromJSON(attrRaw)
				if err != nil {
					return nil, fmt.Errorf("%s: attribute %q: %w", filePath, name, err)
				}
				attrs[name] = attr
			}
			meta.Attributes = attrs
		case "ignoreUnknownInstances":
			b, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%s: `ignoreUnknownInstances` must be a bool", filePath)
			}
			meta.IgnoreUnknownInstances = &b
		case "id":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: `id` must be a string", filePath)
			}
			meta.ID = s
		default:
			return nil, fmt.Errorf("%s: unknown field %q in meta file", filePath, key)
		}
	}
	return meta, nil
}

// metaPathsFor lists the candidate overlay paths for a primary file, the
// json5 spelling first. Both are recorded as relevant so creating one later
// re-snapshots the instance.
func metaPathsFor(primary string) []string {
	dir := path.Dir(primary)
	stem := fileStem(path.Base(primary))
	return []string{
		path.Join(dir, stem+".meta.json5"),
		path.Join(dir, stem+".meta.json"),
	}
}

// fileStem strips the middleware-significant suffix from a file name.
func fileStem(fileName string) string {
	for _, s := range scriptSuffixes {
		if strings.HasSuffix(fileName, s.suffix) && len(fileName) > len(s.suffix) {
			return fileName[:len(fileName)-len(s.suffix)]
		}
	}
	for _, suffix := range []string{".model.json5", ".model.json", ".txt", ".csv", ".rbxm", ".rbxmx"} {
		if strings.HasSuffix(fileName, suffix) && len(fileName) > len(suffix) {
			return fileName[:len(fileName)-len(suffix)]
		}
	}
	if dot := strings.LastIndexByte(fileName, '.'); dot > 0 {
		return fileName[:dot]
	}
	return fileName
}

// applyAdjacentMeta overlays NAME.meta.json5 onto the snapshot produced for
// NAME.EXT. Both paths end up in the instance's relevant paths.
func applyAdjacentMeta(v *vfs.VFS, primary string, snap *snapshot.Snapshot) error {
	for _, metaPath := range metaPathsFor(primary) {
		snap.Metadata = snap.Metadata.WithRelevantPath(metaPath)

		data, err := v.Read(metaPath)
		if err != nil {
			if vfs.NotExist(err) {
				continue
			}
			return err
		}

		meta, err := parseMetaFile(data, metaPath)
		if err != nil {
			return err
		}
		if err := applyMeta(meta, metaPath, snap, false); err != nil {
			return err
		}
	}
	return nil
}

// applyDirectoryMeta overlays init.meta.json5 onto a directory snapshot.
func applyDirectoryMeta(v *vfs.VFS, dirPath string, snap *snapshot.Snapshot, promoted bool) error {
	for _, base := range []string{"init.meta.json5", "init.meta.json"} {
		metaPath := path.Join(dirPath, base)
		snap.Metadata = snap.Metadata.WithRelevantPath(metaPath)

		data, err := v.Read(metaPath)
		if err != nil {
			if vfs.NotExist(err) {
				continue
			}
			return err
		}

		meta, err := parseMetaFile(data, metaPath)
		if err != nil {
			return err
		}
		if err := applyMeta(meta, metaPath, snap, !promoted); err != nil {
			return err
		}
	}
	return nil
}

// applyMeta folds one parsed overlay into a snapshot. classChangeOK permits
// replacing the class; otherwise a differing className is a MetaMismatch.
func applyMeta(meta *metaFile, metaPath string, snap *snapshot.Snapshot, classChangeOK bool) error {
	if meta.ClassName != "" && meta.ClassName != snap.ClassName {
		kind := Kind(snap.Metadata.Middleware)
		if !classChangeOK && kind != KindJSONModel && kind != KindRbxm && kind != KindRbxmx {
			return &MetaMismatch{
				Path: metaPath,
				Msg:  fmt.Sprintf("meta file cannot change class %s to %s for this file type", snap.ClassName, meta.ClassName),
			}
		}
		snap.ClassName = meta.ClassName
	}

	if len(meta.Properties) > 0 {
		if err := mergo.Merge(&snap.Properties, meta.Properties, mergo.WithOverride); err != nil {
			return fmt.Errorf("%s: merging properties: %w", metaPath, err)
		}
	}

	if len(meta.Attributes) > 0 {
		existing, _ := snap.Properties["Attributes"].(variant.Attributes)
		if existing == nil {
			existing = make(variant.Attributes)
		}
		if err := mergo.Merge(&existing, meta.Attributes, mergo.WithOverride); err != nil {
			return fmt.Errorf("%s: merging attributes: %w", metaPath, err)
		}
		snap.Properties["Attributes"] = existing
	}

	if meta.IgnoreUnknownInstances != nil {
		snap.Metadata.IgnoreUnknownInstances = *meta.IgnoreUnknownInstances
	}

	if meta.ID != "" {
		snap.ID = rbxdom.Ref(meta.ID)
	}
	return nil
}
