package middleware

import (
	"fmt"

	"github.com/hjson/hjson-go/v4"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// snapshotJSONModel maps a .model.json5 file to the instance tree it
// describes. Unknown fields are errors.
func snapshotJSONModel(ictx *snapshot.Context, v *vfs.VFS, p, name string) (*snapshot.Snapshot, error) {
	contents, err := v.Read(p)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := hjson.Unmarshal(contents, &raw); err != nil {
		return nil, fmt.Errorf("malformed JSON model file %s: %w", p, err)
	}

	snap, err := jsonModelNode(raw, p)
	if err != nil {
		return nil, err
	}

	// The file stem wins over any embedded name.
	snap.Name = name

	snap.Metadata = snapshot.Metadata{
		Middleware: string(KindJSONModel),
		Context:    ictx,
	}.WithInstigatingSource(p)

	if err := applyAdjacentMeta(v, p, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func jsonModelNode(raw map[string]any, filePath string) (*snapshot.Snapshot, error) {
	snap := snapshot.New("", "")

	for key, value := range raw {
		switch key {
		case "name", "Name":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: `name` must be a string", filePath)
			}
			snap.Name = s
		case "className", "ClassName":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: `className` must be a string", filePath)
			}
			snap.ClassName = s
		case "properties", "Properties":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: `properties` must be an object", filePath)
			}
			for propName, propRaw := range obj {
				prop, err := variant.FromJSON(propRaw)
				if err != nil {
					return nil, fmt.Errorf("%s: property %q: %w", filePath, propName, err)
				}
				snap.Properties[propName] = prop
			}
		case "attributes", "Attributes":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: `attributes` must be an object", filePath)
			}
			attrs := make(variant.Attributes, len(obj))
			for attrName, attrRaw := range obj {
				attr, err := variant.FromJSON(attrRaw)
				if err != nil {
					return nil, fmt.Errorf("%s: attribute %q: %w", filePath, attrName, err)
				}
				attrs[attrName] = attr
			}
			snap.Properties["Attributes"] = attrs
		case "children", "Children":
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%s: `children` must be an array", filePath)
			}
			for i, item := range items {
				childRaw, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s: `children[%d]` must be an object", filePath, i)
				}
				child, err := jsonModelNode(childRaw, filePath)
				if err != nil {
					return nil, err
				}
				snap.Children = append(snap.Children, child)
			}
		case "id", "Id":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%s: `id` must be a string", filePath)
			}
			snap.ID = rbxdom.Ref(s)
		default:
			return nil, fmt.Errorf("%s: unknown field %q in JSON model", filePath, key)
		}
	}

	if snap.ClassName == "" {
		return nil, fmt.Errorf("%s: JSON model node has no `className`", filePath)
	}
	if snap.Name == "" {
		snap.Name = snap.ClassName
	}
	return snap, nil
}
