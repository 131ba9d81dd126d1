// Package rbxmx implements the XML model file codec and registers it for
// the .rbxmx extension.
//
// Only the property types the engine itself produces are understood; unknown
// property elements are preserved as strings so foreign files survive a
// decode/encode cycle without data loss of their textual payloads.
package rbxmx

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

func init() {
	rbxdom.RegisterCodec(".rbxmx", Codec{})
}

// Codec reads and writes the XML model format.
type Codec struct{}

type xmlRoblox struct {
	XMLName xml.Name  `xml:"roblox"`
	Version string    `xml:"version,attr"`
	Items   []xmlItem `xml:"Item"`
}

type xmlItem struct {
	Class      string    `xml:"class,attr"`
	Referent   string    `xml:"referent,attr"`
	Properties *xmlProps `xml:"Properties"`
	Items      []xmlItem `xml:"Item"`
}

type xmlProps struct {
	Props []xmlProp `xml:",any"`
}

type xmlProp struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:",chardata"`
}

// Decode parses an XML model stream into a document whose root is a
// synthetic container holding the file's top-level instances.
func (Codec) Decode(r io.Reader) (*rbxdom.Dom, error) {
	var doc xmlRoblox
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed rbxmx: %w", err)
	}

	dom := rbxdom.NewDom(&rbxdom.Instance{Name: "<root>", ClassName: "DataModel"})

	// File-local referents are remapped to minted ones; Ref properties
	// are resolved in a second pass once every instance exists.
	local := make(map[string]rbxdom.Ref)
	type pendingRef struct {
		owner    rbxdom.Ref
		property string
		target   string
	}
	var pending []pendingRef

	var build func(parent rbxdom.Ref, item xmlItem) error
	build = func(parent rbxdom.Ref, item xmlItem) error {
		inst := &rbxdom.Instance{
			ClassName:  item.Class,
			Properties: make(map[string]variant.Value),
		}
		ref := dom.Insert(parent, inst)
		if item.Referent != "" {
			local[item.Referent] = ref
		}

		if item.Properties != nil {
			for _, prop := range item.Properties.Props {
				switch prop.XMLName.Local {
				case "string", "token", "Content", "BinaryString", "ProtectedString":
					if prop.Name == "Name" {
						inst.Name = prop.Value
						continue
					}
					inst.Properties[prop.Name] = variant.String(prop.Value)
				case "bool":
					inst.Properties[prop.Name] = variant.Bool(prop.Value == "true")
				case "double", "float", "int", "int64":
					f, err := strconv.ParseFloat(prop.Value, 64)
					if err != nil {
						return fmt.Errorf("property %s: bad number %q", prop.Name, prop.Value)
					}
					inst.Properties[prop.Name] = variant.Float(f)
				case "Ref":
					if prop.Value == "null" || prop.Value == "" {
						inst.Properties[prop.Name] = variant.Ref("")
						continue
					}
					pending = append(pending, pendingRef{owner: ref, property: prop.Name, target: prop.Value})
				default:
					inst.Properties[prop.Name] = variant.String(prop.Value)
				}
			}
		}

		for _, child := range item.Items {
			if err := build(ref, child); err != nil {
				return err
			}
		}
		return nil
	}

	for _, item := range doc.Items {
		if err := build(dom.RootRef(), item); err != nil {
			return nil, err
		}
	}

	for _, p := range pending {
		owner := dom.Get(p.owner)
		target, ok := local[p.target]
		if !ok {
			// Dangling in-file reference: keep it nil rather than fail.
			owner.Properties[p.property] = variant.Ref("")
			continue
		}
		owner.Properties[p.property] = variant.Ref(string(target))
	}

	return dom, nil
}

// Encode serializes the given instances of dom as the file's top-level
// instances.
func (Codec) Encode(w io.Writer, dom *rbxdom.Dom, roots []rbxdom.Ref) error {
	// Referent attributes are file-local sequence numbers.
	local := make(map[rbxdom.Ref]string)
	next := 0
	for _, root := range roots {
		for _, ref := range dom.Descendants(root) {
			local[ref] = strconv.Itoa(next)
			next++
		}
	}

	var render func(ref rbxdom.Ref) (xmlItem, error)
	render = func(ref rbxdom.Ref) (xmlItem, error) {
		inst := dom.Get(ref)
		if inst == nil {
			return xmlItem{}, fmt.Errorf("unknown referent %s", ref)
		}

		props := &xmlProps{}
		props.Props = append(props.Props, xmlProp{
			XMLName: xml.Name{Local: "string"},
			Name:    "Name",
			Value:   inst.Name,
		})
		for _, name := range sortedKeys(inst.Properties) {
			value := inst.Properties[name]
			prop := xmlProp{Name: name}
			switch v := value.(type) {
			case variant.String:
				prop.XMLName = xml.Name{Local: "string"}
				prop.Value = string(v)
			case variant.Bool:
				prop.XMLName = xml.Name{Local: "bool"}
				prop.Value = strconv.FormatBool(bool(v))
			case variant.Float:
				prop.XMLName = xml.Name{Local: "double"}
				prop.Value = strconv.FormatFloat(float64(v), 'g', -1, 64)
			case variant.Ref:
				prop.XMLName = xml.Name{Local: "Ref"}
				if v.IsNone() {
					prop.Value = "null"
				} else if seq, ok := local[rbxdom.Ref(v)]; ok {
					prop.Value = seq
				} else {
					prop.Value = "null"
				}
			default:
				// Attributes and lists have no XML projection here;
				// they ride along as their debug form.
				prop.XMLName = xml.Name{Local: "string"}
				prop.Value = variant.DebugString(value)
			}
			props.Props = append(props.Props, prop)
		}

		item := xmlItem{
			Class:      inst.ClassName,
			Referent:   local[ref],
			Properties: props,
		}
		for _, child := range inst.Children {
			rendered, err := render(child)
			if err != nil {
				return xmlItem{}, err
			}
			item.Items = append(item.Items, rendered)
		}
		return item, nil
	}

	doc := xmlRoblox{Version: "4"}
	for _, root := range roots {
		item, err := render(root)
		if err != nil {
			return err
		}
		doc.Items = append(doc.Items, item)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("serialize rbxmx: %w", err)
	}
	return enc.Flush()
}

func sortedKeys(m map[string]variant.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
