// Package refdb is the seam to the external reflection database: class
// default property values and scriptability, consulted when deciding which
// properties are worth writing to disk.
package refdb

import "github.com/UserGeneratedLLC/rojo-sub002/internal/variant"

// Database answers reflection queries about instance classes.
type Database interface {
	// DefaultValue returns the default value of a property on a class,
	// if the database knows one.
	DefaultValue(className, property string) (variant.Value, bool)

	// Scriptable reports whether a property can be assigned from scripts.
	// Unscriptable properties are omitted from syncback output unless
	// syncUnscriptable is enabled.
	Scriptable(className, property string) bool
}

// Static is a Database backed by in-memory tables. The zero value knows
// nothing; tests and the built-in fallback populate it.
type Static struct {
	Defaults     map[string]map[string]variant.Value
	Unscriptable map[string]map[string]bool
}

func (s *Static) DefaultValue(className, property string) (variant.Value, bool) {
	props, ok := s.Defaults[className]
	if !ok {
		return nil, false
	}
	v, ok := props[property]
	return v, ok
}

func (s *Static) Scriptable(className, property string) bool {
	props, ok := s.Unscriptable[className]
	if !ok {
		return true
	}
	return !props[property]
}

// Builtin returns the small database compiled into the binary: enough for
// the classes the middlewares themselves produce. A fuller database can be
// supplied by the embedding application.
func Builtin() *Static {
	return &Static{
		Defaults: map[string]map[string]variant.Value{
			"Folder": {},
			"ModuleScript": {
				"Source": variant.String(""),
			},
			"Script": {
				"Source":   variant.String(""),
				"Disabled": variant.Bool(false),
			},
			"LocalScript": {
				"Source":   variant.String(""),
				"Disabled": variant.Bool(false),
			},
			"StringValue": {
				"Value": variant.String(""),
			},
			"LocalizationTable": {
				"Contents": variant.String("[]"),
			},
			"Model": {
				"PrimaryPart": variant.Ref(""),
			},
			"Part": {
				"Anchored":    variant.Bool(false),
				"CanCollide":  variant.Bool(true),
				"Face":        variant.String("Front"),
				"Transparency": variant.Float(0),
			},
			"Texture": {
				"Face": variant.String("Front"),
			},
		},
	}
}
