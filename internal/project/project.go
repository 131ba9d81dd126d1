// Package project parses project descriptor files.
//
// Project files are a permissive JSON dialect (comments, trailing commas,
// unquoted keys) parsed through hjson. The descriptor names a tree of nodes
// that are either path-backed ($path) or inline ($className plus children).
package project

import (
	"fmt"
	"log"
	"path"
	"sort"
	"strings"

	"github.com/hjson/hjson-go/v4"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/variant"
)

// Default file names recognized as project descriptors.
const (
	FileName      = "default.project.json5"
	LegacyName    = "default.project.json"
	SuffixJSON5   = ".project.json5"
	SuffixJSON    = ".project.json"
)

// ParseError is a malformed project descriptor.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed project file %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SyncRule maps a glob of file paths to a middleware, optionally stripping
// a suffix from the file name before it becomes the instance name.
type SyncRule struct {
	Pattern    string `json:"pattern"`
	Middleware string `json:"use"`
	Suffix     string `json:"suffix,omitempty"`

	// Base is the directory the pattern is relative to (the project root).
	Base string `json:"-"`
}

// Node is one entry in the declarative instance tree.
type Node struct {
	// Path is the filesystem path this node materializes, relative to
	// the project file's directory. Empty for inline nodes.
	Path string

	// PathOptional marks the { optional: "..." } form: a missing target
	// is tolerated instead of failing the snapshot.
	PathOptional bool

	ClassName  string
	Properties map[string]variant.Value
	Attributes variant.Attributes

	IgnoreUnknownInstances *bool

	// IgnorePaths and IgnoreTrees hold node-scoped glob lists.
	IgnorePaths []string
	IgnoreTrees []string

	// ID pins an explicit stable id onto the produced instance.
	ID string

	// ChildOrder holds the child names sorted lexicographically, so
	// traversal is deterministic; Children is keyed by name.
	ChildOrder []string
	Children   map[string]*Node
}

// Project is a parsed project descriptor.
type Project struct {
	Name              string
	Tree              *Node
	ServePort         int
	ServePlaceIDs     []int64
	GlobIgnorePaths   []string
	EmitLegacyScripts bool
	SyncRules         []SyncRule

	// FilePath and FolderLocation locate the descriptor on disk.
	FilePath       string
	FolderLocation string
}

// IsProjectFile reports whether name looks like a project descriptor.
func IsProjectFile(name string) bool {
	return strings.HasSuffix(name, SuffixJSON5) || strings.HasSuffix(name, SuffixJSON)
}

// Parse reads a project descriptor from bytes. filePath is used for error
// messages and for resolving relative $path entries.
func Parse(data []byte, filePath string) (*Project, error) {
	var raw map[string]any
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, &ParseError{Path: filePath, Err: err}
	}

	p := &Project{
		EmitLegacyScripts: true,
		FilePath:          filePath,
		FolderLocation:    path.Dir(filePath),
	}

	for key, value := range raw {
		switch key {
		case "name":
			s, ok := value.(string)
			if !ok {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`name` must be a string")}
			}
			p.Name = s
		case "tree":
			obj, ok := value.(map[string]any)
			if !ok {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`tree` must be an object")}
			}
			tree, err := parseNode(obj, filePath)
			if err != nil {
				return nil, err
			}
			p.Tree = tree
		case "servePort":
			n, ok := toInt(value)
			if !ok {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`servePort` must be a number")}
			}
			p.ServePort = int(n)
		case "servePlaceIds":
			items, ok := value.([]any)
			if !ok {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`servePlaceIds` must be an array")}
			}
			for _, item := range items {
				n, ok := toInt(item)
				if !ok {
					return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`servePlaceIds` entries must be numbers")}
				}
				p.ServePlaceIDs = append(p.ServePlaceIDs, n)
			}
		case "globIgnorePaths":
			globs, err := toStringList(value)
			if err != nil {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`globIgnorePaths`: %w", err)}
			}
			p.GlobIgnorePaths = globs
		case "emitLegacyScripts":
			b, ok := value.(bool)
			if !ok {
				return nil, &ParseError{Path: filePath, Err: fmt.Errorf("`emitLegacyScripts` must be a bool")}
			}
			p.EmitLegacyScripts = b
		case "syncRules":
			rules, err := parseSyncRules(value, path.Dir(filePath))
			if err != nil {
				return nil, &ParseError{Path: filePath, Err: err}
			}
			p.SyncRules = rules
		default:
			// Unknown top-level keys are warnings, not errors.
			log.Printf("[project] Warning: unknown top-level field %q in %s", key, filePath)
		}
	}

	if p.Name == "" {
		base := path.Base(filePath)
		p.Name = strings.TrimSuffix(strings.TrimSuffix(base, SuffixJSON5), SuffixJSON)
		if p.Name == "default" || p.Name == base {
			p.Name = path.Base(path.Dir(filePath))
		}
	}
	if p.Tree == nil {
		return nil, &ParseError{Path: filePath, Err: fmt.Errorf("project has no `tree` field")}
	}

	return p, nil
}

func parseSyncRules(value any, base string) ([]SyncRule, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("`syncRules` must be an array")
	}
	rules := make([]SyncRule, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("`syncRules[%d]` must be an object", i)
		}
		rule := SyncRule{Base: base}
		for k, v := range obj {
			s, isString := v.(string)
			switch k {
			case "pattern":
				if !isString {
					return nil, fmt.Errorf("`syncRules[%d].pattern` must be a string", i)
				}
				rule.Pattern = s
			case "use":
				if !isString {
					return nil, fmt.Errorf("`syncRules[%d].use` must be a string", i)
				}
				rule.Middleware = s
			case "suffix":
				if !isString {
					return nil, fmt.Errorf("`syncRules[%d].suffix` must be a string", i)
				}
				rule.Suffix = s
			default:
				return nil, fmt.Errorf("`syncRules[%d]` has unknown field %q", i, k)
			}
		}
		if rule.Pattern == "" || rule.Middleware == "" {
			return nil, fmt.Errorf("`syncRules[%d]` needs both `pattern` and `use`", i)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseNode(obj map[string]any, filePath string) (*Node, error) {
	node := &Node{
		Properties: make(map[string]variant.Value),
		Children:   make(map[string]*Node),
	}

	for key, value := range obj {
		if strings.HasPrefix(key, "$") {
			if err := parseDollarKey(node, key, value, filePath); err != nil {
				return nil, err
			}
			continue
		}

		childObj, ok := value.(map[string]any)
		if !ok {
			return nil, &ParseError{Path: filePath, Err: fmt.Errorf("child %q must be an object", key)}
		}
		child, err := parseNode(childObj, filePath)
		if err != nil {
			return nil, err
		}
		node.Children[key] = child
	}

	node.ChildOrder = make([]string, 0, len(node.Children))
	for name := range node.Children {
		node.ChildOrder = append(node.ChildOrder, name)
	}
	sort.Strings(node.ChildOrder)

	if node.Path == "" && node.ClassName == "" && len(node.Children) == 0 {
		return nil, &ParseError{Path: filePath, Err: fmt.Errorf("a tree node needs `$path`, `$className`, or children")}
	}

	return node, nil
}

// parseDollarKey handles the $-prefixed directives on a tree node. Unknown
// $-keys are errors.
func parseDollarKey(node *Node, key string, value any, filePath string) error {
	fail := func(format string, args ...any) error {
		return &ParseError{Path: filePath, Err: fmt.Errorf(format, args...)}
	}

	switch key {
	case "$path":
		switch v := value.(type) {
		case string:
			node.Path = v
		case map[string]any:
			// The optional form { "optional": "path" } tolerates a
			// missing target.
			s, ok := v["optional"].(string)
			if !ok {
				return fail("`$path` object form must be { optional: string }")
			}
			node.Path = s
			node.PathOptional = true
		default:
			return fail("`$path` must be a string")
		}
	case "$className":
		s, ok := value.(string)
		if !ok {
			return fail("`$className` must be a string")
		}
		node.ClassName = s
	case "$properties":
		obj, ok := value.(map[string]any)
		if !ok {
			return fail("`$properties` must be an object")
		}
		for name, raw := range obj {
			v, err := variant.FromJSON(raw)
			if err != nil {
				return fail("property %q: %v", name, err)
			}
			node.Properties[name] = v
		}
	case "$attributes":
		obj, ok := value.(map[string]any)
		if !ok {
			return fail("`$attributes` must be an object")
		}
		attrs := make(variant.Attributes, len(obj))
		for name, raw := range obj {
			v, err := variant.FromJSON(raw)
			if err != nil {
				return fail("attribute %q: %v", name, err)
			}
			attrs[name] = v
		}
		node.Attributes = attrs
	case "$ignoreUnknownInstances":
		b, ok := value.(bool)
		if !ok {
			return fail("`$ignoreUnknownInstances` must be a bool")
		}
		node.IgnoreUnknownInstances = &b
	case "$ignorePaths":
		globs, err := toStringList(value)
		if err != nil {
			return fail("`$ignorePaths`: %v", err)
		}
		node.IgnorePaths = globs
	case "$ignoreTrees":
		globs, err := toStringList(value)
		if err != nil {
			return fail("`$ignoreTrees`: %v", err)
		}
		node.IgnoreTrees = globs
	case "$id":
		s, ok := value.(string)
		if !ok {
			return fail("`$id` must be a string")
		}
		node.ID = s
	default:
		return fail("unknown directive %q on tree node", key)
	}
	return nil
}

func toStringList(value any) ([]string, error) {
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("must be an array of strings, found %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
