// Package middleware maps filesystem paths to instance snapshots.
//
// A middleware is a pure function of the VFS bytes it reads and the context
// it is handed; the registry decides which middleware interprets a path.
// A directory always goes to the directory middleware; sync rules are not
// consulted for directories. A file is matched by sync rule first, then by
// extension. The snapshot
// driver composes middlewares into whole-tree snapshots.
package middleware

import (
	"fmt"
	"strings"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/pathenc"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
)

// Kind tags the middleware that produced a snapshot. Syncback's incremental
// mode uses the recorded kind to keep the on-disk format.
type Kind string

const (
	KindModule       Kind = "module"
	KindServerScript Kind = "server_script"
	KindClientScript Kind = "client_script"
	KindText         Kind = "text"
	KindCSV          Kind = "csv"
	KindJSONModel    Kind = "json_model"
	KindProject      Kind = "project"
	KindRbxm         Kind = "rbxm"
	KindRbxmx        Kind = "rbxmx"
	KindDir          Kind = "dir"

	KindInitModule       Kind = "init_module"
	KindInitServerScript Kind = "init_server_script"
	KindInitClientScript Kind = "init_client_script"
	KindInitCSV          Kind = "init_csv"
	KindInitProject      Kind = "init_project"
)

// StructureError is a structural problem in the source tree: two init
// files, a model with the wrong number of roots, a missing $path target.
type StructureError struct {
	Path string
	Msg  string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Msg, e.Path)
}

// MetaMismatch is a meta file attempting an incompatible class change.
type MetaMismatch struct {
	Path string
	Msg  string
}

func (e *MetaMismatch) Error() string {
	return fmt.Sprintf("%s: %s", e.Msg, e.Path)
}

// scriptSuffixes orders matters: the longest suffix must match first.
var scriptSuffixes = []struct {
	suffix string
	kind   Kind
}{
	{".server.luau", KindServerScript},
	{".server.lua", KindServerScript},
	{".client.luau", KindClientScript},
	{".client.lua", KindClientScript},
	{".luau", KindModule},
	{".lua", KindModule},
}

// IsMetaFile reports whether name is a meta overlay, which never stands
// alone as an instance.
func IsMetaFile(name string) bool {
	return strings.HasSuffix(name, ".meta.json5") || strings.HasSuffix(name, ".meta.json")
}

// IsProjectFile reports whether name is a project descriptor.
func IsProjectFile(name string) bool {
	return strings.HasSuffix(name, ".project.json5") || strings.HasSuffix(name, ".project.json")
}

// SelectFile picks the middleware for a plain file, honoring sync rules
// first, and returns the instance name derived from the file name.
// ok is false when the file maps to nothing (unknown extension, meta file).
func SelectFile(ctx *snapshot.Context, path, fileName string) (kind Kind, name string, ok bool) {
	if rule := ctx.MatchSyncRule(path); rule != nil {
		stem := fileName
		if rule.Suffix != "" && strings.HasSuffix(stem, rule.Suffix) {
			stem = stem[:len(stem)-len(rule.Suffix)]
		} else if dot := strings.LastIndexByte(stem, '.'); dot >= 0 {
			stem = stem[:dot]
		}
		return Kind(rule.Middleware), pathenc.Decode(stem), true
	}

	if IsMetaFile(fileName) {
		return "", "", false
	}
	if IsProjectFile(fileName) {
		stem := strings.TrimSuffix(strings.TrimSuffix(fileName, ".project.json5"), ".project.json")
		return KindProject, pathenc.Decode(stem), true
	}

	for _, s := range scriptSuffixes {
		if strings.HasSuffix(fileName, s.suffix) && len(fileName) > len(s.suffix) {
			return s.kind, pathenc.Decode(fileName[:len(fileName)-len(s.suffix)]), true
		}
	}

	switch {
	case strings.HasSuffix(fileName, ".model.json5"):
		return KindJSONModel, pathenc.Decode(strings.TrimSuffix(fileName, ".model.json5")), true
	case strings.HasSuffix(fileName, ".model.json"):
		return KindJSONModel, pathenc.Decode(strings.TrimSuffix(fileName, ".model.json")), true
	case strings.HasSuffix(fileName, ".txt"):
		return KindText, pathenc.Decode(strings.TrimSuffix(fileName, ".txt")), true
	case strings.HasSuffix(fileName, ".csv"):
		return KindCSV, pathenc.Decode(strings.TrimSuffix(fileName, ".csv")), true
	case strings.HasSuffix(fileName, ".rbxm"):
		return KindRbxm, pathenc.Decode(strings.TrimSuffix(fileName, ".rbxm")), true
	case strings.HasSuffix(fileName, ".rbxmx"):
		return KindRbxmx, pathenc.Decode(strings.TrimSuffix(fileName, ".rbxmx")), true
	}

	return "", "", false
}

// initNames maps a promoting init file name to the kind the directory
// promotes to.
var initNames = map[string]Kind{
	"init.lua":         KindInitModule,
	"init.luau":        KindInitModule,
	"init.server.lua":  KindInitServerScript,
	"init.server.luau": KindInitServerScript,
	"init.client.lua":  KindInitClientScript,
	"init.client.luau": KindInitClientScript,
	"init.csv":         KindInitCSV,
	"init.project.json5": KindInitProject,
	"init.project.json":  KindInitProject,
}

// findInit scans a directory listing for promoting init files. Exactly one
// may be present; two is a StructureError.
func findInit(dirPath string, names []string) (fileName string, kind Kind, err error) {
	for _, name := range names {
		k, ok := initNames[name]
		if !ok {
			continue
		}
		if fileName != "" {
			return "", "", &StructureError{
				Path: dirPath,
				Msg:  fmt.Sprintf("directory has multiple init files (%s and %s)", fileName, name),
			}
		}
		fileName, kind = name, k
	}
	return fileName, kind, nil
}
