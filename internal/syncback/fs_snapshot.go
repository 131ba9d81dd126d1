// Package syncback projects a model tree back onto the filesystem: it
// matches model instances against the current tree, chooses an on-disk
// format for each, and emits the file writes and removes that make a
// subsequent build reproduce the model.
package syncback

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// FsSnapshot is the planner's output: directories to create (parents before
// children), files to write, and paths to remove. Writes happen before
// removes; removes are ordered deepest first.
type FsSnapshot struct {
	dirOrder  []string
	dirSet    map[string]struct{}
	fileOrder []string
	files     map[string][]byte
	removed   map[string]struct{}
}

// NewFsSnapshot returns an empty plan.
func NewFsSnapshot() *FsSnapshot {
	return &FsSnapshot{
		dirSet:  make(map[string]struct{}),
		files:   make(map[string][]byte),
		removed: make(map[string]struct{}),
	}
}

// AddDir schedules a directory creation.
func (f *FsSnapshot) AddDir(p string) {
	if _, ok := f.dirSet[p]; ok {
		return
	}
	f.dirSet[p] = struct{}{}
	f.dirOrder = append(f.dirOrder, p)
}

// AddFile schedules a file write.
func (f *FsSnapshot) AddFile(p string, contents []byte) {
	if _, ok := f.files[p]; !ok {
		f.fileOrder = append(f.fileOrder, p)
	}
	f.files[p] = contents
}

// Remove schedules a path removal.
func (f *FsSnapshot) Remove(p string) {
	f.removed[p] = struct{}{}
}

// IsEmpty reports whether the plan does nothing.
func (f *FsSnapshot) IsEmpty() bool {
	return len(f.dirOrder) == 0 && len(f.files) == 0 && len(f.removed) == 0
}

// Dirs returns scheduled directories, parents before children.
func (f *FsSnapshot) Dirs() []string {
	return append([]string(nil), f.dirOrder...)
}

// Files returns scheduled file paths in plan order.
func (f *FsSnapshot) Files() []string {
	return append([]string(nil), f.fileOrder...)
}

// FileContents returns the bytes scheduled for p.
func (f *FsSnapshot) FileContents(p string) ([]byte, bool) {
	data, ok := f.files[p]
	return data, ok
}

// Removals returns scheduled removals, deepest paths first so directories
// empty out before they go.
func (f *FsSnapshot) Removals() []string {
	out := make([]string, 0, len(f.removed))
	for p := range f.removed {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		di, dj := strings.Count(out[i], "/"), strings.Count(out[j], "/")
		if di != dj {
			return di > dj
		}
		return out[i] < out[j]
	})
	return out
}

// Writes reports whether p is produced by this plan (as a file or
// directory).
func (f *FsSnapshot) Writes(p string) bool {
	if _, ok := f.files[p]; ok {
		return true
	}
	_, ok := f.dirSet[p]
	return ok
}

// Summary renders the plan compactly for logs and --list output.
func (f *FsSnapshot) Summary() string {
	return fmt.Sprintf("%d dirs, %d files, %d removals", len(f.dirOrder), len(f.files), len(f.removed))
}

// Apply executes the plan against a filesystem: directories, then file
// writes, then removals. Each path is atomic on its own; a failure reports
// the path so the user knows which file is left half-synced.
func (f *FsSnapshot) Apply(fs billy.Filesystem) error {
	for _, dir := range f.dirOrder {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	for _, p := range f.fileOrder {
		if err := util.WriteFile(fs, p, f.files[p], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
	}
	for _, p := range f.Removals() {
		if err := removeAll(fs, p); err != nil {
			return fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return nil
}

func removeAll(fs billy.Filesystem, p string) error {
	info, err := fs.Stat(p)
	if err != nil {
		// Already gone.
		return nil
	}
	if info.IsDir() {
		entries, err := fs.ReadDir(p)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := removeAll(fs, p+"/"+entry.Name()); err != nil {
				return err
			}
		}
	}
	return fs.Remove(p)
}
