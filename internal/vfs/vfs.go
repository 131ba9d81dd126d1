// Package vfs provides the read-cached, watchable filesystem view the
// snapshot engine reads through.
//
// The backing store is a billy.Filesystem, so tests run against memfs and
// production runs against osfs. Reads and directory listings are cached and
// invalidated by events; a prefetch cache can be installed to feed a bulk
// snapshot without touching the backend at all.
package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// EventKind classifies a filesystem event.
type EventKind int

const (
	Created EventKind = iota
	Changed
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is a single filesystem change keyed by absolute path.
type Event struct {
	Kind EventKind
	Path string
}

// VFS is a cached view over a billy filesystem.
type VFS struct {
	backend billy.Filesystem

	mu        sync.Mutex
	fileCache map[string][]byte
	dirCache  map[string][]string
	statCache map[string]bool // path -> is regular file
	prefetch  *PrefetchCache

	subMu sync.Mutex
	subs  []chan Event

	watcher *watcher
}

// New wraps a billy filesystem in a caching VFS.
func New(backend billy.Filesystem) *VFS {
	return &VFS{
		backend:   backend,
		fileCache: make(map[string][]byte),
		dirCache:  make(map[string][]string),
		statCache: make(map[string]bool),
	}
}

// Backend returns the underlying filesystem. Syncback writes through it
// directly; reads should go through the VFS.
func (v *VFS) Backend() billy.Filesystem {
	return v.backend
}

// Read returns the contents of the file at p.
func (v *VFS) Read(p string) ([]byte, error) {
	p = path.Clean(p)

	v.mu.Lock()
	if v.prefetch != nil {
		if data, ok := v.prefetch.Files[p]; ok {
			v.mu.Unlock()
			return data, nil
		}
	}
	if data, ok := v.fileCache[p]; ok {
		v.mu.Unlock()
		return data, nil
	}
	v.mu.Unlock()

	data, err := util.ReadFile(v.backend, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	v.mu.Lock()
	v.fileCache[p] = data
	v.mu.Unlock()
	return data, nil
}

// ReadDir returns the sorted names of the entries in the directory at p.
func (v *VFS) ReadDir(p string) ([]string, error) {
	p = path.Clean(p)

	v.mu.Lock()
	if v.prefetch != nil {
		if names, ok := v.prefetch.Dirs[p]; ok {
			v.mu.Unlock()
			return names, nil
		}
	}
	if names, ok := v.dirCache[p]; ok {
		v.mu.Unlock()
		return names, nil
	}
	v.mu.Unlock()

	entries, err := v.backend.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", p, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	v.mu.Lock()
	v.dirCache[p] = names
	v.mu.Unlock()
	return names, nil
}

// IsFile reports whether p exists and is a regular file.
func (v *VFS) IsFile(p string) (bool, error) {
	p = path.Clean(p)

	v.mu.Lock()
	if v.prefetch != nil {
		if isFile, ok := v.prefetch.IsFile[p]; ok {
			v.mu.Unlock()
			return isFile, nil
		}
	}
	if isFile, ok := v.statCache[p]; ok {
		v.mu.Unlock()
		return isFile, nil
	}
	v.mu.Unlock()

	info, err := v.backend.Stat(p)
	if err != nil {
		return false, err
	}
	isFile := !info.IsDir()

	v.mu.Lock()
	v.statCache[p] = isFile
	v.mu.Unlock()
	return isFile, nil
}

// Exists reports whether p exists at all.
func (v *VFS) Exists(p string) bool {
	if _, err := v.IsFile(p); err != nil {
		return false
	}
	return true
}

// Canonicalize normalizes p to the form used as a cache and index key.
func (v *VFS) Canonicalize(p string) (string, error) {
	p = path.Clean(p)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.prefetch != nil {
		if canon, ok := v.prefetch.Canonical[p]; ok {
			return canon, nil
		}
	}
	return p, nil
}

// SetPrefetch installs a prefetch cache. Entries in it are authoritative
// until ClearPrefetch is called.
func (v *VFS) SetPrefetch(pc *PrefetchCache) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prefetch = pc
}

// ClearPrefetch removes the installed prefetch cache.
func (v *VFS) ClearPrefetch() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prefetch = nil
}

// Subscribe returns a channel of filesystem events. Events are delivered in
// commit order. Slow subscribers drop events with a logged warning rather
// than blocking the event loop.
func (v *VFS) Subscribe() <-chan Event {
	ch := make(chan Event, 1024)
	v.subMu.Lock()
	v.subs = append(v.subs, ch)
	v.subMu.Unlock()
	return ch
}

// Commit records a filesystem event: caches for the path and its parent
// listing are invalidated, then the event is fanned out to subscribers.
// The watcher calls this; tests using memfs call it directly after mutating
// the backend.
func (v *VFS) Commit(ev Event) {
	ev.Path = path.Clean(ev.Path)

	v.mu.Lock()
	delete(v.fileCache, ev.Path)
	delete(v.statCache, ev.Path)
	delete(v.dirCache, ev.Path)
	delete(v.dirCache, path.Dir(ev.Path))
	v.mu.Unlock()

	v.subMu.Lock()
	subs := make([]chan Event, len(v.subs))
	copy(subs, v.subs)
	v.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[vfs] Warning: dropping %s event for %s, subscriber is not keeping up", ev.Kind, ev.Path)
		}
	}
}

// Watch starts a native watcher rooted at root. Only meaningful for
// os-backed filesystems; memfs tests drive Commit directly.
func (v *VFS) Watch(root string) error {
	if v.watcher != nil {
		return fmt.Errorf("watcher already running")
	}
	w, err := newWatcher(v, root)
	if err != nil {
		return err
	}
	v.watcher = w
	return nil
}

// Close stops the watcher, if any.
func (v *VFS) Close() error {
	if v.watcher != nil {
		err := v.watcher.close()
		v.watcher = nil
		return err
	}
	return nil
}

// NotExist reports whether err means the path is gone.
func NotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist)
}
