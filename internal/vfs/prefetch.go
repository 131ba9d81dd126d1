package vfs

import (
	"fmt"
	"path"
)

// PrefetchCache is a bulk-populated view of a subtree: bytes, canonical
// paths, file/directory flags, and ordered directory listings. A VFS with a
// prefetch cache installed treats its entries as authoritative, which lets a
// single-threaded scan feed the parallel snapshot phase without backend
// contention.
type PrefetchCache struct {
	Files     map[string][]byte
	Dirs      map[string][]string
	IsFile    map[string]bool
	Canonical map[string]string
}

// NewPrefetchCache returns an empty cache.
func NewPrefetchCache() *PrefetchCache {
	return &PrefetchCache{
		Files:     make(map[string][]byte),
		Dirs:      make(map[string][]string),
		IsFile:    make(map[string]bool),
		Canonical: make(map[string]string),
	}
}

// Populate walks the subtree rooted at root through the VFS backend,
// single-threaded, recording every file, listing, and stat it sees.
func (pc *PrefetchCache) Populate(v *VFS, root string) error {
	root = path.Clean(root)

	isFile, err := v.IsFile(root)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", root, err)
	}

	canon, err := v.Canonicalize(root)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", root, err)
	}
	pc.Canonical[root] = canon
	pc.IsFile[root] = isFile

	if isFile {
		data, err := v.Read(root)
		if err != nil {
			return fmt.Errorf("prefetch %s: %w", root, err)
		}
		pc.Files[root] = data
		return nil
	}

	names, err := v.ReadDir(root)
	if err != nil {
		return fmt.Errorf("prefetch %s: %w", root, err)
	}
	pc.Dirs[root] = names

	for _, name := range names {
		if err := pc.Populate(v, path.Join(root, name)); err != nil {
			return err
		}
	}
	return nil
}
