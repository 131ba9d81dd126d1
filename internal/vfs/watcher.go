package vfs

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watcher bridges fsnotify to VFS events. It watches every directory under
// the root and adds new directories as they appear.
type watcher struct {
	vfs    *VFS
	inner  *fsnotify.Watcher
	doneCh chan struct{}
}

func newWatcher(v *VFS, root string) (*watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &watcher{
		vfs:    v,
		inner:  inner,
		doneCh: make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		inner.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

func (w *watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.inner.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
		}
		return nil
	})
}

func (w *watcher) run() {
	defer close(w.doneCh)
	for {
		select {
		case ev, ok := <-w.inner.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.inner.Errors:
			if !ok {
				return
			}
			log.Printf("[vfs] Warning: watcher error: %v", err)
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	p := filepath.ToSlash(ev.Name)

	switch {
	case ev.Op.Has(fsnotify.Create):
		// New directories need their own watches before events inside
		// them can be seen.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				log.Printf("[vfs] Warning: could not watch new directory %s: %v", ev.Name, err)
			}
		}
		w.vfs.Commit(Event{Kind: Created, Path: p})
	case ev.Op.Has(fsnotify.Write):
		w.vfs.Commit(Event{Kind: Changed, Path: p})
	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		w.vfs.Commit(Event{Kind: Removed, Path: p})
	}
}

func (w *watcher) close() error {
	err := w.inner.Close()
	<-w.doneCh
	return err
}
