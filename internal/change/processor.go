// Package change implements the filesystem event loop: it watches the VFS,
// re-runs the middlewares whose inputs changed, diffs the results against
// the stored tree, applies the patch, and publishes it to subscribers.
//
// The processor is single-threaded and cooperative: one patch is in flight
// against the tree at a time, and subscribers see patches in application
// order.
package change

import (
	"context"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/middleware"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/rbxdom"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/snapshot"
	"github.com/UserGeneratedLLC/rojo-sub002/internal/vfs"
)

// debounce is how long the processor keeps draining events into one batch
// after the first arrives. Editors save files in flurries; one patch per
// flurry keeps subscribers quiet.
const debounce = 100 * time.Millisecond

// Processor drives the incremental snapshot loop.
type Processor struct {
	tree   *snapshot.Tree
	vfs    *vfs.VFS
	events <-chan vfs.Event

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	subs    []chan *snapshot.AppliedPatchSet
	running bool
}

// New creates a processor over the given tree and VFS. Call Start to begin
// consuming events.
func New(tree *snapshot.Tree, v *vfs.VFS) *Processor {
	return &Processor{
		tree:   tree,
		vfs:    v,
		events: v.Subscribe(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Subscribe returns a channel of applied patches, in application order.
func (p *Processor) Subscribe() <-chan *snapshot.AppliedPatchSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *snapshot.AppliedPatchSet, 64)
	p.subs = append(p.subs, ch)
	return ch
}

// Start launches the event loop.
func (p *Processor) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.run()
}

// Stop halts the event loop and waits for it to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}

func (p *Processor) run() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		case ev := <-p.events:
			batch := p.collectBatch(ev)
			if len(batch) == 0 {
				continue
			}
			applied, err := p.ProcessBatch(batch)
			if err != nil {
				log.Printf("[change] Warning: processing batch failed: %v", err)
				continue
			}
			if applied != nil && !applied.IsEmpty() {
				p.publish(applied)
			}
		}
	}
}

// collectBatch drains events for the debounce window, coalescing a
// created+removed pair for the same path into nothing.
func (p *Processor) collectBatch(first vfs.Event) []vfs.Event {
	batch := []vfs.Event{first}
	timer := time.NewTimer(debounce)
	defer timer.Stop()

	for {
		select {
		case ev := <-p.events:
			batch = append(batch, ev)
		case <-timer.C:
			return coalesce(batch)
		case <-p.stopCh:
			return coalesce(batch)
		}
	}
}

// coalesce removes event pairs that cancel out within one batch.
func coalesce(batch []vfs.Event) []vfs.Event {
	created := make(map[string]bool)
	removed := make(map[string]bool)
	for _, ev := range batch {
		switch ev.Kind {
		case vfs.Created:
			created[ev.Path] = true
		case vfs.Removed:
			removed[ev.Path] = true
		}
	}

	out := batch[:0]
	seen := make(map[string]bool)
	for _, ev := range batch {
		if created[ev.Path] && removed[ev.Path] {
			continue
		}
		key := ev.Path + "\x00" + ev.Kind.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ev)
	}
	return out
}

// ProcessBatch re-snapshots every instance whose inputs are named by the
// batch, applies the combined patch, and returns it. Exported so tests and
// the serve layer can drive the processor synchronously.
func (p *Processor) ProcessBatch(batch []vfs.Event) (*snapshot.AppliedPatchSet, error) {
	ids := p.affectedIDs(batch)
	if len(ids) == 0 {
		return &snapshot.AppliedPatchSet{}, nil
	}

	combined := &snapshot.PatchSet{}
	for _, id := range ids {
		node := p.tree.Get(id)
		if node == nil {
			continue
		}

		source := node.Meta.InstigatingSource
		if source == "" {
			continue
		}
		if strings.HasPrefix(node.Meta.Middleware, "init_") {
			// Promoted directories re-snapshot from the directory so
			// sibling children are rediscovered.
			source = path.Dir(source)
		}
		ictx := node.Meta.Context
		if ictx == nil {
			ictx = snapshot.NewContext()
		}

		snap, err := middleware.SnapshotNamed(context.Background(), ictx, p.vfs, source, node.Name)
		if err != nil {
			if vfs.NotExist(err) {
				combined.Removed = append(combined.Removed, id)
				continue
			}
			// IO and parse failures leave the instance stale until
			// the next event for its paths.
			log.Printf("[change] Warning: re-snapshot of %s failed, instance %s is stale: %v", source, id, err)
			continue
		}
		if snap == nil {
			combined.Removed = append(combined.Removed, id)
			continue
		}

		combined.Merge(snapshot.Diff(p.tree, id, snap))
	}

	if combined.IsEmpty() {
		return &snapshot.AppliedPatchSet{}, nil
	}

	applied, err := snapshot.Apply(p.tree, combined, snapshot.ForwardSync)
	if err != nil {
		return nil, err
	}
	log.Printf("[change] Applied patch: %s", applied.Summary())
	return applied, nil
}

// affectedIDs maps batch paths to instance ids: direct hits on the path
// index, falling back to the containing directory for brand-new paths, with
// ids subsumed by an affected ancestor pruned so each subtree re-snapshots
// once.
func (p *Processor) affectedIDs(batch []vfs.Event) []rbxdom.Ref {
	candidates := make(map[rbxdom.Ref]struct{})
	for _, ev := range batch {
		ids := p.tree.IDsAtPath(ev.Path)
		if len(ids) == 0 {
			ids = p.tree.IDsAtPath(path.Dir(ev.Path))
		}
		for _, id := range ids {
			candidates[id] = struct{}{}
		}
	}

	out := make([]rbxdom.Ref, 0, len(candidates))
	for id := range candidates {
		if !p.hasAncestorIn(id, candidates) {
			out = append(out, id)
		}
	}
	return out
}

func (p *Processor) hasAncestorIn(id rbxdom.Ref, set map[rbxdom.Ref]struct{}) bool {
	node := p.tree.Get(id)
	if node == nil {
		return false
	}
	for parent := node.Parent; !parent.IsNone(); {
		if _, ok := set[parent]; ok {
			return true
		}
		parentNode := p.tree.Get(parent)
		if parentNode == nil {
			break
		}
		parent = parentNode.Parent
	}
	return false
}

func (p *Processor) publish(applied *snapshot.AppliedPatchSet) {
	p.mu.Lock()
	subs := make([]chan *snapshot.AppliedPatchSet, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- applied:
		default:
			log.Printf("[change] Warning: dropping patch, subscriber is not keeping up")
		}
	}
}
