// Package viewcache hands out shared, reference-counted read views of historical block
// states and creates independent working views derived from them.
package viewcache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/sourcegraph/conc"
)

//go:generate mockgen -destination=../mocks/mock_snapshot_store.go -package=mocks github.com/ledgerline/ledgerd/viewcache SnapshotStore
type SnapshotStore interface {
	// GetSnapshot takes a reference on the dump of id and returns its path.
	GetSnapshot(id core.BlockID) (string, error)
	ReleaseSnapshot(id core.BlockID)
	Recycle() (int, error)
}

var (
	ErrStorageInit  = errors.New("storage init failed")
	ErrViewNotFound = errors.New("view not referenced")
	ErrClosed       = errors.New("view cache closed")
)

// Origin selects what a new working view starts from.
type Origin interface {
	origin()
}

type blockOrigin struct{ id core.BlockID }

type viewOrigin struct{ view *storage.Storage }

func (blockOrigin) origin() {}
func (viewOrigin) origin()  {}

// FromBlock starts a working view from the state of block id.
func FromBlock(id core.BlockID) Origin {
	return blockOrigin{id: id}
}

// FromView starts a working view from a copy of a live view.
func FromView(view *storage.Storage) Origin {
	return viewOrigin{view: view}
}

type entry struct {
	id    core.BlockID
	refs  int
	ready *completion[*storage.Storage]
	// previous entry for the same id that is still being torn down
	after <-chan struct{}
	gone  chan struct{}
	once  sync.Once
}

type Option func(*Cache)

func WithListener(listener EventListener) Option {
	return func(c *Cache) {
		c.listener = listener
	}
}

// WithStorageOptions applies opts to every view the cache opens or creates.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(c *Cache) {
		c.storageOpts = append(c.storageOpts, opts...)
	}
}

type Cache struct {
	root     string
	store    SnapshotStore
	log      utils.Logger
	listener EventListener

	storageOpts []storage.Option

	mu      sync.Mutex
	entries map[core.BlockID]*entry
	dying   map[core.BlockID]*entry
	closed  bool

	wg conc.WaitGroup
}

// New returns a cache that creates working views under root and materializes shared views
// from store. Close must be called to tear down the remaining views.
func New(root string, store SnapshotStore, log utils.Logger, opts ...Option) *Cache {
	c := &Cache{
		root:     root,
		store:    store,
		log:      log,
		listener: &SelectiveListener{},
		entries:  make(map[core.BlockID]*entry),
		dying:    make(map[core.BlockID]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetView returns the shared read-only view of block id and takes one reference on it.
// Concurrent callers for the same id share a single materialization.
func (c *Cache) GetView(ctx context.Context, id core.BlockID) (*storage.Storage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, hit := c.entries[id]
	if hit {
		e.refs++
	} else {
		e = &entry{
			id:    id,
			refs:  1,
			ready: newCompletion[*storage.Storage](),
			gone:  make(chan struct{}),
		}
		if prev, ok := c.dying[id]; ok {
			e.after = prev.gone
		}
		c.entries[id] = e
		c.wg.Go(func() { c.materialize(e) })
	}
	c.mu.Unlock()

	if hit {
		c.listener.OnHit()
	} else {
		c.listener.OnMiss()
	}

	view, err := e.ready.wait(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// the borrow was taken, hand it back
			c.release(e)
		}
		return nil, err
	}
	return view, nil
}

func (c *Cache) materialize(e *entry) {
	if e.after != nil {
		<-e.after
	}

	start := time.Now()
	view, err := c.open(e.id)
	c.listener.OnMaterialize(time.Since(start), err)
	if err != nil {
		c.log.Warnw("Failed to materialize view", "id", e.id, "err", err)
		c.mu.Lock()
		if c.entries[e.id] == e {
			delete(c.entries, e.id)
		}
		c.mu.Unlock()
	}
	e.ready.resolve(view, err)
}

func (c *Cache) open(id core.BlockID) (*storage.Storage, error) {
	path, err := c.store.GetSnapshot(id)
	if err != nil {
		return nil, err
	}
	view := storage.New(path, c.log, c.storageOpts...)
	if err = view.Init(true); err != nil {
		c.store.ReleaseSnapshot(id)
		return nil, err
	}
	return view, nil
}

// ReleaseView drops one reference on the view of block id. The last release removes the
// entry at once and tears the view down in the background.
func (c *Cache) ReleaseView(id core.BlockID) error {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrViewNotFound, id)
	}
	c.release(e)
	return nil
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	if e.refs == 0 {
		c.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 || c.closed {
		c.mu.Unlock()
		return
	}
	c.detachLocked(e)
	// spawned under mu so Close never waits while the group can still grow
	c.wg.Go(func() { c.teardown(e) })
	c.mu.Unlock()
}

func (c *Cache) detachLocked(e *entry) {
	if c.entries[e.id] == e {
		delete(c.entries, e.id)
	}
	c.dying[e.id] = e
}

// teardown waits for materialization to finish, so a half-opened view is never closed.
func (c *Cache) teardown(e *entry) {
	e.once.Do(func() {
		defer func() {
			c.mu.Lock()
			if c.dying[e.id] == e {
				delete(c.dying, e.id)
			}
			c.mu.Unlock()
			close(e.gone)
		}()

		view, err := e.ready.result()
		if err != nil {
			return
		}
		if err = view.Uninit(); err != nil {
			c.log.Errorw("Failed to close view", "id", e.id, "err", err)
		}
		c.store.ReleaseSnapshot(e.id)
		c.listener.OnTeardown()
		c.log.Debugw("View torn down", "id", e.id)
	})
}

// Refs returns the number of outstanding references on the view of block id.
func (c *Cache) Refs(id core.BlockID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.refs
	}
	return 0
}

// CreateStorage creates the working view name under the cache root. Whatever was stored
// under that name before is removed first.
func (c *Cache) CreateStorage(ctx context.Context, name string, from Origin) (*storage.Storage, error) {
	path := filepath.Join(c.root, name)
	view := storage.New(path, c.log, c.storageOpts...)
	if err := view.Remove(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageInit, err)
	}

	var err error
	switch o := from.(type) {
	case nil:
	case blockOrigin:
		err = c.copyFromBlock(ctx, o.id, path)
	case viewOrigin:
		err = o.view.CopyTo(path)
	default:
		err = fmt.Errorf("unknown origin %T", from)
	}
	if err == nil {
		err = view.Init(false)
	}
	if err != nil {
		err = utils.RunAndWrapOnError(view.Remove, err)
		return nil, fmt.Errorf("%w: %s: %w", ErrStorageInit, name, err)
	}
	return view, nil
}

func (c *Cache) copyFromBlock(ctx context.Context, id core.BlockID, path string) error {
	shared, err := c.GetView(ctx, id)
	if err != nil {
		return err
	}
	return utils.RunAndWrapOnError(func() error {
		return c.ReleaseView(id)
	}, shared.CopyTo(path))
}

// Recycle prunes old snapshots.
func (c *Cache) Recycle() (int, error) {
	return c.store.Recycle()
}

// Close tears down every view still referenced and waits for all background work.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	var remaining []*entry
	for _, e := range c.entries {
		e.refs = 0
		c.detachLocked(e)
		remaining = append(remaining, e)
	}
	c.mu.Unlock()

	for _, e := range remaining {
		c.wg.Go(func() { c.teardown(e) })
	}
	c.wg.Wait()
}
