// Package blockchain applies blocks on top of the world state: every block gets a working
// view derived from its parent, and the result is kept as a snapshot plus a redo log.
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/snapshot"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/ledgerline/ledgerd/viewcache"
	"github.com/ledgerline/ledgerd/vm"
)

type ErrIncompatibleBlock struct {
	reason string
}

func (e ErrIncompatibleBlock) Error() string {
	return fmt.Sprintf("incompatible block: %v", e.reason)
}

// Result is the outcome of applying one block.
type Result struct {
	ID       core.BlockID
	Height   uint64
	Receipts []*core.Receipt
	Bloom    *bloom.BloomFilter
	// Digest hashes the full state after the block.
	Digest core.Hash
}

type Option func(*Chain)

func WithListener(listener EventListener) Option {
	return func(c *Chain) {
		c.listener = listener
	}
}

// Chain owns the block pipeline. Blocks are applied one at a time; reads at any applied block
// run concurrently with that.
type Chain struct {
	cache    *viewcache.Cache
	store    *snapshot.Store
	engine   *vm.Engine
	blocks   *BlockStorage
	log      utils.SimpleLogger
	listener EventListener

	mu sync.Mutex
}

func New(cache *viewcache.Cache, store *snapshot.Store, engine *vm.Engine, index db.KeyValueStore,
	log utils.SimpleLogger, opts ...Option,
) *Chain {
	c := &Chain{
		cache:    cache,
		store:    store,
		engine:   engine,
		blocks:   NewBlockStorage(index),
		log:      log,
		listener: &SelectiveListener{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Blocks() *BlockStorage {
	return c.blocks
}

func workingName(id core.BlockID) string {
	return "working-" + id.String()
}

func (c *Chain) discard(view *storage.Storage, err error) error {
	if removeErr := view.Remove(); removeErr != nil {
		c.log.Warnw("Failed to remove working view", "path", view.FilePath(), "err", removeErr)
	}
	return err
}

// CreateGenesis builds the genesis state and stores it as the first snapshot.
func (c *Chain) CreateGenesis(ctx context.Context, g *Genesis) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.blocks.Head(); err == nil {
		return nil, ErrIncompatibleBlock{"genesis already created"}
	} else if !errors.Is(err, ErrBlockNotFound) {
		return nil, err
	}

	block := &core.Block{Header: core.BlockHeader{Timestamp: g.Timestamp, Coinbase: g.Coinbase}}
	id := block.ID()
	view, err := c.cache.CreateStorage(ctx, workingName(id), nil)
	if err != nil {
		return nil, err
	}
	stored := &StoredBlock{ID: id, Header: block.Header}
	receipts, err := c.engine.RunGenesis(ctx, view, stored.Info(), g.PreBalances)
	if err != nil {
		return nil, c.discard(view, err)
	}

	result, err := c.commit(view, stored, receipts, nil)
	if err != nil {
		return nil, c.discard(view, err)
	}
	c.log.Infow("Created genesis", "id", id, "digest", result.Digest)
	return result, c.discard(view, nil)
}

func (c *Chain) verifyBlock(block *core.Block, id core.BlockID) (*StoredBlock, error) {
	if ok, err := c.blocks.Has(id); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrIncompatibleBlock{"block " + id.String() + " already applied"}
	}
	parent, err := c.blocks.Get(block.Header.ParentID)
	if errors.Is(err, ErrBlockNotFound) {
		return nil, ErrIncompatibleBlock{"unknown parent " + block.Header.ParentID.String()}
	} else if err != nil {
		return nil, err
	}
	if parent.Header.Height+1 != block.Header.Height {
		return nil, ErrIncompatibleBlock{
			fmt.Sprintf("height %d does not follow parent height %d", block.Header.Height, parent.Header.Height),
		}
	}
	if block.Header.Timestamp < parent.Header.Timestamp {
		return nil, ErrIncompatibleBlock{"timestamp before parent's"}
	}
	return parent, nil
}

// ApplyBlock executes block on top of the state of its parent. A transaction that fails
// validation rejects the whole block; failing handlers only show up in the receipts.
func (c *Chain) ApplyBlock(ctx context.Context, block *core.Block) (*Result, error) {
	start := time.Now()
	result, err := c.applyBlock(ctx, block)
	if err != nil {
		c.listener.OnBlockRejected(block.Header.Height, err)
		return nil, err
	}
	c.listener.OnBlockApplied(result.Height, len(block.Transactions), time.Since(start))
	c.log.Debugw("Applied block", "id", result.ID, "height", result.Height, "txs", len(block.Transactions))
	return result, nil
}

func (c *Chain) applyBlock(ctx context.Context, block *core.Block) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := block.ID()
	parent, err := c.verifyBlock(block, id)
	if err != nil {
		return nil, err
	}

	view, err := c.cache.CreateStorage(ctx, workingName(id), viewcache.FromBlock(parent.ID))
	if err != nil {
		return nil, err
	}
	if err = view.StartRecording(parent.ID); err != nil {
		return nil, c.discard(view, err)
	}

	stored := &StoredBlock{ID: id, Header: block.Header, TxCount: len(block.Transactions)}
	info := stored.Info()
	receipts := make([]*core.Receipt, 0, len(block.Transactions))
	for i, tx := range block.Transactions {
		receipt, err := c.engine.Execute(ctx, view, info, tx)
		if err != nil {
			return nil, c.discard(view, fmt.Errorf("transaction %d: %w", i, err))
		}
		receipts = append(receipts, receipt)
	}
	post, err := c.engine.RunPostBlock(ctx, view, info)
	if err != nil {
		return nil, c.discard(view, err)
	}
	receipts = append(receipts, post...)

	result, err := c.commit(view, stored, receipts, view.RedoLog())
	return result, c.discard(view, err)
}

// commit persists the state of view as the snapshot of block and indexes the block.
func (c *Chain) commit(view *storage.Storage, block *StoredBlock, receipts []*core.Receipt,
	redoLog *storage.RedoLog,
) (*Result, error) {
	digest, err := view.Digest()
	if err != nil {
		return nil, err
	}
	filter := core.EventsBloom(receipts)
	if block.Bloom, err = filter.GobEncode(); err != nil {
		return nil, err
	}
	block.Digest = digest

	if _, err = c.store.CreateSnapshot(view, block.ID); err != nil {
		return nil, err
	}
	if redoLog != nil {
		if err = c.store.WriteRedoLog(block.ID, redoLog); err != nil {
			return nil, err
		}
	}

	head := true
	if current, err := c.blocks.Head(); err == nil {
		head = block.Header.Height > current.Header.Height
	} else if !errors.Is(err, ErrBlockNotFound) {
		return nil, err
	}
	if err = c.blocks.Put(block, receipts, head); err != nil {
		return nil, err
	}
	return &Result{ID: block.ID, Height: block.Header.Height, Receipts: receipts, Bloom: filter, Digest: digest}, nil
}

// Call runs a view method against the state after block id.
func (c *Chain) Call(ctx context.Context, id core.BlockID, method string, input []byte) (any, error) {
	block, err := c.blocks.Get(id)
	if err != nil {
		return nil, err
	}
	view, err := c.cache.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := c.engine.Call(ctx, view, block.Info(), method, input)
	return out, utils.RunAndWrapOnError(func() error { return c.cache.ReleaseView(id) }, err)
}

// Head returns the highest applied block.
func (c *Chain) Head() (*StoredBlock, error) {
	return c.blocks.Head()
}

// Recycle prunes snapshots that a redo log can rebuild.
func (c *Chain) Recycle() (int, error) {
	return c.cache.Recycle()
}
