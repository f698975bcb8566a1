package pebble

import (
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ledgerline/ledgerd/db"
)

var _ db.Batch = (*batch)(nil)

type batch struct {
	batch    *pebble.Batch
	readOnly bool
	size     int // size of the batch in bytes
	listener db.EventListener
}

// Put : see db.KeyValueWriter.Put
func (b *batch) Put(key, val []byte) error {
	if b.batch == nil {
		return pebble.ErrClosed
	}
	if err := b.batch.Set(key, val, nil); err != nil {
		return err
	}
	b.size += len(key) + len(val)
	return nil
}

// Delete : see db.KeyValueWriter.Delete
func (b *batch) Delete(key []byte) error {
	if b.batch == nil {
		return pebble.ErrClosed
	}
	if err := b.batch.Delete(key, nil); err != nil {
		return err
	}
	b.size += len(key)
	return nil
}

func (b *batch) Size() int {
	return b.size
}

// Write commits the batch and closes it; a written batch cannot be reused.
func (b *batch) Write() error {
	if b.batch == nil {
		return pebble.ErrClosed
	}
	if b.readOnly {
		return db.ErrReadOnly
	}
	start := time.Now()
	defer func() { b.listener.OnIO(true, time.Since(start)) }()

	err := b.batch.Commit(pebble.Sync)
	if closeErr := b.batch.Close(); err == nil {
		err = closeErr
	}
	b.batch = nil
	return err
}

func (b *batch) Reset() {
	if b.batch != nil {
		b.batch.Reset()
	}
	b.size = 0
}
