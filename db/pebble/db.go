package pebble

import (
	"errors"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/utils"
)

var _ db.KeyValueStore = (*DB)(nil)

type DB struct {
	pebble   *pebble.DB
	readOnly bool
	listener db.EventListener
}

// New opens a new database at the given path
func New(path string, logger utils.Logger, readOnly bool) (*DB, error) {
	options := &pebble.Options{ReadOnly: readOnly}
	if logger != nil {
		options.Logger = logger
	}
	pDB, err := pebble.Open(path, options)
	if err != nil {
		return nil, err
	}
	return &DB{pebble: pDB, readOnly: readOnly, listener: &db.SelectiveListener{}}, nil
}

// WithListener registers an EventListener
func (d *DB) WithListener(listener db.EventListener) *DB {
	d.listener = listener
	return d
}

func (d *DB) Has(key []byte) (bool, error) {
	_, closer, err := d.pebble.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, closer.Close()
}

func (d *DB) Get(key []byte, cb func(value []byte) error) error {
	start := time.Now()
	defer func() { d.listener.OnIO(false, time.Since(start)) }()

	data, closer, err := d.pebble.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return db.ErrKeyNotFound
		}
		return err
	}
	return utils.RunAndWrapOnError(closer.Close, cb(data))
}

func (d *DB) Put(key, value []byte) error {
	if d.readOnly {
		return db.ErrReadOnly
	}
	start := time.Now()
	defer func() { d.listener.OnIO(true, time.Since(start)) }()

	return d.pebble.Set(key, value, pebble.Sync)
}

func (d *DB) Delete(key []byte) error {
	if d.readOnly {
		return db.ErrReadOnly
	}
	start := time.Now()
	defer func() { d.listener.OnIO(true, time.Since(start)) }()

	return d.pebble.Delete(key, pebble.Sync)
}

func (d *DB) DeleteRange(start, end []byte) error {
	if d.readOnly {
		return db.ErrReadOnly
	}
	return d.pebble.DeleteRange(start, end, pebble.Sync)
}

func (d *DB) NewBatch() db.Batch {
	return &batch{batch: d.pebble.NewBatch(), readOnly: d.readOnly, listener: d.listener}
}

func (d *DB) NewIterator(prefix []byte, withUpperBound bool) (db.Iterator, error) {
	iterOpt := &pebble.IterOptions{LowerBound: prefix}
	if withUpperBound {
		iterOpt.UpperBound = db.UpperBound(prefix)
	}

	it, err := d.pebble.NewIter(iterOpt)
	if err != nil {
		return nil, err
	}
	return &iterator{iter: it}, nil
}

// Checkpoint writes a consistent copy of the database into destDir, which must not exist.
// All writes are synced, so the copied WAL already holds every acknowledged mutation.
func (d *DB) Checkpoint(destDir string) error {
	return d.pebble.Checkpoint(destDir)
}

// Close : see io.Closer.Close
func (d *DB) Close() error {
	return d.pebble.Close()
}

// Impl returns the underlying database
func (d *DB) Impl() any {
	return d.pebble
}
