package db

import "io"

// Represents a data store that can read from the database
type KeyValueReader interface {
	// Checks if a key exists in the data store
	Has(key []byte) (bool, error)
	// Retrieves a value for a given key if it exists
	Get(key []byte, cb func(value []byte) error) error
}

// Represents a data store that can write to the database
type KeyValueWriter interface {
	// Inserts a given value into the data store
	Put(key []byte, value []byte) error
	// Deletes a given key from the data store
	Delete(key []byte) error
}

// Represents a data store that can delete a range of keys from the database
type KeyValueRangeDeleter interface {
	// Deletes a range of keys from start (inclusive) to end (exclusive)
	DeleteRange(start, end []byte) error
}

// Iterable produces iterators over a key range.
type Iterable interface {
	// NewIterator iterates over the keys starting at prefix. With withUpperBound set, iteration
	// stops at the first key that does not share prefix.
	NewIterator(prefix []byte, withUpperBound bool) (Iterator, error)
}

// Checkpointer copies the full store contents into a new directory.
type Checkpointer interface {
	Checkpoint(destDir string) error
}

// Represents a key-value data store that can handle different operations
type KeyValueStore interface {
	KeyValueReader
	KeyValueWriter
	KeyValueRangeDeleter
	Batcher
	Iterable
	Checkpointer
	io.Closer
}
