package pebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/ledgerline/ledgerd/db"
)

var _ db.Iterator = (*iterator)(nil)

type iterator struct {
	iter       *pebble.Iterator
	positioned bool
}

// Valid : see db.Iterator.Valid
func (i *iterator) Valid() bool {
	return i.iter.Valid()
}

// First : see db.Iterator.First
func (i *iterator) First() bool {
	i.positioned = true
	return i.iter.First()
}

// Key : see db.Iterator.Key
func (i *iterator) Key() []byte {
	key := i.iter.Key()
	if key == nil {
		return nil
	}
	buf := make([]byte, len(key))
	copy(buf, key)
	return buf
}

// Value : see db.Iterator.Value
func (i *iterator) Value() ([]byte, error) {
	val, err := i.iter.ValueAndErr()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, len(val))
	copy(buf, val)
	return buf, nil
}

// Next : see db.Iterator.Next
func (i *iterator) Next() bool {
	if !i.positioned {
		i.positioned = true
		return i.iter.First()
	}
	return i.iter.Next()
}

// Seek : see db.Iterator.Seek
func (i *iterator) Seek(key []byte) bool {
	i.positioned = true
	return i.iter.SeekGE(key)
}

// Close : see db.Iterator.Close
func (i *iterator) Close() error {
	return i.iter.Close()
}
