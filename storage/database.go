package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/ledgerline/ledgerd/utils"
)

// Database is a named namespace of key-value tables inside a Storage.
type Database struct {
	storage  *Storage
	name     string
	writable bool
}

func (d *Database) Name() string {
	return d.name
}

func (d *Database) CreateKeyValue(name string) (*KeyValue, error) {
	if !d.writable {
		return nil, ErrReadOnly
	}
	if err := checkNames(name); err != nil {
		return nil, err
	}
	err := d.storage.update(&Op{Kind: OpCreateKeyValue, DB: d.name, KV: name}, func(kv db.KeyValueStore) error {
		key := keyValueKey(d.name, name)
		exists, err := kv.Has(key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("key-value %s/%s: %w", d.name, name, ErrAlreadyExists)
		}
		return kv.Put(key, nil)
	})
	if err != nil {
		return nil, err
	}
	return &KeyValue{storage: d.storage, db: d.name, name: name, writable: true}, nil
}

func (d *Database) GetReadableKeyValue(name string) (*KeyValue, error) {
	if err := d.hasKeyValue(name); err != nil {
		return nil, err
	}
	return &KeyValue{storage: d.storage, db: d.name, name: name}, nil
}

func (d *Database) GetReadWritableKeyValue(name string) (*KeyValue, error) {
	if !d.writable {
		return nil, ErrReadOnly
	}
	if err := d.hasKeyValue(name); err != nil {
		return nil, err
	}
	return &KeyValue{storage: d.storage, db: d.name, name: name, writable: true}, nil
}

func (d *Database) hasKeyValue(name string) error {
	return d.storage.view(func(kv db.KeyValueStore) error {
		exists, err := kv.Has(keyValueKey(d.name, name))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("key-value %s/%s: %w", d.name, name, ErrNotFound)
		}
		return nil
	})
}

// Value is a CBOR-encoded stored value.
type Value []byte

func (v Value) Decode(out any) error {
	return encoder.Unmarshal(v, out)
}

// KeyValue is a table supporting plain values, lists and hashes. The three kinds live in
// separate key spaces, so the same key may hold one of each.
type KeyValue struct {
	storage  *Storage
	db       string
	name     string
	writable bool
}

func (k *KeyValue) update(op Op, fn func(kv db.KeyValueStore) error) error {
	if !k.writable {
		return ErrReadOnly
	}
	op.DB, op.KV = k.db, k.name
	return k.storage.update(&op, fn)
}

func readValue(kv db.KeyValueReader, key []byte) (Value, error) {
	var out Value
	err := kv.Get(key, func(b []byte) error {
		out = append(Value(nil), b...)
		return nil
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return out, err
}

func (k *KeyValue) Get(key string) (Value, error) {
	var out Value
	err := k.storage.view(func(kv db.KeyValueStore) error {
		var err error
		out, err = readValue(kv, entryKey(k.db, k.name, kindValue, key))
		return err
	})
	return out, err
}

func (k *KeyValue) Set(key string, value any) error {
	if err := checkNames(key); err != nil {
		return err
	}
	encoded, err := encoder.Marshal(value)
	if err != nil {
		return err
	}
	return k.update(Op{Kind: OpSet, Key: key, Value: encoded}, func(kv db.KeyValueStore) error {
		return kv.Put(entryKey(k.db, k.name, kindValue, key), encoded)
	})
}

// Delete removes key of every kind. Deleting a missing key is not an error.
func (k *KeyValue) Delete(key string) error {
	return k.update(Op{Kind: OpDelete, Key: key}, func(kv db.KeyValueStore) error {
		if err := kv.Delete(entryKey(k.db, k.name, kindValue, key)); err != nil {
			return err
		}
		if err := k.clearList(kv, key); err != nil {
			return err
		}
		return k.clearHash(kv, key)
	})
}

func (k *KeyValue) listLength(kv db.KeyValueReader, key string) (uint64, error) {
	var length uint64
	err := kv.Get(entryKey(k.db, k.name, kindListMeta, key), func(b []byte) error {
		if len(b) != 8 {
			return fmt.Errorf("malformed list header for %s", key)
		}
		length = binary.BigEndian.Uint64(b)
		return nil
	})
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	return length, err
}

func putListLength(w db.KeyValueWriter, metaKey []byte, length uint64) error {
	if length == 0 {
		return w.Delete(metaKey)
	}
	return w.Put(metaKey, binary.BigEndian.AppendUint64(nil, length))
}

func (k *KeyValue) clearList(kv db.KeyValueStore, key string) error {
	length, err := k.listLength(kv, key)
	if err != nil || length == 0 {
		return err
	}
	prefix := entryKey(k.db, k.name, kindListItem, key)
	if err = kv.DeleteRange(prefix, db.UpperBound(prefix)); err != nil {
		return err
	}
	return kv.Delete(entryKey(k.db, k.name, kindListMeta, key))
}

// RPush appends value to the end of list key.
func (k *KeyValue) RPush(key string, value any) error {
	if err := checkNames(key); err != nil {
		return err
	}
	encoded, err := encoder.Marshal(value)
	if err != nil {
		return err
	}
	return k.update(Op{Kind: OpRPush, Key: key, Value: encoded}, func(kv db.KeyValueStore) error {
		length, err := k.listLength(kv, key)
		if err != nil {
			return err
		}
		batch := kv.NewBatch()
		if err = batch.Put(listItemKey(k.db, k.name, key, length), encoded); err != nil {
			return err
		}
		if err = putListLength(batch, entryKey(k.db, k.name, kindListMeta, key), length+1); err != nil {
			return err
		}
		return batch.Write()
	})
}

// RPop removes and returns the last element of list key.
func (k *KeyValue) RPop(key string) (Value, error) {
	var out Value
	err := k.update(Op{Kind: OpRPop, Key: key}, func(kv db.KeyValueStore) error {
		length, err := k.listLength(kv, key)
		if err != nil {
			return err
		}
		if length == 0 {
			return fmt.Errorf("list %s: %w", key, ErrNotFound)
		}
		itemKey := listItemKey(k.db, k.name, key, length-1)
		if out, err = readValue(kv, itemKey); err != nil {
			return err
		}
		batch := kv.NewBatch()
		if err = batch.Delete(itemKey); err != nil {
			return err
		}
		if err = putListLength(batch, entryKey(k.db, k.name, kindListMeta, key), length-1); err != nil {
			return err
		}
		return batch.Write()
	})
	return out, err
}

func (k *KeyValue) LLen(key string) (uint64, error) {
	var length uint64
	err := k.storage.view(func(kv db.KeyValueStore) error {
		var err error
		length, err = k.listLength(kv, key)
		return err
	})
	return length, err
}

// LRange returns the elements between start and stop inclusive. Negative indexes count from
// the end of the list, -1 being the last element.
func (k *KeyValue) LRange(key string, start, stop int64) ([]Value, error) {
	var out []Value
	err := k.storage.view(func(kv db.KeyValueStore) error {
		length, err := k.listLength(kv, key)
		if err != nil {
			return err
		}
		n := int64(length)
		if start < 0 {
			start += n
		}
		if stop < 0 {
			stop += n
		}
		start = max(start, 0)
		stop = min(stop, n-1)

		out = make([]Value, 0, max(stop-start+1, 0))
		for i := start; i <= stop; i++ {
			value, err := readValue(kv, listItemKey(k.db, k.name, key, uint64(i)))
			if err != nil {
				return err
			}
			out = append(out, value)
		}
		return nil
	})
	return out, err
}

func (k *KeyValue) HGet(key, field string) (Value, error) {
	var out Value
	err := k.storage.view(func(kv db.KeyValueStore) error {
		var err error
		out, err = readValue(kv, hashFieldKey(k.db, k.name, key, field))
		return err
	})
	return out, err
}

func (k *KeyValue) HSet(key, field string, value any) error {
	if err := checkNames(key, field); err != nil {
		return err
	}
	encoded, err := encoder.Marshal(value)
	if err != nil {
		return err
	}
	return k.update(Op{Kind: OpHSet, Key: key, Field: field, Value: encoded}, func(kv db.KeyValueStore) error {
		return kv.Put(hashFieldKey(k.db, k.name, key, field), encoded)
	})
}

func (k *KeyValue) HDel(key, field string) error {
	return k.update(Op{Kind: OpHDel, Key: key, Field: field}, func(kv db.KeyValueStore) error {
		return kv.Delete(hashFieldKey(k.db, k.name, key, field))
	})
}

// HGetAll returns every field of hash key. A missing hash yields an empty map.
func (k *KeyValue) HGetAll(key string) (map[string]Value, error) {
	out := make(map[string]Value)
	err := k.storage.view(func(kv db.KeyValueStore) error {
		prefix := entryKey(k.db, k.name, kindHash, key)
		it, err := kv.NewIterator(prefix, true)
		if err != nil {
			return err
		}
		for it.First(); it.Valid(); it.Next() {
			field, err := fieldFromHashKey(prefix, it.Key())
			if err != nil {
				return utils.RunAndWrapOnError(it.Close, err)
			}
			value, err := it.Value()
			if err != nil {
				return utils.RunAndWrapOnError(it.Close, err)
			}
			out[field] = value
		}
		return it.Close()
	})
	return out, err
}

// HClean removes every field of hash key.
func (k *KeyValue) HClean(key string) error {
	return k.update(Op{Kind: OpHClean, Key: key}, func(kv db.KeyValueStore) error {
		return k.clearHash(kv, key)
	})
}

func (k *KeyValue) clearHash(kv db.KeyValueStore, key string) error {
	prefix := entryKey(k.db, k.name, kindHash, key)
	return kv.DeleteRange(prefix, db.UpperBound(prefix))
}
