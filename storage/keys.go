package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Every component is written with a big-endian u16 length, so a prefix built from whole
// components only matches keys that contain exactly those components.
const (
	prefixDatabase byte = iota + 1
	prefixKeyValue
	prefixEntry
)

const (
	kindValue    byte = 's'
	kindListMeta byte = 'l'
	kindListItem byte = 'i'
	kindHash     byte = 'h'
)

func checkNames(names ...string) error {
	for _, name := range names {
		if len(name) > math.MaxUint16 {
			return fmt.Errorf("%w: %d", ErrNameTooLong, len(name))
		}
	}
	return nil
}

func appendComponent(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func databaseKey(dbName string) []byte {
	return appendComponent([]byte{prefixDatabase}, dbName)
}

func keyValueKey(dbName, kvName string) []byte {
	return appendComponent(appendComponent([]byte{prefixKeyValue}, dbName), kvName)
}

func entriesPrefix(dbName, kvName string) []byte {
	return appendComponent(appendComponent([]byte{prefixEntry}, dbName), kvName)
}

func entryKey(dbName, kvName string, kind byte, key string) []byte {
	return appendComponent(append(entriesPrefix(dbName, kvName), kind), key)
}

func listItemKey(dbName, kvName, key string, index uint64) []byte {
	return binary.BigEndian.AppendUint64(entryKey(dbName, kvName, kindListItem, key), index)
}

func hashFieldKey(dbName, kvName, key, field string) []byte {
	return appendComponent(entryKey(dbName, kvName, kindHash, key), field)
}

// fieldFromHashKey strips the hash prefix and decodes the trailing field component.
func fieldFromHashKey(prefix, key []byte) (string, error) {
	rest := key[len(prefix):]
	if len(rest) < 2 {
		return "", fmt.Errorf("malformed hash key %x", key)
	}
	n := int(binary.BigEndian.Uint16(rest))
	if len(rest) != 2+n {
		return "", fmt.Errorf("malformed hash key %x", key)
	}
	return string(rest[2:]), nil
}
