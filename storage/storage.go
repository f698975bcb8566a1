// Package storage implements a state view: one pebble database on disk holding named
// databases, each with named key-value tables.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/db/pebble"
	"github.com/ledgerline/ledgerd/utils"
	"golang.org/x/crypto/sha3"
)

// pebble's process lock, recreated on open
const lockFile = "LOCK"

type state uint8

const (
	stateUninitialized state = iota
	stateReady
	stateRemoved
)

type Option func(*Storage)

// WithListener reports every read and write to listener.
func WithListener(listener db.EventListener) Option {
	return func(s *Storage) {
		s.listener = listener
	}
}

type Storage struct {
	filePath string
	log      utils.Logger
	listener db.EventListener

	mu        sync.RWMutex
	state     state
	readOnly  bool
	kv        db.KeyValueStore
	recording *RedoLog
}

func New(filePath string, log utils.Logger, opts ...Option) *Storage {
	s := &Storage{
		filePath: filePath,
		log:      log,
		listener: &db.SelectiveListener{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) FilePath() string {
	return s.filePath
}

func (s *Storage) IsInit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateReady
}

func (s *Storage) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// Init opens the database at FilePath. A read-only view requires the database to exist.
func (s *Storage) Init(readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateReady {
		return ErrAlreadyInit
	}
	if !readOnly {
		if err := os.MkdirAll(s.filePath, os.ModePerm); err != nil {
			return fmt.Errorf("create %s: %w", s.filePath, err)
		}
	}
	pebbleDB, err := pebble.New(s.filePath, s.log, readOnly)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.filePath, err)
	}

	s.kv = pebbleDB.WithListener(s.listener)
	s.readOnly = readOnly
	s.state = stateReady
	s.log.Debugw("Storage initialised", "path", s.filePath, "readOnly", readOnly)
	return nil
}

// Uninit closes the database. It is a no-op on a storage that is not initialized.
func (s *Storage) Uninit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uninit()
}

func (s *Storage) uninit() error {
	if s.state != stateReady {
		return nil
	}
	err := s.kv.Close()
	s.kv = nil
	s.recording = nil
	s.state = stateUninitialized
	if err != nil {
		return fmt.Errorf("close %s: %w", s.filePath, err)
	}
	return nil
}

// Remove closes the database if needed and deletes its files.
func (s *Storage) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	closeErr := s.uninit()
	s.state = stateRemoved
	if err := os.RemoveAll(s.filePath); err != nil {
		return errors.Join(closeErr, fmt.Errorf("remove %s: %w", s.filePath, err))
	}
	return closeErr
}

// CopyTo writes a consistent physical copy of the storage to path, which must not exist.
// A read-only view never changes its files, so they are copied as they are.
func (s *Storage) CopyTo(path string) error {
	return s.view(func(kv db.KeyValueStore) error {
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return err
		}
		if s.readOnly {
			return CopyFiles(s.filePath, path)
		}
		return kv.Checkpoint(path)
	})
}

// CopyFiles copies a closed or read-only storage directory to dst.
func CopyFiles(src, dst string) error {
	return utils.CopyDir(src, dst, func(name string) bool {
		return name == lockFile
	})
}

// Digest hashes every key and value in order. Two storages with equal contents have equal
// digests.
func (s *Storage) Digest() (core.Hash, error) {
	var digest core.Hash
	err := s.view(func(kv db.KeyValueStore) error {
		it, err := kv.NewIterator(nil, false)
		if err != nil {
			return err
		}

		hasher := sha3.NewLegacyKeccak256()
		for it.First(); it.Valid(); it.Next() {
			value, err := it.Value()
			if err != nil {
				return utils.RunAndWrapOnError(it.Close, err)
			}
			hasher.Write(core.NewBufferWriter().WriteVarBytes(it.Key()).WriteVarBytes(value).Bytes())
		}
		copy(digest[:], hasher.Sum(nil))
		return it.Close()
	})
	return digest, err
}

// StartRecording begins capturing every mutation into a new redo log based on parent.
func (s *Storage) StartRecording(parent core.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return ErrNotInitialized
	}
	s.recording = &RedoLog{Parent: parent}
	return nil
}

// RedoLog returns the mutations recorded since StartRecording and stops recording.
func (s *Storage) RedoLog() *RedoLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.recording
	s.recording = nil
	return log
}

func (s *Storage) view(fn func(kv db.KeyValueStore) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateReady {
		return ErrNotInitialized
	}
	return fn(s.kv)
}

func (s *Storage) update(op *Op, fn func(kv db.KeyValueStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateReady {
		return ErrNotInitialized
	}
	if s.readOnly {
		return ErrReadOnly
	}
	if err := fn(s.kv); err != nil {
		return err
	}
	if s.recording != nil {
		s.recording.Ops = append(s.recording.Ops, *op)
	}
	return nil
}

func (s *Storage) CreateDatabase(name string) (*Database, error) {
	if err := checkNames(name); err != nil {
		return nil, err
	}
	err := s.update(&Op{Kind: OpCreateDatabase, DB: name}, func(kv db.KeyValueStore) error {
		key := databaseKey(name)
		exists, err := kv.Has(key)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("database %s: %w", name, ErrAlreadyExists)
		}
		return kv.Put(key, nil)
	})
	if err != nil {
		return nil, err
	}
	return &Database{storage: s, name: name, writable: true}, nil
}

func (s *Storage) GetReadableDatabase(name string) (*Database, error) {
	if err := s.hasDatabase(name); err != nil {
		return nil, err
	}
	return &Database{storage: s, name: name}, nil
}

func (s *Storage) GetReadWritableDatabase(name string) (*Database, error) {
	if s.ReadOnly() {
		return nil, ErrReadOnly
	}
	if err := s.hasDatabase(name); err != nil {
		return nil, err
	}
	return &Database{storage: s, name: name, writable: true}, nil
}

func (s *Storage) hasDatabase(name string) error {
	return s.view(func(kv db.KeyValueStore) error {
		exists, err := kv.Has(databaseKey(name))
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("database %s: %w", name, ErrNotFound)
		}
		return nil
	})
}

// GetKeyValue returns a read-only handle to table kvName of database dbName.
func (s *Storage) GetKeyValue(dbName, kvName string) (*KeyValue, error) {
	database, err := s.GetReadableDatabase(dbName)
	if err != nil {
		return nil, err
	}
	return database.GetReadableKeyValue(kvName)
}

// GetReadWritableKeyValue returns a writable handle to table kvName of database dbName.
func (s *Storage) GetReadWritableKeyValue(dbName, kvName string) (*KeyValue, error) {
	database, err := s.GetReadWritableDatabase(dbName)
	if err != nil {
		return nil, err
	}
	return database.GetReadWritableKeyValue(kvName)
}

// CreateKeyValueWithDBName creates table kvName, creating database dbName first if needed.
func (s *Storage) CreateKeyValueWithDBName(dbName, kvName string) (*KeyValue, error) {
	database, err := s.GetReadWritableDatabase(dbName)
	if errors.Is(err, ErrNotFound) {
		database, err = s.CreateDatabase(dbName)
	}
	if err != nil {
		return nil, err
	}
	return database.CreateKeyValue(kvName)
}
