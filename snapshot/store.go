// Package snapshot keeps immutable per-block copies of the world state on disk. A block's
// state is either a full dump or a redo log applied on top of its parent's state.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
)

// DefaultRetain is the number of dumps Recycle keeps unless configured otherwise.
const DefaultRetain = 16

const (
	dumpDir   = "dump"
	logDir    = "log"
	redoExt   = ".redo"
	tmpSuffix = ".tmp"
)

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrRedoCycle        = errors.New("redo log chain loops back on itself")
)

type entry struct {
	seq     uint64
	refs    int
	hasDump bool
	hasRedo bool
}

type Option func(*Store)

// WithRetain sets how many of the most recent dumps Recycle keeps. At least one is kept.
func WithRetain(n int) Option {
	return func(s *Store) {
		s.retain = max(n, 1)
	}
}

type Store struct {
	root   string
	log    utils.Logger
	retain int

	mu      sync.Mutex
	entries map[core.BlockID]*entry
	seq     uint64

	// serialises reconstruction from redo logs
	buildMu sync.Mutex
}

func New(root string, log utils.Logger, opts ...Option) *Store {
	s := &Store{
		root:    root,
		log:     log,
		retain:  DefaultRetain,
		entries: make(map[core.BlockID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) dumpPath(id core.BlockID) string {
	return filepath.Join(s.root, dumpDir, id.String())
}

func (s *Store) redoPath(id core.BlockID) string {
	return filepath.Join(s.root, logDir, id.String()+redoExt)
}

// GetSnapshotFilePath returns where the dump of id lives, whether or not it exists.
func (s *Store) GetSnapshotFilePath(id core.BlockID) string {
	return s.dumpPath(id)
}

// Init creates the directory layout and rebuilds the index from what is on disk. Leftovers
// of interrupted writes are removed.
func (s *Store) Init() error {
	for _, dir := range []string{dumpDir, logDir} {
		if err := os.MkdirAll(filepath.Join(s.root, dir), os.ModePerm); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dumps, err := s.scan(dumpDir, "")
	if err != nil {
		return err
	}
	logs, err := s.scan(logDir, redoExt)
	if err != nil {
		return err
	}

	for _, d := range dumps {
		s.entryLocked(d.id).hasDump = true
	}
	for _, l := range logs {
		s.entryLocked(l.id).hasRedo = true
	}
	s.log.Infow("Snapshot store loaded", "root", s.root, "dumps", len(dumps), "redoLogs", len(logs))
	return nil
}

type scanned struct {
	id      core.BlockID
	modTime int64
}

// scan lists the block ids in dir ordered by modification time.
func (s *Store) scan(dir, ext string) ([]scanned, error) {
	files, err := os.ReadDir(filepath.Join(s.root, dir))
	if err != nil {
		return nil, err
	}

	var out []scanned
	for _, f := range files {
		name := f.Name()
		if strings.HasSuffix(name, tmpSuffix) {
			if err = os.RemoveAll(filepath.Join(s.root, dir, name)); err != nil {
				return nil, err
			}
			continue
		}
		id, err := core.ParseBlockID(strings.TrimSuffix(name, ext))
		if err != nil {
			s.log.Warnw("Ignoring unknown file in snapshot store", "file", name)
			continue
		}
		info, err := f.Info()
		if err != nil {
			return nil, err
		}
		out = append(out, scanned{id: id, modTime: info.ModTime().UnixNano()})
	}
	slices.SortStableFunc(out, func(a, b scanned) int {
		switch {
		case a.modTime < b.modTime:
			return -1
		case a.modTime > b.modTime:
			return 1
		default:
			return strings.Compare(a.id.String(), b.id.String())
		}
	})
	return out, nil
}

func (s *Store) entryLocked(id core.BlockID) *entry {
	e, ok := s.entries[id]
	if !ok {
		s.seq++
		e = &entry{seq: s.seq}
		s.entries[id] = e
	}
	return e
}

// CreateSnapshot dumps from as the state of block id.
func (s *Store) CreateSnapshot(from *storage.Storage, id core.BlockID) (string, error) {
	path := s.dumpPath(id)
	tmp := path + tmpSuffix
	if err := os.RemoveAll(tmp); err != nil {
		return "", err
	}
	if err := from.CopyTo(tmp); err != nil {
		return "", utils.RunAndWrapOnError(func() error { return os.RemoveAll(tmp) }, err)
	}
	if err := s.publishDump(tmp, id); err != nil {
		return "", err
	}
	s.log.Debugw("Created snapshot", "id", id)
	return path, nil
}

func (s *Store) publishDump(tmp string, id core.BlockID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.dumpPath(id)
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	e := s.entryLocked(id)
	e.hasDump = true
	s.seq++
	e.seq = s.seq
	return nil
}

// GetSnapshot takes a reference on the dump of id and returns its path. A missing dump is
// rebuilt from the redo log chain back to the nearest existing dump.
func (s *Store) GetSnapshot(id core.BlockID) (string, error) {
	for {
		if s.acquire(id) {
			return s.dumpPath(id), nil
		}
		// Recycle may evict the dump again before it is acquired
		if err := s.ensureDump(id); err != nil {
			return "", err
		}
	}
}

func (s *Store) acquire(id core.BlockID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || !e.hasDump {
		return false
	}
	e.refs++
	return true
}

// ReleaseSnapshot drops a reference taken by GetSnapshot.
func (s *Store) ReleaseSnapshot(id core.BlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.refs > 0 {
		e.refs--
	}
}

func (s *Store) hasDump(id core.BlockID) (exists, redo bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false, false
	}
	return e.hasDump, e.hasRedo
}

func (s *Store) ensureDump(id core.BlockID) error {
	if exists, _ := s.hasDump(id); exists {
		return nil
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	return s.rebuild(id, make(map[core.BlockID]struct{}))
}

// rebuild must be called with buildMu held.
func (s *Store) rebuild(id core.BlockID, visiting map[core.BlockID]struct{}) error {
	exists, redo := s.hasDump(id)
	if exists {
		return nil
	}
	if !redo {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if _, ok := visiting[id]; ok {
		return fmt.Errorf("%w: %s", ErrRedoCycle, id)
	}
	visiting[id] = struct{}{}

	redoLog, err := s.GetRedoLog(id)
	if err != nil {
		return err
	}
	if err = s.rebuild(redoLog.Parent, visiting); err != nil {
		return fmt.Errorf("rebuild parent of %s: %w", id, err)
	}

	s.addRefs(redoLog.Parent, 1)
	defer s.addRefs(redoLog.Parent, -1)

	s.log.Debugw("Rebuilding snapshot from redo log", "id", id, "parent", redoLog.Parent, "ops", len(redoLog.Ops))
	tmp := s.dumpPath(id) + tmpSuffix
	if err = s.replay(s.dumpPath(redoLog.Parent), tmp, redoLog); err != nil {
		return utils.RunAndWrapOnError(func() error { return os.RemoveAll(tmp) }, err)
	}
	return s.publishDump(tmp, id)
}

func (s *Store) addRefs(id core.BlockID, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.refs += delta
	}
}

func (s *Store) replay(parentPath, target string, redoLog *storage.RedoLog) (err error) {
	if err = os.RemoveAll(target); err != nil {
		return err
	}

	// the parent dump may be open as a view, so its files are copied instead of reopened
	if err = storage.CopyFiles(parentPath, target); err != nil {
		return err
	}

	view := storage.New(target, s.log)
	if err = view.Init(false); err != nil {
		return err
	}
	return utils.RunAndWrapOnError(view.Uninit, redoLog.Apply(view))
}

// WriteRedoLog stores the redo log that produced the state of id.
func (s *Store) WriteRedoLog(id core.BlockID, redoLog *storage.RedoLog) error {
	data, err := redoLog.MarshalBinary()
	if err != nil {
		return err
	}
	path := s.redoPath(id)
	tmp := path + tmpSuffix
	if err = os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err = os.Rename(tmp, path); err != nil {
		return err
	}

	s.mu.Lock()
	s.entryLocked(id).hasRedo = true
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRedoLog(id core.BlockID) (*storage.RedoLog, error) {
	data, err := os.ReadFile(s.redoPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("redo log %s: %w", id, ErrSnapshotNotFound)
		}
		return nil, err
	}
	redoLog := new(storage.RedoLog)
	if err = redoLog.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode redo log %s: %w", id, err)
	}
	return redoLog, nil
}

// Recycle deletes all but the most recent dumps. A dump is only deleted while nothing
// references it and a redo log can rebuild it.
func (s *Store) Recycle() (int, error) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	type dump struct {
		id core.BlockID
		e  *entry
	}
	var dumps []dump
	for id, e := range s.entries {
		if e.hasDump {
			dumps = append(dumps, dump{id: id, e: e})
		}
	}
	if len(dumps) <= s.retain {
		return 0, nil
	}
	slices.SortFunc(dumps, func(a, b dump) int {
		// newest first
		switch {
		case a.e.seq > b.e.seq:
			return -1
		case a.e.seq < b.e.seq:
			return 1
		default:
			return 0
		}
	})

	var removed int
	var errs []error
	for _, d := range dumps[s.retain:] {
		if d.e.refs > 0 || !d.e.hasRedo {
			continue
		}
		if err := os.RemoveAll(s.dumpPath(d.id)); err != nil {
			errs = append(errs, err)
			continue
		}
		d.e.hasDump = false
		removed++
	}
	if removed > 0 {
		s.log.Infow("Recycled snapshots", "removed", removed, "kept", len(dumps)-removed)
	}
	return removed, errors.Join(errs...)
}

// Info describes one block state known to the store.
type Info struct {
	ID      core.BlockID
	HasDump bool
	HasRedo bool
	Refs    int
	seq     uint64
}

// List returns every known block state, oldest first.
func (s *Store) List() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Info, 0, len(s.entries))
	for id, e := range s.entries {
		out = append(out, Info{ID: id, HasDump: e.hasDump, HasRedo: e.hasRedo, Refs: e.refs, seq: e.seq})
	}
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	return out
}
