package blockchain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/db"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/ledgerline/ledgerd/vm"
)

// Bucket prefixes of the block index.
//
// [bucketBlocks](BlockID) -> (StoredBlock)
// [bucketReceipts](BlockID) -> (receipt count, receipts...)
// [bucketHeights](Height, BlockID) -> ()
// [bucketHead]() -> (BlockID)
const (
	bucketBlocks byte = iota + 1
	bucketReceipts
	bucketHeights
	bucketHead
)

var ErrBlockNotFound = errors.New("block not found")

// StoredBlock is what the index keeps about an applied block.
type StoredBlock struct {
	ID      core.BlockID
	Header  core.BlockHeader
	Digest  core.Hash
	TxCount int
	// Bloom is the marshalled events bloom of the block's receipts.
	Bloom []byte
}

func (b *StoredBlock) Info() vm.BlockInfo {
	return vm.BlockInfo{ID: b.ID, Height: b.Header.Height, Timestamp: b.Header.Timestamp, Coinbase: b.Header.Coinbase}
}

func key(bucket byte, parts ...[]byte) []byte {
	k := []byte{bucket}
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func heightBytes(height uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, height)
}

// BlockStorage indexes applied blocks and their receipts. Several blocks may share a height
// while branches are alive.
type BlockStorage struct {
	kv db.KeyValueStore
}

func NewBlockStorage(kv db.KeyValueStore) *BlockStorage {
	return &BlockStorage{kv: kv}
}

// Put stores block and its receipts in one batch. With head set the block becomes the head.
func (s *BlockStorage) Put(block *StoredBlock, receipts []*core.Receipt, head bool) error {
	blockBytes, err := encoder.Marshal(block)
	if err != nil {
		return err
	}
	w := core.NewBufferWriter()
	w.WriteU32(uint32(len(receipts)))
	for _, r := range receipts {
		if err = r.Encode(w); err != nil {
			return err
		}
	}

	batch := s.kv.NewBatch()
	if err = batch.Put(key(bucketBlocks, block.ID[:]), blockBytes); err != nil {
		return err
	}
	if err = batch.Put(key(bucketReceipts, block.ID[:]), w.Bytes()); err != nil {
		return err
	}
	if err = batch.Put(key(bucketHeights, heightBytes(block.Header.Height), block.ID[:]), nil); err != nil {
		return err
	}
	if head {
		if err = batch.Put(key(bucketHead), block.ID[:]); err != nil {
			return err
		}
	}
	return batch.Write()
}

func (s *BlockStorage) get(k []byte, what string, fn func(value []byte) error) error {
	err := s.kv.Get(k, fn)
	if errors.Is(err, db.ErrKeyNotFound) {
		return fmt.Errorf("%s: %w", what, ErrBlockNotFound)
	}
	return err
}

func (s *BlockStorage) Get(id core.BlockID) (*StoredBlock, error) {
	block := new(StoredBlock)
	err := s.get(key(bucketBlocks, id[:]), "block "+id.String(), func(value []byte) error {
		return encoder.Unmarshal(value, block)
	})
	if err != nil {
		return nil, err
	}
	return block, nil
}

func (s *BlockStorage) Has(id core.BlockID) (bool, error) {
	return s.kv.Has(key(bucketBlocks, id[:]))
}

func (s *BlockStorage) Receipts(id core.BlockID) ([]*core.Receipt, error) {
	var receipts []*core.Receipt
	err := s.get(key(bucketReceipts, id[:]), "receipts of "+id.String(), func(value []byte) error {
		r := core.NewBufferReader(value)
		count, err := r.ReadU32()
		if err != nil {
			return err
		}
		receipts = make([]*core.Receipt, 0, count)
		for i := range int(count) {
			receipt := new(core.Receipt)
			if err = receipt.Decode(r); err != nil {
				return fmt.Errorf("receipt %d: %w", i, err)
			}
			receipts = append(receipts, receipt)
		}
		return nil
	})
	return receipts, err
}

// Head returns the most recently applied block on the main branch.
func (s *BlockStorage) Head() (*StoredBlock, error) {
	var id core.BlockID
	err := s.get(key(bucketHead), "head", func(value []byte) error {
		copy(id[:], value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(id)
}

// AtHeight returns the ids of every applied block at height.
func (s *BlockStorage) AtHeight(height uint64) (ids []core.BlockID, err error) {
	prefix := key(bucketHeights, heightBytes(height))
	it, err := s.kv.NewIterator(prefix, true)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := it.Close(); closeErr != nil {
			err = closeErr
		}
	}()

	for it.First(); it.Valid(); it.Next() {
		var id core.BlockID
		copy(id[:], it.Key()[len(prefix):])
		ids = append(ids, id)
	}
	return ids, nil
}
