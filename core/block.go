package core

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/ledgerline/ledgerd/core/crypto"
)

const (
	eventsBloomLength    = 8192
	eventsBloomHashFuncs = 3
)

type BlockHeader struct {
	ParentID  BlockID
	Height    uint64
	Timestamp int64
	// Coinbase receives transaction fees.
	Coinbase string
}

func (h *BlockHeader) Encode(w *BufferWriter) {
	w.WriteBytes(h.ParentID[:])
	w.WriteU64(h.Height)
	w.WriteU64(uint64(h.Timestamp))
	w.WriteVarString(h.Coinbase)
}

func (h *BlockHeader) Decode(r *BufferReader) error {
	parent, err := r.ReadBytes(len(h.ParentID))
	if err != nil {
		return fmt.Errorf("parent: %w", err)
	}
	copy(h.ParentID[:], parent)
	if h.Height, err = r.ReadU64(); err != nil {
		return fmt.Errorf("height: %w", err)
	}
	ts, err := r.ReadU64()
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	h.Timestamp = int64(ts)
	if h.Coinbase, err = r.ReadVarString(); err != nil {
		return fmt.Errorf("coinbase: %w", err)
	}
	return nil
}

type Block struct {
	Header       BlockHeader
	Transactions []*ValueTransaction
}

// ID hashes the header together with the hashes of the block's transactions in order.
func (b *Block) ID() BlockID {
	w := NewBufferWriter()
	b.Header.Encode(w)
	w.WriteU32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		h := tx.Hash()
		w.WriteBytes(h[:])
	}
	return crypto.Hash(w.Bytes())
}

func (b *Block) MarshalBinary() ([]byte, error) {
	w := NewBufferWriter()
	b.Header.Encode(w)
	w.WriteU32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		tx.Encode(w)
	}
	return w.Bytes(), nil
}

func (b *Block) UnmarshalBinary(data []byte) error {
	r := NewBufferReader(data)
	if err := b.Header.Decode(r); err != nil {
		return err
	}
	count, err := r.ReadU32()
	if err != nil {
		return fmt.Errorf("transaction count: %w", err)
	}
	// each transaction takes at least its public key and signature
	if uint64(count)*(crypto.PublicKeyLength+crypto.SignatureLength) > uint64(r.Left()) {
		return fmt.Errorf("%w: %d transactions cannot fit in %d bytes", ErrTruncatedData, count, r.Left())
	}
	b.Transactions = make([]*ValueTransaction, 0, count)
	for i := range int(count) {
		tx := new(ValueTransaction)
		if err := tx.Decode(r); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
		b.Transactions = append(b.Transactions, tx)
	}
	return expectEnd(r)
}

// EventsBloom indexes the event names and transaction hashes of receipts so block consumers
// can skip blocks that cannot contain an event of interest.
func EventsBloom(receipts []*Receipt) *bloom.BloomFilter {
	filter := bloom.New(eventsBloomLength, eventsBloomHashFuncs)

	for _, receipt := range receipts {
		filter.AddString(receipt.TransactionHash)
		for _, event := range receipt.EventLogs {
			filter.AddString(event.Name)
		}
	}
	return filter
}
