package storage

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/pkg/errors"
)

type OpKind uint8

const (
	OpCreateDatabase OpKind = iota + 1
	OpCreateKeyValue
	OpSet
	OpDelete
	OpRPush
	OpRPop
	OpHSet
	OpHDel
	OpHClean
)

func (k OpKind) String() string {
	switch k {
	case OpCreateDatabase:
		return "createDatabase"
	case OpCreateKeyValue:
		return "createKeyValue"
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpRPush:
		return "rpush"
	case OpRPop:
		return "rpop"
	case OpHSet:
		return "hset"
	case OpHDel:
		return "hdel"
	case OpHClean:
		return "hclean"
	default:
		return fmt.Sprintf("OpKind(%d)", uint8(k))
	}
}

// Op is one recorded mutation. Value holds the already encoded stored value.
type Op struct {
	Kind  OpKind `cbor:"k"`
	DB    string `cbor:"d"`
	KV    string `cbor:"t,omitempty"`
	Key   string `cbor:"y,omitempty"`
	Field string `cbor:"f,omitempty"`
	Value []byte `cbor:"v,omitempty"`
}

// RedoLog is the ordered list of mutations that turns the state of block Parent into the
// state of the block it was recorded for.
type RedoLog struct {
	Parent core.BlockID `cbor:"p"`
	Ops    []Op         `cbor:"o"`
}

// redoLogFields has the fields of RedoLog without its binary methods, which cbor would
// otherwise call recursively.
type redoLogFields RedoLog

func (l *RedoLog) MarshalBinary() ([]byte, error) {
	return encoder.Marshal((*redoLogFields)(l))
}

func (l *RedoLog) UnmarshalBinary(data []byte) error {
	return encoder.Unmarshal(data, (*redoLogFields)(l))
}

// Apply replays every mutation on s in recorded order.
func (l *RedoLog) Apply(s *Storage) error {
	for i := range l.Ops {
		if err := applyOp(s, &l.Ops[i]); err != nil {
			return errors.Wrapf(err, "redo op %d (%s %s/%s)", i, l.Ops[i].Kind, l.Ops[i].DB, l.Ops[i].KV)
		}
	}
	return nil
}

func applyOp(s *Storage, op *Op) error {
	if op.Kind == OpCreateDatabase {
		_, err := s.CreateDatabase(op.DB)
		return err
	}

	database, err := s.GetReadWritableDatabase(op.DB)
	if err != nil {
		return err
	}
	if op.Kind == OpCreateKeyValue {
		_, err = database.CreateKeyValue(op.KV)
		return err
	}

	kv, err := database.GetReadWritableKeyValue(op.KV)
	if err != nil {
		return err
	}
	// stored values are already encoded
	raw := cbor.RawMessage(op.Value)
	switch op.Kind {
	case OpSet:
		return kv.Set(op.Key, raw)
	case OpDelete:
		return kv.Delete(op.Key)
	case OpRPush:
		return kv.RPush(op.Key, raw)
	case OpRPop:
		_, err = kv.RPop(op.Key)
		return err
	case OpHSet:
		return kv.HSet(op.Key, op.Field, raw)
	case OpHDel:
		return kv.HDel(op.Key, op.Field)
	case OpHClean:
		return kv.HClean(op.Key)
	default:
		return errors.Errorf("unknown op kind %d", op.Kind)
	}
}
