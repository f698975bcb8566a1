package core

import (
	"fmt"
	"math"

	"github.com/ledgerline/ledgerd/encoder"
)

type EventLog struct {
	Name string
	// Params is the canonical CBOR encoding of the event parameters.
	Params []byte
}

func NewEventLog(name string, params any) (EventLog, error) {
	if params == nil {
		params = map[string]any{}
	}
	encoded, err := encoder.Marshal(params)
	if err != nil {
		return EventLog{}, fmt.Errorf("encode event %s: %w", name, err)
	}
	return EventLog{Name: name, Params: encoded}, nil
}

// UnmarshalParams decodes the event parameters into v.
func (e *EventLog) UnmarshalParams(v any) error {
	return encoder.Unmarshal(e.Params, v)
}

// Receipt records the outcome of exactly one executed transaction. EventLogs are kept in
// emission order.
type Receipt struct {
	TransactionHash string
	SysEventName    string
	ReturnCode      int32
	EventLogs       []EventLog
}

func (r *Receipt) Encode(w *BufferWriter) error {
	if len(r.EventLogs) > math.MaxUint16 {
		return fmt.Errorf("too many event logs: %d", len(r.EventLogs))
	}
	w.WriteVarString(r.TransactionHash)
	w.WriteVarString(r.SysEventName)
	w.WriteI32(r.ReturnCode)
	w.WriteU16(uint16(len(r.EventLogs)))
	for _, log := range r.EventLogs {
		w.WriteVarBytes(log.Params)
		w.WriteVarString(log.Name)
	}
	return nil
}

func (r *Receipt) Decode(reader *BufferReader) error {
	var err error
	if r.TransactionHash, err = reader.ReadVarString(); err != nil {
		return fmt.Errorf("transaction hash: %w", err)
	}
	if r.SysEventName, err = reader.ReadVarString(); err != nil {
		return fmt.Errorf("system event name: %w", err)
	}
	if r.ReturnCode, err = reader.ReadI32(); err != nil {
		return fmt.Errorf("return code: %w", err)
	}
	count, err := reader.ReadU16()
	if err != nil {
		return fmt.Errorf("event log count: %w", err)
	}

	r.EventLogs = make([]EventLog, 0, count)
	for i := range int(count) {
		var log EventLog
		if log.Params, err = reader.ReadVarBytes(); err != nil {
			return fmt.Errorf("event log %d params: %w", i, err)
		}
		if log.Name, err = reader.ReadVarString(); err != nil {
			return fmt.Errorf("event log %d name: %w", i, err)
		}
		r.EventLogs = append(r.EventLogs, log)
	}
	return nil
}

func (r *Receipt) MarshalBinary() ([]byte, error) {
	w := NewBufferWriter()
	if err := r.Encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (r *Receipt) UnmarshalBinary(data []byte) error {
	reader := NewBufferReader(data)
	if err := r.Decode(reader); err != nil {
		return err
	}
	return expectEnd(reader)
}
