package vm

import (
	"context"
	"fmt"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/shopspring/decimal"
)

// UserDatabase holds the tables created by handlers that do not name a database.
const UserDatabase = "user"

// BlockInfo is the chain metadata visible to handlers.
type BlockInfo struct {
	ID        core.BlockID
	Height    uint64
	Timestamp int64
	Coinbase  string
}

// stateContext is the part shared by every context that may write to the view.
type stateContext struct {
	ctx    context.Context
	view   *storage.Storage
	block  BlockInfo
	ledger *Ledger
	log    utils.SimpleLogger
	events []core.EventLog
}

func (c *stateContext) Context() context.Context {
	return c.ctx
}

func (c *stateContext) Block() BlockInfo {
	return c.block
}

func (c *stateContext) Logger() utils.SimpleLogger {
	return c.log
}

func checkDatabase(dbName string) error {
	if dbName == SystemDatabase {
		return fmt.Errorf("%w: database %s", ErrPermissionDenied, dbName)
	}
	return nil
}

// KeyValue returns a writable handle to an existing table.
func (c *stateContext) KeyValue(dbName, kvName string) (*storage.KeyValue, error) {
	if err := checkDatabase(dbName); err != nil {
		return nil, err
	}
	return c.view.GetReadWritableKeyValue(dbName, kvName)
}

// CreateKeyValue creates a table, and its database when missing.
func (c *stateContext) CreateKeyValue(dbName, kvName string) (*storage.KeyValue, error) {
	if err := checkDatabase(dbName); err != nil {
		return nil, err
	}
	return c.view.CreateKeyValueWithDBName(dbName, kvName)
}

// Balance returns the native balance of address.
func (c *stateContext) Balance(address string) (decimal.Decimal, error) {
	return c.ledger.Balance(address)
}

// TransferTo pays amount out of the system account.
func (c *stateContext) TransferTo(to string, amount decimal.Decimal) error {
	return c.ledger.Transfer(SystemAddress, to, amount)
}

// Emit appends an event to the receipt being built.
func (c *stateContext) Emit(name string, params any) error {
	event, err := core.NewEventLog(name, params)
	if err != nil {
		return err
	}
	c.events = append(c.events, event)
	return nil
}

// TxContext is what a transaction handler may see and do.
type TxContext struct {
	stateContext
	caller  string
	value   decimal.Decimal
	fee     decimal.Decimal
	txHash  core.Hash
	scripts ScriptExecutor
}

// Caller is the sender address of the transaction.
func (c *TxContext) Caller() string {
	return c.caller
}

// Value is the amount the caller attached. It sits in the system account when the handler
// runs.
func (c *TxContext) Value() decimal.Decimal {
	return c.value
}

// Fee is what was charged for the transaction.
func (c *TxContext) Fee() decimal.Decimal {
	return c.fee
}

func (c *TxContext) TxHash() core.Hash {
	return c.txHash
}

// Transfer moves amount between two accounts. Only the caller's and the system account may
// be debited.
func (c *TxContext) Transfer(from, to string, amount decimal.Decimal) error {
	if from != c.caller && from != SystemAddress {
		return fmt.Errorf("%w: debit %s", ErrPermissionDenied, from)
	}
	return c.ledger.Transfer(from, to, amount)
}

// RunScript hands user code to the configured script executor.
func (c *TxContext) RunScript(code []byte, method string, params map[string]any) error {
	return c.scripts.Run(c, code, method, params)
}

// EventContext is passed to genesis and post-block listeners.
type EventContext struct {
	stateContext
}

// ViewContext is what a view method may see. It never writes.
type ViewContext struct {
	ctx    context.Context
	view   *storage.Storage
	block  BlockInfo
	ledger *Ledger
	log    utils.SimpleLogger
}

func (c *ViewContext) Context() context.Context {
	return c.ctx
}

func (c *ViewContext) Block() BlockInfo {
	return c.block
}

func (c *ViewContext) Logger() utils.SimpleLogger {
	return c.log
}

// KeyValue returns a read-only handle to an existing table.
func (c *ViewContext) KeyValue(dbName, kvName string) (*storage.KeyValue, error) {
	return c.view.GetKeyValue(dbName, kvName)
}

func (c *ViewContext) Balance(address string) (decimal.Decimal, error) {
	return c.ledger.Balance(address)
}
