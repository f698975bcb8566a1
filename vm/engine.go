// Package vm applies transactions to a state view by dispatching them to registered
// handlers, charging fees and collecting receipts.
package vm

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/shopspring/decimal"
)

// Allocation is a genesis balance.
type Allocation struct {
	Address string          `yaml:"address" mapstructure:"address" validate:"required,address"`
	Amount  decimal.Decimal `yaml:"amount" mapstructure:"amount" validate:"amount"`
}

type Option func(*Engine)

func WithListener(listener EventListener) Option {
	return func(e *Engine) {
		e.listener = listener
	}
}

func WithScriptExecutor(scripts ScriptExecutor) Option {
	return func(e *Engine) {
		e.scripts = scripts
	}
}

type Engine struct {
	registry *Registry
	log      utils.SimpleLogger
	listener EventListener
	scripts  ScriptExecutor
}

func New(registry *Registry, log utils.SimpleLogger, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		log:      log,
		listener: &SelectiveListener{},
		scripts:  noScripts{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) stateContext(ctx context.Context, view *storage.Storage, block BlockInfo,
	ledger *Ledger,
) stateContext {
	return stateContext{ctx: ctx, view: view, block: block, ledger: ledger, log: e.log}
}

// authenticate checks everything that can be checked without touching the state.
func (e *Engine) authenticate(tx *core.ValueTransaction) (string, *txMethod, any, error) {
	if !tx.VerifySignature() {
		return "", nil, nil, fmt.Errorf("%w: bad signature", ErrValidation)
	}
	caller, err := tx.Address()
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	for _, amount := range []struct {
		name  string
		value decimal.Decimal
	}{{"value", tx.Value}, {"fee", tx.Fee}} {
		normalized, err := core.NormalizeAmount(amount.value, core.SysTokenPrecision)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: %s: %v", ErrValidation, amount.name, err)
		}
		if !normalized.Equal(amount.value) {
			return "", nil, nil, fmt.Errorf("%w: %s %s has more than %d decimal places",
				ErrValidation, amount.name, amount.value, core.SysTokenPrecision)
		}
	}

	m, ok := e.registry.txs[tx.Method]
	if !ok {
		return caller, nil, nil, nil
	}
	params, err := m.decode(tx.Input)
	if err != nil {
		return "", nil, nil, err
	}
	return caller, m, params, nil
}

// Execute applies tx to view. A transaction that fails validation returns ErrValidation and
// leaves view untouched. Every other outcome of the handler is recorded in the receipt;
// mutations a handler made before failing are kept. Errors that are not execution errors
// abort the transaction and must fail the block.
func (e *Engine) Execute(ctx context.Context, view *storage.Storage, block BlockInfo,
	tx *core.ValueTransaction,
) (*core.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	caller, m, params, err := e.authenticate(tx)
	if err != nil {
		e.listener.OnRejected(tx.Method, err)
		return nil, err
	}

	ledger, err := OpenLedger(view)
	if err != nil {
		return nil, err
	}

	cost := tx.Fee
	if m != nil && m.cost != nil {
		cost = *m.cost
	}
	value := tx.Value
	if m == nil {
		// nothing can claim the value
		value = decimal.Zero
	}

	hash := tx.Hash()
	receipt := &core.Receipt{TransactionHash: hash.String()}
	code, err := e.dispatch(ctx, view, block, ledger, tx, caller, cost, value, m, params, receipt)
	if err != nil {
		return nil, fmt.Errorf("execute %s (%s): %w", tx.Method, hash, err)
	}
	receipt.ReturnCode = code

	e.listener.OnExecuted(tx.Method, code, time.Since(start))
	e.log.Debugw("Executed transaction", "method", tx.Method, "hash", hash, "caller", caller, "code", code)
	return receipt, nil
}

func (e *Engine) dispatch(ctx context.Context, view *storage.Storage, block BlockInfo, ledger *Ledger,
	tx *core.ValueTransaction, caller string, cost, value decimal.Decimal, m *txMethod, params any,
	receipt *core.Receipt,
) (int32, error) {
	balance, err := ledger.Balance(caller)
	if err != nil {
		return 0, err
	}
	if balance.LessThan(cost.Add(value)) {
		return CodeInsufficientBalance, nil
	}

	if block.Coinbase != "" {
		err = ledger.Transfer(caller, block.Coinbase, cost)
	} else {
		err = ledger.Burn(caller, cost)
	}
	if err != nil {
		return 0, fmt.Errorf("charge fee: %w", err)
	}

	if m == nil {
		return CodeUnknownMethod, nil
	}
	if err = ledger.Transfer(caller, SystemAddress, value); err != nil {
		return 0, fmt.Errorf("escrow value: %w", err)
	}

	tc := &TxContext{
		stateContext: e.stateContext(ctx, view, block, ledger),
		caller:       caller,
		value:        value,
		fee:          cost,
		txHash:       tx.Hash(),
		scripts:      e.scripts,
	}
	handlerErr := m.run(tc, params)
	receipt.EventLogs = tc.events

	code, ok := CodeOf(handlerErr)
	if !ok {
		return 0, handlerErr
	}
	if handlerErr != nil {
		e.log.Debugw("Transaction failed", "method", tx.Method, "caller", caller, "err", handlerErr)
	}
	return code, nil
}

// Call runs a view method against view.
func (e *Engine) Call(ctx context.Context, view *storage.Storage, block BlockInfo, method string,
	input []byte,
) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, ok := e.registry.views[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	params, err := m.decode(input)
	if err != nil {
		return nil, err
	}
	ledger, err := OpenLedger(view)
	if err != nil {
		return nil, err
	}
	return m.run(&ViewContext{ctx: ctx, view: view, block: block, ledger: ledger, log: e.log}, params)
}

// RunPostBlock runs the post-block listeners interested in block, in registration order.
func (e *Engine) RunPostBlock(ctx context.Context, view *storage.Storage, block BlockInfo) ([]*core.Receipt, error) {
	ledger, err := OpenLedger(view)
	if err != nil {
		return nil, err
	}
	var receipts []*core.Receipt
	for _, l := range e.registry.postBlock {
		if !l.filter(block.Height) {
			continue
		}
		receipt, err := e.runListener(ctx, view, block, ledger, l)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// RunGenesis creates the ledger on an empty view, credits the allocations and runs the
// genesis listeners.
func (e *Engine) RunGenesis(ctx context.Context, view *storage.Storage, block BlockInfo,
	allocations []Allocation,
) ([]*core.Receipt, error) {
	ledger, err := CreateLedger(view)
	if err != nil {
		return nil, err
	}
	for _, a := range allocations {
		amount, err := core.NormalizeAmount(a.Amount, core.SysTokenPrecision)
		if err != nil {
			return nil, fmt.Errorf("allocation to %s: %w", a.Address, err)
		}
		if err = ledger.Mint(a.Address, amount); err != nil {
			return nil, fmt.Errorf("allocation to %s: %w", a.Address, err)
		}
	}

	receipts := make([]*core.Receipt, 0, len(e.registry.genesis))
	for _, l := range e.registry.genesis {
		receipt, err := e.runListener(ctx, view, block, ledger, l)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	e.log.Infow("Genesis state created", "allocations", len(allocations), "listeners", len(receipts))
	return receipts, nil
}

func (e *Engine) runListener(ctx context.Context, view *storage.Storage, block BlockInfo, ledger *Ledger,
	l listener,
) (*core.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	ec := &EventContext{stateContext: e.stateContext(ctx, view, block, ledger)}
	err := l.run(ec)
	code, ok := CodeOf(err)
	if !ok {
		return nil, fmt.Errorf("listener %s: %w", l.name, err)
	}
	if err != nil {
		e.log.Warnw("Block listener failed", "listener", l.name, "height", block.Height, "err", err)
	}
	e.listener.OnExecuted(l.name, code, time.Since(start))
	return &core.Receipt{SysEventName: l.name, ReturnCode: code, EventLogs: ec.events}, nil
}
