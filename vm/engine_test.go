package vm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/core/crypto"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	key     []byte
	address string
}

func newAccount(t *testing.T) account {
	t.Helper()
	key, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	pub, err := crypto.PublicKeyFromSecretKey(key)
	require.NoError(t, err)
	address, err := crypto.AddressFromPublicKey(pub)
	require.NoError(t, err)
	return account{key: key, address: address}
}

func (a account) tx(t *testing.T, method string, params any, value, fee string) *core.ValueTransaction {
	t.Helper()
	tx := &core.ValueTransaction{
		Transaction: core.Transaction{Method: method, Nonce: 1},
		Value:       decimal.RequireFromString(value),
		Fee:         decimal.RequireFromString(fee),
	}
	require.NoError(t, tx.SetInput(params))
	require.NoError(t, tx.Sign(a.key))
	return tx
}

type transferParams struct {
	To     string          `mapstructure:"to" validate:"required,address"`
	Amount decimal.Decimal `mapstructure:"amount"`
}

type fixture struct {
	engine   *vm.Engine
	registry *vm.Registry
	view     *storage.Storage
	block    vm.BlockInfo
	alice    account
	bob      account
	miner    account
}

func newFixture(t *testing.T, register func(r *vm.Registry), opts ...vm.Option) *fixture {
	t.Helper()

	f := &fixture{
		registry: vm.NewRegistry(),
		alice:    newAccount(t),
		bob:      newAccount(t),
		miner:    newAccount(t),
	}
	vm.RegisterTx(f.registry, "transfer", func(ctx *vm.TxContext, p transferParams) error {
		if err := ctx.Transfer(ctx.Caller(), p.To, p.Amount); err != nil {
			return err
		}
		return ctx.Emit("transfer", map[string]any{"from": ctx.Caller(), "to": p.To, "value": p.Amount.String()})
	})
	if register != nil {
		register(f.registry)
	}
	f.engine = vm.New(f.registry, utils.NewNopZapLogger(), opts...)

	f.view = storage.New(filepath.Join(t.TempDir(), "view"), utils.NewNopZapLogger())
	require.NoError(t, f.view.Init(false))
	t.Cleanup(func() {
		require.NoError(t, f.view.Uninit())
	})

	f.block = vm.BlockInfo{Height: 1, Timestamp: 1700000000, Coinbase: f.miner.address}
	_, err := f.engine.RunGenesis(context.Background(), f.view, vm.BlockInfo{Coinbase: f.miner.address}, []vm.Allocation{
		{Address: f.alice.address, Amount: decimal.NewFromInt(1000)},
		{Address: f.bob.address, Amount: decimal.Zero},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) execute(t *testing.T, tx *core.ValueTransaction) *core.Receipt {
	t.Helper()
	receipt, err := f.engine.Execute(context.Background(), f.view, f.block, tx)
	require.NoError(t, err)
	return receipt
}

func (f *fixture) requireBalance(t *testing.T, address, want string) {
	t.Helper()
	ledger, err := vm.OpenLedger(f.view)
	require.NoError(t, err)
	got, err := ledger.Balance(address)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString(want).Equal(got), "balance of %s: want %s, got %s", address, want, got)
}

func TestTransferScenario(t *testing.T) {
	f := newFixture(t, nil)
	f.requireBalance(t, f.alice.address, "1000")
	f.requireBalance(t, f.bob.address, "0")

	tx := f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "300"}, "0", "0")
	receipt := f.execute(t, tx)
	assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
	assert.Equal(t, tx.Hash().String(), receipt.TransactionHash)
	require.Len(t, receipt.EventLogs, 1)
	assert.Equal(t, "transfer", receipt.EventLogs[0].Name)

	var event map[string]any
	require.NoError(t, receipt.EventLogs[0].UnmarshalParams(&event))
	assert.Equal(t, map[string]any{"from": f.alice.address, "to": f.bob.address, "value": "300"}, event)

	f.requireBalance(t, f.alice.address, "700")
	f.requireBalance(t, f.bob.address, "300")

	receipt = f.execute(t, f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": 800}, "0", "0"))
	assert.Equal(t, vm.CodeInsufficientBalance, receipt.ReturnCode)
	assert.Empty(t, receipt.EventLogs)
	f.requireBalance(t, f.alice.address, "700")
	f.requireBalance(t, f.bob.address, "300")
}

func TestFeeGoesToCoinbase(t *testing.T) {
	f := newFixture(t, nil)

	receipt := f.execute(t, f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "0.5"))
	assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
	f.requireBalance(t, f.alice.address, "998.5")
	f.requireBalance(t, f.bob.address, "1")
	f.requireBalance(t, f.miner.address, "0.5")

	t.Run("burnt without coinbase", func(t *testing.T) {
		receipt, err := f.engine.Execute(context.Background(), f.view, vm.BlockInfo{Height: 2},
			f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "0.5"))
		require.NoError(t, err)
		assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
		f.requireBalance(t, f.alice.address, "997")
		f.requireBalance(t, f.miner.address, "0.5")
	})
}

func TestExecuteRejected(t *testing.T) {
	f := newFixture(t, nil)

	tampered := f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "1")
	tampered.Nonce++

	tests := map[string]*core.ValueTransaction{
		"bad signature":   tampered,
		"invalid address": f.alice.tx(t, "transfer", map[string]any{"to": "nobody", "amount": "1"}, "0", "1"),
		"negative amount": f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "-1"}, "0", "1"),
		"unknown field":   f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1", "memo": "x"}, "0", "1"),
		"not an amount":   f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "lots"}, "0", "1"),
		"negative fee":    f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "-1"),
		"value too precise": f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"},
			"1.0000000005", "1"),
		"fee too precise": f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"},
			"0", "0.0000000001"),
		"unknown method with precise value": f.alice.tx(t, "mint", nil, "0.0000000001", "0"),
	}
	for name, tx := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Execute(context.Background(), f.view, f.block, tx)
			require.ErrorIs(t, err, vm.ErrValidation)
			f.requireBalance(t, f.alice.address, "1000")
			f.requireBalance(t, f.miner.address, "0")
		})
	}
}

func TestExecuteUnknownMethod(t *testing.T) {
	f := newFixture(t, nil)

	receipt := f.execute(t, f.alice.tx(t, "mint", nil, "10", "2"))
	assert.Equal(t, vm.CodeUnknownMethod, receipt.ReturnCode)
	f.requireBalance(t, f.alice.address, "998")
	f.requireBalance(t, f.miner.address, "2")
	f.requireBalance(t, vm.SystemAddress, "0")
}

func TestExecuteCannotCoverCost(t *testing.T) {
	f := newFixture(t, nil)

	receipt := f.execute(t, f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "900", "101"))
	assert.Equal(t, vm.CodeInsufficientBalance, receipt.ReturnCode)
	f.requireBalance(t, f.alice.address, "1000")
	f.requireBalance(t, f.miner.address, "0")
	f.requireBalance(t, vm.SystemAddress, "0")
}

type payParams struct {
	To string `mapstructure:"to" validate:"required,address"`
}

func TestValueIsEscrowed(t *testing.T) {
	var seen decimal.Decimal
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterTx(r, "pay", func(ctx *vm.TxContext, p payParams) error {
			held, err := ctx.Balance(vm.SystemAddress)
			if err != nil {
				return err
			}
			seen = held
			return ctx.TransferTo(p.To, ctx.Value())
		}, vm.WithCost(decimal.RequireFromString("0.001")))
	})

	receipt := f.execute(t, f.alice.tx(t, "pay", map[string]any{"to": f.bob.address}, "40", "5"))
	assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
	assert.True(t, decimal.NewFromInt(40).Equal(seen))
	f.requireBalance(t, f.alice.address, "959.999")
	f.requireBalance(t, f.bob.address, "40")
	f.requireBalance(t, f.miner.address, "0.001")
	f.requireBalance(t, vm.SystemAddress, "0")
}

func TestValuePrecision(t *testing.T) {
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterTx(r, "pay", func(ctx *vm.TxContext, p payParams) error {
			return ctx.TransferTo(p.To, ctx.Value())
		})
	})

	receipt := f.execute(t, f.alice.tx(t, "pay", map[string]any{"to": f.bob.address}, "1.000000001", "0"))
	assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
	f.requireBalance(t, f.alice.address, "998.999999999")
	f.requireBalance(t, f.bob.address, "1.000000001")

	_, err := f.engine.Execute(context.Background(), f.view, f.block,
		f.alice.tx(t, "pay", map[string]any{"to": f.bob.address}, "1.0000000005", "0"))
	require.ErrorIs(t, err, vm.ErrValidation)
	f.requireBalance(t, f.alice.address, "998.999999999")
	f.requireBalance(t, f.bob.address, "1.000000001")
	f.requireBalance(t, vm.SystemAddress, "0")
}

type noteParams struct {
	Note string `mapstructure:"note" validate:"required"`
}

func TestFailureKeepsMutations(t *testing.T) {
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterTx(r, "note", func(ctx *vm.TxContext, p noteParams) error {
			kv, err := ctx.CreateKeyValue(vm.UserDatabase, "notes")
			if err != nil {
				return err
			}
			if err = kv.Set(ctx.Caller(), p.Note); err != nil {
				return err
			}
			if err = ctx.Emit("noted", map[string]any{"note": p.Note}); err != nil {
				return err
			}
			return vm.ErrFailed
		})
	})

	receipt := f.execute(t, f.alice.tx(t, "note", map[string]any{"note": "hello"}, "0", "1"))
	assert.Equal(t, vm.CodeFailed, receipt.ReturnCode)
	assert.Len(t, receipt.EventLogs, 1)
	f.requireBalance(t, f.alice.address, "999")

	kv, err := f.view.GetKeyValue(vm.UserDatabase, "notes")
	require.NoError(t, err)
	value, err := kv.Get(f.alice.address)
	require.NoError(t, err)
	var note string
	require.NoError(t, value.Decode(&note))
	assert.Equal(t, "hello", note)
}

func TestHandlerErrors(t *testing.T) {
	errDisk := errors.New("disk on fire")
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterTx(r, "broken", func(*vm.TxContext, struct{}) error {
			return errDisk
		})
		vm.RegisterTx(r, "steal", func(ctx *vm.TxContext, p transferParams) error {
			return ctx.Transfer(p.To, ctx.Caller(), p.Amount)
		})
		vm.RegisterTx(r, "mint", func(ctx *vm.TxContext, _ struct{}) error {
			kv, err := ctx.KeyValue(vm.SystemDatabase, vm.BalanceTable)
			if err != nil {
				return err
			}
			return kv.Set(ctx.Caller(), "1000000")
		})
		vm.RegisterTx(r, "missing", func(ctx *vm.TxContext, _ struct{}) error {
			_, err := ctx.KeyValue(vm.UserDatabase, "nothing")
			return err
		})
		vm.RegisterTx(r, "script", func(ctx *vm.TxContext, _ struct{}) error {
			return ctx.RunScript([]byte("return 1"), "main", nil)
		})
	})

	_, err := f.engine.Execute(context.Background(), f.view, f.block, f.alice.tx(t, "broken", nil, "0", "0"))
	require.ErrorIs(t, err, errDisk)

	tests := map[string]struct {
		tx   *core.ValueTransaction
		code int32
	}{
		"debit someone else": {
			tx:   f.alice.tx(t, "steal", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "0"),
			code: vm.CodePermissionDenied,
		},
		"system database": {
			tx:   f.alice.tx(t, "mint", nil, "0", "0"),
			code: vm.CodePermissionDenied,
		},
		"missing table": {
			tx:   f.alice.tx(t, "missing", nil, "0", "0"),
			code: vm.CodeNotFound,
		},
		"no script executor": {
			tx:   f.alice.tx(t, "script", nil, "0", "0"),
			code: vm.CodeNotSupported,
		},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.code, f.execute(t, test.tx).ReturnCode)
		})
	}
	f.requireBalance(t, f.alice.address, "1000")
}

type scriptFunc func(ctx *vm.TxContext, code []byte, method string, params map[string]any) error

func (f scriptFunc) Run(ctx *vm.TxContext, code []byte, method string, params map[string]any) error {
	return f(ctx, code, method, params)
}

func TestScriptExecutor(t *testing.T) {
	var ran string
	scripts := scriptFunc(func(ctx *vm.TxContext, code []byte, method string, _ map[string]any) error {
		ran = string(code) + ":" + method
		return ctx.TransferTo(ctx.Caller(), ctx.Value())
	})
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterTx(r, "script", func(ctx *vm.TxContext, _ struct{}) error {
			return ctx.RunScript([]byte("code"), "main", nil)
		})
	}, vm.WithScriptExecutor(scripts))

	receipt := f.execute(t, f.alice.tx(t, "script", nil, "10", "0"))
	assert.Equal(t, vm.CodeOK, receipt.ReturnCode)
	assert.Equal(t, "code:main", ran)
	f.requireBalance(t, f.alice.address, "1000")
}

type balanceParams struct {
	Address string `mapstructure:"address" validate:"required,address"`
}

func TestCall(t *testing.T) {
	f := newFixture(t, func(r *vm.Registry) {
		vm.RegisterView(r, "balance", func(ctx *vm.ViewContext, p balanceParams) (decimal.Decimal, error) {
			return ctx.Balance(p.Address)
		})
	})

	input := func(params any) []byte {
		tx := core.Transaction{}
		require.NoError(t, tx.SetInput(params))
		return tx.Input
	}

	got, err := f.engine.Call(context.Background(), f.view, f.block, "balance", input(map[string]any{"address": f.alice.address}))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(got.(decimal.Decimal)))

	_, err = f.engine.Call(context.Background(), f.view, f.block, "balance", input(map[string]any{"address": "x"}))
	require.ErrorIs(t, err, vm.ErrValidation)

	_, err = f.engine.Call(context.Background(), f.view, f.block, "transfer", nil)
	require.ErrorIs(t, err, vm.ErrUnknownMethod)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.Call(ctx, f.view, f.block, "balance", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBlockListeners(t *testing.T) {
	var heights []uint64
	f := newFixture(t, func(r *vm.Registry) {
		r.AddGenesisListener("tables", func(ctx *vm.EventContext) error {
			_, err := ctx.CreateKeyValue(vm.UserDatabase, "ticks")
			return err
		})
		r.AddPostBlockListener("tick", func(height uint64) bool { return height%2 == 0 }, func(ctx *vm.EventContext) error {
			heights = append(heights, ctx.Block().Height)
			kv, err := ctx.KeyValue(vm.UserDatabase, "ticks")
			if err != nil {
				return err
			}
			if err = kv.RPush("heights", ctx.Block().Height); err != nil {
				return err
			}
			return ctx.Emit("tick", map[string]any{"height": ctx.Block().Height})
		})
		r.AddPostBlockListener("failing", nil, func(*vm.EventContext) error {
			return vm.ErrNotFound
		})
	})

	for height := uint64(1); height <= 4; height++ {
		receipts, err := f.engine.RunPostBlock(context.Background(), f.view, vm.BlockInfo{Height: height})
		require.NoError(t, err)
		if height%2 == 0 {
			require.Len(t, receipts, 2)
			assert.Equal(t, "tick", receipts[0].SysEventName)
			assert.Equal(t, vm.CodeOK, receipts[0].ReturnCode)
			assert.Empty(t, receipts[0].TransactionHash)
			assert.Len(t, receipts[0].EventLogs, 1)
			assert.Equal(t, vm.CodeNotFound, receipts[1].ReturnCode)
		} else {
			require.Len(t, receipts, 1)
			assert.Equal(t, "failing", receipts[0].SysEventName)
		}
	}
	assert.Equal(t, []uint64{2, 4}, heights)

	kv, err := f.view.GetKeyValue(vm.UserDatabase, "ticks")
	require.NoError(t, err)
	length, err := kv.LLen("heights")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), length)
}

func TestListenerCounts(t *testing.T) {
	var executed, rejected []string
	f := newFixture(t, nil, vm.WithListener(&vm.SelectiveListener{
		OnExecutedCb: func(method string, _ int32, _ time.Duration) {
			executed = append(executed, method)
		},
		OnRejectedCb: func(method string, err error) {
			rejected = append(rejected, method)
		},
	}))

	f.execute(t, f.alice.tx(t, "transfer", map[string]any{"to": f.bob.address, "amount": "1"}, "0", "0"))
	_, err := f.engine.Execute(context.Background(), f.view, f.block,
		f.alice.tx(t, "transfer", map[string]any{"to": "bad"}, "0", "0"))
	require.Error(t, err)

	assert.Equal(t, []string{"transfer"}, executed)
	assert.Equal(t, []string{"transfer"}, rejected)
}

func TestRegistry(t *testing.T) {
	r := vm.NewRegistry()
	vm.RegisterTx(r, "b", func(*vm.TxContext, struct{}) error { return nil })
	vm.RegisterView(r, "a", func(*vm.ViewContext, struct{}) (int, error) { return 0, nil })

	txs, views := r.Methods()
	assert.Equal(t, []string{"b"}, txs)
	assert.Equal(t, []string{"a"}, views)

	assert.Panics(t, func() {
		vm.RegisterView(r, "b", func(*vm.ViewContext, struct{}) (int, error) { return 0, nil })
	})

	_, err := r.DecodeParams("c", nil)
	require.ErrorIs(t, err, vm.ErrUnknownMethod)
	_, err = r.DecodeParams("a", nil)
	require.NoError(t, err)
}
