package blockchain_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/ledgerd/blockchain"
	"github.com/ledgerline/ledgerd/builtin"
	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/core/crypto"
	"github.com/ledgerline/ledgerd/db/pebble"
	"github.com/ledgerline/ledgerd/encoder"
	"github.com/ledgerline/ledgerd/snapshot"
	"github.com/ledgerline/ledgerd/utils"
	"github.com/ledgerline/ledgerd/viewcache"
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

type fixture struct {
	chain   *blockchain.Chain
	store   *snapshot.Store
	genesis *blockchain.Result
	alice   account
	bob     account
	miner   account

	applied  int
	rejected int
}

func newFixture(t *testing.T, opts ...snapshot.Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	log := utils.NewNopZapLogger()

	store := snapshot.New(filepath.Join(dir, "snapshots"), log, opts...)
	require.NoError(t, store.Init())
	cache := viewcache.New(filepath.Join(dir, "views"), store, log)
	t.Cleanup(cache.Close)

	index, err := pebble.New(filepath.Join(dir, "index"), log, false)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, index.Close())
	})

	registry := vm.NewRegistry()
	builtin.Register(registry)

	f := &fixture{store: store, alice: newAccount(t), bob: newAccount(t), miner: newAccount(t)}
	f.chain = blockchain.New(cache, store, vm.New(registry, log), index, log,
		blockchain.WithListener(&blockchain.SelectiveListener{
			OnBlockAppliedCb:  func(uint64, int, time.Duration) { f.applied++ },
			OnBlockRejectedCb: func(uint64, error) { f.rejected++ },
		}))

	f.genesis, err = f.chain.CreateGenesis(context.Background(), &blockchain.Genesis{
		Coinbase:  f.miner.address,
		Timestamp: 1000,
		PreBalances: []vm.Allocation{
			{Address: f.alice.address, Amount: decimal.NewFromInt(1000)},
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) transfer(t *testing.T, from account, to string, value string) *core.ValueTransaction {
	t.Helper()
	tx := &core.ValueTransaction{
		Transaction: core.Transaction{Method: "transferTo"},
		Value:       decimal.RequireFromString(value),
		Fee:         decimal.Zero,
	}
	require.NoError(t, tx.SetInput(map[string]any{"to": to}))
	require.NoError(t, tx.Sign(from.key))
	return tx
}

func (f *fixture) block(parent *blockchain.Result, coinbase string, txs ...*core.ValueTransaction) *core.Block {
	return &core.Block{
		Header: core.BlockHeader{
			ParentID:  parent.ID,
			Height:    parent.Height + 1,
			Timestamp: 1000 + int64(parent.Height+1)*10,
			Coinbase:  coinbase,
		},
		Transactions: txs,
	}
}

func (f *fixture) balance(t *testing.T, at core.BlockID, address string) decimal.Decimal {
	t.Helper()
	input, err := encoder.Marshal(map[string]any{"address": address})
	require.NoError(t, err)
	out, err := f.chain.Call(context.Background(), at, "getBalance", input)
	require.NoError(t, err)
	return out.(decimal.Decimal)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestApplyBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	head, err := f.chain.Head()
	require.NoError(t, err)
	assert.Equal(t, f.genesis.ID, head.ID)
	require.Len(t, f.genesis.Receipts, 1)
	assert.Equal(t, "builtin", f.genesis.Receipts[0].SysEventName)

	block := f.block(f.genesis, f.miner.address, f.transfer(t, f.alice, f.bob.address, "300"))
	result, err := f.chain.ApplyBlock(ctx, block)
	require.NoError(t, err)
	assert.Equal(t, block.ID(), result.ID)
	assert.Equal(t, 1, f.applied)

	// one transaction and the auction settlement
	require.Len(t, result.Receipts, 2)
	assert.Equal(t, vm.CodeOK, result.Receipts[0].ReturnCode)
	assert.Equal(t, "auction", result.Receipts[1].SysEventName)
	assert.True(t, result.Bloom.TestString("transfer"))
	assert.False(t, result.Bloom.TestString("auctionSettled"))

	assertAmount(t, "699.999", f.balance(t, result.ID, f.alice.address))
	assertAmount(t, "300", f.balance(t, result.ID, f.bob.address))
	assertAmount(t, "0.001", f.balance(t, result.ID, f.miner.address))
	// the genesis state is untouched
	assertAmount(t, "1000", f.balance(t, f.genesis.ID, f.alice.address))
	assertAmount(t, "0", f.balance(t, f.genesis.ID, f.bob.address))

	head, err = f.chain.Head()
	require.NoError(t, err)
	assert.Equal(t, result.ID, head.ID)
	assert.Equal(t, result.Digest, head.Digest)
	assert.Equal(t, 1, head.TxCount)

	receipts, err := f.chain.Blocks().Receipts(result.ID)
	require.NoError(t, err)
	require.Len(t, receipts, len(result.Receipts))
	for i, r := range receipts {
		assert.Equal(t, result.Receipts[i].TransactionHash, r.TransactionHash)
		assert.Equal(t, result.Receipts[i].SysEventName, r.SysEventName)
		assert.Equal(t, result.Receipts[i].ReturnCode, r.ReturnCode)
		assert.Len(t, r.EventLogs, len(result.Receipts[i].EventLogs))
	}
}

func TestApplyBlockIncompatible(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chain.CreateGenesis(ctx, &blockchain.Genesis{})
	require.ErrorAs(t, err, new(blockchain.ErrIncompatibleBlock))

	orphan := f.block(&blockchain.Result{ID: core.BlockID{9}}, f.miner.address)
	_, err = f.chain.ApplyBlock(ctx, orphan)
	require.ErrorAs(t, err, new(blockchain.ErrIncompatibleBlock))

	skipped := f.block(f.genesis, f.miner.address)
	skipped.Header.Height = 5
	_, err = f.chain.ApplyBlock(ctx, skipped)
	require.ErrorAs(t, err, new(blockchain.ErrIncompatibleBlock))

	early := f.block(f.genesis, f.miner.address)
	early.Header.Timestamp = 1
	_, err = f.chain.ApplyBlock(ctx, early)
	require.ErrorAs(t, err, new(blockchain.ErrIncompatibleBlock))

	block := f.block(f.genesis, f.miner.address)
	_, err = f.chain.ApplyBlock(ctx, block)
	require.NoError(t, err)
	_, err = f.chain.ApplyBlock(ctx, block)
	require.ErrorAs(t, err, new(blockchain.ErrIncompatibleBlock))

	assert.Equal(t, 1, f.applied)
	assert.Equal(t, 4, f.rejected)
}

func TestInvalidTransactionRejectsBlock(t *testing.T) {
	f := newFixture(t)

	tx := f.transfer(t, f.alice, f.bob.address, "1")
	tx.Signature[0] ^= 0xff
	block := f.block(f.genesis, f.miner.address, tx)

	_, err := f.chain.ApplyBlock(context.Background(), block)
	require.ErrorIs(t, err, vm.ErrValidation)
	assert.Equal(t, 1, f.rejected)

	has, err := f.chain.Blocks().Has(block.ID())
	require.NoError(t, err)
	assert.False(t, has)
	head, err := f.chain.Head()
	require.NoError(t, err)
	assert.Equal(t, f.genesis.ID, head.ID)

	// a failed attempt leaves nothing behind, the same block applies once fixed
	block.Transactions[0] = f.transfer(t, f.alice, f.bob.address, "1")
	_, err = f.chain.ApplyBlock(context.Background(), block)
	require.NoError(t, err)
}

func TestBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	left, err := f.chain.ApplyBlock(ctx, f.block(f.genesis, f.miner.address, f.transfer(t, f.alice, f.bob.address, "10")))
	require.NoError(t, err)
	right, err := f.chain.ApplyBlock(ctx, f.block(f.genesis, f.bob.address, f.transfer(t, f.alice, f.miner.address, "20")))
	require.NoError(t, err)
	require.NotEqual(t, left.ID, right.ID)
	assert.NotEqual(t, left.Digest, right.Digest)

	assertAmount(t, "10", f.balance(t, left.ID, f.bob.address))
	assertAmount(t, "0.001", f.balance(t, right.ID, f.bob.address))
	assertAmount(t, "20", f.balance(t, right.ID, f.miner.address))

	ids, err := f.chain.Blocks().AtHeight(1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []core.BlockID{left.ID, right.ID}, ids)

	head, err := f.chain.Head()
	require.NoError(t, err)
	assert.Equal(t, left.ID, head.ID)

	next, err := f.chain.ApplyBlock(ctx, f.block(right, f.miner.address))
	require.NoError(t, err)
	head, err = f.chain.Head()
	require.NoError(t, err)
	assert.Equal(t, next.ID, head.ID)
	assertAmount(t, "979.999", f.balance(t, next.ID, f.alice.address))
}

func TestRecycleKeepsHistory(t *testing.T) {
	f := newFixture(t, snapshot.WithRetain(1))
	ctx := context.Background()

	results := []*blockchain.Result{f.genesis}
	for i := range 3 {
		parent := results[len(results)-1]
		result, err := f.chain.ApplyBlock(ctx, f.block(parent, f.miner.address, f.transfer(t, f.alice, f.bob.address, "1")))
		require.NoError(t, err, "block %d", i+1)
		results = append(results, result)
	}

	removed, err := f.chain.Recycle()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	dumps := make(map[core.BlockID]bool)
	for _, info := range f.store.List() {
		dumps[info.ID] = info.HasDump
	}
	assert.True(t, dumps[f.genesis.ID])
	assert.False(t, dumps[results[1].ID])
	assert.False(t, dumps[results[2].ID])
	assert.True(t, dumps[results[3].ID])

	// newest first so block 2 is rebuilt on top of a rebuilt block 1
	for i := len(results) - 1; i >= 0; i-- {
		assertAmount(t, decimal.NewFromInt(int64(i)).String(), f.balance(t, results[i].ID, f.bob.address))
	}

	next, err := f.chain.ApplyBlock(ctx, f.block(results[2], f.miner.address, f.transfer(t, f.alice, f.bob.address, "5")))
	require.NoError(t, err)
	assertAmount(t, "7", f.balance(t, next.ID, f.bob.address))
}

func TestLoadGenesis(t *testing.T) {
	alice := newAccount(t)
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	g, err := blockchain.LoadGenesis(write("genesis.yaml", `
coinbase: `+alice.address+`
timestamp: 1700000000
preBalances:
  - address: `+alice.address+`
    amount: 1000.5
`))
	require.NoError(t, err)
	assert.Equal(t, alice.address, g.Coinbase)
	assert.Equal(t, int64(1700000000), g.Timestamp)
	require.Len(t, g.PreBalances, 1)
	assertAmount(t, "1000.5", g.PreBalances[0].Amount)

	tests := map[string]string{
		"bad address":     "preBalances:\n  - address: nope\n    amount: 1\n",
		"negative amount": "preBalances:\n  - address: " + alice.address + "\n    amount: -1\n",
		"not yaml":        "preBalances: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := blockchain.LoadGenesis(write(name+".yaml", content))
			require.Error(t, err)
		})
	}

	_, err = blockchain.LoadGenesis(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
