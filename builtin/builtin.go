// Package builtin registers the system methods every chain starts with: native transfers,
// plain and bonding-curve tokens, name auctions and user code.
package builtin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
)

const (
	TokenDatabase  = "token"
	BancorDatabase = "bancor"

	FactorTable       = "factor"
	ReserveTable      = "reserve"
	SupplyTable       = "supply"
	NonliquidityTable = "nonliquidity"

	BidTable      = "bid"
	BidInfoTable  = "bidInfo"
	UserCodeTable = "userCode"

	DefaultMaxQuery = 50
)

// DefaultSystemFee is charged by the token and transfer methods regardless of the fee the
// transaction declares.
var DefaultSystemFee = decimal.New(1, -3)

type config struct {
	systemFee decimal.Decimal
	maxQuery  int
}

type Option func(*config)

func WithSystemFee(fee decimal.Decimal) Option {
	return func(c *config) {
		c.systemFee = fee
	}
}

// WithMaxQuery bounds the number of addresses a batch balance query may ask for.
func WithMaxQuery(n int) Option {
	return func(c *config) {
		c.maxQuery = n
	}
}

// Register adds every builtin method and listener to r.
func Register(r *vm.Registry, opts ...Option) {
	cfg := &config{
		systemFee: DefaultSystemFee,
		maxQuery:  DefaultMaxQuery,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r.AddGenesisListener("builtin", createTables)
	registerValue(r, cfg)
	registerTokens(r, cfg)
	registerBancor(r, cfg)
	registerAuctions(r)
	registerUserCode(r)
}

func createTables(ctx *vm.EventContext) error {
	tables := []struct{ db, kv string }{
		{vm.UserDatabase, BidTable},
		{vm.UserDatabase, BidInfoTable},
		{vm.UserDatabase, UserCodeTable},
		{BancorDatabase, FactorTable},
		{BancorDatabase, ReserveTable},
		{BancorDatabase, SupplyTable},
		{BancorDatabase, NonliquidityTable},
	}
	for _, t := range tables {
		if _, err := ctx.CreateKeyValue(t.db, t.kv); err != nil {
			return err
		}
	}
	return nil
}

// AddressBalance is one entry of a batch balance query.
type AddressBalance struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

type Allocation struct {
	Address string          `mapstructure:"address" validate:"required,address"`
	Amount  decimal.Decimal `mapstructure:"amount"`
}

func tokenTable(tokenID string) string {
	return strings.ToUpper(tokenID)
}

// getAmount reads an amount stored as a decimal string. Missing keys hold zero.
func getAmount(kv *storage.KeyValue, key string) (decimal.Decimal, error) {
	value, err := kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, nil
	} else if err != nil {
		return decimal.Decimal{}, err
	}
	var s string
	if err = value.Decode(&s); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", key, err)
	}
	return decimal.NewFromString(s)
}

func setAmount(kv *storage.KeyValue, key string, amount decimal.Decimal) error {
	return kv.Set(key, amount.String())
}

func checkQuery(addresses []string, maxQuery int) error {
	if len(addresses) > maxQuery {
		return fmt.Errorf("%w: %d addresses, at most %d", vm.ErrInvalidParam, len(addresses), maxQuery)
	}
	return nil
}
