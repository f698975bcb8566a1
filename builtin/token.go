package builtin

import (
	"fmt"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
)

const (
	keyCreator   = "creator"
	keyType      = "type"
	keyPrecision = "precision"

	typeDefault = "default_token"
	typeBancor  = "bancor_token"
)

type createTokenParams struct {
	TokenID     string       `mapstructure:"tokenid" validate:"required,token_id"`
	Precision   int32        `mapstructure:"precision" validate:"min=0,max=9"`
	PreBalances []Allocation `mapstructure:"preBalances" validate:"dive"`
}

type transferTokenParams struct {
	TokenID string          `mapstructure:"tokenid" validate:"required,token_id"`
	To      string          `mapstructure:"to" validate:"required,address"`
	Amount  decimal.Decimal `mapstructure:"amount"`
}

type tokenBalanceParams struct {
	TokenID string `mapstructure:"tokenid" validate:"required,token_id"`
	Address string `mapstructure:"address" validate:"required,address"`
}

type tokenBalancesParams struct {
	TokenID   string   `mapstructure:"tokenid" validate:"required,token_id"`
	Addresses []string `mapstructure:"addresses" validate:"dive,address"`
}

func registerTokens(r *vm.Registry, cfg *config) {
	vm.RegisterTx(r, "createToken", createToken, vm.WithCost(cfg.systemFee))
	vm.RegisterTx(r, "transferTokenTo", transferTokenTo, vm.WithCost(cfg.systemFee))

	vm.RegisterView(r, "getTokenBalance", func(ctx *vm.ViewContext, p tokenBalanceParams) (decimal.Decimal, error) {
		kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
		if err != nil {
			return decimal.Decimal{}, err
		}
		return getAmount(kv, p.Address)
	})
	vm.RegisterView(r, "getTokenBalances", func(ctx *vm.ViewContext, p tokenBalancesParams) ([]AddressBalance, error) {
		return tokenBalances(ctx, p, cfg.maxQuery)
	})
}

func tokenBalances(ctx *vm.ViewContext, p tokenBalancesParams, maxQuery int) ([]AddressBalance, error) {
	if err := checkQuery(p.Addresses, maxQuery); err != nil {
		return nil, err
	}
	kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
	if err != nil {
		return nil, err
	}
	out := make([]AddressBalance, 0, len(p.Addresses))
	for _, address := range p.Addresses {
		balance, err := getAmount(kv, address)
		if err != nil {
			return nil, err
		}
		out = append(out, AddressBalance{Address: address, Balance: balance})
	}
	return out, nil
}

// createTable creates the balance table of a new token and credits its initial holders.
// It returns the sum credited.
func createTable(ctx *vm.TxContext, tokenID, kind string, precision int32,
	preBalances []Allocation,
) (*storage.KeyValue, decimal.Decimal, error) {
	kv, err := ctx.CreateKeyValue(TokenDatabase, tokenTable(tokenID))
	if err != nil {
		return nil, decimal.Decimal{}, err
	}
	if err = kv.Set(keyCreator, ctx.Caller()); err != nil {
		return nil, decimal.Decimal{}, err
	}
	if err = kv.Set(keyType, kind); err != nil {
		return nil, decimal.Decimal{}, err
	}
	if err = kv.Set(keyPrecision, precision); err != nil {
		return nil, decimal.Decimal{}, err
	}

	total := decimal.Zero
	for _, a := range preBalances {
		amount, err := core.NormalizeAmount(a.Amount, precision)
		if err != nil {
			return nil, decimal.Decimal{}, err
		}
		if err = setAmount(kv, a.Address, amount); err != nil {
			return nil, decimal.Decimal{}, err
		}
		total = total.Add(amount)
	}
	return kv, total, nil
}

func createToken(ctx *vm.TxContext, p createTokenParams) error {
	_, _, err := createTable(ctx, p.TokenID, typeDefault, p.Precision, p.PreBalances)
	return err
}

func tokenPrecision(kv *storage.KeyValue) (int32, error) {
	value, err := kv.Get(keyPrecision)
	if err != nil {
		return 0, fmt.Errorf("token precision: %w", err)
	}
	var precision int32
	if err = value.Decode(&precision); err != nil {
		return 0, fmt.Errorf("token precision: %w", err)
	}
	return precision, nil
}

// moveToken checks the sender's balance before touching either side.
func moveToken(kv *storage.KeyValue, from, to string, amount decimal.Decimal) error {
	fromBalance, err := getAmount(kv, from)
	if err != nil {
		return err
	}
	if fromBalance.LessThan(amount) {
		return fmt.Errorf("%w: %s holds %s, needs %s", vm.ErrInsufficientBalance, from, fromBalance, amount)
	}
	if from == to {
		return nil
	}
	toBalance, err := getAmount(kv, to)
	if err != nil {
		return err
	}
	if err = setAmount(kv, from, fromBalance.Sub(amount)); err != nil {
		return err
	}
	return setAmount(kv, to, toBalance.Add(amount))
}

func transferTokenTo(ctx *vm.TxContext, p transferTokenParams) error {
	kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
	if err != nil {
		return err
	}
	precision, err := tokenPrecision(kv)
	if err != nil {
		return err
	}
	amount, err := core.NormalizeAmount(p.Amount, precision)
	if err != nil {
		return err
	}
	return moveToken(kv, ctx.Caller(), p.To, amount)
}
