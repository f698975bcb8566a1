package builtin

import (
	"fmt"
	"math"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
)

type createBancorTokenParams struct {
	TokenID      string          `mapstructure:"tokenid" validate:"required,token_id"`
	PreBalances  []Allocation    `mapstructure:"preBalances" validate:"required,min=1,dive"`
	Factor       decimal.Decimal `mapstructure:"factor"`
	Nonliquidity decimal.Decimal `mapstructure:"nonliquidity"`
}

type tokenParams struct {
	TokenID string `mapstructure:"tokenid" validate:"required,token_id"`
}

type sellBancorTokenParams struct {
	TokenID string          `mapstructure:"tokenid" validate:"required,token_id"`
	Amount  decimal.Decimal `mapstructure:"amount"`
}

// curve is the bonding-curve state of one token: connector weight F, reserve R held in the
// system account, supply S and the supply cap N (zero when uncapped).
type curve struct {
	factor, reserve, supply, nonliquidity *storage.KeyValue
	F, R, S, N                            decimal.Decimal
}

func registerBancor(r *vm.Registry, cfg *config) {
	vm.RegisterTx(r, "createBancorToken", createBancorToken, vm.WithCost(cfg.systemFee))
	vm.RegisterTx(r, "transferBancorTokenTo", transferBancorTokenTo, vm.WithCost(cfg.systemFee))
	vm.RegisterTx(r, "buyBancorToken", buyBancorToken, vm.WithCost(cfg.systemFee))
	vm.RegisterTx(r, "sellBancorToken", sellBancorToken, vm.WithCost(cfg.systemFee))

	vm.RegisterView(r, "getBancorTokenBalance", func(ctx *vm.ViewContext, p tokenBalanceParams) (decimal.Decimal, error) {
		kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
		if err != nil {
			return decimal.Decimal{}, err
		}
		return getAmount(kv, p.Address)
	})
	vm.RegisterView(r, "getBancorTokenBalances", func(ctx *vm.ViewContext, p tokenBalancesParams) ([]AddressBalance, error) {
		balances, err := tokenBalances(ctx, p, cfg.maxQuery)
		if err != nil {
			return nil, err
		}
		for i := range balances {
			balances[i].Balance = balances[i].Balance.Truncate(core.BancorTokenPrecision)
		}
		return balances, nil
	})
	for method, table := range map[string]string{
		"getBancorTokenFactor":  FactorTable,
		"getBancorTokenReserve": ReserveTable,
		"getBancorTokenSupply":  SupplyTable,
	} {
		vm.RegisterView(r, method, func(ctx *vm.ViewContext, p tokenParams) (decimal.Decimal, error) {
			kv, err := ctx.KeyValue(BancorDatabase, table)
			if err != nil {
				return decimal.Decimal{}, err
			}
			return getAmount(kv, tokenTable(p.TokenID))
		})
	}
}

func createBancorToken(ctx *vm.TxContext, p createBancorTokenParams) error {
	if !p.Factor.IsPositive() || p.Factor.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: factor %s not in (0, 1]", vm.ErrInvalidParam, p.Factor)
	}
	if !ctx.Value().IsPositive() {
		return fmt.Errorf("%w: a reserve must be attached", vm.ErrInvalidParam)
	}

	_, supply, err := createTable(ctx, p.TokenID, typeBancor, core.BancorTokenPrecision, p.PreBalances)
	if err != nil {
		return err
	}

	c, err := loadTables(ctx)
	if err != nil {
		return err
	}
	c.F, c.R, c.S = p.Factor, ctx.Value(), supply
	if !p.Nonliquidity.IsZero() {
		c.N = p.Nonliquidity.Add(supply)
	}
	return c.store(tokenTable(p.TokenID), true)
}

func loadTables(ctx *vm.TxContext) (*curve, error) {
	c := new(curve)
	for _, t := range []struct {
		name string
		kv   **storage.KeyValue
	}{
		{FactorTable, &c.factor},
		{ReserveTable, &c.reserve},
		{SupplyTable, &c.supply},
		{NonliquidityTable, &c.nonliquidity},
	} {
		kv, err := ctx.KeyValue(BancorDatabase, t.name)
		if err != nil {
			return nil, err
		}
		*t.kv = kv
	}
	return c, nil
}

func loadCurve(ctx *vm.TxContext, tokenID string) (*curve, error) {
	c, err := loadTables(ctx)
	if err != nil {
		return nil, err
	}
	key := tokenTable(tokenID)
	if _, err = c.factor.Get(key); err != nil {
		return nil, fmt.Errorf("bancor token %s: %w", key, err)
	}
	for _, v := range []struct {
		kv  *storage.KeyValue
		out *decimal.Decimal
	}{
		{c.factor, &c.F},
		{c.reserve, &c.R},
		{c.supply, &c.S},
		{c.nonliquidity, &c.N},
	} {
		if *v.out, err = getAmount(v.kv, key); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *curve) store(key string, withParams bool) error {
	if withParams {
		if err := setAmount(c.factor, key, c.F); err != nil {
			return err
		}
		if err := setAmount(c.nonliquidity, key, c.N); err != nil {
			return err
		}
	}
	if err := setAmount(c.reserve, key, c.R); err != nil {
		return err
	}
	return setAmount(c.supply, key, c.S)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// purchase returns the tokens minted for a deposit e: S * ((1 + e/R)^F - 1).
func (c *curve) purchase(e decimal.Decimal) decimal.Decimal {
	ratio := toFloat(e.Div(c.R).Add(decimal.NewFromInt(1)))
	grown := decimal.NewFromFloat(math.Pow(ratio, toFloat(c.F)))
	return grown.Sub(decimal.NewFromInt(1)).Mul(c.S).Round(core.BancorTokenPrecision)
}

// sale returns the reserve paid out for burning e tokens: R * (1 - (1 - e/S)^(1/F)).
func (c *curve) sale(e decimal.Decimal) decimal.Decimal {
	remaining := toFloat(decimal.NewFromInt(1).Sub(e.Div(c.S)))
	shrunk := decimal.NewFromFloat(math.Pow(remaining, 1/toFloat(c.F)))
	return decimal.NewFromInt(1).Sub(shrunk).Mul(c.R).Round(core.SysTokenPrecision)
}

func transferBancorTokenTo(ctx *vm.TxContext, p transferTokenParams) error {
	kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
	if err != nil {
		return err
	}
	amount, err := core.NormalizeAmount(p.Amount, core.BancorTokenPrecision)
	if err != nil {
		return err
	}
	return moveToken(kv, ctx.Caller(), p.To, amount)
}

// buyBancorToken spends the attached value on the curve. The value stays in the system
// account as reserve.
func buyBancorToken(ctx *vm.TxContext, p tokenParams) error {
	c, err := loadCurve(ctx, p.TokenID)
	if err != nil {
		return err
	}
	if !c.R.IsPositive() {
		return fmt.Errorf("%w: token %s has no reserve", vm.ErrFailed, tokenTable(p.TokenID))
	}
	kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
	if err != nil {
		return err
	}

	e, err := core.NormalizeAmount(ctx.Value(), core.SysTokenPrecision)
	if err != nil {
		return err
	}
	out := c.purchase(e)
	c.R = c.R.Add(e)
	c.S = c.S.Add(out)
	if !c.N.IsZero() && c.S.GreaterThan(c.N) {
		return fmt.Errorf("%w: supply %s over %s", vm.ErrSupplyLimit, c.S, c.N)
	}

	balance, err := getAmount(kv, ctx.Caller())
	if err != nil {
		return err
	}
	if err = c.store(tokenTable(p.TokenID), false); err != nil {
		return err
	}
	return setAmount(kv, ctx.Caller(), balance.Add(out))
}

func sellBancorToken(ctx *vm.TxContext, p sellBancorTokenParams) error {
	c, err := loadCurve(ctx, p.TokenID)
	if err != nil {
		return err
	}
	kv, err := ctx.KeyValue(TokenDatabase, tokenTable(p.TokenID))
	if err != nil {
		return err
	}

	e, err := core.NormalizeAmount(p.Amount, core.BancorTokenPrecision)
	if err != nil {
		return err
	}
	if !e.IsPositive() {
		return fmt.Errorf("%w: nothing to sell", vm.ErrInvalidParam)
	}
	balance, err := getAmount(kv, ctx.Caller())
	if err != nil {
		return err
	}
	if balance.LessThan(e) || c.S.LessThan(e) {
		return fmt.Errorf("%w: selling %s of %s", vm.ErrInsufficientBalance, e, balance)
	}

	out := c.sale(e)
	c.R = c.R.Sub(out)
	c.S = c.S.Sub(e)

	if err = c.store(tokenTable(p.TokenID), false); err != nil {
		return err
	}
	if err = setAmount(kv, ctx.Caller(), balance.Sub(e)); err != nil {
		return err
	}
	if err = ctx.TransferTo(ctx.Caller(), out); err != nil {
		return err
	}
	return ctx.Emit("transfer", TransferEvent{From: vm.SystemAddress, To: ctx.Caller(), Value: out.String()})
}
