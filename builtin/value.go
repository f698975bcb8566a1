package builtin

import (
	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/vm"
	"github.com/shopspring/decimal"
)

type transferToParams struct {
	To string `mapstructure:"to" validate:"required,address"`
}

type addressParams struct {
	Address string `mapstructure:"address" validate:"required,address"`
}

type addressesParams struct {
	Addresses []string `mapstructure:"addresses" validate:"dive,address"`
}

// TransferEvent is emitted whenever native value changes hands.
type TransferEvent struct {
	From  string `cbor:"from"`
	To    string `cbor:"to"`
	Value string `cbor:"value"`
}

func registerValue(r *vm.Registry, cfg *config) {
	vm.RegisterTx(r, "transferTo", transferTo, vm.WithCost(cfg.systemFee))

	vm.RegisterView(r, "getBalance", func(ctx *vm.ViewContext, p addressParams) (decimal.Decimal, error) {
		return ctx.Balance(p.Address)
	})
	vm.RegisterView(r, "getZeroBalance", func(ctx *vm.ViewContext, _ struct{}) (decimal.Decimal, error) {
		return ctx.Balance(vm.SystemAddress)
	})
	vm.RegisterView(r, "getBalances", func(ctx *vm.ViewContext, p addressesParams) ([]AddressBalance, error) {
		if err := checkQuery(p.Addresses, cfg.maxQuery); err != nil {
			return nil, err
		}
		out := make([]AddressBalance, 0, len(p.Addresses))
		for _, address := range p.Addresses {
			balance, err := ctx.Balance(address)
			if err != nil {
				return nil, err
			}
			out = append(out, AddressBalance{Address: address, Balance: balance})
		}
		return out, nil
	})
}

// transferTo pays the attached value to the recipient.
func transferTo(ctx *vm.TxContext, p transferToParams) error {
	value, err := core.NormalizeAmount(ctx.Value(), core.SysTokenPrecision)
	if err != nil {
		return err
	}
	if err = ctx.TransferTo(p.To, value); err != nil {
		return err
	}
	return ctx.Emit("transfer", TransferEvent{From: ctx.Caller(), To: p.To, Value: value.String()})
}
