package builtin

import (
	"fmt"

	"github.com/ledgerline/ledgerd/storage"
	"github.com/ledgerline/ledgerd/vm"
)

type setUserCodeParams struct {
	UserCode []byte `mapstructure:"userCode" validate:"required"`
}

type runUserMethodParams struct {
	To     string         `mapstructure:"to" validate:"required,address"`
	Action string         `mapstructure:"action" validate:"required"`
	Params map[string]any `mapstructure:"params"`
}

type userCode struct {
	Code []byte `cbor:"code"`
}

func registerUserCode(r *vm.Registry) {
	vm.RegisterTx(r, "setUserCode", setUserCode)
	vm.RegisterTx(r, "runUserMethod", runUserMethod)
	vm.RegisterView(r, "getUserCode", func(ctx *vm.ViewContext, p addressParams) ([]byte, error) {
		kv, err := ctx.KeyValue(vm.UserDatabase, UserCodeTable)
		if err != nil {
			return nil, err
		}
		return readCode(kv, p.Address)
	})
}

func readCode(kv *storage.KeyValue, address string) ([]byte, error) {
	value, err := kv.Get(address)
	if err != nil {
		return nil, fmt.Errorf("code of %s: %w", address, err)
	}
	var code userCode
	if err = value.Decode(&code); err != nil {
		return nil, err
	}
	return code.Code, nil
}

func setUserCode(ctx *vm.TxContext, p setUserCodeParams) error {
	kv, err := ctx.KeyValue(vm.UserDatabase, UserCodeTable)
	if err != nil {
		return err
	}
	return kv.Set(ctx.Caller(), userCode{Code: p.UserCode})
}

// runUserMethod runs action of the code stored at p.To. Failures of the code itself end
// up in the receipt.
func runUserMethod(ctx *vm.TxContext, p runUserMethodParams) error {
	kv, err := ctx.KeyValue(vm.UserDatabase, UserCodeTable)
	if err != nil {
		return err
	}
	code, err := readCode(kv, p.To)
	if err != nil {
		return err
	}
	err = ctx.RunScript(code, p.Action, p.Params)
	if _, ok := vm.CodeOf(err); !ok {
		return fmt.Errorf("%w: %v", vm.ErrScript, err)
	}
	return err
}
