package vm

import "fmt"

// ScriptExecutor runs user supplied code on behalf of a transaction. It reaches the state
// only through ctx.
type ScriptExecutor interface {
	Run(ctx *TxContext, code []byte, method string, params map[string]any) error
}

type noScripts struct{}

func (noScripts) Run(_ *TxContext, _ []byte, method string, _ map[string]any) error {
	return fmt.Errorf("%w: user code (method %s)", ErrNotSupported, method)
}
