package vm

import (
	"errors"

	"github.com/ledgerline/ledgerd/core"
	"github.com/ledgerline/ledgerd/storage"
)

// Return codes recorded in receipts.
const (
	CodeOK int32 = iota
	CodeFailed
	CodeInvalidParam
	CodeNotFound
	CodeAlreadyExists
	CodeInsufficientBalance
	CodeUnknownMethod
	CodePermissionDenied
	CodeSupplyLimit
	CodeNotSupported
	CodeScriptError
)

// ErrValidation rejects a transaction before dispatch. Nothing is charged and no receipt is
// produced.
var ErrValidation = errors.New("validation failed")

// Execution errors. A handler returning one of these (possibly wrapped) ends the transaction
// with the matching receipt code.
var (
	ErrFailed              = errors.New("execution failed")
	ErrInvalidParam        = errors.New("invalid parameter")
	ErrNotFound            = errors.New("not found")
	ErrDuplicateResource   = errors.New("resource already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownMethod       = errors.New("unknown method")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrSupplyLimit         = errors.New("total supply limit reached")
	ErrNotSupported        = errors.New("not supported")
	ErrScript              = errors.New("script error")
)

var codes = []struct {
	err  error
	code int32
}{
	{ErrFailed, CodeFailed},
	{ErrInvalidParam, CodeInvalidParam},
	{core.ErrInvalidAmount, CodeInvalidParam},
	{core.ErrNegativeAmount, CodeInvalidParam},
	{storage.ErrNameTooLong, CodeInvalidParam},
	{ErrNotFound, CodeNotFound},
	{storage.ErrNotFound, CodeNotFound},
	{ErrDuplicateResource, CodeAlreadyExists},
	{storage.ErrAlreadyExists, CodeAlreadyExists},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrUnknownMethod, CodeUnknownMethod},
	{ErrPermissionDenied, CodePermissionDenied},
	{storage.ErrReadOnly, CodePermissionDenied},
	{ErrSupplyLimit, CodeSupplyLimit},
	{ErrNotSupported, CodeNotSupported},
	{ErrScript, CodeScriptError},
}

// CodeOf returns the receipt code for an execution error. ok is false for anything else,
// which must abort the enclosing block.
func CodeOf(err error) (code int32, ok bool) {
	if err == nil {
		return CodeOK, true
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code, true
		}
	}
	return 0, false
}
