package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// SysTokenPrecision is the number of decimal places of the native asset.
	SysTokenPrecision int32 = 9
	// BancorTokenPrecision is the number of decimal places of bonding-curve tokens.
	BancorTokenPrecision int32 = 9
	// MaxTokenPrecision bounds the precision a plain token may declare.
	MaxTokenPrecision int32 = 9
)

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("negative amount")
)

// NormalizeAmount turns an amount-bearing parameter into a decimal with exactly precision
// decimal places. The value is first rendered as a fixed-precision string and then parsed, so
// every node derives the same decimal from the same input regardless of how it was typed.
func NormalizeAmount(raw any, precision int32) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch v := raw.(type) {
	case decimal.Decimal:
		d = v
	case *decimal.Decimal:
		if v == nil {
			return decimal.Decimal{}, ErrInvalidAmount
		}
		d = *v
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, v)
		}
		d = parsed
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, v)
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(v)
	case float32:
		d = decimal.NewFromFloat32(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case int32:
		d = decimal.NewFromInt32(v)
	case uint64:
		d = decimal.NewFromUint64(v)
	case uint32:
		d = decimal.NewFromInt(int64(v))
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidAmount, raw)
	}

	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNegativeAmount, d)
	}

	fixed := d.StringFixed(precision)
	return decimal.RequireFromString(fixed), nil
}

// FormatAmount renders d with exactly precision decimal places.
func FormatAmount(d decimal.Decimal, precision int32) string {
	return d.StringFixed(precision)
}
