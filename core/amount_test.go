package core_test

import (
	"encoding/json"
	"testing"

	"github.com/ledgerline/ledgerd/core"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAmount(t *testing.T) {
	tests := map[string]struct {
		raw       any
		precision int32
		want      string
	}{
		"string":           {raw: "1.23456789012", precision: 9, want: "1.234567890"},
		"rounds half up":   {raw: "0.0000000005", precision: 9, want: "0.000000001"},
		"float":            {raw: 0.1, precision: 9, want: "0.100000000"},
		"int":              {raw: 300, precision: 9, want: "300.000000000"},
		"int64":            {raw: int64(7), precision: 2, want: "7.00"},
		"uint64":           {raw: uint64(8), precision: 0, want: "8"},
		"json number":      {raw: json.Number("2.5"), precision: 1, want: "2.5"},
		"decimal":          {raw: decimal.RequireFromString("3.14159"), precision: 2, want: "3.14"},
		"zero":             {raw: "0", precision: 9, want: "0.000000000"},
		"lower precision":  {raw: "0.004", precision: 2, want: "0.00"},
		"integer rounding": {raw: "2.5", precision: 0, want: "3"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := core.NormalizeAmount(test.raw, test.precision)
			require.NoError(t, err)
			assert.Equal(t, test.want, core.FormatAmount(got, test.precision))
		})
	}
}

func TestNormalizeAmountIsStable(t *testing.T) {
	a, err := core.NormalizeAmount(0.1, core.SysTokenPrecision)
	require.NoError(t, err)
	b, err := core.NormalizeAmount("0.1", core.SysTokenPrecision)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.String(), b.String())
}

func TestNormalizeAmountErrors(t *testing.T) {
	_, err := core.NormalizeAmount("-1", core.SysTokenPrecision)
	require.ErrorIs(t, err, core.ErrNegativeAmount)

	_, err = core.NormalizeAmount("abc", core.SysTokenPrecision)
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = core.NormalizeAmount(true, core.SysTokenPrecision)
	require.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = core.NormalizeAmount(nil, core.SysTokenPrecision)
	require.ErrorIs(t, err, core.ErrInvalidAmount)
}
