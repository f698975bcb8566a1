package encoder_test

import (
	"testing"

	"github.com/ledgerline/ledgerd/encoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalMaps(t *testing.T) {
	a, err := encoder.Marshal(map[string]any{"b": 1, "a": "x", "c": []any{true}})
	require.NoError(t, err)
	b, err := encoder.Marshal(map[string]any{"c": []any{true}, "a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeIntoAny(t *testing.T) {
	data, err := encoder.Marshal(map[string]any{"to": "addr", "nested": map[string]any{"k": "v"}})
	require.NoError(t, err)

	var out any
	require.NoError(t, encoder.Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "addr", m["to"])
	assert.Equal(t, map[string]any{"k": "v"}, m["nested"])
}

func TestSymmetry(t *testing.T) {
	type record struct {
		Name   string
		Values []uint32
	}
	in := record{Name: "n", Values: []uint32{1, 2, 3}}
	data, err := encoder.Marshal(in)
	require.NoError(t, err)

	var out record
	require.NoError(t, encoder.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestValid(t *testing.T) {
	data, err := encoder.Marshal("x")
	require.NoError(t, err)
	require.NoError(t, encoder.Valid(data))
	assert.Error(t, encoder.Valid(data[:0]))
	assert.Error(t, encoder.Valid([]byte{0x62, 'a'}))
}
