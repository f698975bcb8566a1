package db_test

import (
	"testing"

	"github.com/ledgerline/ledgerd/db"
	"github.com/stretchr/testify/assert"
)

func TestUpperBound(t *testing.T) {
	tests := []struct {
		prefix []byte
		want   []byte
	}{
		{prefix: []byte{0x01}, want: []byte{0x02}},
		{prefix: []byte{0x01, 0xff}, want: []byte{0x02}},
		{prefix: []byte{'v', 0x00, 'a'}, want: []byte{'v', 0x00, 'b'}},
		{prefix: []byte{0xff, 0xff}, want: nil},
	}

	for _, test := range tests {
		assert.Equal(t, test.want, db.UpperBound(test.prefix))
	}
}
