package node

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ledgerline/ledgerd/utils"
	"github.com/stretchr/testify/require"
)

type countingRecycler struct {
	calls atomic.Int32
	err   error
}

func (r *countingRecycler) Recycle() (int, error) {
	r.calls.Add(1)
	return 1, r.err
}

func TestRecycler(t *testing.T) {
	for name, err := range map[string]error{"ok": nil, "failing": errors.New("busy")} {
		t.Run(name, func(t *testing.T) {
			target := &countingRecycler{err: err}
			r := newRecycler(target, time.Millisecond, utils.NewNopZapLogger())

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error)
			go func() {
				done <- r.Run(ctx)
			}()

			require.Eventually(t, func() bool {
				return target.calls.Load() >= 2
			}, 5*time.Second, time.Millisecond)
			cancel()
			require.NoError(t, <-done)
		})
	}
}
