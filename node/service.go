package node

import (
	"context"
	"time"

	"github.com/ledgerline/ledgerd/utils"
)

// Service is a long-running part of the node. Run returns once ctx is cancelled.
type Service interface {
	Run(ctx context.Context) error
}

type recyclable interface {
	Recycle() (int, error)
}

// recycler prunes old snapshots on a fixed interval.
type recycler struct {
	target   recyclable
	interval time.Duration
	log      utils.SimpleLogger
}

func newRecycler(target recyclable, interval time.Duration, log utils.SimpleLogger) *recycler {
	return &recycler{target: target, interval: interval, log: log}
}

func (r *recycler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := r.target.Recycle()
			if err != nil {
				r.log.Warnw("Failed to recycle snapshots", "err", err)
				continue
			}
			if removed > 0 {
				r.log.Debugw("Recycled snapshots", "removed", removed)
			}
		}
	}
}
