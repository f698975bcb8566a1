package blockchain

import "time"

type EventListener interface {
	OnBlockApplied(height uint64, txCount int, took time.Duration)
	OnBlockRejected(height uint64, err error)
}

type SelectiveListener struct {
	OnBlockAppliedCb  func(height uint64, txCount int, took time.Duration)
	OnBlockRejectedCb func(height uint64, err error)
}

func (l *SelectiveListener) OnBlockApplied(height uint64, txCount int, took time.Duration) {
	if l.OnBlockAppliedCb != nil {
		l.OnBlockAppliedCb(height, txCount, took)
	}
}

func (l *SelectiveListener) OnBlockRejected(height uint64, err error) {
	if l.OnBlockRejectedCb != nil {
		l.OnBlockRejectedCb(height, err)
	}
}
