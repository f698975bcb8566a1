package vm

import "time"

type EventListener interface {
	OnExecuted(method string, code int32, took time.Duration)
	OnRejected(method string, err error)
}

type SelectiveListener struct {
	OnExecutedCb func(method string, code int32, took time.Duration)
	OnRejectedCb func(method string, err error)
}

func (l *SelectiveListener) OnExecuted(method string, code int32, took time.Duration) {
	if l.OnExecutedCb != nil {
		l.OnExecutedCb(method, code, took)
	}
}

func (l *SelectiveListener) OnRejected(method string, err error) {
	if l.OnRejectedCb != nil {
		l.OnRejectedCb(method, err)
	}
}
