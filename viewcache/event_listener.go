package viewcache

import "time"

type EventListener interface {
	OnHit()
	OnMiss()
	OnMaterialize(took time.Duration, err error)
	OnTeardown()
}

type SelectiveListener struct {
	OnHitCb         func()
	OnMissCb        func()
	OnMaterializeCb func(took time.Duration, err error)
	OnTeardownCb    func()
}

func (l *SelectiveListener) OnHit() {
	if l.OnHitCb != nil {
		l.OnHitCb()
	}
}

func (l *SelectiveListener) OnMiss() {
	if l.OnMissCb != nil {
		l.OnMissCb()
	}
}

func (l *SelectiveListener) OnMaterialize(took time.Duration, err error) {
	if l.OnMaterializeCb != nil {
		l.OnMaterializeCb(took, err)
	}
}

func (l *SelectiveListener) OnTeardown() {
	if l.OnTeardownCb != nil {
		l.OnTeardownCb()
	}
}
