package variable

import "sync/atomic"

// uiUpdateList is the lock-free, singly-linked list of changed notify-flagged
// variables awaiting a UI mirror flush (§5 "Cross-thread handoff (UI)", §9
// design note). Append CASes onto the tail via each variable's own uiNext
// pointer; only the engine thread ever drains it, between cycles.
type uiUpdateList struct {
	head atomic.Pointer[Variable]
	tail atomic.Pointer[Variable]
}

var globalUIList uiUpdateList

// append adds v to the tail of the list. Safe to call from any goroutine
// that owns v's Set call (in this engine, always the single engine thread,
// but the data structure itself makes no such assumption).
func (l *uiUpdateList) append(v *Variable) {
	for c := l.head.Load(); c != nil; c = c.uiNext.Load() {
		if c == v {
			return // already pending; Drain reports it once
		}
	}
	v.uiNext.Store(nil)
	for {
		tail := l.tail.Load()
		if tail == nil {
			if l.tail.CompareAndSwap(nil, v) {
				l.head.Store(v)
				return
			}
			continue
		}
		if tail.uiNext.CompareAndSwap(nil, v) {
			l.tail.CompareAndSwap(tail, v)
			return
		}
		// Another appender raced us onto the old tail; help it advance and
		// retry against the new one.
		if next := tail.uiNext.Load(); next != nil {
			l.tail.CompareAndSwap(tail, next)
		}
	}
}

// Drain removes every pending variable from the global UI-update list and
// invokes fn once per variable, in FIFO order. Must only be called from the
// engine thread, between cycles (§5).
func Drain(fn func(v *Variable)) {
	head := globalUIList.head.Load()
	if head == nil {
		return
	}
	globalUIList.head.Store(nil)
	globalUIList.tail.Store(nil)
	for v := head; v != nil; {
		next := v.uiNext.Load()
		fn(v)
		v.uiNext.Store(nil)
		v = next
	}
}
