package module

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Lock is the session-wide lock. It guards the engine and the state of
// every module, and collects events emitted while it is held.
//
// Go mutexes are not re-entrant. Code that already holds the lock (Update,
// engine callbacks, the audio pump) calls unexported helpers that assume
// the lock instead of locking again.
type Lock struct {
	mu         sync.Mutex
	pending    []Event
	dispatcher *Dispatcher
}

// NewLock creates a lock that hands queued events to d on release.
// A nil dispatcher drops events.
func NewLock(d *Dispatcher) *Lock {
	return &Lock{dispatcher: d}
}

// Lock acquires the session lock.
func (l *Lock) Lock() {
	l.mu.Lock()
}

// Unlock releases the lock and then delivers the events queued while it
// was held. Handlers therefore run unlocked and may call any module API.
func (l *Lock) Unlock() {
	events := l.pending
	l.pending = nil
	l.mu.Unlock()

	if len(events) > 0 && l.dispatcher != nil {
		l.dispatcher.Publish(events...)
	}
}

// Emit queues an event. The caller must hold the lock.
func (l *Lock) Emit(ev Event) {
	logrus.WithFields(logrus.Fields{
		"function": "Emit",
		"event":    ev.EventName(),
	}).Debug("Queueing event")
	l.pending = append(l.pending, ev)
}
