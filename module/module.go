package module

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

// Event is a domain event published by a module.
type Event interface {
	EventName() string
}

// Module is one sub-protocol layered over the shared engine.
type Module interface {
	Name() string
	// Update runs once per tick with the shared lock held. It must not block.
	Update()
}

// Base carries what every module shares: the engine handle, the session
// lock and a logger tagged with the module name.
type Base struct {
	Engine engine.Engine
	Lock   *Lock
	Log    *logrus.Entry
	name   string
}

// NewBase creates a Base for the named module.
func NewBase(name string, eng engine.Engine, lock *Lock) Base {
	return Base{
		Engine: eng,
		Lock:   lock,
		Log:    logrus.WithField("module", name),
		name:   name,
	}
}

// Name returns the module name.
func (b *Base) Name() string {
	return b.name
}

// Emit queues an event for delivery after the lock is released.
// The caller must hold the lock.
func (b *Base) Emit(ev Event) {
	b.Lock.Emit(ev)
}
