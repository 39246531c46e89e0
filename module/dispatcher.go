package module

import (
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// Dispatcher delivers events to subscribers in publication order.
//
// Events published by a handler while a delivery is running are appended
// to the queue and delivered after the current handler returns, so
// delivery never recurses and order is preserved.
type Dispatcher struct {
	mu          sync.Mutex
	handlers    map[uint64]Handler
	order       []uint64
	nextID      uint64
	queue       []Event
	dispatching bool
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[uint64]Handler)}
}

// Subscribe registers a handler and returns a function that removes it.
func (d *Dispatcher) Subscribe(h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.handlers[id] = h
	d.order = append(d.order, id)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, id)
		for i, v := range d.order {
			if v == id {
				d.order = append(d.order[:i], d.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers events. If another goroutine is already delivering, the
// events are queued for it and Publish returns immediately.
func (d *Dispatcher) Publish(events ...Event) {
	d.mu.Lock()
	d.queue = append(d.queue, events...)
	if d.dispatching {
		d.mu.Unlock()
		return
	}
	d.dispatching = true

	for len(d.queue) > 0 {
		ev := d.queue[0]
		d.queue = d.queue[1:]
		handlers := d.snapshotLocked()
		d.mu.Unlock()

		for _, h := range handlers {
			h(ev)
		}

		d.mu.Lock()
	}
	d.dispatching = false
	d.mu.Unlock()
}

func (d *Dispatcher) snapshotLocked() []Handler {
	handlers := make([]Handler, 0, len(d.order))
	for _, id := range d.order {
		handlers = append(handlers, d.handlers[id])
	}
	return handlers
}
