// Package module provides what every client module shares: the Module
// interface driven by the session tick, the session-wide Lock and the
// event Dispatcher.
//
// Every public module method follows the same discipline:
//
//	func (m *Messenger) SendMessage(friendID uint32, text string) error {
//	    m.Lock.Lock()
//	    defer m.Lock.Unlock()
//	    return m.sendLocked(friendID, text)
//	}
//
// Events emitted with Emit while the lock is held are delivered in order
// once the outermost holder calls Unlock.
package module
