// Package engine defines the binding between the client modules and the
// Tox session engine.
//
// The engine is treated as a trusted black box. It owns peer discovery,
// the cryptographic handshake, encrypted transport and wire framing. The
// client only drives its tick, issues commands and receives callbacks:
//
//	eng.OnFriendMessage(func(friendID uint32, msg []byte) {
//	    // runs inside eng.Iterate()
//	})
//	for {
//	    eng.Iterate()
//	    time.Sleep(eng.IterationInterval())
//	}
//
// Neither Engine nor AV is safe for concurrent use. The session package
// serializes every call behind one shared lock.
//
// The package also carries the protocol values the modules need: friend
// and group identifiers, Tox addresses with their checksum, file control
// opcodes, call state events and codec settings. The loopback
// subpackage provides an in-process implementation.
package engine
