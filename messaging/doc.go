// Package messaging implements one-to-one text messaging.
//
// Outgoing text longer than one wire message is cut by SplitUTF8 into
// chunks that never split a codepoint and prefer to break after a space.
// Each chunk is sent as an independent message. The receiving side sees
// one MessageReceived event per chunk; there is no reassembly.
//
//	chunks := messaging.SplitUTF8("hello", 8) // ["hell", "o"]
//
// The Messenger shares the session lock with the other modules. Its
// public methods take the lock; the engine callback runs with it held.
package messaging
