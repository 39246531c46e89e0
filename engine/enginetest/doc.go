// Package enginetest provides scriptable fakes of engine.Engine and
// engine.AV for deterministic module tests.
//
// Every command is recorded in an exported log, and failures are injected
// with hooks:
//
//	eng := enginetest.NewEngine()
//	friend := eng.AddTestFriend(enginetest.TestKey(1), "bob")
//	eng.FileDataHook = func(_, _ uint32, _ []byte) error {
//	    return engine.ErrSendQueueFull
//	}
//
// Callbacks never fire on their own. Tests drive them with the Fire
// methods, usually while holding the module lock the way Iterate would.
//
// The fakes are not safe for concurrent use.
package enginetest
