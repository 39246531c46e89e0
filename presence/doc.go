// Package presence implements the identity and friend roster module.
//
// The module mirrors the engine's roster in a cache filled lazily from
// engine queries and kept current by the name, status and connection
// callbacks. A friend whose connection is down reads as StatusOffline no
// matter what user status it last advertised.
//
// The local status follows a fallback rule. While the session is
// disconnected an Online user reads as Offline, and reconnecting restores
// Online. A user who chose Away or Busy keeps that status across
// connectivity changes:
//
//	p := presence.New(eng, lock)
//	p.EmitRoster()
//	_ = p.SetStatus(presence.StatusAway)
//
// Friend requests are republished as FriendRequestReceived and are never
// accepted automatically.
package presence
