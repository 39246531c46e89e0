// Package group implements the group chat module.
//
// A group moves through None, Invited, Joined and finally Left or
// Removed. Invites are republished as GroupInvited and only joined when
// the application calls AcceptInvite.
//
// Membership has two inputs that are never merged. Every tick Update
// polls the peer count and every peer name; when anything differs from
// the stored roster the map is replaced wholesale and one RosterAvailable
// carrying the polled map is emitted. Engine namelist deltas are
// republished as PeerDelta for display only and never touch the roster.
//
//	id, _ := groups.CreateGroup()
//	_ = groups.InviteFriend(friendID, id)
//	_ = groups.SendGroupMessage(id, "hello everyone")
//
// The duplicate-join check in AcceptInvite only sees groups whose join
// already returned. Two invites accepted concurrently for the same key may
// both reach the engine.
package group
