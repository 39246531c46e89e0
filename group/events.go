package group

import "github.com/opd-ai/toxclient/engine"

// GroupCreated is emitted after CreateGroup registered a new group.
type GroupCreated struct {
	ID  uint32
	Key engine.GroupKey
}

// GroupInvited republishes an invite. Nothing is joined until the
// application calls AcceptInvite.
type GroupInvited struct {
	Friend uint32
	Key    engine.GroupKey
}

// GroupJoined is emitted after an accepted invite was joined.
type GroupJoined struct {
	ID  uint32
	Key engine.GroupKey
}

// GroupLeft is emitted after LeaveGroup.
type GroupLeft struct {
	ID uint32
}

// GroupRemoved is emitted when the engine no longer knows a group.
type GroupRemoved struct {
	ID uint32
}

// RosterAvailable carries the full polled peer map. It is the ground
// truth for membership.
type RosterAvailable struct {
	ID        uint32
	PeerCount int
	Peers     map[int]string
}

// PeerDelta is a best-effort join, leave or rename notice for display
// only. Deltas may be missing or out of order; RosterAvailable wins.
type PeerDelta struct {
	ID     uint32
	Peer   int
	Change engine.GroupChange
	Name   string
}

// GroupMessageReceived is emitted for every inbound group message chunk.
type GroupMessageReceived struct {
	ID   uint32
	Peer int
	Name string
	Text string
}

// GroupMessageSent is emitted for every chunk the engine accepted.
type GroupMessageSent struct {
	ID     uint32
	Text   string
	Chunk  int
	Chunks int
}

func (GroupCreated) EventName() string         { return "group_created" }
func (GroupInvited) EventName() string         { return "group_invited" }
func (GroupJoined) EventName() string          { return "group_joined" }
func (GroupLeft) EventName() string            { return "group_left" }
func (GroupRemoved) EventName() string         { return "group_removed" }
func (RosterAvailable) EventName() string      { return "group_roster_available" }
func (PeerDelta) EventName() string            { return "group_peer_delta" }
func (GroupMessageReceived) EventName() string { return "group_message_received" }
func (GroupMessageSent) EventName() string     { return "group_message_sent" }
