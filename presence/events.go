package presence

import "github.com/opd-ai/toxclient/engine"

// SelfChanged is emitted when the local name, status message or effective
// status changes.
type SelfChanged struct {
	Self Identity
}

// FriendAdded is emitted for every roster entry at startup and for every
// friend added afterwards.
type FriendAdded struct {
	Friend Friend
}

// FriendRemoved is emitted after an explicit removal.
type FriendRemoved struct {
	ID uint32
}

// FriendRequestReceived carries an inbound friend request. It is never
// accepted automatically.
type FriendRequestReceived struct {
	PublicKey engine.PublicKey
	Message   string
}

// FriendNameChanged is emitted when a friend renames themselves.
type FriendNameChanged struct {
	ID   uint32
	Name string
}

// FriendStatusChanged is emitted when a friend's effective status changes.
type FriendStatusChanged struct {
	ID     uint32
	Status Status
}

// FriendStatusMessageChanged is emitted when a friend changes their status
// message.
type FriendStatusMessageChanged struct {
	ID      uint32
	Message string
}

func (SelfChanged) EventName() string                { return "self_changed" }
func (FriendAdded) EventName() string                { return "friend_added" }
func (FriendRemoved) EventName() string              { return "friend_removed" }
func (FriendRequestReceived) EventName() string      { return "friend_request_received" }
func (FriendNameChanged) EventName() string          { return "friend_name_changed" }
func (FriendStatusChanged) EventName() string        { return "friend_status_changed" }
func (FriendStatusMessageChanged) EventName() string { return "friend_status_message_changed" }
