package engine

import "errors"

var (
	// ErrInvalidAddress is returned for a malformed or corrupt Tox ID.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrFriendNotFound is returned for an unknown friend handle.
	ErrFriendNotFound = errors.New("friend not found")
	// ErrFriendExists is returned when adding a key already on the roster.
	ErrFriendExists = errors.New("friend already added")
	// ErrOwnKey is returned when adding our own address.
	ErrOwnKey = errors.New("cannot add own address")
	// ErrFriendOffline is returned when a send needs an online friend.
	ErrFriendOffline = errors.New("friend not connected")
	// ErrGroupNotFound is returned for an unknown group handle.
	ErrGroupNotFound = errors.New("group not found")
	// ErrFileNotFound is returned for an unknown file slot.
	ErrFileNotFound = errors.New("file slot not found")
	// ErrFileNotTransferring is returned when data is offered before the peer accepted.
	ErrFileNotTransferring = errors.New("file slot not transferring")
	// ErrSendQueueFull is returned when the outbound window is exhausted.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrTooManyFiles is returned when every file slot for a friend is in use.
	ErrTooManyFiles = errors.New("too many file transfers")
	// ErrCallNotFound is returned for an unknown call index.
	ErrCallNotFound = errors.New("call not found")
	// ErrTooManyCalls is returned when every call slot is in use.
	ErrTooManyCalls = errors.New("too many calls")
	// ErrInvalidCallState is returned when a call operation does not fit the call state.
	ErrInvalidCallState = errors.New("invalid call state")
	// ErrKilled is returned by an engine that has been shut down.
	ErrKilled = errors.New("engine killed")
	// ErrBootstrapFailed is returned when a bootstrap node cannot be reached.
	ErrBootstrapFailed = errors.New("bootstrap failed")
)
