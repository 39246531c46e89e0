package engine

import "time"

// FriendRequestCallback is called when a friend request is received.
type FriendRequestCallback func(publicKey PublicKey, message string)

// FriendMessageCallback is called for every inbound text message.
type FriendMessageCallback func(friendID uint32, message []byte)

// FriendNameCallback is called when a friend changes their name.
type FriendNameCallback func(friendID uint32, name string)

// FriendStatusMessageCallback is called when a friend changes their status message.
type FriendStatusMessageCallback func(friendID uint32, message string)

// FriendUserStatusCallback is called when a friend changes their user status.
type FriendUserStatusCallback func(friendID uint32, status UserStatus)

// FriendConnectionCallback is called when a friend connects or disconnects.
type FriendConnectionCallback func(friendID uint32, status ConnectionStatus)

// GroupInviteCallback is called when a friend invites us into a group.
type GroupInviteCallback func(friendID uint32, key GroupKey)

// GroupMessageCallback is called for every inbound group message.
type GroupMessageCallback func(groupID uint32, peer int, message []byte)

// GroupNamelistCallback is called for peer join, leave and rename deltas.
// Deltas may arrive out of order or not at all.
type GroupNamelistCallback func(groupID uint32, peer int, change GroupChange)

// FileSendRequestCallback is called when a friend offers a file.
type FileSendRequestCallback func(friendID, fileID uint32, size uint64, name string)

// FileControlCallback is called for file control messages. dir is the local
// side of the transfer the control applies to.
type FileControlCallback func(friendID uint32, dir FileDirection, fileID uint32, control FileControl, data []byte)

// FileDataCallback is called for every inbound file data chunk.
type FileDataCallback func(friendID, fileID uint32, data []byte)

// Engine is the session engine: the single secure-channel handle that
// provides peer discovery, encrypted transport and wire framing.
//
// An Engine is not safe for concurrent use. Callers serialize every call,
// and callbacks fire synchronously from Iterate on the calling goroutine.
type Engine interface {
	// Iterate processes one bounded tick and fires callbacks.
	Iterate()
	// IterationInterval is the delay the engine wants before the next Iterate.
	IterationInterval() time.Duration
	// IsConnected reports whether the engine is connected to the network.
	IsConnected() bool
	// Bootstrap contacts one bootstrap node.
	Bootstrap(address string, port uint16, publicKeyHex string) error
	// Kill releases the engine. Every later call fails with ErrKilled.
	Kill()

	SelfAddress() Address
	SelfPublicKey() PublicKey
	SetName(name string) error
	SelfName() string
	SetStatusMessage(message string) error
	SelfStatusMessage() string
	SetUserStatus(status UserStatus) error
	SelfUserStatus() UserStatus

	// AddFriend sends a friend request to a hex address. A malformed
	// address is rejected with ErrInvalidAddress.
	AddFriend(address string, message string) (uint32, error)
	// AddFriendNoRequest adds a friend by public key, accepting their request.
	AddFriendNoRequest(publicKey PublicKey) (uint32, error)
	DeleteFriend(friendID uint32) error
	FriendList() []uint32
	FriendPublicKey(friendID uint32) (PublicKey, error)
	FriendName(friendID uint32) (string, error)
	FriendStatusMessage(friendID uint32) (string, error)
	FriendUserStatus(friendID uint32) (UserStatus, error)
	FriendConnectionStatus(friendID uint32) (ConnectionStatus, error)

	SendMessage(friendID uint32, message []byte) error
	MaxMessageLength() int

	AddGroupChat() (uint32, error)
	DeleteGroupChat(groupID uint32) error
	JoinGroupChat(friendID uint32, key GroupKey) (uint32, error)
	InviteFriend(friendID, groupID uint32) error
	GroupMessageSend(groupID uint32, message []byte) error
	GroupPeerCount(groupID uint32) (int, error)
	GroupPeerName(groupID uint32, peer int) (string, error)
	GroupKey(groupID uint32) (GroupKey, error)

	// NewFileSender offers a file to a friend and returns its sending slot.
	NewFileSender(friendID uint32, size uint64, name string) (uint32, error)
	// FileSendControl sends a control opcode for the slot on the given local side.
	FileSendControl(friendID uint32, dir FileDirection, fileID uint32, control FileControl) error
	// FileSendData offers one chunk. Failure is transient back-pressure.
	FileSendData(friendID, fileID uint32, data []byte) error
	// FileDataSize is the largest chunk FileSendData accepts.
	FileDataSize(friendID uint32) int
	// FileDataRemaining is the number of bytes not yet moved for the slot.
	FileDataRemaining(friendID, fileID uint32, dir FileDirection) uint64

	// Save exports the persisted session blob.
	Save(path string) error
	// Load imports a blob written by Save.
	Load(path string) error

	OnFriendRequest(cb FriendRequestCallback)
	OnFriendMessage(cb FriendMessageCallback)
	OnNameChange(cb FriendNameCallback)
	OnStatusMessage(cb FriendStatusMessageCallback)
	OnUserStatus(cb FriendUserStatusCallback)
	OnConnectionStatus(cb FriendConnectionCallback)
	OnGroupInvite(cb GroupInviteCallback)
	OnGroupMessage(cb GroupMessageCallback)
	OnGroupNamelistChange(cb GroupNamelistCallback)
	OnFileSendRequest(cb FileSendRequestCallback)
	OnFileControl(cb FileControlCallback)
	OnFileData(cb FileDataCallback)
}

// Factory constructs an engine and its AV companion. A Factory error is
// fatal to the session.
type Factory func(opts Options) (Engine, AV, error)
