package enginetest

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

// Friend is the fake's record of one roster entry.
type Friend struct {
	PublicKey     engine.PublicKey
	Name          string
	StatusMessage string
	UserStatus    engine.UserStatus
	Connection    engine.ConnectionStatus
}

// Group is the fake's record of one conference. Peer names are indexed by
// peer number.
type Group struct {
	Key   engine.GroupKey
	Peers []string
}

// FileSlot is the fake's record of one transfer slot.
type FileSlot struct {
	Name      string
	Size      uint64
	Remaining uint64
}

// FileKey identifies a slot as the engine numbers it.
type FileKey struct {
	Friend uint32
	Dir    engine.FileDirection
	File   uint32
}

// Record types kept in the delivery logs.
type (
	FriendRequest struct {
		Address string
		Message string
	}
	SentMessage struct {
		Friend uint32
		Text   string
	}
	SentGroupMessage struct {
		Group uint32
		Text  string
	}
	SentInvite struct {
		Friend uint32
		Group  uint32
	}
	SentControl struct {
		Friend  uint32
		Dir     engine.FileDirection
		File    uint32
		Control engine.FileControl
	}
	SentChunk struct {
		Friend uint32
		File   uint32
		Data   []byte
	}
	BootstrapAttempt struct {
		Address string
		Port    uint16
		Key     string
	}
)

// Engine is a scriptable engine.Engine. Commands are recorded and
// callbacks are fired explicitly with the Fire methods. Fields may be set
// directly to shape the next answers; hooks inject failures.
type Engine struct {
	Connected  bool
	Interval   time.Duration
	Iterations int
	Killed     bool

	Address       engine.Address
	Name          string
	StatusMessage string
	UserStatus    engine.UserStatus

	Friends    map[uint32]*Friend
	nextFriend uint32

	Groups    map[uint32]*Group
	nextGroup uint32

	// GroupErr, when set, fails GroupPeerCount for every group.
	GroupErr error

	Files     map[FileKey]*FileSlot
	nextFile  uint32
	ChunkSize int

	MaxMessage int

	// Hooks return an error to fail the command.
	SendMessageHook func(friendID uint32, message []byte) error
	FileDataHook    func(friendID, fileID uint32, data []byte) error
	FileControlHook func(friendID uint32, dir engine.FileDirection, fileID uint32, control engine.FileControl) error
	NewFileHook     func(friendID uint32, size uint64, name string) error
	BootstrapHook   func(address string, port uint16) error
	JoinHook        func(friendID uint32, key engine.GroupKey) error
	SaveErr         error
	LoadErr         error

	// OnIterate runs inside Iterate, where a real engine fires callbacks.
	OnIterate func()

	Requests      []FriendRequest
	Messages      []SentMessage
	GroupMessages []SentGroupMessage
	Invites       []SentInvite
	Controls      []SentControl
	Chunks        []SentChunk
	Bootstraps    []BootstrapAttempt
	Saved         []string
	Loaded        []string

	friendRequestCb    engine.FriendRequestCallback
	friendMessageCb    engine.FriendMessageCallback
	nameCb             engine.FriendNameCallback
	statusMessageCb    engine.FriendStatusMessageCallback
	userStatusCb       engine.FriendUserStatusCallback
	connectionStatusCb engine.FriendConnectionCallback
	groupInviteCb      engine.GroupInviteCallback
	groupMessageCb     engine.GroupMessageCallback
	groupNamelistCb    engine.GroupNamelistCallback
	fileSendRequestCb  engine.FileSendRequestCallback
	fileControlCb      engine.FileControlCallback
	fileDataCb         engine.FileDataCallback
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates a fake with a fixed identity and no friends.
func NewEngine() *Engine {
	logrus.WithFields(logrus.Fields{
		"function": "NewEngine",
	}).Debug("Creating fake engine")

	var pk engine.PublicKey
	for i := range pk {
		pk[i] = byte(i + 1)
	}
	return &Engine{
		Interval:   50 * time.Millisecond,
		Address:    engine.NewAddress(pk, engine.Nospam{0xCA, 0xFE, 0xBA, 0xBE}),
		Friends:    make(map[uint32]*Friend),
		Groups:     make(map[uint32]*Group),
		Files:      make(map[FileKey]*FileSlot),
		ChunkSize:  1024,
		MaxMessage: 1372,
	}
}

// TestKey returns a deterministic public key distinct for every seed.
func TestKey(seed byte) engine.PublicKey {
	var pk engine.PublicKey
	for i := range pk {
		pk[i] = seed ^ byte(i*7)
	}
	pk[0] = seed
	return pk
}

// AddTestFriend puts a friend on the roster without any callbacks.
func (e *Engine) AddTestFriend(pk engine.PublicKey, name string) uint32 {
	id := e.nextFriend
	e.nextFriend++
	e.Friends[id] = &Friend{PublicKey: pk, Name: name}
	return id
}

// AddTestGroup registers a conference the fake knows about.
func (e *Engine) AddTestGroup(peers ...string) uint32 {
	id := e.nextGroup
	e.nextGroup++
	var key engine.GroupKey
	key[0] = byte(id + 1)
	e.Groups[id] = &Group{Key: key, Peers: peers}
	return id
}

// Iterate counts the call and runs OnIterate.
func (e *Engine) Iterate() {
	e.Iterations++
	if e.OnIterate != nil {
		e.OnIterate()
	}
}

// IterationInterval returns Interval.
func (e *Engine) IterationInterval() time.Duration { return e.Interval }

// IsConnected returns Connected.
func (e *Engine) IsConnected() bool { return e.Connected }

// Bootstrap records the attempt and consults BootstrapHook.
func (e *Engine) Bootstrap(address string, port uint16, publicKeyHex string) error {
	e.Bootstraps = append(e.Bootstraps, BootstrapAttempt{Address: address, Port: port, Key: publicKeyHex})
	if e.BootstrapHook != nil {
		return e.BootstrapHook(address, port)
	}
	return nil
}

// Kill marks the fake killed.
func (e *Engine) Kill() { e.Killed = true }

func (e *Engine) SelfAddress() engine.Address           { return e.Address }
func (e *Engine) SelfPublicKey() engine.PublicKey       { return e.Address.PublicKey }
func (e *Engine) SelfName() string                      { return e.Name }
func (e *Engine) SelfStatusMessage() string             { return e.StatusMessage }
func (e *Engine) SelfUserStatus() engine.UserStatus     { return e.UserStatus }
func (e *Engine) SetName(name string) error             { e.Name = name; return nil }
func (e *Engine) SetStatusMessage(message string) error { e.StatusMessage = message; return nil }

// SetUserStatus rejects values past Busy, like a real engine.
func (e *Engine) SetUserStatus(status engine.UserStatus) error {
	if status >= engine.UserStatusInvalid {
		return fmt.Errorf("invalid user status %d", status)
	}
	e.UserStatus = status
	return nil
}

// AddFriend parses the address and records the request.
func (e *Engine) AddFriend(address string, message string) (uint32, error) {
	addr, err := engine.ParseAddress(address)
	if err != nil {
		return 0, err
	}
	id, err := e.AddFriendNoRequest(addr.PublicKey)
	if err != nil {
		return 0, err
	}
	e.Requests = append(e.Requests, FriendRequest{Address: address, Message: message})
	return id, nil
}

// AddFriendNoRequest adds a roster entry.
func (e *Engine) AddFriendNoRequest(publicKey engine.PublicKey) (uint32, error) {
	if publicKey == e.Address.PublicKey {
		return 0, engine.ErrOwnKey
	}
	for _, f := range e.Friends {
		if f.PublicKey == publicKey {
			return 0, engine.ErrFriendExists
		}
	}
	return e.AddTestFriend(publicKey, ""), nil
}

// DeleteFriend removes a roster entry.
func (e *Engine) DeleteFriend(friendID uint32) error {
	if _, ok := e.Friends[friendID]; !ok {
		return engine.ErrFriendNotFound
	}
	delete(e.Friends, friendID)
	return nil
}

// FriendList returns friend handles in ascending order.
func (e *Engine) FriendList() []uint32 {
	ids := make([]uint32, 0, len(e.Friends))
	for id := range e.Friends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) friend(id uint32) (*Friend, error) {
	f, ok := e.Friends[id]
	if !ok {
		return nil, engine.ErrFriendNotFound
	}
	return f, nil
}

func (e *Engine) FriendPublicKey(friendID uint32) (engine.PublicKey, error) {
	f, err := e.friend(friendID)
	if err != nil {
		return engine.PublicKey{}, err
	}
	return f.PublicKey, nil
}

func (e *Engine) FriendName(friendID uint32) (string, error) {
	f, err := e.friend(friendID)
	if err != nil {
		return "", err
	}
	return f.Name, nil
}

func (e *Engine) FriendStatusMessage(friendID uint32) (string, error) {
	f, err := e.friend(friendID)
	if err != nil {
		return "", err
	}
	return f.StatusMessage, nil
}

func (e *Engine) FriendUserStatus(friendID uint32) (engine.UserStatus, error) {
	f, err := e.friend(friendID)
	if err != nil {
		return engine.UserStatusInvalid, err
	}
	return f.UserStatus, nil
}

func (e *Engine) FriendConnectionStatus(friendID uint32) (engine.ConnectionStatus, error) {
	f, err := e.friend(friendID)
	if err != nil {
		return engine.ConnectionNone, err
	}
	return f.Connection, nil
}

// SendMessage records the message unless SendMessageHook fails it.
func (e *Engine) SendMessage(friendID uint32, message []byte) error {
	if _, err := e.friend(friendID); err != nil {
		return err
	}
	if e.SendMessageHook != nil {
		if err := e.SendMessageHook(friendID, message); err != nil {
			return err
		}
	}
	e.Messages = append(e.Messages, SentMessage{Friend: friendID, Text: string(message)})
	return nil
}

// MaxMessageLength returns MaxMessage.
func (e *Engine) MaxMessageLength() int { return e.MaxMessage }

// AddGroupChat creates a group whose only peer is us.
func (e *Engine) AddGroupChat() (uint32, error) {
	return e.AddTestGroup(e.Name), nil
}

func (e *Engine) DeleteGroupChat(groupID uint32) error {
	if _, ok := e.Groups[groupID]; !ok {
		return engine.ErrGroupNotFound
	}
	delete(e.Groups, groupID)
	return nil
}

// JoinGroupChat creates a group with the invite key and two peers.
func (e *Engine) JoinGroupChat(friendID uint32, key engine.GroupKey) (uint32, error) {
	if e.JoinHook != nil {
		if err := e.JoinHook(friendID, key); err != nil {
			return 0, err
		}
	}
	id := e.nextGroup
	e.nextGroup++
	e.Groups[id] = &Group{Key: key, Peers: []string{"inviter", e.Name}}
	return id, nil
}

func (e *Engine) InviteFriend(friendID, groupID uint32) error {
	if _, err := e.friend(friendID); err != nil {
		return err
	}
	if _, ok := e.Groups[groupID]; !ok {
		return engine.ErrGroupNotFound
	}
	e.Invites = append(e.Invites, SentInvite{Friend: friendID, Group: groupID})
	return nil
}

func (e *Engine) GroupMessageSend(groupID uint32, message []byte) error {
	if _, ok := e.Groups[groupID]; !ok {
		return engine.ErrGroupNotFound
	}
	e.GroupMessages = append(e.GroupMessages, SentGroupMessage{Group: groupID, Text: string(message)})
	return nil
}

func (e *Engine) GroupPeerCount(groupID uint32) (int, error) {
	if e.GroupErr != nil {
		return 0, e.GroupErr
	}
	g, ok := e.Groups[groupID]
	if !ok {
		return 0, engine.ErrGroupNotFound
	}
	return len(g.Peers), nil
}

func (e *Engine) GroupPeerName(groupID uint32, peer int) (string, error) {
	g, ok := e.Groups[groupID]
	if !ok {
		return "", engine.ErrGroupNotFound
	}
	if peer < 0 || peer >= len(g.Peers) {
		return "", fmt.Errorf("peer %d out of range", peer)
	}
	return g.Peers[peer], nil
}

func (e *Engine) GroupKey(groupID uint32) (engine.GroupKey, error) {
	g, ok := e.Groups[groupID]
	if !ok {
		return engine.GroupKey{}, engine.ErrGroupNotFound
	}
	return g.Key, nil
}

// NewFileSender allocates a sending slot.
func (e *Engine) NewFileSender(friendID uint32, size uint64, name string) (uint32, error) {
	if _, err := e.friend(friendID); err != nil {
		return 0, err
	}
	if e.NewFileHook != nil {
		if err := e.NewFileHook(friendID, size, name); err != nil {
			return 0, err
		}
	}
	id := e.nextFile
	e.nextFile++
	e.Files[FileKey{Friend: friendID, Dir: engine.FileSending, File: id}] = &FileSlot{Name: name, Size: size, Remaining: size}
	return id, nil
}

// FileSendControl records the control. Kill and Finished free the slot.
func (e *Engine) FileSendControl(friendID uint32, dir engine.FileDirection, fileID uint32, control engine.FileControl) error {
	if e.FileControlHook != nil {
		if err := e.FileControlHook(friendID, dir, fileID, control); err != nil {
			return err
		}
	}
	e.Controls = append(e.Controls, SentControl{Friend: friendID, Dir: dir, File: fileID, Control: control})
	if control == engine.FileControlKill || control == engine.FileControlFinished {
		delete(e.Files, FileKey{Friend: friendID, Dir: dir, File: fileID})
	}
	return nil
}

// FileSendData records the chunk and lowers the slot's remaining count.
func (e *Engine) FileSendData(friendID, fileID uint32, data []byte) error {
	slot, ok := e.Files[FileKey{Friend: friendID, Dir: engine.FileSending, File: fileID}]
	if !ok {
		return engine.ErrFileNotFound
	}
	if e.FileDataHook != nil {
		if err := e.FileDataHook(friendID, fileID, data); err != nil {
			return err
		}
	}
	if uint64(len(data)) > slot.Remaining {
		return fmt.Errorf("chunk of %d bytes exceeds remaining %d", len(data), slot.Remaining)
	}
	slot.Remaining -= uint64(len(data))
	e.Chunks = append(e.Chunks, SentChunk{Friend: friendID, File: fileID, Data: append([]byte(nil), data...)})
	return nil
}

// FileDataSize returns ChunkSize.
func (e *Engine) FileDataSize(friendID uint32) int { return e.ChunkSize }

// FileDataRemaining returns the slot's remaining count, or 0 when unknown.
func (e *Engine) FileDataRemaining(friendID, fileID uint32, dir engine.FileDirection) uint64 {
	slot, ok := e.Files[FileKey{Friend: friendID, Dir: dir, File: fileID}]
	if !ok {
		return 0
	}
	return slot.Remaining
}

func (e *Engine) Save(path string) error {
	if e.SaveErr != nil {
		return e.SaveErr
	}
	e.Saved = append(e.Saved, path)
	return nil
}

func (e *Engine) Load(path string) error {
	if e.LoadErr != nil {
		return e.LoadErr
	}
	e.Loaded = append(e.Loaded, path)
	return nil
}

func (e *Engine) OnFriendRequest(cb engine.FriendRequestCallback)       { e.friendRequestCb = cb }
func (e *Engine) OnFriendMessage(cb engine.FriendMessageCallback)       { e.friendMessageCb = cb }
func (e *Engine) OnNameChange(cb engine.FriendNameCallback)             { e.nameCb = cb }
func (e *Engine) OnStatusMessage(cb engine.FriendStatusMessageCallback) { e.statusMessageCb = cb }
func (e *Engine) OnUserStatus(cb engine.FriendUserStatusCallback)       { e.userStatusCb = cb }
func (e *Engine) OnConnectionStatus(cb engine.FriendConnectionCallback) { e.connectionStatusCb = cb }
func (e *Engine) OnGroupInvite(cb engine.GroupInviteCallback)           { e.groupInviteCb = cb }
func (e *Engine) OnGroupMessage(cb engine.GroupMessageCallback)         { e.groupMessageCb = cb }
func (e *Engine) OnGroupNamelistChange(cb engine.GroupNamelistCallback) { e.groupNamelistCb = cb }
func (e *Engine) OnFileSendRequest(cb engine.FileSendRequestCallback)   { e.fileSendRequestCb = cb }
func (e *Engine) OnFileControl(cb engine.FileControlCallback)           { e.fileControlCb = cb }
func (e *Engine) OnFileData(cb engine.FileDataCallback)                 { e.fileDataCb = cb }

// FireFriendRequest delivers an inbound friend request.
func (e *Engine) FireFriendRequest(pk engine.PublicKey, message string) {
	if e.friendRequestCb != nil {
		e.friendRequestCb(pk, message)
	}
}

// FireFriendMessage delivers an inbound message.
func (e *Engine) FireFriendMessage(friendID uint32, message string) {
	if e.friendMessageCb != nil {
		e.friendMessageCb(friendID, []byte(message))
	}
}

// FireName updates a friend's name and reports it.
func (e *Engine) FireName(friendID uint32, name string) {
	if f, ok := e.Friends[friendID]; ok {
		f.Name = name
	}
	if e.nameCb != nil {
		e.nameCb(friendID, name)
	}
}

// FireStatusMessage updates a friend's status message and reports it.
func (e *Engine) FireStatusMessage(friendID uint32, message string) {
	if f, ok := e.Friends[friendID]; ok {
		f.StatusMessage = message
	}
	if e.statusMessageCb != nil {
		e.statusMessageCb(friendID, message)
	}
}

// FireUserStatus updates a friend's user status and reports it.
func (e *Engine) FireUserStatus(friendID uint32, status engine.UserStatus) {
	if f, ok := e.Friends[friendID]; ok {
		f.UserStatus = status
	}
	if e.userStatusCb != nil {
		e.userStatusCb(friendID, status)
	}
}

// FireConnection updates a friend's connection and reports it.
func (e *Engine) FireConnection(friendID uint32, status engine.ConnectionStatus) {
	if f, ok := e.Friends[friendID]; ok {
		f.Connection = status
	}
	if e.connectionStatusCb != nil {
		e.connectionStatusCb(friendID, status)
	}
}

// FireGroupInvite delivers a group invite.
func (e *Engine) FireGroupInvite(friendID uint32, key engine.GroupKey) {
	if e.groupInviteCb != nil {
		e.groupInviteCb(friendID, key)
	}
}

// FireGroupMessage delivers a group message.
func (e *Engine) FireGroupMessage(groupID uint32, peer int, message string) {
	if e.groupMessageCb != nil {
		e.groupMessageCb(groupID, peer, []byte(message))
	}
}

// FireNamelist delivers a peer delta without touching the group.
func (e *Engine) FireNamelist(groupID uint32, peer int, change engine.GroupChange) {
	if e.groupNamelistCb != nil {
		e.groupNamelistCb(groupID, peer, change)
	}
}

// FireFileRequest creates a receiving slot and reports the offer.
func (e *Engine) FireFileRequest(friendID, fileID uint32, size uint64, name string) {
	e.Files[FileKey{Friend: friendID, Dir: engine.FileReceiving, File: fileID}] = &FileSlot{Name: name, Size: size, Remaining: size}
	if e.fileSendRequestCb != nil {
		e.fileSendRequestCb(friendID, fileID, size, name)
	}
}

// FireFileControl delivers a control for the slot on the given local side.
func (e *Engine) FireFileControl(friendID uint32, dir engine.FileDirection, fileID uint32, control engine.FileControl) {
	if control == engine.FileControlKill {
		delete(e.Files, FileKey{Friend: friendID, Dir: dir, File: fileID})
	}
	if e.fileControlCb != nil {
		e.fileControlCb(friendID, dir, fileID, control, nil)
	}
}

// FireFileData delivers an inbound chunk.
func (e *Engine) FireFileData(friendID, fileID uint32, data []byte) {
	if slot, ok := e.Files[FileKey{Friend: friendID, Dir: engine.FileReceiving, File: fileID}]; ok {
		if uint64(len(data)) <= slot.Remaining {
			slot.Remaining -= uint64(len(data))
		}
	}
	if e.fileDataCb != nil {
		e.fileDataCb(friendID, fileID, data)
	}
}
