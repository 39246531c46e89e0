package loopback

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

const (
	// IdleIterationInterval is requested when nothing is in flight.
	IdleIterationInterval = 50 * time.Millisecond
	// ActiveIterationInterval is requested while handshakes, transfers or calls run.
	ActiveIterationInterval = 20 * time.Millisecond
	// DefaultSendWindow is the number of file data packets accepted per tick.
	DefaultSendWindow = 256

	maxFileSlots             = 256
	handshakeRetryIterations = 20
)

// FileDataFilter decides whether a file data chunk is accepted. Returning
// false makes FileSendData fail as if the peer were momentarily unreachable.
type FileDataFilter func(friendID, fileID uint32, size int) bool

type friendEntry struct {
	id            uint32
	publicKey     engine.PublicKey
	name          string
	statusMessage string
	userStatus    engine.UserStatus
	conn          engine.ConnectionStatus

	session      *secureSession
	pending      *pendingHandshake
	pendingTicks int

	requestMessage   string
	requestNospam    engine.Nospam
	requestDelivered bool

	sending   map[uint32]*fileSlot
	receiving map[uint32]*fileSlot
}

// Tox is one node on a loopback Network. It implements engine.Engine.
type Tox struct {
	network      *Network
	options      engine.Options
	keyPair      *KeyPair
	nospam       engine.Nospam
	timeProvider TimeProvider

	name          string
	statusMessage string
	userStatus    engine.UserStatus

	bootstrapped  bool
	bootstrapNode bool
	offline       bool
	connected     bool
	killed        bool

	friends      map[uint32]*friendEntry
	nextFriendID uint32

	groups      map[uint32]engine.GroupKey
	nextGroupID uint32

	sendWindow int
	window     int
	dataFilter FileDataFilter

	av *AV

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

var _ engine.Engine = (*Tox)(nil)

// New creates a node with a fresh identity on the network.
func New(network *Network, opts engine.Options) (*Tox, error) {
	if network == nil {
		return nil, errors.New("loopback: nil network")
	}
	if opts.Proxy.Type != engine.ProxyTypeNone && (opts.Proxy.Host == "" || opts.Proxy.Port == 0) {
		return nil, fmt.Errorf("loopback: proxy type %d needs host and port", opts.Proxy.Type)
	}

	keyPair, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("loopback: generate key pair: %w", err)
	}

	t := &Tox{
		network:      network,
		options:      opts,
		keyPair:      keyPair,
		nospam:       generateNospam(),
		timeProvider: DefaultTimeProvider{},
		friends:      make(map[uint32]*friendEntry),
		groups:       make(map[uint32]engine.GroupKey),
		sendWindow:   DefaultSendWindow,
		window:       DefaultSendWindow,
	}
	if err := network.register(keyPair.Public, t.nospam); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"public_key":   t.SelfPublicKey().Short(),
		"ipv6_enabled": opts.IPv6Enabled,
		"udp_enabled":  opts.UDPEnabled,
		"proxy_type":   opts.Proxy.Type,
	}).Info("Loopback node created")
	return t, nil
}

// SetTimeProvider replaces the clock used for call timeouts.
func (t *Tox) SetTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	t.timeProvider = tp
}

// SetOffline simulates losing (or regaining) the network.
func (t *Tox) SetOffline(offline bool) {
	t.offline = offline
	t.updateSelfConnection()
}

// SetSendWindow sets how many file data packets are accepted per tick.
func (t *Tox) SetSendWindow(n int) {
	if n < 1 {
		n = 1
	}
	t.sendWindow = n
	t.window = n
}

// SetFileDataFilter installs a filter consulted by FileSendData.
func (t *Tox) SetFileDataFilter(f FileDataFilter) {
	t.dataFilter = f
}

// Iterate performs a single iteration of the node's event loop.
func (t *Tox) Iterate() {
	if t.killed {
		return
	}
	t.window = t.sendWindow
	t.updateSelfConnection()

	for _, env := range t.network.take(t.keyPair.Public) {
		t.handleEnvelope(env)
	}

	t.updateFriendConnections()
	t.retryFriendRequests()

	if t.av != nil {
		t.av.iterate()
	}
}

// IterationInterval returns the recommended interval between iterations.
func (t *Tox) IterationInterval() time.Duration {
	for _, f := range t.friends {
		if f.pending != nil || len(f.sending) > 0 || len(f.receiving) > 0 {
			return ActiveIterationInterval
		}
	}
	if t.av != nil && len(t.av.calls) > 0 {
		return ActiveIterationInterval
	}
	return IdleIterationInterval
}

// IsConnected reports whether the node is connected to the network.
func (t *Tox) IsConnected() bool {
	return t.connected
}

// Bootstrap contacts a bootstrap node registered on the network.
func (t *Tox) Bootstrap(address string, port uint16, publicKeyHex string) error {
	if t.killed {
		return engine.ErrKilled
	}
	pk, err := engine.ParsePublicKey(publicKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrBootstrapFailed, err)
	}
	known, online := t.network.bootstrapKey(address, port)
	if known != pk {
		return fmt.Errorf("%w: no node with key %s at %s:%d", engine.ErrBootstrapFailed, pk.Short(), address, port)
	}
	if !online {
		return fmt.Errorf("%w: node at %s:%d is offline", engine.ErrBootstrapFailed, address, port)
	}

	t.bootstrapped = true
	logrus.WithFields(logrus.Fields{
		"function": "Bootstrap",
		"address":  address,
		"port":     port,
	}).Info("Bootstrap node answered")
	return nil
}

// Kill stops the node and removes it from the network.
func (t *Tox) Kill() {
	if t.killed {
		return
	}
	t.killed = true
	t.connected = false
	t.network.unregister(t.keyPair.Public)
	logrus.WithFields(logrus.Fields{
		"function":   "Kill",
		"public_key": t.SelfPublicKey().Short(),
	}).Info("Loopback node killed")
}

func (t *Tox) updateSelfConnection() {
	want := !t.killed && !t.offline && (t.bootstrapped || t.bootstrapNode)
	if want == t.connected {
		return
	}
	t.connected = want
	t.network.setOnline(t.keyPair.Public, want)
	logrus.WithFields(logrus.Fields{
		"function":  "updateSelfConnection",
		"connected": want,
	}).Info("Network connection changed")
}

// SelfAddress returns the Tox ID of this node.
func (t *Tox) SelfAddress() engine.Address {
	return engine.NewAddress(t.keyPair.Public, t.nospam)
}

// SelfPublicKey returns the public key of this node.
func (t *Tox) SelfPublicKey() engine.PublicKey {
	return engine.PublicKey(t.keyPair.Public)
}

// SetName sets the display name and announces it to friends and groups.
func (t *Tox) SetName(name string) error {
	if err := limits.ValidateName(name); err != nil {
		return err
	}
	t.name = name
	t.network.setName(t.keyPair.Public, name)
	t.broadcastProfile()
	t.announceGroupRename()
	return nil
}

// SelfName returns the display name.
func (t *Tox) SelfName() string {
	return t.name
}

// SetStatusMessage sets the status message and announces it to friends.
func (t *Tox) SetStatusMessage(message string) error {
	if err := limits.ValidateStatusMessage(message); err != nil {
		return err
	}
	t.statusMessage = message
	t.broadcastProfile()
	return nil
}

// SelfStatusMessage returns the status message.
func (t *Tox) SelfStatusMessage() string {
	return t.statusMessage
}

// SetUserStatus sets the user status and announces it to friends.
func (t *Tox) SetUserStatus(status engine.UserStatus) error {
	if status >= engine.UserStatusInvalid {
		return fmt.Errorf("invalid user status %d", status)
	}
	t.userStatus = status
	t.broadcastProfile()
	return nil
}

// SelfUserStatus returns the user status.
func (t *Tox) SelfUserStatus() engine.UserStatus {
	return t.userStatus
}

// AddFriend sends a friend request to a Tox ID.
func (t *Tox) AddFriend(address string, message string) (uint32, error) {
	if t.killed {
		return 0, engine.ErrKilled
	}
	addr, err := engine.ParseAddress(address)
	if err != nil {
		return 0, err
	}
	if err := limits.ValidateMessageSize([]byte(message), limits.MaxFriendRequest); err != nil {
		return 0, fmt.Errorf("friend request message: %w", err)
	}
	f, err := t.addFriendEntry(addr.PublicKey)
	if err != nil {
		return 0, err
	}
	f.requestMessage = message
	f.requestNospam = addr.Nospam
	t.retryFriendRequests()

	logrus.WithFields(logrus.Fields{
		"function":   "AddFriend",
		"friend_id":  f.id,
		"public_key": addr.PublicKey.Short(),
	}).Info("Friend request queued")
	return f.id, nil
}

// AddFriendNoRequest adds a friend without sending a request.
func (t *Tox) AddFriendNoRequest(publicKey engine.PublicKey) (uint32, error) {
	if t.killed {
		return 0, engine.ErrKilled
	}
	f, err := t.addFriendEntry(publicKey)
	if err != nil {
		return 0, err
	}
	f.requestDelivered = true
	return f.id, nil
}

func (t *Tox) addFriendEntry(pk engine.PublicKey) (*friendEntry, error) {
	if pk == engine.PublicKey(t.keyPair.Public) {
		return nil, engine.ErrOwnKey
	}
	if _, exists := t.friendByKey(pk); exists {
		return nil, engine.ErrFriendExists
	}
	f := &friendEntry{
		id:        t.nextFriendID,
		publicKey: pk,
		sending:   make(map[uint32]*fileSlot),
		receiving: make(map[uint32]*fileSlot),
	}
	t.nextFriendID++
	t.friends[f.id] = f
	t.network.addFriendEdge(t.keyPair.Public, pk)
	return f, nil
}

// DeleteFriend removes a friend and drops every transfer and call with them.
func (t *Tox) DeleteFriend(friendID uint32) error {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ErrFriendNotFound
	}
	t.network.removeFriendEdge(t.keyPair.Public, f.publicKey)
	if t.av != nil {
		t.av.dropFriend(friendID, false)
	}
	delete(t.friends, friendID)
	return nil
}

// FriendList returns the friend handles in ascending order.
func (t *Tox) FriendList() []uint32 {
	ids := make([]uint32, 0, len(t.friends))
	for id := range t.friends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// FriendPublicKey returns a friend's public key.
func (t *Tox) FriendPublicKey(friendID uint32) (engine.PublicKey, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.PublicKey{}, engine.ErrFriendNotFound
	}
	return f.publicKey, nil
}

// FriendName returns a friend's display name.
func (t *Tox) FriendName(friendID uint32) (string, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return "", engine.ErrFriendNotFound
	}
	return f.name, nil
}

// FriendStatusMessage returns a friend's status message.
func (t *Tox) FriendStatusMessage(friendID uint32) (string, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return "", engine.ErrFriendNotFound
	}
	return f.statusMessage, nil
}

// FriendUserStatus returns a friend's user status.
func (t *Tox) FriendUserStatus(friendID uint32) (engine.UserStatus, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.UserStatusInvalid, engine.ErrFriendNotFound
	}
	return f.userStatus, nil
}

// FriendConnectionStatus returns how a friend is connected.
func (t *Tox) FriendConnectionStatus(friendID uint32) (engine.ConnectionStatus, error) {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ConnectionNone, engine.ErrFriendNotFound
	}
	return f.conn, nil
}

// SendMessage sends one text message to a connected friend.
func (t *Tox) SendMessage(friendID uint32, message []byte) error {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ErrFriendNotFound
	}
	if err := limits.ValidatePlaintextMessage(message); err != nil {
		return err
	}
	return t.sendPacket(f, &packet{Kind: PacketMessage, Data: message})
}

// MaxMessageLength is the wire limit for one message.
func (t *Tox) MaxMessageLength() int {
	return limits.MaxPlaintextMessage
}

func (t *Tox) friendByKey(pk engine.PublicKey) (*friendEntry, bool) {
	for _, f := range t.friends {
		if f.publicKey == pk {
			return f, true
		}
	}
	return nil, false
}

func (t *Tox) sortedFriends() []*friendEntry {
	list := make([]*friendEntry, 0, len(t.friends))
	for _, id := range t.FriendList() {
		list = append(list, t.friends[id])
	}
	return list
}

func (t *Tox) isInitiator(peer engine.PublicKey) bool {
	return bytes.Compare(t.keyPair.Public[:], peer[:]) < 0
}

// sendPacket seals a packet on the friend's secure session and delivers it.
func (t *Tox) sendPacket(f *friendEntry, p *packet) error {
	if t.killed {
		return engine.ErrKilled
	}
	if f.session == nil {
		return engine.ErrFriendOffline
	}
	data, err := encodePacket(p)
	if err != nil {
		return err
	}
	session := f.session
	return t.network.deliver(f.publicKey, func() (envelope, error) {
		body, err := session.seal(data)
		if err != nil {
			return envelope{}, err
		}
		return envelope{kind: envFriend, from: t.keyPair.Public, session: session.id, body: body}, nil
	})
}

func (t *Tox) broadcastProfile() {
	for _, f := range t.friends {
		if f.session != nil {
			t.sendProfile(f)
		}
	}
}

func (t *Tox) sendProfile(f *friendEntry) {
	p := &packet{Kind: PacketProfile, Text: t.name, Extra: t.statusMessage, Status: t.userStatus}
	if err := t.sendPacket(f, p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "sendProfile",
			"friend_id": f.id,
			"error":     err.Error(),
		}).Debug("Profile announce failed")
	}
}

func (t *Tox) retryFriendRequests() {
	if !t.connected {
		return
	}
	for _, f := range t.friends {
		if f.requestDelivered || f.requestMessage == "" {
			continue
		}
		payload, err := encodeJSON(friendRequest{Nospam: f.requestNospam, Message: f.requestMessage})
		if err != nil {
			continue
		}
		err = t.network.deliver(f.publicKey, func() (envelope, error) {
			nonce, body, err := sealRequest(payload, f.publicKey, t.keyPair)
			if err != nil {
				return envelope{}, err
			}
			return envelope{kind: envRequest, from: t.keyPair.Public, nonce: nonce, body: body}, nil
		})
		if err == nil {
			f.requestDelivered = true
		}
	}
}

func (t *Tox) handleEnvelope(env envelope) {
	switch env.kind {
	case envRequest:
		t.handleFriendRequest(env)
	case envHandshakeInit:
		t.handleHandshakeInit(env)
	case envHandshakeReply:
		t.handleHandshakeReply(env)
	case envHandshakeReset:
		t.handleHandshakeReset(env)
	case envFriend:
		t.handleFriendEnvelope(env)
	case envGroup:
		t.handleGroupEnvelope(env)
	}
}

func (t *Tox) handleFriendRequest(env envelope) {
	if _, exists := t.friendByKey(env.from); exists {
		return
	}
	plaintext, err := openRequest(env.body, env.nonce, env.from, t.keyPair)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleFriendRequest",
			"error":    err.Error(),
		}).Warn("Dropping undecryptable friend request")
		return
	}
	var req friendRequest
	if err := decodeJSON(plaintext, &req); err != nil {
		return
	}
	if req.Nospam != t.nospam {
		logrus.WithFields(logrus.Fields{
			"function": "handleFriendRequest",
			"sender":   env.from.Short(),
		}).Debug("Dropping friend request with stale nospam")
		return
	}
	if t.friendRequestCb != nil {
		t.friendRequestCb(env.from, req.Message)
	}
}

func (t *Tox) handleHandshakeInit(env envelope) {
	f, ok := t.friendByKey(env.from)
	if !ok {
		return
	}
	session, reply, err := answerHandshake(t.keyPair, f.publicKey, env.body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleHandshakeInit",
			"friend_id": f.id,
			"error":     err.Error(),
		}).Warn("Rejecting handshake")
		return
	}
	err = t.network.deliver(f.publicKey, func() (envelope, error) {
		return envelope{kind: envHandshakeReply, from: t.keyPair.Public, session: session.id, body: reply}, nil
	})
	if err != nil {
		return
	}
	f.session = session
	f.pending = nil
	f.pendingTicks = 0
	t.markConnected(f)
}

func (t *Tox) handleHandshakeReset(env envelope) {
	f, ok := t.friendByKey(env.from)
	if !ok || !t.isInitiator(f.publicKey) {
		return
	}
	f.session = nil
	f.pending = nil
	if t.connected && t.network.reachable(t.keyPair.Public, f.publicKey) {
		t.ensureHandshake(f)
	}
}

func (t *Tox) handleHandshakeReply(env envelope) {
	f, ok := t.friendByKey(env.from)
	if !ok || f.pending == nil || f.pending.id != env.session {
		return
	}
	session, err := f.pending.finish(env.body)
	f.pending = nil
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleHandshakeReply",
			"friend_id": f.id,
			"error":     err.Error(),
		}).Warn("Handshake failed")
		return
	}
	f.session = session
	t.markConnected(f)
}

func (t *Tox) handleFriendEnvelope(env envelope) {
	f, ok := t.friendByKey(env.from)
	if !ok || f.session == nil || f.session.id != env.session {
		return
	}
	plaintext, err := f.session.open(env.body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handleFriendEnvelope",
			"friend_id": f.id,
			"error":     err.Error(),
		}).Warn("Dropping undecryptable packet")
		return
	}
	p, err := decodePacket(plaintext)
	if err != nil {
		return
	}
	t.handlePacket(f, p)
}

func (t *Tox) handlePacket(f *friendEntry, p *packet) {
	switch p.Kind {
	case PacketProfile:
		t.handleProfile(f, p)
	case PacketMessage:
		if t.friendMessageCb != nil {
			t.friendMessageCb(f.id, p.Data)
		}
	case PacketGroupInvite:
		if len(p.Data) == len(engine.GroupKey{}) && t.groupInviteCb != nil {
			var key engine.GroupKey
			copy(key[:], p.Data)
			t.groupInviteCb(f.id, key)
		}
	case PacketFileRequest:
		t.handleFileRequest(f, p)
	case PacketFileControl:
		t.handleFileControl(f, p)
	case PacketFileData:
		t.handleFileData(f, p)
	case PacketCallSignal, PacketAudio, PacketVideo:
		if t.av != nil {
			t.av.handlePacket(f.id, p)
		}
	}
}

func (t *Tox) handleProfile(f *friendEntry, p *packet) {
	if p.Text != f.name {
		f.name = p.Text
		if t.nameCb != nil {
			t.nameCb(f.id, f.name)
		}
	}
	if p.Extra != f.statusMessage {
		f.statusMessage = p.Extra
		if t.statusMessageCb != nil {
			t.statusMessageCb(f.id, f.statusMessage)
		}
	}
	if p.Status != f.userStatus {
		f.userStatus = p.Status
		if t.userStatusCb != nil {
			t.userStatusCb(f.id, f.userStatus)
		}
	}
}

func (t *Tox) markConnected(f *friendEntry) {
	if f.conn != engine.ConnectionNone {
		return
	}
	f.conn = engine.ConnectionUDP
	logrus.WithFields(logrus.Fields{
		"function":  "markConnected",
		"friend_id": f.id,
	}).Info("Friend connected")
	if t.connectionStatusCb != nil {
		t.connectionStatusCb(f.id, f.conn)
	}
	t.sendProfile(f)
}

func (t *Tox) updateFriendConnections() {
	for _, f := range t.sortedFriends() {
		if _, still := t.friends[f.id]; !still {
			continue
		}
		up := t.connected && t.network.reachable(t.keyPair.Public, f.publicKey)
		if up {
			t.ensureHandshake(f)
			continue
		}
		f.session = nil
		f.pending = nil
		if f.conn == engine.ConnectionNone {
			continue
		}
		f.conn = engine.ConnectionNone
		logrus.WithFields(logrus.Fields{
			"function":  "updateFriendConnections",
			"friend_id": f.id,
		}).Info("Friend disconnected")
		t.dropTransfers(f, true)
		if t.av != nil {
			t.av.dropFriend(f.id, true)
		}
		if t.connectionStatusCb != nil {
			t.connectionStatusCb(f.id, engine.ConnectionNone)
		}
	}
}

func (t *Tox) ensureHandshake(f *friendEntry) {
	if f.session != nil {
		return
	}
	if !t.isInitiator(f.publicKey) {
		// The initiator may still hold a session we already dropped.
		f.pendingTicks++
		if f.pendingTicks >= handshakeRetryIterations {
			f.pendingTicks = 0
			_ = t.network.deliver(f.publicKey, func() (envelope, error) {
				return envelope{kind: envHandshakeReset, from: t.keyPair.Public}, nil
			})
		}
		return
	}
	if f.pending != nil {
		f.pendingTicks++
		if f.pendingTicks < handshakeRetryIterations {
			return
		}
		f.pending = nil
	}
	pending, msg, err := startHandshake(t.keyPair, f.publicKey)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "ensureHandshake",
			"friend_id": f.id,
			"error":     err.Error(),
		}).Error("Cannot start handshake")
		return
	}
	err = t.network.deliver(f.publicKey, func() (envelope, error) {
		return envelope{kind: envHandshakeInit, from: t.keyPair.Public, session: pending.id, body: msg}, nil
	})
	if err != nil {
		return
	}
	f.pending = pending
	f.pendingTicks = 0
}

// OnFriendRequest registers the friend request callback.
func (t *Tox) OnFriendRequest(cb engine.FriendRequestCallback) { t.friendRequestCb = cb }

// OnFriendMessage registers the friend message callback.
func (t *Tox) OnFriendMessage(cb engine.FriendMessageCallback) { t.friendMessageCb = cb }

// OnNameChange registers the friend name callback.
func (t *Tox) OnNameChange(cb engine.FriendNameCallback) { t.nameCb = cb }

// OnStatusMessage registers the friend status message callback.
func (t *Tox) OnStatusMessage(cb engine.FriendStatusMessageCallback) { t.statusMessageCb = cb }

// OnUserStatus registers the friend user status callback.
func (t *Tox) OnUserStatus(cb engine.FriendUserStatusCallback) { t.userStatusCb = cb }

// OnConnectionStatus registers the friend connection callback.
func (t *Tox) OnConnectionStatus(cb engine.FriendConnectionCallback) { t.connectionStatusCb = cb }

// OnGroupInvite registers the group invite callback.
func (t *Tox) OnGroupInvite(cb engine.GroupInviteCallback) { t.groupInviteCb = cb }

// OnGroupMessage registers the group message callback.
func (t *Tox) OnGroupMessage(cb engine.GroupMessageCallback) { t.groupMessageCb = cb }

// OnGroupNamelistChange registers the group namelist callback.
func (t *Tox) OnGroupNamelistChange(cb engine.GroupNamelistCallback) { t.groupNamelistCb = cb }

// OnFileSendRequest registers the file offer callback.
func (t *Tox) OnFileSendRequest(cb engine.FileSendRequestCallback) { t.fileSendRequestCb = cb }

// OnFileControl registers the file control callback.
func (t *Tox) OnFileControl(cb engine.FileControlCallback) { t.fileControlCb = cb }

// OnFileData registers the file data callback.
func (t *Tox) OnFileData(cb engine.FileDataCallback) { t.fileDataCb = cb }
