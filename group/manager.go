package group

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/messaging"
	"github.com/opd-ai/toxclient/module"
)

// Manager is the group chat module.
type Manager struct {
	module.Base

	groups  map[uint32]*chat
	invites map[engine.GroupKey]Invite
}

var _ module.Module = (*Manager)(nil)

// New creates the group module and registers its engine callbacks.
func New(eng engine.Engine, lock *module.Lock) *Manager {
	m := &Manager{
		Base:    module.NewBase("group", eng, lock),
		groups:  make(map[uint32]*chat),
		invites: make(map[engine.GroupKey]Invite),
	}
	eng.OnGroupInvite(m.handleInvite)
	eng.OnGroupMessage(m.handleMessage)
	eng.OnGroupNamelistChange(m.handleNamelist)
	return m
}

// CreateGroup starts a new group with an empty roster.
func (m *Manager) CreateGroup() (uint32, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	id, err := m.Engine.AddGroupChat()
	if err != nil {
		return 0, fmt.Errorf("create group: %w", err)
	}
	key, err := m.Engine.GroupKey(id)
	if err != nil {
		return 0, fmt.Errorf("create group %d: %w", id, err)
	}
	m.groups[id] = &chat{id: id, key: key, state: StateJoined, peers: make(map[int]string)}

	m.Log.WithFields(logrus.Fields{
		"function": "CreateGroup",
		"group_id": id,
	}).Info("Group created")
	m.Emit(GroupCreated{ID: id, Key: key})
	return id, nil
}

// AcceptInvite joins the group behind an invite. A second invite for a
// group we already joined fails with ErrAlreadyJoined.
func (m *Manager) AcceptInvite(friendID uint32, key engine.GroupKey) (uint32, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	if id, ok := m.joinedWithKey(key); ok {
		m.Log.WithFields(logrus.Fields{
			"function": "AcceptInvite",
			"group_id": id,
		}).Debug("Ignoring invite for a joined group")
		delete(m.invites, key)
		return id, ErrAlreadyJoined
	}

	id, err := m.Engine.JoinGroupChat(friendID, key)
	if err != nil {
		return 0, fmt.Errorf("join group from friend %d: %w", friendID, err)
	}
	delete(m.invites, key)
	m.groups[id] = &chat{id: id, key: key, state: StateJoined, peers: make(map[int]string)}

	m.Log.WithFields(logrus.Fields{
		"function":  "AcceptInvite",
		"group_id":  id,
		"friend_id": friendID,
	}).Info("Group joined")
	m.Emit(GroupJoined{ID: id, Key: key})
	return id, nil
}

// DeclineInvite drops a pending invite.
func (m *Manager) DeclineInvite(key engine.GroupKey) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	if _, ok := m.invites[key]; !ok {
		return ErrInviteNotFound
	}
	delete(m.invites, key)
	return nil
}

// joinedWithKey reports a joined group with the key. Joins still inside
// the engine are not visible here.
func (m *Manager) joinedWithKey(key engine.GroupKey) (uint32, bool) {
	for id, c := range m.groups {
		if c.key == key && c.state == StateJoined {
			return id, true
		}
	}
	return 0, false
}

// InviteFriend invites a friend into a joined group.
func (m *Manager) InviteFriend(friendID, groupID uint32) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return fmt.Errorf("invite to group %d: %w", groupID, ErrGroupNotFound)
	}
	if err := m.Engine.InviteFriend(friendID, groupID); err != nil {
		return fmt.Errorf("invite friend %d to group %d: %w", friendID, groupID, err)
	}
	return nil
}

// LeaveGroup leaves a group. The group is dropped locally even when the
// engine call fails; the engine error is still returned.
func (m *Manager) LeaveGroup(groupID uint32) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("leave group %d: %w", groupID, ErrGroupNotFound)
	}
	err := m.Engine.DeleteGroupChat(groupID)
	c.state = StateLeft
	delete(m.groups, groupID)
	m.Emit(GroupLeft{ID: groupID})

	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "LeaveGroup",
			"group_id": groupID,
			"error":    err.Error(),
		}).Warn("Engine failed to delete group")
		return fmt.Errorf("leave group %d: %w", groupID, err)
	}
	m.Log.WithFields(logrus.Fields{
		"function": "LeaveGroup",
		"group_id": groupID,
	}).Info("Group left")
	return nil
}

// SendGroupMessage splits text like direct messages and sends the chunks
// in order.
func (m *Manager) SendGroupMessage(groupID uint32, text string) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	if _, ok := m.groups[groupID]; !ok {
		return fmt.Errorf("send to group %d: %w", groupID, ErrGroupNotFound)
	}
	if text == "" {
		return limits.ErrMessageEmpty
	}
	chunks := messaging.SplitUTF8(text, m.Engine.MaxMessageLength())
	for i, chunk := range chunks {
		if err := m.Engine.GroupMessageSend(groupID, []byte(chunk)); err != nil {
			return fmt.Errorf("send chunk %d/%d to group %d: %w", i+1, len(chunks), groupID, err)
		}
		m.Emit(GroupMessageSent{ID: groupID, Text: chunk, Chunk: i + 1, Chunks: len(chunks)})
	}
	return nil
}

// Groups returns snapshots of every joined group in id order.
func (m *Manager) Groups() []Info {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	out := make([]Info, 0, len(m.groups))
	for _, id := range m.sortedIDs() {
		out = append(out, m.groups[id].info())
	}
	return out
}

// Group returns a snapshot of one group.
func (m *Manager) Group(groupID uint32) (Info, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.groups[groupID]
	if !ok {
		return Info{}, fmt.Errorf("group %d: %w", groupID, ErrGroupNotFound)
	}
	return c.info(), nil
}

// Invites returns the pending invites.
func (m *Manager) Invites() []Invite {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	out := make([]Invite, 0, len(m.invites))
	for _, inv := range m.invites {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Friend != out[j].Friend {
			return out[i].Friend < out[j].Friend
		}
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

func (m *Manager) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Update reconciles every roster against a full poll of the engine.
func (m *Manager) Update() {
	for _, id := range m.sortedIDs() {
		m.reconcile(m.groups[id])
	}
}

// reconcile polls peer count and names. Any difference replaces the
// stored map and emits the polled map as RosterAvailable.
func (m *Manager) reconcile(c *chat) {
	count, err := m.Engine.GroupPeerCount(c.id)
	if err != nil {
		if errors.Is(err, engine.ErrGroupNotFound) {
			m.Log.WithFields(logrus.Fields{
				"function": "reconcile",
				"group_id": c.id,
			}).Warn("Engine dropped group")
			c.state = StateRemoved
			delete(m.groups, c.id)
			m.Emit(GroupRemoved{ID: c.id})
			return
		}
		m.Log.WithFields(logrus.Fields{
			"function": "reconcile",
			"group_id": c.id,
			"error":    err.Error(),
		}).Warn("Peer count poll failed")
		return
	}

	polled := make(map[int]string, count)
	for i := 0; i < count; i++ {
		name, err := m.Engine.GroupPeerName(c.id, i)
		if err != nil {
			m.Log.WithFields(logrus.Fields{
				"function": "reconcile",
				"group_id": c.id,
				"peer":     i,
				"error":    err.Error(),
			}).Debug("Peer name poll failed")
		}
		polled[i] = name
	}

	if count == c.peerCount && samePeers(c.peers, polled) {
		return
	}
	c.peerCount = count
	c.peers = polled

	m.Log.WithFields(logrus.Fields{
		"function":   "reconcile",
		"group_id":   c.id,
		"peer_count": count,
	}).Debug("Group roster replaced")
	m.Emit(RosterAvailable{ID: c.id, PeerCount: count, Peers: copyPeers(polled)})
}

func samePeers(a, b map[int]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func (m *Manager) handleInvite(friendID uint32, key engine.GroupKey) {
	m.invites[key] = Invite{Friend: friendID, Key: key}
	m.Log.WithFields(logrus.Fields{
		"function":  "handleInvite",
		"friend_id": friendID,
	}).Info("Group invite received")
	m.Emit(GroupInvited{Friend: friendID, Key: key})
}

func (m *Manager) handleMessage(groupID uint32, peer int, message []byte) {
	c, ok := m.groups[groupID]
	if !ok {
		m.Log.WithFields(logrus.Fields{
			"function": "handleMessage",
			"group_id": groupID,
		}).Debug("Message for unknown group")
		return
	}
	m.Emit(GroupMessageReceived{ID: groupID, Peer: peer, Name: m.peerName(c, peer), Text: string(message)})
}

// handleNamelist turns a delta into a display event. The roster is only
// ever changed by reconcile.
func (m *Manager) handleNamelist(groupID uint32, peer int, change engine.GroupChange) {
	c, ok := m.groups[groupID]
	if !ok {
		m.Log.WithFields(logrus.Fields{
			"function": "handleNamelist",
			"group_id": groupID,
		}).Debug("Delta for unknown group")
		return
	}
	m.Emit(PeerDelta{ID: groupID, Peer: peer, Change: change, Name: m.peerName(c, peer)})
}

// peerName asks the engine first and falls back to the last roster.
func (m *Manager) peerName(c *chat, peer int) string {
	if name, err := m.Engine.GroupPeerName(c.id, peer); err == nil {
		return name
	}
	return c.peers[peer]
}
