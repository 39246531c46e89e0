package loopback

import (
	"crypto/rand"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

// AddGroupChat creates a conference with this node as its only member.
func (t *Tox) AddGroupChat() (uint32, error) {
	if t.killed {
		return 0, engine.ErrKilled
	}
	var key engine.GroupKey
	if _, err := rand.Read(key[:]); err != nil {
		return 0, fmt.Errorf("generate group key: %w", err)
	}
	t.network.createConference(key, t.keyPair.Public)

	id := t.nextGroupID
	t.nextGroupID++
	t.groups[id] = key

	logrus.WithFields(logrus.Fields{
		"function":  "AddGroupChat",
		"group_id":  id,
		"group_key": key.String()[:8],
	}).Info("Conference created")
	return id, nil
}

// DeleteGroupChat leaves a conference and tells the remaining members.
func (t *Tox) DeleteGroupChat(groupID uint32) error {
	key, ok := t.groups[groupID]
	if !ok {
		return engine.ErrGroupNotFound
	}
	delete(t.groups, groupID)

	idx, remaining := t.network.leaveConference(key, t.keyPair.Public)
	if idx >= 0 {
		t.broadcastGroup(key, remaining, &groupPayload{Kind: groupPayloadChange, Peer: idx, Change: engine.GroupPeerDeleted})
	}
	return nil
}

// JoinGroupChat joins the conference an invite pointed at. Joining a
// conference already joined returns its existing handle.
func (t *Tox) JoinGroupChat(friendID uint32, key engine.GroupKey) (uint32, error) {
	if t.killed {
		return 0, engine.ErrKilled
	}
	if _, ok := t.friends[friendID]; !ok {
		return 0, engine.ErrFriendNotFound
	}
	if id, ok := t.groupIDByKey(key); ok {
		return id, nil
	}

	idx, others, err := t.network.joinConference(key, t.keyPair.Public)
	if err != nil {
		return 0, err
	}
	id := t.nextGroupID
	t.nextGroupID++
	t.groups[id] = key

	t.broadcastGroup(key, others, &groupPayload{Kind: groupPayloadChange, Peer: idx, Change: engine.GroupPeerAdded})

	logrus.WithFields(logrus.Fields{
		"function":  "JoinGroupChat",
		"group_id":  id,
		"friend_id": friendID,
		"peer":      idx,
	}).Info("Joined conference")
	return id, nil
}

// InviteFriend sends the conference key to a connected friend.
func (t *Tox) InviteFriend(friendID, groupID uint32) error {
	f, ok := t.friends[friendID]
	if !ok {
		return engine.ErrFriendNotFound
	}
	key, ok := t.groups[groupID]
	if !ok {
		return engine.ErrGroupNotFound
	}
	return t.sendPacket(f, &packet{Kind: PacketGroupInvite, Data: key[:]})
}

// GroupMessageSend sends one message to every other member.
func (t *Tox) GroupMessageSend(groupID uint32, message []byte) error {
	key, ok := t.groups[groupID]
	if !ok {
		return engine.ErrGroupNotFound
	}
	if err := limits.ValidatePlaintextMessage(message); err != nil {
		return err
	}
	peers, ok := t.network.conferencePeers(key, t.keyPair.Public)
	if !ok {
		return engine.ErrGroupNotFound
	}
	idx := indexOf(peers, t.keyPair.Public)
	t.broadcastGroup(key, peers, &groupPayload{Kind: groupPayloadMessage, Peer: idx, Text: message})
	return nil
}

// GroupPeerCount returns the number of members, including this node.
func (t *Tox) GroupPeerCount(groupID uint32) (int, error) {
	peers, err := t.groupPeers(groupID)
	if err != nil {
		return 0, err
	}
	return len(peers), nil
}

// GroupPeerName returns the name of the member at a peer index.
func (t *Tox) GroupPeerName(groupID uint32, peer int) (string, error) {
	peers, err := t.groupPeers(groupID)
	if err != nil {
		return "", err
	}
	if peer < 0 || peer >= len(peers) {
		return "", fmt.Errorf("peer %d out of range", peer)
	}
	return t.network.peerName(peers[peer]), nil
}

// GroupKey returns the conference key of a group handle.
func (t *Tox) GroupKey(groupID uint32) (engine.GroupKey, error) {
	key, ok := t.groups[groupID]
	if !ok {
		return engine.GroupKey{}, engine.ErrGroupNotFound
	}
	return key, nil
}

func (t *Tox) groupPeers(groupID uint32) ([]engine.PublicKey, error) {
	key, ok := t.groups[groupID]
	if !ok {
		return nil, engine.ErrGroupNotFound
	}
	peers, ok := t.network.conferencePeers(key, t.keyPair.Public)
	if !ok {
		return nil, engine.ErrGroupNotFound
	}
	return peers, nil
}

func (t *Tox) groupIDByKey(key engine.GroupKey) (uint32, bool) {
	for id, k := range t.groups {
		if k == key {
			return id, true
		}
	}
	return 0, false
}

// announceGroupRename tells every conference we are in about a name change.
func (t *Tox) announceGroupRename() {
	ids := make([]uint32, 0, len(t.groups))
	for id := range t.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		key := t.groups[id]
		peers, ok := t.network.conferencePeers(key, t.keyPair.Public)
		if !ok {
			continue
		}
		idx := indexOf(peers, t.keyPair.Public)
		t.broadcastGroup(key, peers, &groupPayload{Kind: groupPayloadChange, Peer: idx, Change: engine.GroupPeerName})
	}
}

// broadcastGroup seals p once per recipient and skips members that are offline.
func (t *Tox) broadcastGroup(key engine.GroupKey, peers []engine.PublicKey, p *groupPayload) {
	for _, pk := range peers {
		if pk == t.keyPair.Public {
			continue
		}
		err := t.network.deliver(pk, func() (envelope, error) {
			nonce, body, err := sealGroup(key, p)
			if err != nil {
				return envelope{}, err
			}
			return envelope{kind: envGroup, from: t.keyPair.Public, group: key, nonce: nonce, body: body}, nil
		})
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "broadcastGroup",
				"peer":     pk.Short(),
				"error":    err.Error(),
			}).Debug("Group delivery skipped")
		}
	}
}

func (t *Tox) handleGroupEnvelope(env envelope) {
	id, ok := t.groupIDByKey(env.group)
	if !ok {
		return
	}
	p, err := openGroup(env.group, env.nonce, env.body)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleGroupEnvelope",
			"group_id": id,
			"error":    err.Error(),
		}).Warn("Dropping undecryptable group payload")
		return
	}

	switch p.Kind {
	case groupPayloadMessage:
		if t.groupMessageCb != nil {
			t.groupMessageCb(id, p.Peer, p.Text)
		}
	case groupPayloadChange:
		if t.groupNamelistCb != nil {
			t.groupNamelistCb(id, p.Peer, p.Change)
		}
	}
}

func indexOf(peers []engine.PublicKey, pk engine.PublicKey) int {
	for i, p := range peers {
		if p == pk {
			return i
		}
	}
	return -1
}
