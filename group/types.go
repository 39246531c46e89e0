package group

import (
	"errors"

	"github.com/opd-ai/toxclient/engine"
)

var (
	// ErrAlreadyJoined is returned when accepting an invite for a group
	// we are already a member of.
	ErrAlreadyJoined = errors.New("already joined a group with this key")
	// ErrGroupNotFound is returned for a group the module does not track.
	ErrGroupNotFound = errors.New("group not found")
	// ErrInviteNotFound is returned when declining an unknown invite.
	ErrInviteNotFound = errors.New("invite not found")
)

// State is the membership state of a group.
type State uint8

const (
	StateNone State = iota
	StateInvited
	StateJoined
	StateLeft
	StateRemoved
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInvited:
		return "invited"
	case StateJoined:
		return "joined"
	case StateLeft:
		return "left"
	case StateRemoved:
		return "removed"
	default:
		return "none"
	}
}

// Info is a snapshot of a joined group. Peers is indexed by the engine's
// peer number and is replaced wholesale by every reconciliation that sees
// a difference.
type Info struct {
	ID        uint32
	Key       engine.GroupKey
	State     State
	PeerCount int
	Peers     map[int]string
}

// Invite is a pending invitation that has not been accepted yet.
type Invite struct {
	Friend uint32
	Key    engine.GroupKey
}

type chat struct {
	id        uint32
	key       engine.GroupKey
	state     State
	peerCount int
	peers     map[int]string
}

func (c *chat) info() Info {
	return Info{
		ID:        c.id,
		Key:       c.key,
		State:     c.state,
		PeerCount: c.peerCount,
		Peers:     copyPeers(c.peers),
	}
}

func copyPeers(peers map[int]string) map[int]string {
	out := make(map[int]string, len(peers))
	for k, v := range peers {
		out[k] = v
	}
	return out
}
