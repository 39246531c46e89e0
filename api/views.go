package api

import (
	"time"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/presence"
)

type identityView struct {
	Address       string `json:"address"`
	PublicKey     string `json:"public_key"`
	Name          string `json:"name"`
	StatusMessage string `json:"status_message"`
	Status        string `json:"status"`
	Chosen        string `json:"chosen_status"`
	Connected     bool   `json:"connected"`
}

func newIdentityView(id presence.Identity) identityView {
	return identityView{
		Address:       id.Address.String(),
		PublicKey:     id.PublicKey.String(),
		Name:          id.Name,
		StatusMessage: id.StatusMessage,
		Status:        id.Status.String(),
		Chosen:        id.Chosen.String(),
		Connected:     id.Connected,
	}
}

type friendView struct {
	ID            uint32     `json:"id"`
	PublicKey     string     `json:"public_key"`
	Name          string     `json:"name"`
	StatusMessage string     `json:"status_message"`
	Status        string     `json:"status"`
	Connection    string     `json:"connection"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
}

func newFriendView(f presence.Friend) friendView {
	v := friendView{
		ID:            f.ID,
		PublicKey:     f.PublicKey.String(),
		Name:          f.Name,
		StatusMessage: f.StatusMessage,
		Status:        f.Status().String(),
		Connection:    connectionName(f.Connection),
	}
	if !f.LastSeen.IsZero() {
		seen := f.LastSeen
		v.LastSeen = &seen
	}
	return v
}

func connectionName(c engine.ConnectionStatus) string {
	switch c {
	case engine.ConnectionTCP:
		return "tcp"
	case engine.ConnectionUDP:
		return "udp"
	default:
		return "none"
	}
}

type groupView struct {
	ID        uint32         `json:"id"`
	Key       string         `json:"key"`
	State     string         `json:"state"`
	PeerCount int            `json:"peer_count"`
	Peers     map[int]string `json:"peers"`
}

func newGroupView(g group.Info) groupView {
	return groupView{
		ID:        g.ID,
		Key:       g.Key.String(),
		State:     g.State.String(),
		PeerCount: g.PeerCount,
		Peers:     g.Peers,
	}
}

type inviteView struct {
	Friend uint32 `json:"friend"`
	Key    string `json:"key"`
}

type transferView struct {
	ID          string    `json:"id"`
	Friend      uint32    `json:"friend"`
	Direction   string    `json:"direction"`
	Status      string    `json:"status"`
	TotalSize   uint64    `json:"total_size"`
	Transmitted uint64    `json:"transmitted"`
	Progress    float64   `json:"progress"`
	FileName    string    `json:"file_name"`
	Path        string    `json:"path,omitempty"`
	Speed       float64   `json:"speed"`
	StartTime   time.Time `json:"start_time"`
}

func newTransferView(t file.Snapshot) transferView {
	return transferView{
		ID:          t.ID.String(),
		Friend:      t.ID.Friend,
		Direction:   t.Direction.String(),
		Status:      t.Status.String(),
		TotalSize:   t.TotalSize,
		Transmitted: t.Transmitted,
		Progress:    t.Progress(),
		FileName:    t.FileName,
		Path:        t.Path,
		Speed:       t.Speed,
		StartTime:   t.StartTime,
	}
}

func mapSlice[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

// eventEnvelope is one websocket message.
type eventEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// eventPayload converts an event into its wire form. Keys become hex
// strings and video frames are reduced to their dimensions.
func eventPayload(ev any) any {
	switch e := ev.(type) {
	case presence.SelfChanged:
		return newIdentityView(e.Self)
	case presence.FriendAdded:
		return newFriendView(e.Friend)
	case presence.FriendRequestReceived:
		return map[string]any{"public_key": e.PublicKey.String(), "message": e.Message}
	case presence.FriendStatusChanged:
		return map[string]any{"id": e.ID, "status": e.Status.String()}
	case group.GroupCreated:
		return map[string]any{"id": e.ID, "key": e.Key.String()}
	case group.GroupJoined:
		return map[string]any{"id": e.ID, "key": e.Key.String()}
	case group.GroupInvited:
		return inviteView{Friend: e.Friend, Key: e.Key.String()}
	case group.PeerDelta:
		return map[string]any{"id": e.ID, "peer": e.Peer, "change": e.Change.String(), "name": e.Name}
	case file.TransferRequested:
		return newTransferView(e.Transfer)
	case file.TransferProgress:
		return newTransferView(e.Transfer)
	case file.TransferStatusChanged:
		v := map[string]any{"transfer": newTransferView(e.Transfer)}
		if e.Err != nil {
			v["error"] = e.Err.Error()
		}
		return v
	case av.CallStopped:
		return map[string]any{"call": e.Call, "reason": e.Reason.String()}
	case av.VideoFrameReceived:
		v := map[string]any{"id": e.ID, "friend": e.Friend}
		if e.Frame != nil {
			v["width"], v["height"] = e.Frame.Width, e.Frame.Height
		}
		return v
	default:
		return ev
	}
}
