package av

import (
	"fmt"
	"time"

	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/engine"
)

// Transmission parameters passed to the engine when a call goes active.
// They are fixed for the lifetime of the call.
const (
	JitterBufferFrames = 3
	VADThreshold       = 40
)

// State is the local view of a call.
type State uint8

const (
	// StateInvited is an incoming call not yet answered.
	StateInvited State = iota
	// StateRinging is an outgoing call waiting for the peer.
	StateRinging
	// StateActive is a call with media flowing.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInvited:
		return "invited"
	case StateRinging:
		return "ringing"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Info is a copy of a call's public state.
type Info struct {
	ID       uint32       `json:"id"`
	Friend   uint32       `json:"friend"`
	State    State        `json:"state"`
	Video    bool         `json:"video"`
	Incoming bool         `json:"incoming"`
	Playback audio.Format `json:"playback"`
	Started  time.Time    `json:"started"`
}

// call is the module's record of one call index. The session lock guards
// every field.
type call struct {
	id       uint32
	friend   uint32
	state    State
	video    bool
	incoming bool
	started  time.Time

	// sink plays inbound audio while the call is active.
	sink   audio.Sink
	format audio.Format
}

func (c *call) info() Info {
	return Info{
		ID:       c.id,
		Friend:   c.friend,
		State:    c.state,
		Video:    c.video,
		Incoming: c.incoming,
		Playback: c.format,
		Started:  c.started,
	}
}

// copyFrame detaches a frame from engine-owned buffers.
func copyFrame(f *engine.VideoFrame) *engine.VideoFrame {
	if f == nil {
		return nil
	}
	return &engine.VideoFrame{
		Width:  f.Width,
		Height: f.Height,
		Y:      append([]byte(nil), f.Y...),
		U:      append([]byte(nil), f.U...),
		V:      append([]byte(nil), f.V...),
	}
}
