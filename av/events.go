package av

import "github.com/opd-ai/toxclient/engine"

// CallInvited reports a remote invite. The call is never answered
// automatically.
type CallInvited struct {
	Call Info
}

// CallStarted reports an outgoing call placed with StartCall.
type CallStarted struct {
	Call Info
}

// CallAnswered reports a successful AnswerCall.
type CallAnswered struct {
	Call Info
}

// CallActive reports that playback and transmission are set up.
type CallActive struct {
	Call Info
}

// CallMediaChanged reports a call type change from either side.
type CallMediaChanged struct {
	Call Info
}

// CallStopped reports that a call is gone. Its sink is already closed and
// the call cannot be looked up any more. Reason is the engine event that
// ended it, or CallEnd and CallReject for local hangups and rejects.
type CallStopped struct {
	Call   Info
	Reason engine.CallEvent
}

// VideoFrameReceived carries one decoded inbound frame.
type VideoFrameReceived struct {
	ID     uint32
	Friend uint32
	Frame  *engine.VideoFrame
}

func (CallInvited) EventName() string        { return "call_invited" }
func (CallStarted) EventName() string        { return "call_started" }
func (CallAnswered) EventName() string       { return "call_answered" }
func (CallActive) EventName() string         { return "call_active" }
func (CallMediaChanged) EventName() string   { return "call_media_changed" }
func (CallStopped) EventName() string        { return "call_stopped" }
func (VideoFrameReceived) EventName() string { return "video_frame_received" }
