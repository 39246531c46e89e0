package engine

import (
	"fmt"
	"time"
)

const (
	// MaxCalls is the number of simultaneous call slots.
	MaxCalls = 32
	// RingingTimeout is how long an unanswered invite rings.
	RingingTimeout = 15 * time.Second
)

// CallType selects audio-only or audio plus video.
type CallType uint8

const (
	CallTypeAudio CallType = iota
	CallTypeVideo
)

// CallEvent is a call state callback slot.
type CallEvent uint8

const (
	CallInvite CallEvent = iota
	CallStart
	CallCancel
	CallReject
	CallEnd
	CallRinging
	CallStarting
	CallEnding
	CallRequestTimeout
	CallPeerTimeout
	CallMediaChange
)

var callEventNames = [...]string{
	"invite", "start", "cancel", "reject", "end", "ringing",
	"starting", "ending", "request_timeout", "peer_timeout", "media_change",
}

// String returns the event name.
func (e CallEvent) String() string {
	if int(e) < len(callEventNames) {
		return callEventNames[e]
	}
	return fmt.Sprintf("call_event(%d)", uint8(e))
}

// CodecSettings describes the media a peer sends. Values are passed by
// copy and never mutated after a call starts.
type CodecSettings struct {
	CallType           CallType
	VideoBitrate       uint32
	MaxVideoWidth      uint16
	MaxVideoHeight     uint16
	AudioBitrate       uint32
	AudioFrameDuration uint16 // milliseconds
	AudioSampleRate    uint32
	AudioChannels      uint8
}

// DefaultCodecSettings returns the stock settings: 48 kHz mono, 20 ms frames.
func DefaultCodecSettings() CodecSettings {
	return CodecSettings{
		CallType:           CallTypeAudio,
		VideoBitrate:       500,
		MaxVideoWidth:      1200,
		MaxVideoHeight:     720,
		AudioBitrate:       64000,
		AudioFrameDuration: 20,
		AudioSampleRate:    48000,
		AudioChannels:      1,
	}
}

// WithCallType returns a copy with the call type set.
func (c CodecSettings) WithCallType(video bool) CodecSettings {
	if video {
		c.CallType = CallTypeVideo
	} else {
		c.CallType = CallTypeAudio
	}
	return c
}

// FrameDuration returns the audio frame duration.
func (c CodecSettings) FrameDuration() time.Duration {
	return time.Duration(c.AudioFrameDuration) * time.Millisecond
}

// VideoFrame is a raw I420 picture.
type VideoFrame struct {
	Width  uint16
	Height uint16
	Y      []byte
	U      []byte
	V      []byte
}

// MaxEncodedSize is the worst-case encoder output for the frame (YUVA).
func (f *VideoFrame) MaxEncodedSize() int {
	return int(f.Width) * int(f.Height) * 4
}

// CallStateCallback is called for one call state event.
type CallStateCallback func(callID uint32)

// AudioCallback receives decoded PCM samples for a call.
type AudioCallback func(callID uint32, pcm []int16)

// VideoCallback receives a decoded frame for a call.
type VideoCallback func(callID uint32, frame *VideoFrame)

// AV is the audio/video companion of an Engine. It shares the engine's
// serialization rules and fires its callbacks from the engine's Iterate.
type AV interface {
	// Call invites a friend and returns the call index.
	Call(friendID uint32, settings CodecSettings, ringing time.Duration) (uint32, error)
	Answer(callID uint32, settings CodecSettings) error
	Reject(callID uint32, reason string) error
	Hangup(callID uint32) error
	StopCall(callID uint32) error
	ChangeSettings(callID uint32, settings CodecSettings) error

	PeerCodecSettings(callID uint32, peer int) (CodecSettings, error)
	PeerID(callID uint32, peer int) (uint32, error)

	PrepareTransmission(callID uint32, jitterBuffer, vadThreshold int, video bool) error
	KillTransmission(callID uint32) error

	// PrepareAudioFrame encodes pcm into dst and returns the encoded length.
	PrepareAudioFrame(callID uint32, dst []byte, pcm []int16) (int, error)
	SendAudio(callID uint32, frame []byte) error
	// PrepareVideoFrame encodes frame into dst and returns the encoded length.
	PrepareVideoFrame(callID uint32, dst []byte, frame *VideoFrame) (int, error)
	SendVideo(callID uint32, frame []byte) error

	OnCallState(event CallEvent, cb CallStateCallback)
	OnAudio(cb AudioCallback)
	OnVideo(cb VideoCallback)

	Kill()
}
