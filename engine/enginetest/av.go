package enginetest

import (
	"fmt"
	"time"

	"github.com/opd-ai/toxclient/engine"
)

// Call is the fake's record of one call slot.
type Call struct {
	Friend       uint32
	Settings     engine.CodecSettings
	Peer         engine.CodecSettings
	Ringing      time.Duration
	Answered     bool
	Transmitting bool
	Video        bool
	JitterBuffer int
	VADThreshold int
}

// SentFrame records one SendAudio or SendVideo call.
type SentFrame struct {
	Call uint32
	Data []byte
}

// AV is a scriptable engine.AV.
type AV struct {
	Calls    map[uint32]*Call
	nextCall uint32
	Killed   bool

	// Errors returned by the matching commands when set.
	CallErr      error
	AnswerErr    error
	RejectErr    error
	HangupErr    error
	StopErr      error
	PrepareErr   error
	SendAudioErr error

	// EncodeHook replaces the audio encoder when set.
	EncodeHook func(dst []byte, pcm []int16) (int, error)

	Hangups  []uint32
	Stops    []uint32
	Rejects  []uint32
	Changes  []uint32
	Audio    []SentFrame
	Video    []SentFrame
	EncodeAt []int // dst capacity seen by each PrepareAudioFrame

	stateCbs map[engine.CallEvent]engine.CallStateCallback
	audioCb  engine.AudioCallback
	videoCb  engine.VideoCallback
}

var _ engine.AV = (*AV)(nil)

// NewAV creates an empty fake AV.
func NewAV() *AV {
	return &AV{
		Calls:    make(map[uint32]*Call),
		stateCbs: make(map[engine.CallEvent]engine.CallStateCallback),
	}
}

func (a *AV) call(id uint32) (*Call, error) {
	c, ok := a.Calls[id]
	if !ok {
		return nil, engine.ErrCallNotFound
	}
	return c, nil
}

// Call allocates an outgoing call.
func (a *AV) Call(friendID uint32, settings engine.CodecSettings, ringing time.Duration) (uint32, error) {
	if a.CallErr != nil {
		return 0, a.CallErr
	}
	id := a.nextCall
	a.nextCall++
	a.Calls[id] = &Call{Friend: friendID, Settings: settings, Ringing: ringing}
	return id, nil
}

// AddIncoming registers an incoming call without firing the invite.
func (a *AV) AddIncoming(friendID uint32, peer engine.CodecSettings) uint32 {
	id := a.nextCall
	a.nextCall++
	a.Calls[id] = &Call{Friend: friendID, Peer: peer}
	return id
}

func (a *AV) Answer(callID uint32, settings engine.CodecSettings) error {
	if a.AnswerErr != nil {
		return a.AnswerErr
	}
	c, err := a.call(callID)
	if err != nil {
		return err
	}
	c.Settings = settings
	c.Answered = true
	return nil
}

func (a *AV) Reject(callID uint32, reason string) error {
	a.Rejects = append(a.Rejects, callID)
	if a.RejectErr != nil {
		return a.RejectErr
	}
	if _, err := a.call(callID); err != nil {
		return err
	}
	delete(a.Calls, callID)
	return nil
}

func (a *AV) Hangup(callID uint32) error {
	a.Hangups = append(a.Hangups, callID)
	if a.HangupErr != nil {
		return a.HangupErr
	}
	_, err := a.call(callID)
	return err
}

func (a *AV) StopCall(callID uint32) error {
	a.Stops = append(a.Stops, callID)
	if a.StopErr != nil {
		return a.StopErr
	}
	if _, err := a.call(callID); err != nil {
		return err
	}
	delete(a.Calls, callID)
	return nil
}

func (a *AV) ChangeSettings(callID uint32, settings engine.CodecSettings) error {
	c, err := a.call(callID)
	if err != nil {
		return err
	}
	a.Changes = append(a.Changes, callID)
	c.Settings = settings
	return nil
}

func (a *AV) PeerCodecSettings(callID uint32, peer int) (engine.CodecSettings, error) {
	c, err := a.call(callID)
	if err != nil {
		return engine.CodecSettings{}, err
	}
	if peer != 0 {
		return engine.CodecSettings{}, fmt.Errorf("peer %d out of range", peer)
	}
	return c.Peer, nil
}

func (a *AV) PeerID(callID uint32, peer int) (uint32, error) {
	c, err := a.call(callID)
	if err != nil {
		return 0, err
	}
	return c.Friend, nil
}

func (a *AV) PrepareTransmission(callID uint32, jitterBuffer, vadThreshold int, video bool) error {
	if a.PrepareErr != nil {
		return a.PrepareErr
	}
	c, err := a.call(callID)
	if err != nil {
		return err
	}
	c.Transmitting = true
	c.Video = video
	c.JitterBuffer = jitterBuffer
	c.VADThreshold = vadThreshold
	return nil
}

func (a *AV) KillTransmission(callID uint32) error {
	c, err := a.call(callID)
	if err != nil {
		return err
	}
	c.Transmitting = false
	return nil
}

// PrepareAudioFrame copies the samples little endian into dst unless
// EncodeHook overrides it.
func (a *AV) PrepareAudioFrame(callID uint32, dst []byte, pcm []int16) (int, error) {
	a.EncodeAt = append(a.EncodeAt, len(dst))
	if _, err := a.call(callID); err != nil {
		return 0, err
	}
	if a.EncodeHook != nil {
		return a.EncodeHook(dst, pcm)
	}
	if len(dst) < 2*len(pcm) {
		return 0, fmt.Errorf("buffer of %d bytes too small", len(dst))
	}
	for i, s := range pcm {
		dst[2*i] = byte(s)
		dst[2*i+1] = byte(uint16(s) >> 8)
	}
	return 2 * len(pcm), nil
}

func (a *AV) SendAudio(callID uint32, frame []byte) error {
	if a.SendAudioErr != nil {
		return a.SendAudioErr
	}
	if _, err := a.call(callID); err != nil {
		return err
	}
	a.Audio = append(a.Audio, SentFrame{Call: callID, Data: append([]byte(nil), frame...)})
	return nil
}

// PrepareVideoFrame concatenates the planes into dst.
func (a *AV) PrepareVideoFrame(callID uint32, dst []byte, frame *engine.VideoFrame) (int, error) {
	if _, err := a.call(callID); err != nil {
		return 0, err
	}
	need := len(frame.Y) + len(frame.U) + len(frame.V)
	if len(dst) < need {
		return 0, fmt.Errorf("buffer of %d bytes too small", len(dst))
	}
	n := copy(dst, frame.Y)
	n += copy(dst[n:], frame.U)
	n += copy(dst[n:], frame.V)
	return n, nil
}

func (a *AV) SendVideo(callID uint32, frame []byte) error {
	if _, err := a.call(callID); err != nil {
		return err
	}
	a.Video = append(a.Video, SentFrame{Call: callID, Data: append([]byte(nil), frame...)})
	return nil
}

func (a *AV) OnCallState(event engine.CallEvent, cb engine.CallStateCallback) {
	a.stateCbs[event] = cb
}

func (a *AV) OnAudio(cb engine.AudioCallback) { a.audioCb = cb }
func (a *AV) OnVideo(cb engine.VideoCallback) { a.videoCb = cb }
func (a *AV) Kill()                           { a.Killed = true }

// Fire reports a call state event. Terminal events free the slot first,
// as a real engine does.
func (a *AV) Fire(event engine.CallEvent, callID uint32) {
	switch event {
	case engine.CallCancel, engine.CallReject, engine.CallEnd, engine.CallEnding,
		engine.CallRequestTimeout, engine.CallPeerTimeout:
		delete(a.Calls, callID)
	}
	if cb := a.stateCbs[event]; cb != nil {
		cb(callID)
	}
}

// FireAudio delivers decoded samples for a call.
func (a *AV) FireAudio(callID uint32, pcm []int16) {
	if a.audioCb != nil {
		a.audioCb(callID, pcm)
	}
}

// FireVideo delivers a decoded frame for a call.
func (a *AV) FireVideo(callID uint32, frame *engine.VideoFrame) {
	if a.videoCb != nil {
		a.videoCb(callID, frame)
	}
}
