package av

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/module"
)

// Stats receives per-frame outcomes of the audio pump. The metrics
// collector implements it.
type Stats interface {
	AudioFrameSent()
	AudioFrameDropped()
}

// TimeProvider abstracts time for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library clock.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Options configures the call module.
type Options struct {
	// Settings are sent with every call. The zero value selects
	// engine.DefaultCodecSettings.
	Settings engine.CodecSettings
	// Device opens capture and playback streams. Nil selects a
	// MemoryDevice.
	Device audio.Device
	// OutputDevice is the playback device id for every call.
	OutputDevice string
	// InputGain scales captured audio. Zero selects unity.
	InputGain    audio.Gain
	Stats        Stats
	TimeProvider TimeProvider
}

// Manager is the call signaling and media pump module.
type Manager struct {
	module.Base

	av           engine.AV
	settings     engine.CodecSettings
	device       audio.Device
	outputID     string
	gain         audio.Gain
	stats        Stats
	timeProvider TimeProvider

	calls map[uint32]*call

	input       audio.Source
	inputID     string
	inputFormat audio.Format
	frame       []byte
	// encoderBuf is shared by every call and every media kind. It grows
	// to the largest frame seen and is never shrunk.
	encoderBuf []byte

	pumpMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

var _ module.Module = (*Manager)(nil)

// terminalEvents end a call from the engine side.
var terminalEvents = []engine.CallEvent{
	engine.CallCancel,
	engine.CallReject,
	engine.CallEnd,
	engine.CallEnding,
	engine.CallRequestTimeout,
	engine.CallPeerTimeout,
}

// New creates the call module and registers its AV callbacks.
func New(eng engine.Engine, av engine.AV, lock *module.Lock, opts Options) *Manager {
	m := &Manager{
		Base:         module.NewBase("av", eng, lock),
		av:           av,
		settings:     opts.Settings,
		device:       opts.Device,
		outputID:     opts.OutputDevice,
		gain:         opts.InputGain,
		stats:        opts.Stats,
		timeProvider: opts.TimeProvider,
		calls:        make(map[uint32]*call),
	}
	if m.settings == (engine.CodecSettings{}) {
		m.settings = engine.DefaultCodecSettings()
	}
	if m.device == nil {
		m.device = audio.NewMemoryDevice()
	}
	if m.gain == 0 {
		m.gain = 1
	}
	if m.timeProvider == nil {
		m.timeProvider = DefaultTimeProvider{}
	}

	av.OnCallState(engine.CallInvite, m.handleInvite)
	av.OnCallState(engine.CallRinging, m.handleRinging)
	av.OnCallState(engine.CallStart, m.handleActivate)
	av.OnCallState(engine.CallStarting, m.handleActivate)
	av.OnCallState(engine.CallMediaChange, m.handleMediaChange)
	for _, ev := range terminalEvents {
		av.OnCallState(ev, func(callID uint32) { m.handleStopped(callID, ev) })
	}
	av.OnAudio(m.handleAudio)
	av.OnVideo(m.handleVideo)

	m.Log.WithFields(logrus.Fields{
		"function":    "New",
		"sample_rate": m.settings.AudioSampleRate,
		"channels":    m.settings.AudioChannels,
		"frame_ms":    m.settings.AudioFrameDuration,
	}).Debug("AV module created")
	return m
}

// Settings returns the codec settings sent with every call.
func (m *Manager) Settings() engine.CodecSettings {
	return m.settings
}

// Update is a no-op: call state is driven by engine callbacks and media by
// the pump.
func (m *Manager) Update() {}

// StartCall invites a friend. The call rings for engine.RingingTimeout.
func (m *Manager) StartCall(friendID uint32, withVideo bool) (uint32, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	id, err := m.av.Call(friendID, m.settings.WithCallType(withVideo), engine.RingingTimeout)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":  "StartCall",
			"friend_id": friendID,
			"error":     err.Error(),
		}).Error("Failed to start call")
		return 0, fmt.Errorf("call friend %d: %w", friendID, err)
	}

	c := &call{
		id:      id,
		friend:  friendID,
		state:   StateRinging,
		video:   withVideo,
		started: m.timeProvider.Now(),
	}
	m.calls[id] = c

	m.Log.WithFields(logrus.Fields{
		"function":   "StartCall",
		"call_id":    id,
		"friend_id":  friendID,
		"with_video": withVideo,
	}).Info("Call started")
	m.Emit(CallStarted{Call: c.info()})
	return id, nil
}

// AnswerCall answers an incoming call and activates it.
func (m *Manager) AnswerCall(callID uint32, withVideo bool) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("answer call %d: %w", callID, ErrCallNotFound)
	}
	if c.state != StateInvited {
		m.Log.WithFields(logrus.Fields{
			"function": "AnswerCall",
			"call_id":  callID,
			"state":    c.state.String(),
		}).Debug("Ignoring answer for a call not ringing here")
		return nil
	}

	if err := m.av.Answer(callID, m.settings.WithCallType(withVideo)); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "AnswerCall",
			"call_id":  callID,
			"error":    err.Error(),
		}).Error("Failed to answer call")
		return fmt.Errorf("answer call %d: %w", callID, err)
	}
	c.video = withVideo

	m.Log.WithFields(logrus.Fields{
		"function":   "AnswerCall",
		"call_id":    callID,
		"with_video": withVideo,
	}).Info("Call answered")
	m.Emit(CallAnswered{Call: c.info()})
	m.activateLocked(c)
	return nil
}

// RejectCall declines an incoming call. The call is removed even when the
// engine fails.
func (m *Manager) RejectCall(callID uint32) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("reject call %d: %w", callID, ErrCallNotFound)
	}
	if c.state != StateInvited {
		m.Log.WithFields(logrus.Fields{
			"function": "RejectCall",
			"call_id":  callID,
			"state":    c.state.String(),
		}).Debug("Ignoring reject for a call not ringing here")
		return nil
	}

	err := m.av.Reject(callID, "rejected")
	m.removeLocked(c, engine.CallReject)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "RejectCall",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Reject not delivered")
		return fmt.Errorf("reject call %d: %w", callID, err)
	}
	return nil
}

// HangupCall ends a call. When the engine refuses the hangup the call is
// stopped instead.
func (m *Manager) HangupCall(callID uint32) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("hang up call %d: %w", callID, ErrCallNotFound)
	}
	if err := m.av.Hangup(callID); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "HangupCall",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Hangup failed, stopping call")
		return m.stopLocked(c)
	}
	m.removeLocked(c, engine.CallEnd)
	return nil
}

// StopCall tears a call down. The local call is always removed.
func (m *Manager) StopCall(callID uint32) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("stop call %d: %w", callID, ErrCallNotFound)
	}
	return m.stopLocked(c)
}

func (m *Manager) stopLocked(c *call) error {
	err := m.av.StopCall(c.id)
	m.removeLocked(c, engine.CallEnd)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "stopLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Engine failed to stop call, removed locally")
		return fmt.Errorf("stop call %d: %w", c.id, err)
	}
	return nil
}

// ChangeCallType switches our side of a call between audio and video.
func (m *Manager) ChangeCallType(callID uint32, withVideo bool) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("change call %d: %w", callID, ErrCallNotFound)
	}
	if c.video == withVideo {
		return nil
	}
	if err := m.av.ChangeSettings(callID, m.settings.WithCallType(withVideo)); err != nil {
		return fmt.Errorf("change call %d: %w", callID, err)
	}
	c.video = withVideo
	m.Emit(CallMediaChanged{Call: c.info()})
	return nil
}

// Calls returns every tracked call ordered by id.
func (m *Manager) Calls() []Info {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	out := make([]Info, 0, len(m.calls))
	for _, id := range m.sortedIDs() {
		out = append(out, m.calls[id].info())
	}
	return out
}

// Call returns one tracked call.
func (m *Manager) Call(callID uint32) (Info, error) {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return Info{}, fmt.Errorf("call %d: %w", callID, ErrCallNotFound)
	}
	return c.info(), nil
}

func (m *Manager) sortedIDs() []uint32 {
	ids := make([]uint32, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// activateLocked opens the playback sink in the peer's format and starts
// transmission. Activating an active call does nothing.
func (m *Manager) activateLocked(c *call) {
	if c.state == StateActive {
		m.Log.WithFields(logrus.Fields{
			"function": "activateLocked",
			"call_id":  c.id,
		}).Debug("Call already active")
		return
	}

	peer, err := m.av.PeerCodecSettings(c.id, 0)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "activateLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Peer codec settings unavailable, assuming ours")
		peer = m.settings
	}

	c.format = audio.Format{SampleRate: peer.AudioSampleRate, Channels: peer.AudioChannels}
	sink, err := m.device.OpenOutput(m.outputID, c.format)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "activateLocked",
			"call_id":  c.id,
			"format":   c.format.String(),
			"error":    err.Error(),
		}).Warn("Cannot open playback, inbound audio will be dropped")
	} else {
		c.sink = sink
	}

	video := peer.CallType == engine.CallTypeVideo
	if err := m.av.PrepareTransmission(c.id, JitterBufferFrames, VADThreshold, video); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "activateLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Error("Failed to prepare transmission")
	}

	c.state = StateActive
	m.Log.WithFields(logrus.Fields{
		"function":  "activateLocked",
		"call_id":   c.id,
		"friend_id": c.friend,
		"format":    c.format.String(),
	}).Info("Call active")
	m.Emit(CallActive{Call: c.info()})
}

// removeLocked releases the sink, forgets the call and reports it stopped.
func (m *Manager) removeLocked(c *call, reason engine.CallEvent) {
	m.releaseLocked(c)
	delete(m.calls, c.id)

	m.Log.WithFields(logrus.Fields{
		"function": "removeLocked",
		"call_id":  c.id,
		"reason":   reason.String(),
	}).Info("Call stopped")
	m.Emit(CallStopped{Call: c.info(), Reason: reason})
}

func (m *Manager) releaseLocked(c *call) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Close(); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "releaseLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Failed to close playback")
	}
	c.sink = nil
}

// Close stops the pump and releases every stream. Calls are dropped
// without signaling; the session calls it while shutting the engine down.
func (m *Manager) Close() {
	m.Stop()

	m.Lock.Lock()
	defer m.Lock.Unlock()

	for id, c := range m.calls {
		m.releaseLocked(c)
		delete(m.calls, id)
	}
	if m.input != nil {
		if err := m.input.Close(); err != nil {
			m.Log.WithFields(logrus.Fields{
				"function": "Close",
				"error":    err.Error(),
			}).Warn("Failed to close audio input")
		}
		m.input = nil
	}
}

func (m *Manager) handleInvite(callID uint32) {
	friendID, err := m.av.PeerID(callID, 0)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "handleInvite",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Invite without a peer")
		return
	}
	video := false
	if peer, err := m.av.PeerCodecSettings(callID, 0); err == nil {
		video = peer.CallType == engine.CallTypeVideo
	}

	c := &call{
		id:       callID,
		friend:   friendID,
		state:    StateInvited,
		video:    video,
		incoming: true,
		started:  m.timeProvider.Now(),
	}
	m.calls[callID] = c

	m.Log.WithFields(logrus.Fields{
		"function":   "handleInvite",
		"call_id":    callID,
		"friend_id":  friendID,
		"with_video": video,
	}).Info("Incoming call")
	m.Emit(CallInvited{Call: c.info()})
}

func (m *Manager) handleRinging(callID uint32) {
	m.Log.WithFields(logrus.Fields{
		"function": "handleRinging",
		"call_id":  callID,
	}).Debug("Peer is ringing")
}

// handleActivate serves both Start (callee) and Starting (caller).
func (m *Manager) handleActivate(callID uint32) {
	c, ok := m.calls[callID]
	if !ok {
		m.Log.WithFields(logrus.Fields{
			"function": "handleActivate",
			"call_id":  callID,
		}).Debug("Start for unknown call")
		return
	}
	m.activateLocked(c)
}

func (m *Manager) handleStopped(callID uint32, reason engine.CallEvent) {
	c, ok := m.calls[callID]
	if !ok {
		m.Log.WithFields(logrus.Fields{
			"function": "handleStopped",
			"call_id":  callID,
			"reason":   reason.String(),
		}).Debug("Stop for unknown call")
		return
	}
	m.removeLocked(c, reason)
}

func (m *Manager) handleMediaChange(callID uint32) {
	c, ok := m.calls[callID]
	if !ok {
		return
	}
	peer, err := m.av.PeerCodecSettings(callID, 0)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "handleMediaChange",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Peer codec settings unavailable")
		return
	}
	c.video = peer.CallType == engine.CallTypeVideo
	m.Emit(CallMediaChanged{Call: c.info()})
}

// handleAudio writes inbound samples straight to the call's sink.
func (m *Manager) handleAudio(callID uint32, pcm []int16) {
	c, ok := m.calls[callID]
	if !ok || c.sink == nil {
		return
	}
	if _, err := c.sink.Write(audio.Bytes(pcm)); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "handleAudio",
			"call_id":  callID,
			"error":    err.Error(),
		}).Debug("Playback write failed")
	}
}

func (m *Manager) handleVideo(callID uint32, frame *engine.VideoFrame) {
	c, ok := m.calls[callID]
	if !ok || frame == nil {
		return
	}
	m.Emit(VideoFrameReceived{ID: callID, Friend: c.friend, Frame: copyFrame(frame)})
}
