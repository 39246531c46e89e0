package loopback

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/engine"
)

type callPhase uint8

const (
	phaseOutgoing callPhase = iota // invite sent, not answered
	phaseIncoming                  // invite received, not answered
	phaseActive
	phaseEnding // local hangup, Ending not yet reported
)

type avCall struct {
	id       uint32
	friendID uint32
	peerRef  uint32
	phase    callPhase

	local     engine.CodecSettings
	peer      engine.CodecSettings
	peerKnown bool

	started time.Time
	ringing time.Duration

	transmitting bool
	video        bool
	jitterBuffer int
	vadThreshold int

	audioOut *rtpStream
	videoOut *rtpStream
	audioIn  rtpReceiver
	videoIn  rtpReceiver
}

type queuedCallEvent struct {
	event  engine.CallEvent
	callID uint32
}

// AV is the call engine of a loopback node. It implements engine.AV and is
// driven from the owning Tox's Iterate.
type AV struct {
	tox      *Tox
	maxCalls uint32
	calls    map[uint32]*avCall
	queued   []queuedCallEvent
	codec    *audioCodec
	killed   bool

	stateCbs [engine.CallMediaChange + 1]engine.CallStateCallback
	audioCb  engine.AudioCallback
	videoCb  engine.VideoCallback
}

var _ engine.AV = (*AV)(nil)

// NewAV attaches a call engine to a node.
func NewAV(tox *Tox, maxCalls int) (*AV, error) {
	if tox == nil {
		return nil, errors.New("loopback: nil tox")
	}
	if tox.av != nil {
		return nil, errors.New("loopback: AV already attached")
	}
	if maxCalls <= 0 {
		return nil, fmt.Errorf("loopback: invalid call limit %d", maxCalls)
	}
	av := &AV{
		tox:      tox,
		maxCalls: uint32(maxCalls),
		calls:    make(map[uint32]*avCall),
		codec:    newAudioCodec(),
	}
	tox.av = av
	return av, nil
}

// Call invites a friend. The invite is cancelled if unanswered after ringing.
func (av *AV) Call(friendID uint32, settings engine.CodecSettings, ringing time.Duration) (uint32, error) {
	if av.killed {
		return 0, engine.ErrKilled
	}
	f, ok := av.tox.friends[friendID]
	if !ok {
		return 0, engine.ErrFriendNotFound
	}
	if av.callWithFriend(friendID) != nil {
		return 0, fmt.Errorf("%w: friend %d already in a call", engine.ErrInvalidCallState, friendID)
	}
	id, err := av.allocate()
	if err != nil {
		return 0, err
	}
	s := settings
	if err := av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalInvite, Call: id, Settings: &s}); err != nil {
		return 0, err
	}
	if ringing <= 0 {
		ringing = engine.RingingTimeout
	}
	av.calls[id] = &avCall{
		id:       id,
		friendID: friendID,
		phase:    phaseOutgoing,
		local:    settings,
		started:  av.tox.timeProvider.Now(),
		ringing:  ringing,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Call",
		"call_id":   id,
		"friend_id": friendID,
		"video":     settings.CallType == engine.CallTypeVideo,
	}).Info("Call invite sent")
	return id, nil
}

// Answer accepts an incoming invite. Start is reported on the next iteration.
func (av *AV) Answer(callID uint32, settings engine.CodecSettings) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	if c.phase != phaseIncoming {
		return fmt.Errorf("%w: answer in phase %d", engine.ErrInvalidCallState, c.phase)
	}
	s := settings
	if err := av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalStarting, Call: c.id, Ref: c.peerRef, Settings: &s}); err != nil {
		return err
	}
	c.local = settings
	c.phase = phaseActive
	av.queue(engine.CallStart, c.id)
	return nil
}

// Reject declines an incoming invite.
func (av *AV) Reject(callID uint32, reason string) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	if c.phase != phaseIncoming {
		return fmt.Errorf("%w: reject in phase %d", engine.ErrInvalidCallState, c.phase)
	}
	delete(av.calls, c.id)
	return av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalReject, Ref: c.peerRef, Text: reason})
}

// Hangup ends a call. An unanswered outgoing invite is cancelled. Ending
// is reported on the next iteration, after which the slot is free.
func (av *AV) Hangup(callID uint32) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	signal := signalEnd
	switch c.phase {
	case phaseOutgoing:
		signal = signalCancel
	case phaseIncoming:
		signal = signalReject
	case phaseEnding:
		return fmt.Errorf("%w: call already ending", engine.ErrInvalidCallState)
	}
	c.phase = phaseEnding
	c.transmitting = false
	av.queue(engine.CallEnding, c.id)
	return av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signal, Ref: c.peerRef})
}

// StopCall drops a call without telling the peer.
func (av *AV) StopCall(callID uint32) error {
	if _, ok := av.calls[callID]; !ok {
		return engine.ErrCallNotFound
	}
	delete(av.calls, callID)
	return nil
}

// ChangeSettings renegotiates media on an active call.
func (av *AV) ChangeSettings(callID uint32, settings engine.CodecSettings) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	if c.phase != phaseActive {
		return fmt.Errorf("%w: media change in phase %d", engine.ErrInvalidCallState, c.phase)
	}
	s := settings
	if err := av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalMedia, Ref: c.peerRef, Settings: &s}); err != nil {
		return err
	}
	c.local = settings
	return nil
}

// PeerCodecSettings returns what the peer announced. Calls are one to one,
// so peer must be 0.
func (av *AV) PeerCodecSettings(callID uint32, peer int) (engine.CodecSettings, error) {
	c, ok := av.calls[callID]
	if !ok {
		return engine.CodecSettings{}, engine.ErrCallNotFound
	}
	if peer != 0 {
		return engine.CodecSettings{}, fmt.Errorf("peer %d out of range", peer)
	}
	if !c.peerKnown {
		return engine.CodecSettings{}, fmt.Errorf("%w: peer settings unknown", engine.ErrInvalidCallState)
	}
	return c.peer, nil
}

// PeerID returns the friend on the other end of a call.
func (av *AV) PeerID(callID uint32, peer int) (uint32, error) {
	c, ok := av.calls[callID]
	if !ok {
		return 0, engine.ErrCallNotFound
	}
	if peer != 0 {
		return 0, fmt.Errorf("peer %d out of range", peer)
	}
	return c.friendID, nil
}

// PrepareTransmission enables media on an active call.
func (av *AV) PrepareTransmission(callID uint32, jitterBuffer, vadThreshold int, video bool) error {
	c, ok := av.calls[callID]
	if !ok {
		return engine.ErrCallNotFound
	}
	if c.phase != phaseActive {
		return fmt.Errorf("%w: transmission in phase %d", engine.ErrInvalidCallState, c.phase)
	}
	c.transmitting = true
	c.video = video
	c.jitterBuffer = jitterBuffer
	c.vadThreshold = vadThreshold
	return nil
}

// KillTransmission stops media on a call.
func (av *AV) KillTransmission(callID uint32) error {
	c, ok := av.calls[callID]
	if !ok {
		return engine.ErrCallNotFound
	}
	c.transmitting = false
	return nil
}

// PrepareAudioFrame encodes pcm into dst.
func (av *AV) PrepareAudioFrame(callID uint32, dst []byte, pcm []int16) (int, error) {
	if _, ok := av.calls[callID]; !ok {
		return 0, engine.ErrCallNotFound
	}
	if len(pcm) == 0 {
		return 0, nil
	}
	return encodePCM(dst, pcm)
}

// SendAudio sends one encoded audio frame.
func (av *AV) SendAudio(callID uint32, frame []byte) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	if !c.transmitting {
		return fmt.Errorf("%w: not transmitting", engine.ErrInvalidCallState)
	}
	if c.audioOut == nil {
		if c.audioOut, err = newRTPStream(payloadTypeAudio); err != nil {
			return err
		}
	}
	data, err := c.audioOut.wrap(frame, audioStep(frame, c.local.AudioChannels))
	if err != nil {
		return err
	}
	return av.tox.sendPacket(f, &packet{Kind: PacketAudio, Ref: c.peerRef, Data: data})
}

// SendOpusAudio sends a packet that was already Opus encoded, such as one
// read from an Ogg file. The receiver decodes it to 48 kHz mono.
func (av *AV) SendOpusAudio(callID uint32, packet []byte) error {
	frame, err := encodeOpus(packet)
	if err != nil {
		return err
	}
	return av.SendAudio(callID, frame)
}

// PrepareVideoFrame encodes a frame into dst.
func (av *AV) PrepareVideoFrame(callID uint32, dst []byte, frame *engine.VideoFrame) (int, error) {
	if _, ok := av.calls[callID]; !ok {
		return 0, engine.ErrCallNotFound
	}
	return encodeVideo(dst, frame)
}

// SendVideo sends one encoded video frame.
func (av *AV) SendVideo(callID uint32, frame []byte) error {
	c, f, err := av.lookup(callID)
	if err != nil {
		return err
	}
	if !c.transmitting || !c.video {
		return fmt.Errorf("%w: video not enabled", engine.ErrInvalidCallState)
	}
	if c.videoOut == nil {
		if c.videoOut, err = newRTPStream(payloadTypeVideo); err != nil {
			return err
		}
	}
	data, err := c.videoOut.wrap(frame, videoClockStep)
	if err != nil {
		return err
	}
	return av.tox.sendPacket(f, &packet{Kind: PacketVideo, Ref: c.peerRef, Data: data})
}

// OnCallState registers the callback for one call event.
func (av *AV) OnCallState(event engine.CallEvent, cb engine.CallStateCallback) {
	if int(event) < len(av.stateCbs) {
		av.stateCbs[event] = cb
	}
}

// OnAudio registers the decoded audio callback.
func (av *AV) OnAudio(cb engine.AudioCallback) { av.audioCb = cb }

// OnVideo registers the decoded video callback.
func (av *AV) OnVideo(cb engine.VideoCallback) { av.videoCb = cb }

// Kill drops every call.
func (av *AV) Kill() {
	av.killed = true
	av.calls = make(map[uint32]*avCall)
	av.queued = nil
}

func (av *AV) lookup(callID uint32) (*avCall, *friendEntry, error) {
	if av.killed {
		return nil, nil, engine.ErrKilled
	}
	c, ok := av.calls[callID]
	if !ok {
		return nil, nil, engine.ErrCallNotFound
	}
	f, ok := av.tox.friends[c.friendID]
	if !ok {
		return nil, nil, engine.ErrFriendNotFound
	}
	return c, f, nil
}

func (av *AV) allocate() (uint32, error) {
	for id := uint32(0); id < av.maxCalls; id++ {
		if _, used := av.calls[id]; !used {
			return id, nil
		}
	}
	return 0, engine.ErrTooManyCalls
}

func (av *AV) callWithFriend(friendID uint32) *avCall {
	for _, c := range av.calls {
		if c.friendID == friendID {
			return c
		}
	}
	return nil
}

func (av *AV) queue(event engine.CallEvent, callID uint32) {
	av.queued = append(av.queued, queuedCallEvent{event: event, callID: callID})
}

func (av *AV) fire(event engine.CallEvent, callID uint32) {
	logrus.WithFields(logrus.Fields{
		"function": "fire",
		"call_id":  callID,
		"event":    event.String(),
	}).Debug("Call state event")
	if cb := av.stateCbs[event]; cb != nil {
		cb(callID)
	}
}

// iterate reports queued local events and expires unanswered invites.
func (av *AV) iterate() {
	if av.killed {
		return
	}
	queued := av.queued
	av.queued = nil
	for _, q := range queued {
		if q.event == engine.CallEnding {
			delete(av.calls, q.callID)
		}
		av.fire(q.event, q.callID)
	}

	for _, id := range av.sortedCallIDs() {
		c, ok := av.calls[id]
		if !ok || c.phase != phaseOutgoing {
			continue
		}
		if av.tox.timeProvider.Since(c.started) < c.ringing {
			continue
		}
		delete(av.calls, id)
		if f, ok := av.tox.friends[c.friendID]; ok {
			_ = av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalCancel, Ref: c.peerRef})
		}
		logrus.WithFields(logrus.Fields{
			"function":  "iterate",
			"call_id":   id,
			"friend_id": c.friendID,
		}).Info("Call invite timed out")
		av.fire(engine.CallRequestTimeout, id)
	}
}

func (av *AV) sortedCallIDs() []uint32 {
	ids := make([]uint32, 0, len(av.calls))
	for id := range av.calls {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// dropFriend removes every call with a friend. With notify set each one is
// reported as a peer timeout.
func (av *AV) dropFriend(friendID uint32, notify bool) {
	for _, id := range av.sortedCallIDs() {
		if av.calls[id].friendID != friendID {
			continue
		}
		delete(av.calls, id)
		if notify {
			av.fire(engine.CallPeerTimeout, id)
		}
	}
}

// handlePacket processes call signals and media from a friend.
func (av *AV) handlePacket(friendID uint32, p *packet) {
	if av.killed {
		return
	}
	if p.Kind == PacketCallSignal && p.Signal == signalInvite {
		av.handleInvite(friendID, p)
		return
	}

	// Ref is unset until the peer acknowledged the invite. There is at most
	// one call per friend, so fall back to the friend.
	c, ok := av.calls[p.Ref]
	if !ok || c.friendID != friendID {
		c = av.callWithFriend(friendID)
	}
	if c == nil {
		logrus.WithFields(logrus.Fields{
			"function":  "handlePacket",
			"friend_id": friendID,
			"call_ref":  p.Ref,
		}).Debug("Call packet for unknown call")
		return
	}

	switch p.Kind {
	case PacketAudio:
		av.handleAudio(c, p.Data)
	case PacketVideo:
		av.handleVideo(c, p.Data)
	case PacketCallSignal:
		av.handleSignal(c, p)
	}
}

func (av *AV) handleInvite(friendID uint32, p *packet) {
	f, ok := av.tox.friends[friendID]
	if !ok {
		return
	}
	busy := av.callWithFriend(friendID) != nil
	id, err := av.allocate()
	if busy || err != nil {
		_ = av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalReject, Ref: p.Call, Text: "busy"})
		return
	}
	c := &avCall{id: id, friendID: friendID, peerRef: p.Call, phase: phaseIncoming}
	if p.Settings != nil {
		c.peer = *p.Settings
		c.peerKnown = true
	}
	av.calls[id] = c
	_ = av.tox.sendPacket(f, &packet{Kind: PacketCallSignal, Signal: signalRinging, Call: id, Ref: p.Call})
	av.fire(engine.CallInvite, id)
}

func (av *AV) handleSignal(c *avCall, p *packet) {
	switch p.Signal {
	case signalRinging:
		if c.phase == phaseOutgoing {
			c.peerRef = p.Call
			av.fire(engine.CallRinging, c.id)
		}
	case signalStarting:
		if c.phase != phaseOutgoing {
			return
		}
		c.peerRef = p.Call
		if p.Settings != nil {
			c.peer = *p.Settings
			c.peerKnown = true
		}
		c.phase = phaseActive
		av.fire(engine.CallStarting, c.id)
	case signalCancel:
		delete(av.calls, c.id)
		av.fire(engine.CallCancel, c.id)
	case signalReject:
		delete(av.calls, c.id)
		av.fire(engine.CallReject, c.id)
	case signalEnd:
		delete(av.calls, c.id)
		av.fire(engine.CallEnd, c.id)
	case signalMedia:
		if p.Settings != nil {
			c.peer = *p.Settings
			c.peerKnown = true
		}
		av.fire(engine.CallMediaChange, c.id)
	}
}

func (av *AV) handleAudio(c *avCall, data []byte) {
	if c.phase != phaseActive || av.audioCb == nil {
		return
	}
	frame, ok, err := c.audioIn.accept(data, payloadTypeAudio)
	if err != nil || !ok {
		logrus.WithFields(logrus.Fields{
			"function": "handleAudio",
			"call_id":  c.id,
			"error":    fmt.Sprint(err),
		}).Debug("Dropping audio packet")
		return
	}
	pcm, err := av.codec.decode(frame)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleAudio",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Dropping undecodable audio frame")
		return
	}
	av.audioCb(c.id, pcm)
}

func (av *AV) handleVideo(c *avCall, data []byte) {
	if c.phase != phaseActive || av.videoCb == nil {
		return
	}
	payload, ok, err := c.videoIn.accept(data, payloadTypeVideo)
	if err != nil || !ok {
		logrus.WithFields(logrus.Fields{
			"function": "handleVideo",
			"call_id":  c.id,
			"error":    fmt.Sprint(err),
		}).Debug("Dropping video packet")
		return
	}
	frame, err := decodeVideo(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handleVideo",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Dropping undecodable video frame")
		return
	}
	av.videoCb(c.id, frame)
}
