package loopback

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/pion/rtp"
)

// Media frames travel as RTP packets inside friend packets.
const (
	payloadTypeAudio uint8 = 96 // dynamic, as used for Opus (RFC 7587)
	payloadTypeVideo uint8 = 97
	videoClockStep         = 3000 // 90 kHz clock at 30 frames per second
)

// rtpStream numbers one outgoing media stream.
type rtpStream struct {
	ssrc        uint32
	payloadType uint8
	seq         uint16
	timestamp   uint32
}

func newRTPStream(payloadType uint8) (*rtpStream, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return nil, fmt.Errorf("generate ssrc: %w", err)
	}
	return &rtpStream{ssrc: binary.BigEndian.Uint32(b[:]), payloadType: payloadType}, nil
}

// wrap marshals payload and advances the stream clock by step units.
func (s *rtpStream) wrap(payload []byte, step uint32) ([]byte, error) {
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.timestamp,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := p.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal rtp packet: %w", err)
	}
	s.seq++
	s.timestamp += step
	return data, nil
}

// rtpReceiver drops stale and duplicate packets of one incoming stream.
type rtpReceiver struct {
	started bool
	ssrc    uint32
	lastSeq uint16
}

// accept parses a packet and reports whether its payload should be played.
func (r *rtpReceiver) accept(data []byte, payloadType uint8) ([]byte, bool, error) {
	var p rtp.Packet
	if err := p.Unmarshal(data); err != nil {
		return nil, false, fmt.Errorf("unmarshal rtp packet: %w", err)
	}
	if p.PayloadType != payloadType {
		return nil, false, fmt.Errorf("unexpected payload type %d", p.PayloadType)
	}
	if r.started && p.SSRC == r.ssrc && int16(p.SequenceNumber-r.lastSeq) <= 0 {
		return nil, false, nil
	}
	r.started = true
	r.ssrc = p.SSRC
	r.lastSeq = p.SequenceNumber
	return p.Payload, true, nil
}

// audioStep returns how many sample periods a tagged audio frame covers.
func audioStep(frame []byte, channels uint8) uint32 {
	if len(frame) < 1 || channels == 0 {
		return 0
	}
	if frame[0] == codecOpus {
		if len(frame) < 2 {
			return 0
		}
		return opusDuration(frame[1])
	}
	return uint32((len(frame) - 1) / 2 / int(channels))
}
