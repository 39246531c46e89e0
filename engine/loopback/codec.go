package loopback

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/opus"

	"github.com/opd-ai/toxclient/engine"
)

// Audio frames carry a one byte codec tag. PrepareAudioFrame emits PCM;
// SendOpusAudio forwards packets that were Opus encoded elsewhere and the
// receiver decodes them with pion/opus.
const (
	codecPCM  byte = 0
	codecOpus byte = 1

	// opusFrameSamples is what the decoder produces per packet: 20 ms of
	// 48 kHz mono.
	opusFrameSamples = 960
	videoHeaderSize  = 4
)

var errShortBuffer = errors.New("destination buffer too small")

type audioCodec struct {
	decoder opus.Decoder
	scratch []byte
}

func newAudioCodec() *audioCodec {
	return &audioCodec{decoder: opus.NewDecoder(), scratch: make([]byte, opusFrameSamples*2)}
}

// encodePCM writes a PCM tagged frame into dst and returns its length.
func encodePCM(dst []byte, pcm []int16) (int, error) {
	need := 1 + 2*len(pcm)
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", errShortBuffer, need, len(dst))
	}
	dst[0] = codecPCM
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(dst[1+2*i:], uint16(s))
	}
	return need, nil
}

// encodeOpus tags an Opus packet for the wire.
func encodeOpus(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, errors.New("empty opus packet")
	}
	frame := make([]byte, 1+len(packet))
	frame[0] = codecOpus
	copy(frame[1:], packet)
	return frame, nil
}

// opusDuration reads the frame duration from an Opus TOC byte and returns
// it in 48 kHz samples.
func opusDuration(toc byte) uint32 {
	config := toc >> 3
	switch {
	case config < 12: // SILK: 10, 20, 40, 60 ms
		return [...]uint32{480, 960, 1920, 2880}[config%4]
	case config < 16: // hybrid: 10, 20 ms
		return [...]uint32{480, 960}[config%2]
	default: // CELT: 2.5, 5, 10, 20 ms
		return [...]uint32{120, 240, 480, 960}[config%4]
	}
}

// decode turns a tagged frame back into samples.
func (c *audioCodec) decode(frame []byte) ([]int16, error) {
	if len(frame) == 0 {
		return nil, errors.New("empty audio frame")
	}
	body := frame[1:]
	switch frame[0] {
	case codecPCM:
		if len(body)%2 != 0 {
			return nil, fmt.Errorf("odd PCM payload length %d", len(body))
		}
		return bytesToSamples(body), nil
	case codecOpus:
		if _, _, err := c.decoder.Decode(body, c.scratch); err != nil {
			return nil, fmt.Errorf("opus decode failed: %w", err)
		}
		return bytesToSamples(c.scratch), nil
	default:
		return nil, fmt.Errorf("unknown audio codec tag %d", frame[0])
	}
}

func bytesToSamples(data []byte) []int16 {
	pcm := make([]int16, len(data)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return pcm
}

// encodeVideo writes width, height and the three planes into dst.
func encodeVideo(dst []byte, frame *engine.VideoFrame) (int, error) {
	if frame == nil || frame.Width == 0 || frame.Height == 0 {
		return 0, errors.New("empty video frame")
	}
	luma := int(frame.Width) * int(frame.Height)
	chroma := ((int(frame.Width) + 1) / 2) * ((int(frame.Height) + 1) / 2)
	if len(frame.Y) < luma || len(frame.U) < chroma || len(frame.V) < chroma {
		return 0, errors.New("video planes shorter than frame size")
	}
	need := videoHeaderSize + luma + 2*chroma
	if len(dst) < need {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", errShortBuffer, need, len(dst))
	}
	binary.BigEndian.PutUint16(dst[0:], frame.Width)
	binary.BigEndian.PutUint16(dst[2:], frame.Height)
	off := videoHeaderSize
	off += copy(dst[off:], frame.Y[:luma])
	off += copy(dst[off:], frame.U[:chroma])
	off += copy(dst[off:], frame.V[:chroma])
	return off, nil
}

func decodeVideo(data []byte) (*engine.VideoFrame, error) {
	if len(data) < videoHeaderSize {
		return nil, errors.New("video frame too short")
	}
	w := binary.BigEndian.Uint16(data[0:])
	h := binary.BigEndian.Uint16(data[2:])
	luma := int(w) * int(h)
	chroma := ((int(w) + 1) / 2) * ((int(h) + 1) / 2)
	body := data[videoHeaderSize:]
	if len(body) != luma+2*chroma {
		return nil, fmt.Errorf("video payload %d bytes, want %d", len(body), luma+2*chroma)
	}
	return &engine.VideoFrame{
		Width:  w,
		Height: h,
		Y:      append([]byte(nil), body[:luma]...),
		U:      append([]byte(nil), body[luma:luma+chroma]...),
		V:      append([]byte(nil), body[luma+chroma:]...),
	}, nil
}
