package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// BytesPerSample is the size of one s16le sample.
const BytesPerSample = 2

// Format describes a PCM stream. Samples are always 16-bit signed
// little-endian.
type Format struct {
	SampleRate uint32
	Channels   uint8
}

// Validate rejects formats no device can open.
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrUnsupportedFormat)
	}
	if f.Channels == 0 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	return nil
}

// BytesPerFrame is the size of one sample for every channel.
func (f Format) BytesPerFrame() int {
	return BytesPerSample * int(f.Channels)
}

// BytesForDuration returns how many bytes hold d of audio.
func (f Format) BytesForDuration(d time.Duration) int {
	frames := int64(f.SampleRate) * int64(d) / int64(time.Second)
	return int(frames) * f.BytesPerFrame()
}

// SamplesPerChannel returns the frame count held in n bytes.
func (f Format) SamplesPerChannel(n int) int {
	if f.BytesPerFrame() == 0 {
		return 0
	}
	return n / f.BytesPerFrame()
}

func (f Format) String() string {
	return fmt.Sprintf("s16le/%dHz/%dch", f.SampleRate, f.Channels)
}

// Samples decodes s16le bytes. A trailing odd byte is ignored.
func Samples(b []byte) []int16 {
	out := make([]int16, len(b)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// Bytes encodes samples as s16le.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
