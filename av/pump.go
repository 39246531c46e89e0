package av

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/engine"
)

var errEmptyEncode = errors.New("encoder produced no data")

// SetAudioInput switches the capture device feeding every call. On error
// the previous input stays selected.
func (m *Manager) SetAudioInput(deviceID string) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	format := audio.Format{SampleRate: m.settings.AudioSampleRate, Channels: m.settings.AudioChannels}
	src, err := m.device.OpenInput(deviceID, format)
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function":  "SetAudioInput",
			"device_id": deviceID,
			"error":     err.Error(),
		}).Warn("Cannot open audio input")
		return fmt.Errorf("open audio input %q: %w", deviceID, err)
	}
	if m.input != nil {
		if err := m.input.Close(); err != nil {
			m.Log.WithFields(logrus.Fields{
				"function":  "SetAudioInput",
				"device_id": m.inputID,
				"error":     err.Error(),
			}).Warn("Failed to close previous audio input")
		}
	}
	m.input, m.inputID, m.inputFormat = src, deviceID, format

	m.Log.WithFields(logrus.Fields{
		"function":  "SetAudioInput",
		"device_id": deviceID,
		"format":    format.String(),
	}).Info("Audio input selected")
	return nil
}

// PumpAudio runs one pump step. When a whole frame is buffered it reads
// exactly one frame and sends the same bytes to every active call. It
// reports whether a frame was consumed.
func (m *Manager) PumpAudio() bool {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	if m.input == nil {
		return false
	}
	n := m.inputFormat.BytesForDuration(m.settings.FrameDuration())
	if n == 0 || m.input.Buffered() < n {
		return false
	}
	if cap(m.frame) < n {
		m.frame = make([]byte, n)
	}
	frame := m.frame[:n]
	got, err := m.input.Read(frame)
	if err != nil || got != n {
		m.Log.WithFields(logrus.Fields{
			"function": "PumpAudio",
			"want":     n,
			"got":      got,
			"error":    fmt.Sprint(err),
		}).Warn("Short read from audio input")
		return false
	}
	if clipped := m.gain.Apply(frame); clipped > 0 {
		m.Log.WithFields(logrus.Fields{
			"function": "PumpAudio",
			"clipped":  clipped,
			"gain":     m.gain.String(),
		}).Debug("Input gain clipped samples")
	}

	for _, id := range m.sortedIDs() {
		if c := m.calls[id]; c.state == StateActive {
			m.sendAudioLocked(c, frame)
		}
	}
	return true
}

// SendAudioFrame encodes and sends one s16le frame on a call. A frame the
// encoder or engine refuses is dropped and not retried.
func (m *Manager) SendAudioFrame(callID uint32, pcm []byte) error {
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("send audio on call %d: %w", callID, ErrCallNotFound)
	}
	if c.state != StateActive {
		m.Log.WithFields(logrus.Fields{
			"function": "SendAudioFrame",
			"call_id":  callID,
			"state":    c.state.String(),
		}).Debug("Ignoring audio for inactive call")
		return nil
	}
	m.sendAudioLocked(c, pcm)
	return nil
}

// SendVideoFrame encodes and sends one frame on a call. A frame the
// encoder or engine refuses is dropped and not retried.
func (m *Manager) SendVideoFrame(callID uint32, frame *engine.VideoFrame) error {
	if frame == nil {
		return errors.New("nil video frame")
	}
	m.Lock.Lock()
	defer m.Lock.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return fmt.Errorf("send video on call %d: %w", callID, ErrCallNotFound)
	}
	if c.state != StateActive {
		m.Log.WithFields(logrus.Fields{
			"function": "SendVideoFrame",
			"call_id":  callID,
			"state":    c.state.String(),
		}).Debug("Ignoring video for inactive call")
		return nil
	}

	buf := m.encoderBuffer(frame.MaxEncodedSize())
	n, err := m.av.PrepareVideoFrame(callID, buf, frame)
	if err == nil && n <= 0 {
		err = errEmptyEncode
	}
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "SendVideoFrame",
			"call_id":  callID,
			"error":    err.Error(),
		}).Warn("Cannot encode video, frame dropped")
		return nil
	}
	if err := m.av.SendVideo(callID, buf[:n]); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "SendVideoFrame",
			"call_id":  callID,
			"error":    err.Error(),
		}).Debug("Video frame not sent")
	}
	return nil
}

func (m *Manager) sendAudioLocked(c *call, frame []byte) {
	buf := m.encoderBuffer(2 * len(frame))
	n, err := m.av.PrepareAudioFrame(c.id, buf, audio.Samples(frame))
	if err == nil && n <= 0 {
		err = errEmptyEncode
	}
	if err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "sendAudioLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Warn("Cannot encode audio, frame dropped")
		m.frameDropped()
		return
	}
	if err := m.av.SendAudio(c.id, buf[:n]); err != nil {
		m.Log.WithFields(logrus.Fields{
			"function": "sendAudioLocked",
			"call_id":  c.id,
			"error":    err.Error(),
		}).Debug("Audio frame not sent")
		m.frameDropped()
		return
	}
	if m.stats != nil {
		m.stats.AudioFrameSent()
	}
}

func (m *Manager) frameDropped() {
	if m.stats != nil {
		m.stats.AudioFrameDropped()
	}
}

// encoderBuffer returns the shared buffer, grown to at least size.
func (m *Manager) encoderBuffer(size int) []byte {
	if len(m.encoderBuf) < size {
		m.encoderBuf = make([]byte, size)
	}
	return m.encoderBuf
}

// Start runs PumpAudio on a ticker with the audio frame duration as its
// period. Starting a running pump does nothing.
func (m *Manager) Start() {
	m.pumpMu.Lock()
	defer m.pumpMu.Unlock()

	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.pumpLoop(m.stop, m.done, m.settings.FrameDuration())

	m.Log.WithFields(logrus.Fields{
		"function": "Start",
		"period":   m.settings.FrameDuration().String(),
	}).Debug("Audio pump started")
}

// Stop halts the pump and waits for it. It must not be called with the
// session lock held.
func (m *Manager) Stop() {
	m.pumpMu.Lock()
	defer m.pumpMu.Unlock()

	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
	m.stop, m.done = nil, nil
}

func (m *Manager) pumpLoop(stop <-chan struct{}, done chan<- struct{}, period time.Duration) {
	defer close(done)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.PumpAudio()
		}
	}
}
