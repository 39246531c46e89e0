package audio

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// MemoryDevice is an in-process Device. Inputs play back whatever Feed
// queued; outputs record what was written.
type MemoryDevice struct {
	mu      sync.Mutex
	inputs  []DeviceInfo
	outputs []DeviceInfo
	sources map[string][]*MemorySource
	sinks   []*MemorySink
}

var _ Device = (*MemoryDevice)(nil)

// NewMemoryDevice creates a device with one default input and output,
// both with the id "memory".
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{
		inputs:  []DeviceInfo{{ID: "memory", Name: "Memory input", Default: true}},
		outputs: []DeviceInfo{{ID: "memory", Name: "Memory output", Default: true}},
		sources: make(map[string][]*MemorySource),
	}
}

// AddInput registers another capture device.
func (d *MemoryDevice) AddInput(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.inputs = append(d.inputs, DeviceInfo{ID: id, Name: name})
}

// AddOutput registers another playback device.
func (d *MemoryDevice) AddOutput(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs = append(d.outputs, DeviceInfo{ID: id, Name: name})
}

func (d *MemoryDevice) Inputs() []DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeviceInfo(nil), d.inputs...)
}

func (d *MemoryDevice) Outputs() []DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DeviceInfo(nil), d.outputs...)
}

func resolve(list []DeviceInfo, id string) (DeviceInfo, error) {
	for _, info := range list {
		if info.ID == id || (id == DefaultDeviceID && info.Default) {
			return info, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id)
}

// OpenInput opens a capture stream on the named input.
func (d *MemoryDevice) OpenInput(id string, format Format) (Source, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := resolve(d.inputs, id)
	if err != nil {
		return nil, err
	}
	s := &MemorySource{device: d, id: info.ID, format: format}
	d.sources[info.ID] = append(d.sources[info.ID], s)

	logrus.WithFields(logrus.Fields{
		"function": "OpenInput",
		"device":   info.ID,
		"format":   format.String(),
	}).Debug("Opened memory input")
	return s, nil
}

// OpenOutput opens a playback stream on the named output.
func (d *MemoryDevice) OpenOutput(id string, format Format) (Sink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := resolve(d.outputs, id)
	if err != nil {
		return nil, err
	}
	s := &MemorySink{id: info.ID, format: format}
	d.sinks = append(d.sinks, s)

	logrus.WithFields(logrus.Fields{
		"function": "OpenOutput",
		"device":   info.ID,
		"format":   format.String(),
	}).Debug("Opened memory output")
	return s, nil
}

// Feed queues captured bytes on every open stream of an input. The default
// input is selected by DefaultDeviceID.
func (d *MemoryDevice) Feed(id string, pcm []byte) {
	d.mu.Lock()
	info, err := resolve(d.inputs, id)
	var open []*MemorySource
	if err == nil {
		open = append(open, d.sources[info.ID]...)
	}
	d.mu.Unlock()

	for _, s := range open {
		s.push(pcm)
	}
}

// Sinks returns every output stream opened so far, closed ones included.
func (d *MemoryDevice) Sinks() []*MemorySink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MemorySink(nil), d.sinks...)
}

func (d *MemoryDevice) detach(s *MemorySource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.sources[s.id]
	for i, v := range list {
		if v == s {
			d.sources[s.id] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// MemorySource is a capture stream of a MemoryDevice.
type MemorySource struct {
	device *MemoryDevice
	id     string
	format Format

	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *MemorySource) push(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.buf.Write(p)
	}
}

// Format returns the format the stream was opened with.
func (s *MemorySource) Format() Format { return s.format }

func (s *MemorySource) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Read never blocks; it returns 0 and no error when nothing is queued.
func (s *MemorySource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	if s.buf.Len() == 0 {
		return 0, nil
	}
	return s.buf.Read(p)
}

func (s *MemorySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf.Reset()
	s.mu.Unlock()

	s.device.detach(s)
	return nil
}

// MemorySink is a playback stream of a MemoryDevice.
type MemorySink struct {
	id     string
	format Format

	mu     sync.Mutex
	data   []byte
	closed bool
}

// Device returns the output id the sink was opened on.
func (s *MemorySink) Device() string { return s.id }

// Format returns the format the stream was opened with.
func (s *MemorySink) Format() Format { return s.format }

func (s *MemorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Data returns a copy of everything written.
func (s *MemorySink) Data() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data...)
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
