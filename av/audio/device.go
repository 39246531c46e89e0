package audio

import "errors"

var (
	// ErrDeviceNotFound is returned when opening an unknown device id.
	ErrDeviceNotFound = errors.New("audio device not found")
	// ErrUnsupportedFormat is returned for a format the device cannot open.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrStreamClosed is returned by Read and Write after Close.
	ErrStreamClosed = errors.New("audio stream closed")
)

// DefaultDeviceID selects the system default device.
const DefaultDeviceID = ""

// DeviceInfo describes one input or output.
type DeviceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// Source is an open capture stream.
type Source interface {
	// Buffered reports how many bytes Read can return without blocking.
	Buffered() int
	Read(p []byte) (int, error)
	Close() error
}

// Sink is an open playback stream.
type Sink interface {
	Write(p []byte) (int, error)
	Close() error
}

// Device enumerates and opens PCM streams.
type Device interface {
	Inputs() []DeviceInfo
	Outputs() []DeviceInfo
	OpenInput(id string, format Format) (Source, error)
	OpenOutput(id string, format Format) (Sink, error)
}
