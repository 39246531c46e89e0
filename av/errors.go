package av

import "errors"

// Sentinel errors for call operations.
var (
	// ErrCallNotFound indicates the module does not track the call.
	ErrCallNotFound = errors.New("call not found")

	// ErrNoAudioInput indicates the pump has no capture stream.
	ErrNoAudioInput = errors.New("no audio input selected")
)
