// Package audio is the boundary between the call module and sound
// hardware.
//
// The call module consumes a Device: it lists inputs and outputs and
// opens PCM streams. Every stream carries 16-bit signed little-endian
// samples; Format only chooses the sample rate and channel count.
//
//	dev := audio.NewMemoryDevice()
//	src, err := dev.OpenInput(audio.DefaultDeviceID, audio.Format{SampleRate: 48000, Channels: 1})
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	frame := make([]byte, audio.Format{SampleRate: 48000, Channels: 1}.BytesForDuration(20*time.Millisecond))
//	if src.Buffered() >= len(frame) {
//	    _, err = src.Read(frame)
//	}
//
// # Memory device
//
// MemoryDevice is an in-process Device. Inputs are fed with Feed and
// outputs record everything written to them, which makes it the device
// used by tests and by the daemon when no hardware backend is linked in.
//
// # Gain
//
// Gain scales samples with clipping. The call module applies it to each
// captured frame before fan-out.
package audio
