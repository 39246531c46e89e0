// Package av implements call signaling and the shared audio pump.
//
// A call is tracked from the moment it is placed or offered until the
// engine reports it over:
//
//	outgoing:  StartCall → Ringing → Starting → Active
//	incoming:  Invite → AnswerCall → Active (Start is then a no-op)
//	both:      Cancel, Reject, End, Ending, RequestTimeout, PeerTimeout → gone
//
// Going active opens a playback sink on the audio Device in s16le at the
// peer's sample rate and channel count, then prepares transmission with
// JitterBufferFrames and VADThreshold. Inbound audio is written straight to
// that sink; there is no jitter buffer above the engine.
//
// # Audio pump
//
// One capture stream feeds every call. PumpAudio reads exactly one frame,
// sized from the codec settings' frame duration, whenever that much is
// buffered and sends the same bytes to each active call. Start runs it on
// a ticker with the frame duration as period:
//
//	calls := av.New(eng, toxAV, lock, av.Options{Device: dev})
//	if err := calls.SetAudioInput(audio.DefaultDeviceID); err != nil {
//	    return err
//	}
//	calls.Start()
//	defer calls.Close()
//
// Encoded frames go through one buffer that grows to the largest frame
// seen. A frame the encoder or the engine refuses is dropped, never
// retried.
//
// # Teardown
//
// StopCall always forgets the call, and HangupCall falls back to it when
// the engine refuses the hangup. Every removal closes the sink before
// CallStopped is delivered.
package av
