package audio

import (
	"fmt"
	"math"
)

// MaxGain is the largest accepted gain multiplier (about +12 dB).
const MaxGain = 4.0

// Gain is a linear volume multiplier with clipping. 0 is silence and 1 is
// unity.
type Gain float64

// NewGain validates a multiplier.
func NewGain(g float64) (Gain, error) {
	if g < 0 || math.IsNaN(g) {
		return 0, fmt.Errorf("gain cannot be negative: %f", g)
	}
	if g > MaxGain {
		return 0, fmt.Errorf("gain too high (max %.1f): %f", MaxGain, g)
	}
	return Gain(g), nil
}

// Apply scales s16le PCM in place and returns how many samples clipped.
func (g Gain) Apply(pcm []byte) int {
	if g == 1 {
		return 0
	}
	clipped := 0
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(uint16(pcm[i])|uint16(pcm[i+1])<<8)) * float64(g)
		var s int16
		switch {
		case v > math.MaxInt16:
			s = math.MaxInt16
			clipped++
		case v < math.MinInt16:
			s = math.MinInt16
			clipped++
		default:
			s = int16(v)
		}
		pcm[i] = byte(s)
		pcm[i+1] = byte(uint16(s) >> 8)
	}
	return clipped
}

// String formats the gain for logs.
func (g Gain) String() string {
	return fmt.Sprintf("Gain(%.2f)", float64(g))
}
