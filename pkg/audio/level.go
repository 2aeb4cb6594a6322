package audio

import "math"

// levelFloor is the RMS value (relative to full scale) treated as silence.
// Roughly -60 dBFS, below typical microphone noise floors.
const levelFloor = 0.001

// Level computes a display amplitude in [0, 100] from a frame of int16 PCM.
// The mapping is logarithmic so that normal speech sits mid-scale rather than
// pinning the meter. The value drives the recording indicator only; it carries
// no correctness weight.
func Level(pcm []byte) int {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(sampleAt(pcm, i)) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms <= levelFloor {
		return 0
	}
	// Map [levelFloor, 1.0] onto [0, 100] in dB space.
	db := 20 * math.Log10(rms)
	floorDB := 20 * math.Log10(levelFloor)
	level := int((db - floorDB) / -floorDB * 100)
	if level < 0 {
		return 0
	}
	if level > 100 {
		return 100
	}
	return level
}
