// Package audio provides the clip container and PCM helpers used by the
// voice-practice pipeline: level metering for the recording indicator, WAV
// framing for upload to transcription backends, and Opus decoding for audio
// recorded in the browser.
//
// All PCM in this package is 16-bit little-endian signed ("int16 PCM").
package audio

import (
	"errors"
	"time"
)

// ErrEmptyClip is returned by operations that require at least one sample.
var ErrEmptyClip = errors.New("audio: clip contains no samples")

// Clip is one finalized utterance: the buffered recording produced by a single
// press-and-release of the record control. Clips are immutable once finalized.
type Clip struct {
	// PCM is the raw int16 little-endian sample data.
	PCM []byte

	// SampleRate in Hz (16000 for transcription input).
	SampleRate int

	// Channels is 1 for mono or 2 for stereo.
	Channels int
}

// Duration returns the playing time of the clip. A clip with a zero sample
// rate reports zero duration.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Empty reports whether the clip holds no audio at all.
func (c Clip) Empty() bool {
	return len(c.PCM) < 2
}

// StereoToMono downmixes interleaved stereo int16 PCM to mono by averaging
// the channel pairs. Input with an incomplete trailing frame is truncated.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		l := int16(uint16(pcm[i*4]) | uint16(pcm[i*4+1])<<8)
		r := int16(uint16(pcm[i*4+2]) | uint16(pcm[i*4+3])<<8)
		m := int16((int32(l) + int32(r)) / 2)
		out[i*2] = byte(m)
		out[i*2+1] = byte(m >> 8)
	}
	return out
}

// ResampleMono16 performs linear-interpolation resampling of mono int16 PCM
// from srcRate to dstRate. It returns the input unchanged when the rates
// already match.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	if srcSamples == 0 {
		return nil
	}
	dstSamples := srcSamples * dstRate / srcRate
	out := make([]byte, dstSamples*2)
	for i := 0; i < dstSamples; i++ {
		pos := float64(i) * float64(srcRate) / float64(dstRate)
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sampleAt(pcm, idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sampleAt(pcm, idx+1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
}
