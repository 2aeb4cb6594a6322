package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Browser recorders deliver 48 kHz Opus at 20 ms frame size.
const (
	opusSampleRate = 48000
	opusFrameSize  = 960 // samples per channel per 20 ms frame
)

// OpusDecoder decodes a stream of Opus frames recorded in the browser into
// int16 PCM. Decoder state carries across frames, so one decoder must be used
// per recording and must not be shared between goroutines.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates a decoder for browser-recorded audio.
// channels must be 1 or 2.
func NewOpusDecoder(channels int) (*OpusDecoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", channels)
	}
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode converts a single Opus frame to int16 little-endian PCM bytes.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(frame, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

// SampleRate returns the decoder's output sample rate in Hz.
func (d *OpusDecoder) SampleRate() int { return opusSampleRate }

// Channels returns the decoder's output channel count.
func (d *OpusDecoder) Channels() int { return d.channels }
