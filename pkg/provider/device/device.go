// Package device defines the on-device speech synthesis capability — the
// terminal entry of the synthesis fallback chain.
//
// Unlike the remote providers in pkg/provider/tts, on-device synthesis runs
// on the learner's machine (the browser's speech facility, bridged over the
// session's event stream). It produces no retrievable audio handle, so turns
// spoken this way cannot be replayed later. Support is not guaranteed: a
// runtime without the capability reports ErrUnavailable, at which point the
// conversation degrades to text-only.
package device

import (
	"context"
	"errors"
)

// ErrUnavailable is reported when the runtime has no usable on-device
// synthesis capability.
var ErrUnavailable = errors.New("device: on-device synthesis unavailable")

// Utterance is one request to the on-device synthesizer.
type Utterance struct {
	// Text is the content to speak. Must be non-empty.
	Text string

	// VoiceSelector is a best-effort hint for picking among the device's
	// installed voices (e.g. "female", "male"). The device may ignore it.
	VoiceSelector string

	// Pitch adjusts voice pitch; 1.0 is the device default.
	Pitch float64

	// Rate adjusts speaking rate; 1.0 is the device default.
	Rate float64
}

// Synthesizer is the on-device synthesis capability.
type Synthesizer interface {
	// Speak requests that the device speak the utterance. It returns once
	// the request is accepted, not once playback finishes — the device owns
	// playback timing. Returns ErrUnavailable when the capability is
	// missing or disabled.
	Speak(ctx context.Context, u Utterance) error
}
