// Package stt defines the Provider interface for speech-to-text backends.
//
// Verbly's recordings are single buffered utterances — the learner presses
// record, speaks one phrase, and releases — so the contract is batch: one
// finalized clip in, one transcript out. Providers wrap either a remote
// transcription API (the OpenAI Whisper API) or a local whisper.cpp model.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/verbly-ai/verbly/pkg/audio"
)

// Result is the outcome of transcribing one clip.
type Result struct {
	// Text is the transcribed speech. May be empty or whitespace-only when
	// the clip contained no recognisable speech; interpreting that as
	// "no speech detected" is the caller's responsibility.
	Text string

	// Confidence is the provider's overall confidence in [0.0, 1.0].
	// Zero when the provider does not report confidence.
	Confidence float64
}

// Provider is the abstraction over any speech-to-text backend.
//
// Transcribe must respect ctx cancellation and return promptly when ctx is
// done. A non-nil error means the provider could not produce a transcript at
// all (network failure, auth failure, timeout); an empty Result.Text with a
// nil error is a valid "heard nothing" outcome.
type Provider interface {
	// Transcribe converts one finalized clip into text. languageHint is a
	// BCP-47 tag (e.g. "en") passed to the backend when supported; an empty
	// hint lets the backend auto-detect.
	Transcribe(ctx context.Context, clip audio.Clip, languageHint string) (Result, error)
}
