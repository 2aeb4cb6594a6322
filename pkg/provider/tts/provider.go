// Package tts defines the Provider interface for text-to-speech backends.
//
// Replies in a practice session are short single utterances, so the contract
// is batch: one utterance of text in, one finalized clip out. Provider
// instability is expected and routine — callers are responsible for failover
// across an ordered provider list (see internal/synthesis).
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/verbly-ai/verbly/pkg/audio"
)

// Voice identifies a synthesis voice within one provider's namespace.
// Voice IDs are never portable across providers; translating a character's
// derived voice profile into each provider's namespace is the caller's job.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which backend this voice belongs to.
	Provider string

	// Metadata holds provider-specific voice attributes (gender, accent, …).
	Metadata map[string]string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts one utterance of text into a finalized PCM clip
	// using the given voice. A zero-value voice requests the provider's
	// default voice.
	//
	// Any non-nil error — including timeouts surfaced through ctx — counts
	// as a provider failure for failover purposes.
	Synthesize(ctx context.Context, text string, voice Voice) (audio.Clip, error)

	// Voices returns the provider's current voice catalogue.
	Voices(ctx context.Context) ([]Voice, error)
}
