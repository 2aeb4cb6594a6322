// Package mock provides a call-recording test double for the tts.Provider
// interface.
//
// Example:
//
//	p := &mock.Provider{Clip: audio.Clip{PCM: []byte("pcm"), SampleRate: 16000, Channels: 1}}
//	clip, _ := p.Synthesize(ctx, "hello", voice)
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the utterance passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Clip is returned by Synthesize when Err is nil.
	Clip audio.Clip

	// Err, if non-nil, is returned from every Synthesize call.
	Err error

	// VoicesResult is returned by Voices.
	VoicesResult []tts.Voice

	// VoicesErr, if non-nil, is returned as the error from Voices.
	VoicesErr error

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// VoicesCalls counts calls to Voices.
	VoicesCalls int
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns the configured clip or error.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	if p.Err != nil {
		return audio.Clip{}, p.Err
	}
	return p.Clip, nil
}

// Voices records the call and returns VoicesResult, VoicesErr.
func (p *Provider) Voices(_ context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VoicesCalls++
	return p.VoicesResult, p.VoicesErr
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.VoicesCalls = 0
}
