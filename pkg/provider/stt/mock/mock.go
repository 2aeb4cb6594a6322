// Package mock provides a call-recording test double for the stt.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the clip passed to Transcribe.
	Clip audio.Clip
	// LanguageHint is the language hint passed to Transcribe.
	LanguageHint string
}

// Provider is a mock implementation of stt.Provider.
//
// When Results is non-empty, successive calls return its elements in order,
// sticking on the last one. Err, if non-nil, is returned by every call
// instead.
type Provider struct {
	mu sync.Mutex

	// Results is the sequence of results returned by successive calls.
	Results []stt.Result

	// Err, if non-nil, is returned from every Transcribe call.
	Err error

	// Calls records every invocation in order.
	Calls []TranscribeCall

	next int
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the configured result or error.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, languageHint string) (stt.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Clip: clip, LanguageHint: languageHint})
	if p.Err != nil {
		return stt.Result{}, p.Err
	}
	if len(p.Results) == 0 {
		return stt.Result{}, nil
	}
	r := p.Results[p.next]
	if p.next < len(p.Results)-1 {
		p.next++
	}
	return r, nil
}

// Reset clears recorded calls and rewinds the result sequence.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}
