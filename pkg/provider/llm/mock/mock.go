// Package mock provides a call-recording test double for the llm.Provider
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the request passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
//
// When Responses is non-empty, successive calls return its elements in order,
// sticking on the last one. Err, if non-nil, is returned by every call
// instead.
type Provider struct {
	mu sync.Mutex

	// Responses is the sequence of responses returned by successive calls.
	Responses []*llm.CompletionResponse

	// Err, if non-nil, is returned from every Complete call.
	Err error

	// Calls records every invocation in order.
	Calls []CompleteCall

	next int
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the configured response or error.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	r := p.Responses[p.next]
	if p.next < len(p.Responses)-1 {
		p.next++
	}
	return r, nil
}

// Reset clears recorded calls and rewinds the response sequence.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}
