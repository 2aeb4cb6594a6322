// Package mock provides a call-recording test double for the
// device.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/pkg/provider/device"
)

// Synthesizer is a mock implementation of device.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Err, if non-nil, is returned from every Speak call. Set to
	// device.ErrUnavailable to simulate a runtime without the capability.
	Err error

	// Spoken records every utterance passed to Speak, in order.
	Spoken []device.Utterance
}

// Compile-time interface assertion.
var _ device.Synthesizer = (*Synthesizer)(nil)

// Speak records the utterance and returns the configured error.
func (s *Synthesizer) Speak(_ context.Context, u device.Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Spoken = append(s.Spoken, u)
	return nil
}

// Reset clears recorded utterances.
func (s *Synthesizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Spoken = nil
}
