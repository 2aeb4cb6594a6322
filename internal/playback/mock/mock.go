// Package mock provides a fake playback sink for tests.
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/pkg/audio"
)

// Sink is a fake playback sink. Play returns immediately unless Block is
// set, in which case it waits for ctx cancellation or Release.
type Sink struct {
	// Err, if non-nil, is returned from every Play call.
	Err error

	// Block makes Play wait until Release is called or ctx is cancelled.
	Block bool

	mu       sync.Mutex
	played   []audio.Clip
	release  chan struct{}
	blocking bool
}

var _ playback.Sink = (*Sink)(nil)

// Play implements [playback.Sink].
func (s *Sink) Play(ctx context.Context, clip audio.Clip) error {
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return s.Err
	}
	s.played = append(s.played, clip)
	if !s.Block {
		s.mu.Unlock()
		return nil
	}
	if s.release == nil {
		s.release = make(chan struct{})
	}
	release := s.release
	s.blocking = true
	s.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release unblocks a Play call waiting in Block mode.
func (s *Sink) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
		s.blocking = false
	}
}

// Played returns the clips handed to Play, in order.
func (s *Sink) Played() []audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Clip, len(s.played))
	copy(out, s.played)
	return out
}

// Blocking reports whether a Play call is currently waiting.
func (s *Sink) Blocking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocking
}
