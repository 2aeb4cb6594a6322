// Package capture manages microphone capture for one practice session. The
// actual input device lives on the connected client; the server sees it
// through the [Device] interface, which the HTTP layer implements over the
// session's event stream.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/verbly-ai/verbly/pkg/audio"
)

// ErrPermissionDenied is reported when the user declines microphone access or
// no input device exists. The caller surfaces it; capture is never retried
// automatically.
var ErrPermissionDenied = errors.New("microphone permission denied")

// ErrNotActive is returned by [Session.Finalize] when no capture is running.
var ErrNotActive = errors.New("capture session not active")

// Options request audio-processing features from the device. Devices apply
// them best-effort.
type Options struct {
	EchoCancellation bool
	NoiseSuppression bool
}

// Device abstracts the microphone. Open acquires the input stream; the
// returned Stream must be closed exactly once to release the hardware.
type Device interface {
	Open(ctx context.Context, opts Options) (Stream, error)
}

// Stream is one acquired capture stream.
type Stream interface {
	// Read returns the finalized clip recorded so far. It is called once,
	// after the user stops speaking.
	Read(ctx context.Context) (audio.Clip, error)

	// Level returns the current input amplitude in [0,100]. Display-only;
	// values carry no correctness guarantee.
	Level() int

	// Close releases the microphone and any processing graph. Idempotent.
	Close() error
}

// Session turns a user gesture into a single finalized clip. At most one
// stream is active at a time; Start while active is rejected.
type Session struct {
	device Device
	log    *slog.Logger

	mu     sync.Mutex
	stream Stream
}

// NewSession creates a capture session over device.
func NewSession(device Device, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{device: device, log: log}
}

// Start acquires the microphone with echo cancellation and noise suppression
// requested. A permission failure surfaces as [ErrPermissionDenied].
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("capture already active")
	}

	stream, err := s.device.Open(ctx, Options{
		EchoCancellation: true,
		NoiseSuppression: true,
	})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("opening capture device: %w", err)
	}
	s.stream = stream
	s.log.Debug("capture started")
	return nil
}

// Active reports whether a capture stream is currently held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Level returns the current input amplitude in [0,100], or 0 when inactive.
func (s *Session) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return 0
	}
	return s.stream.Level()
}

// Finalize stops capture, releases the microphone, and returns the recorded
// clip. The stream is released even when reading the clip fails.
func (s *Session) Finalize(ctx context.Context) (audio.Clip, error) {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return audio.Clip{}, ErrNotActive
	}
	defer func() {
		if err := stream.Close(); err != nil {
			s.log.Warn("closing capture stream", "error", err)
		}
	}()

	clip, err := stream.Read(ctx)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("reading captured clip: %w", err)
	}
	s.log.Debug("capture finalized", "duration", clip.Duration())
	return clip, nil
}

// Stop releases the microphone without returning a clip. Calling Stop when
// not active is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.log.Warn("closing capture stream", "error", err)
	}
}
