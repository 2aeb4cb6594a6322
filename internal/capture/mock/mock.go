// Package mock provides fake capture devices for tests.
package mock

import (
	"context"
	"sync"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/pkg/audio"
)

// Device is a fake capture device. It hands out streams that return Clip and
// counts opens and closes so tests can assert that every acquired stream is
// released.
type Device struct {
	// Clip is returned by every stream's Read.
	Clip audio.Clip

	// OpenErr, when set, makes Open fail.
	OpenErr error

	// ReadErr, when set, makes the stream's Read fail.
	ReadErr error

	// LevelValue is returned by the stream's Level.
	LevelValue int

	mu     sync.Mutex
	opens  int
	closes int
	opts   []capture.Options
}

var _ capture.Device = (*Device)(nil)

// Open implements [capture.Device].
func (d *Device) Open(_ context.Context, opts capture.Options) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.opts = append(d.opts, opts)
	return &stream{device: d}, nil
}

// Opens returns how many streams have been acquired.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes returns how many streams have been released.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// LastOptions returns the options of the most recent Open.
func (d *Device) LastOptions() capture.Options {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opts) == 0 {
		return capture.Options{}
	}
	return d.opts[len(d.opts)-1]
}

type stream struct {
	device *Device
	once   sync.Once
}

func (s *stream) Read(context.Context) (audio.Clip, error) {
	if s.device.ReadErr != nil {
		return audio.Clip{}, s.device.ReadErr
	}
	return s.device.Clip, nil
}

func (s *stream) Level() int { return s.device.LevelValue }

func (s *stream) Close() error {
	s.once.Do(func() {
		s.device.mu.Lock()
		s.device.closes++
		s.device.mu.Unlock()
	})
	return nil
}
