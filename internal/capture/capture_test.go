package capture_test

import (
	"context"
	"errors"
	"testing"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/capture/mock"
	"github.com/verbly-ai/verbly/pkg/audio"
)

func testClip() audio.Clip {
	return audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

func TestSession_StartFinalize(t *testing.T) {
	dev := &mock.Device{Clip: testClip()}
	s := capture.NewSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Active() {
		t.Fatal("session should be active after Start")
	}
	if opts := dev.LastOptions(); !opts.EchoCancellation || !opts.NoiseSuppression {
		t.Errorf("options = %+v, want echo cancellation and noise suppression", opts)
	}

	clip, err := s.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if clip.Empty() {
		t.Error("expected non-empty clip")
	}
	if s.Active() {
		t.Error("session should be inactive after Finalize")
	}
	if dev.Closes() != 1 {
		t.Errorf("closes = %d, want 1", dev.Closes())
	}
}

func TestSession_PermissionDenied(t *testing.T) {
	dev := &mock.Device{OpenErr: capture.ErrPermissionDenied}
	s := capture.NewSession(dev, nil)

	err := s.Start(context.Background())
	if !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if s.Active() {
		t.Error("session must not be active after a denied Start")
	}
}

func TestSession_DoubleStartRejected(t *testing.T) {
	dev := &mock.Device{Clip: testClip()}
	s := capture.NewSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start must fail while capture is active")
	}
	if dev.Opens() != 1 {
		t.Errorf("opens = %d, want 1", dev.Opens())
	}
}

func TestSession_StopWhenInactiveIsNoop(t *testing.T) {
	dev := &mock.Device{}
	s := capture.NewSession(dev, nil)

	s.Stop()
	if dev.Closes() != 0 {
		t.Errorf("closes = %d, want 0", dev.Closes())
	}
}

func TestSession_FinalizeWhenInactive(t *testing.T) {
	s := capture.NewSession(&mock.Device{}, nil)
	if _, err := s.Finalize(context.Background()); !errors.Is(err, capture.ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestSession_ReleasesStreamOnReadError(t *testing.T) {
	dev := &mock.Device{ReadErr: errors.New("stream torn down")}
	s := capture.NewSession(dev, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Finalize(context.Background()); err == nil {
		t.Fatal("expected read error")
	}
	if dev.Closes() != 1 {
		t.Errorf("closes = %d, want 1 (stream must be released on failure)", dev.Closes())
	}
}

func TestSession_LevelZeroWhenInactive(t *testing.T) {
	dev := &mock.Device{Clip: testClip(), LevelValue: 57}
	s := capture.NewSession(dev, nil)

	if got := s.Level(); got != 0 {
		t.Errorf("Level() = %d before Start, want 0", got)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.Level(); got != 57 {
		t.Errorf("Level() = %d, want 57", got)
	}
}
