package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/device"
)

// hub fans session events out to every connected event-stream client.
// Slow subscribers drop messages rather than stalling the pipeline.
type hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan []byte]struct{})}
}

// subscribe registers a new event channel. The returned func removes it.
func (h *hub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
}

// broadcast JSON-encodes v and delivers it to every subscriber.
func (h *hub) broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("encoding session event", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			// Subscriber is not keeping up; drop rather than block.
		}
	}
}

func (h *hub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// wsMessage is the envelope for server-to-client event-stream messages that
// are not controller events.
type wsMessage struct {
	Type string `json:"type"`

	// Play fields: base64 WAV for the client to render.
	WAV []byte `json:"wav,omitempty"`

	// Speak fields: on-device synthesis request.
	Text          string  `json:"text,omitempty"`
	VoiceSelector string  `json:"voice_selector,omitempty"`
	Pitch         float64 `json:"pitch,omitempty"`
	Rate          float64 `json:"rate,omitempty"`
}

// httpDevice implements [capture.Device] for browser clients that submit
// one finalized recording per turn over HTTP. Open arms the device and tells
// the client (via the event stream) to start recording; the audio-submission
// handler delivers the clip; Read hands it to the pipeline.
type httpDevice struct {
	hub *hub

	mu    sync.Mutex
	armed *httpStream
}

var _ capture.Device = (*httpDevice)(nil)

func newHTTPDevice(h *hub) *httpDevice {
	return &httpDevice{hub: h}
}

// Open implements [capture.Device].
func (d *httpDevice) Open(_ context.Context, opts capture.Options) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.armed != nil {
		return nil, errors.New("capture already armed")
	}
	s := &httpStream{device: d, clip: make(chan audio.Clip, 1)}
	d.armed = s
	d.hub.broadcast(map[string]any{
		"type":              "capture_start",
		"echo_cancellation": opts.EchoCancellation,
		"noise_suppression": opts.NoiseSuppression,
	})
	return s, nil
}

// Deliver hands a submitted clip to the armed stream. Returns an error when
// the device is not armed (no listening in progress).
func (d *httpDevice) Deliver(clip audio.Clip) error {
	d.mu.Lock()
	s := d.armed
	d.mu.Unlock()
	if s == nil {
		return errors.New("not listening")
	}
	return s.deliver(clip)
}

type httpStream struct {
	device *httpDevice
	clip   chan audio.Clip

	mu     sync.Mutex
	level  int
	closed bool
}

func (s *httpStream) deliver(clip audio.Clip) error {
	s.mu.Lock()
	s.level = audio.Level(clip.PCM)
	level := s.level
	s.mu.Unlock()
	s.device.hub.broadcast(map[string]any{"type": "level", "level": level})
	select {
	case s.clip <- clip:
		return nil
	default:
		return errors.New("a clip is already pending")
	}
}

// Read implements [capture.Stream]. It blocks until a clip is delivered.
func (s *httpStream) Read(ctx context.Context) (audio.Clip, error) {
	select {
	case clip := <-s.clip:
		return clip, nil
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	}
}

// Level implements [capture.Stream].
func (s *httpStream) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Close implements [capture.Stream]. Idempotent.
func (s *httpStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.device.mu.Lock()
	if s.device.armed == s {
		s.device.armed = nil
	}
	s.device.mu.Unlock()
	s.device.hub.broadcast(map[string]string{"type": "capture_stop"})
	return nil
}

// wsSink implements [playback.Sink] by pushing WAV-framed audio to the
// event stream. Playback timing is owned by the client; the sink waits the
// clip's duration so the controller's Playing state tracks real time.
type wsSink struct {
	hub *hub
}

var _ playback.Sink = (*wsSink)(nil)

// Play implements [playback.Sink].
func (s *wsSink) Play(ctx context.Context, clip audio.Clip) error {
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return err
	}
	s.hub.broadcast(wsMessage{Type: "play", WAV: wav})
	if s.hub.subscribers() == 0 {
		// Nobody is listening; don't stall the pipeline.
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(clip.Duration()):
		return nil
	}
}

// wsSpeaker bridges [device.Synthesizer] over the event stream: the client's
// own speech facility renders the text. With no connected client the
// capability is unavailable.
type wsSpeaker struct {
	hub *hub
}

var _ device.Synthesizer = (*wsSpeaker)(nil)

// Speak implements [device.Synthesizer].
func (s *wsSpeaker) Speak(_ context.Context, u device.Utterance) error {
	if s.hub.subscribers() == 0 {
		return device.ErrUnavailable
	}
	s.hub.broadcast(wsMessage{
		Type:          "speak",
		Text:          u.Text,
		VoiceSelector: u.VoiceSelector,
		Pitch:         u.Pitch,
		Rate:          u.Rate,
	})
	return nil
}
