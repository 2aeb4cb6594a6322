// Package whisper provides an stt.Provider backed by the whisper.cpp CGO
// bindings. It runs transcription entirely on the host, with no network
// round-trip, which makes it the natural fallback when the remote
// transcription API is unreachable.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
)

// whisper.cpp operates on 16 kHz mono float32 samples.
const modelSampleRate = 16000

const defaultLanguage = "en"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default transcription language used when the caller
// supplies no language hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider using a locally loaded whisper.cpp model.
// The model is loaded once and shared; each Transcribe call creates its own
// inference context, so concurrent calls are safe.
type Provider struct {
	model    whisperlib.Model
	language string

	// mu serialises Close against in-flight Transcribe calls.
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model. Transcribe calls made after Close return an error.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.model.Close()
}

// Transcribe implements stt.Provider. The clip is downmixed to mono,
// resampled to the model's 16 kHz rate, and run through a fresh whisper
// context.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, languageHint string) (stt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: %w", err)
	}
	if clip.Empty() {
		return stt.Result{}, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return stt.Result{}, errors.New("whisper: provider is closed")
	}

	pcm := clip.PCM
	if clip.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	pcm = audio.ResampleMono16(pcm, clip.SampleRate, modelSampleRate)
	samples := pcmToFloat32(pcm)

	// Contexts are not thread-safe; the shared model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}

	lang := languageHint
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return stt.Result{Text: strings.Join(parts, " ")}, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM to float32 samples
// in [-1, 1), the format whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		sample := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
