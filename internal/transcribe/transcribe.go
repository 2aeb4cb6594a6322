// Package transcribe turns a finalized audio clip into text, failing over
// across speech-to-text providers.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/verbly-ai/verbly/internal/observe"
	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
)

// ErrNoSpeech signals that transcription succeeded but the clip contained no
// intelligible speech. Not a provider failure: the caller should prompt the
// user to retry, not fail over.
var ErrNoSpeech = errors.New("no speech detected")

// ErrTranscriptionFailed signals that every configured provider failed.
var ErrTranscriptionFailed = errors.New("transcription failed")

// Transcript is one successful transcription.
type Transcript struct {
	// Text is the recognised speech, trimmed.
	Text string

	// Confidence is the serving provider's confidence in [0,1], 0 when the
	// provider does not report one.
	Confidence float64

	// Provider names the chain entry that served the request.
	Provider string
}

// Client transcribes clips through an ordered provider chain.
type Client struct {
	chain *resilience.Chain[stt.Provider]
	log   *slog.Logger
}

// NewClient creates a transcription client over chain.
func NewClient(chain *resilience.Chain[stt.Provider], log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{chain: chain, log: log}
}

// Transcribe runs the clip through the provider chain. Whitespace-only output
// yields [ErrNoSpeech]; total provider failure yields [ErrTranscriptionFailed]
// wrapping the underlying cause.
func (c *Client) Transcribe(ctx context.Context, clip audio.Clip, languageHint string) (Transcript, error) {
	if clip.Empty() {
		return Transcript{}, ErrNoSpeech
	}

	m := observe.DefaultMetrics()
	start := time.Now()
	result, served, err := resilience.Try(c.chain,
		func(name string, p stt.Provider) (stt.Result, error) {
			return p.Transcribe(ctx, clip, languageHint)
		})
	if err != nil {
		m.RecordProviderError(ctx, "chain", "stt")
		return Transcript{}, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}
	m.RecordProviderRequest(ctx, served, "stt", "ok")
	m.RecordStage(ctx, m.TranscribeDuration, served, time.Since(start))

	text := strings.TrimSpace(result.Text)
	if text == "" {
		c.log.Debug("clip transcribed to empty text", "provider", served)
		return Transcript{}, ErrNoSpeech
	}

	c.log.Debug("clip transcribed",
		"provider", served, "chars", len(text), "confidence", result.Confidence)
	return Transcript{Text: text, Confidence: result.Confidence, Provider: served}, nil
}
