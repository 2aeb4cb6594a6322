// Package synthesis turns reply text into playable audio, masking provider
// instability behind an ordered fallback chain with a terminal on-device
// fallback.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verbly-ai/verbly/internal/observe"
	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/device"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
)

// ErrSynthesisUnavailable is returned when every remote provider has failed
// and on-device synthesis is unsupported. The caller degrades to text-only
// display.
var ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")

// DeviceProvider is the marker reported when the on-device fallback served a
// request. Device audio is played where it is produced and cannot be
// replayed later.
const DeviceProvider = "device"

// Result is one successful synthesis.
type Result struct {
	// Clip is the synthesized audio. Empty for on-device synthesis, where
	// the audio never passes through the server.
	Clip audio.Clip

	// Provider names the chain entry that served the request, or
	// [DeviceProvider] for the terminal fallback.
	Provider string

	// Replayable reports whether the audio can be played again later.
	Replayable bool
}

// providerEntry pairs a remote provider with its voice-namespace mapping.
type providerEntry struct {
	provider     tts.Provider
	mapper       Mapper
	defaultVoice tts.Voice
}

// Chain attempts remote providers strictly in order, then on-device
// synthesis. Safe for concurrent use once built.
type Chain struct {
	remotes *resilience.Chain[providerEntry]
	device  device.Synthesizer
	breaker resilience.BreakerConfig
	log     *slog.Logger
}

// NewChain creates an empty chain with dev as the terminal fallback. A nil
// dev means the terminal step always reports [ErrSynthesisUnavailable].
func NewChain(dev device.Synthesizer, breaker resilience.BreakerConfig, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{device: dev, breaker: breaker, log: log}
}

// AddProvider appends a remote provider. mapper may be nil; profiles then
// always use defaultVoice. Providers are tried in the order added. Must not
// be called concurrently with Synthesize.
func (c *Chain) AddProvider(name string, p tts.Provider, mapper Mapper, defaultVoice tts.Voice) {
	entry := providerEntry{provider: p, mapper: mapper, defaultVoice: defaultVoice}
	if c.remotes == nil {
		c.remotes = resilience.NewChain(entry, name, resilience.ChainConfig{Breaker: c.breaker})
		return
	}
	c.remotes.Append(name, entry)
}

// Providers returns the remote provider names in attempt order.
func (c *Chain) Providers() []string {
	if c.remotes == nil {
		return nil
	}
	return c.remotes.Names()
}

// Synthesize renders text with the first healthy provider, translating the
// profile into each provider's own voice namespace. A profile with no
// mapping in a namespace falls through to that provider's default voice —
// mapping gaps never abort the chain. When all remote providers fail, the
// on-device fallback speaks the text directly on the client.
func (c *Chain) Synthesize(ctx context.Context, text string, profile Profile) (Result, error) {
	m := observe.DefaultMetrics()
	if c.remotes != nil {
		start := time.Now()
		clip, served, err := resilience.Try(c.remotes,
			func(name string, e providerEntry) (audio.Clip, error) {
				return e.provider.Synthesize(ctx, text, e.voiceFor(profile))
			})
		if err == nil {
			m.RecordProviderRequest(ctx, served, "tts", "ok")
			m.RecordStage(ctx, m.SynthesizeDuration, served, time.Since(start))
			return Result{Clip: clip, Provider: served, Replayable: true}, nil
		}
		m.RecordProviderError(ctx, "chain", "tts")
		c.log.Warn("all remote synthesis providers failed, trying on-device", "error", err)
	}

	if c.device == nil {
		m.RecordFallback(ctx, "text_only")
		return Result{}, ErrSynthesisUnavailable
	}
	err := c.device.Speak(ctx, device.Utterance{
		Text:          text,
		VoiceSelector: profile.Gender,
	})
	if err != nil {
		m.RecordFallback(ctx, "text_only")
		if errors.Is(err, device.ErrUnavailable) {
			return Result{}, ErrSynthesisUnavailable
		}
		return Result{}, fmt.Errorf("%w: %w", ErrSynthesisUnavailable, err)
	}
	m.RecordFallback(ctx, "device")
	return Result{Provider: DeviceProvider, Replayable: false}, nil
}

func (e providerEntry) voiceFor(profile Profile) tts.Voice {
	if e.mapper != nil {
		if v, ok := e.mapper(profile); ok {
			return v
		}
	}
	return e.defaultVoice
}
