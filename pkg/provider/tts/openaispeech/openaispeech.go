// Package openaispeech provides a tts.Provider backed by the OpenAI speech
// endpoint. It serves as the secondary remote provider in the synthesis
// fallback chain.
package openaispeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
)

// The PCM response format is fixed at 24 kHz mono by the API.
const pcmSampleRate = 24000

const defaultModel = oai.SpeechModelGPT4oMiniTTS

// defaultVoice is used when the caller supplies a zero-value voice or a voice
// ID outside this provider's namespace.
const defaultVoice = oai.AudioSpeechNewParamsVoiceAlloy

// catalogue lists the fixed voice set the speech endpoint offers. The API has
// no voice-listing call.
var catalogue = []tts.Voice{
	{ID: "alloy", Name: "Alloy", Provider: "openai"},
	{ID: "ash", Name: "Ash", Provider: "openai", Metadata: map[string]string{"gender": "male"}},
	{ID: "coral", Name: "Coral", Provider: "openai", Metadata: map[string]string{"gender": "female"}},
	{ID: "echo", Name: "Echo", Provider: "openai", Metadata: map[string]string{"gender": "male"}},
	{ID: "nova", Name: "Nova", Provider: "openai", Metadata: map[string]string{"gender": "female"}},
	{ID: "onyx", Name: "Onyx", Provider: "openai", Metadata: map[string]string{"gender": "male"}},
	{ID: "shimmer", Name: "Shimmer", Provider: "openai", Metadata: map[string]string{"gender": "female"}},
}

// Option is a functional option for configuring the Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   oai.SpeechModel
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = oai.SpeechModel(model) }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
}

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// New constructs an OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openaispeech: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider. The endpoint returns the complete PCM
// body in one response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	if text == "" {
		return audio.Clip{}, errors.New("openaispeech: text must not be empty")
	}

	v := defaultVoice
	if voice.ID != "" && knownVoice(voice.ID) {
		v = oai.AudioSpeechNewParamsVoice(voice.ID)
	}

	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          v,
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openaispeech: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("openaispeech: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return audio.Clip{}, errors.New("openaispeech: no audio returned")
	}
	return audio.Clip{PCM: pcm, SampleRate: pcmSampleRate, Channels: 1}, nil
}

// Voices returns the fixed voice catalogue of the speech endpoint.
func (p *Provider) Voices(_ context.Context) ([]tts.Voice, error) {
	out := make([]tts.Voice, len(catalogue))
	copy(out, catalogue)
	return out, nil
}

func knownVoice(id string) bool {
	for _, v := range catalogue {
		if v.ID == id {
			return true
		}
	}
	return false
}
