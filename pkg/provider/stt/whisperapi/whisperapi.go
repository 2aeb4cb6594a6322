// Package whisperapi provides an stt.Provider backed by the OpenAI Whisper
// transcription API. Clips are wrapped in a WAV container and uploaded as a
// single request per utterance.
package whisperapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

// Option is a functional option for configuring the Provider.
type Option func(*config)

type config struct {
	baseURL string
	model   oai.AudioModel
	timeout time.Duration
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model (e.g. "whisper-1").
func WithModel(model string) Option {
	return func(c *config) { c.model = oai.AudioModel(model) }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// New constructs a Whisper API Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("whisperapi: apiKey must not be empty")
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

// Transcribe implements stt.Provider. The clip is WAV-framed and uploaded in
// one request; the API's plain-text transcript is returned verbatim.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip, languageHint string) (stt.Result, error) {
	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: encode clip: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "clip.wav", "audio/wav"),
		Model: p.model,
	}
	if languageHint != "" {
		params.Language = oai.String(languageHint)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisperapi: transcribe: %w", err)
	}
	return stt.Result{Text: resp.Text}, nil
}
