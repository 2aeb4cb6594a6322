package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration from the YAML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes and validates configuration YAML from r. Unknown
// fields are rejected so typos surface at startup rather than as silently
// ignored settings.
func LoadFromReader(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors, returning all problems joined
// into one error. Soft issues are logged as warnings instead.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level: unknown level %q", c.Server.LogLevel))
	}
	if tls := c.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls: both cert_file and key_file are required"))
		}
	}

	if len(c.Providers.STT) == 0 {
		errs = append(errs, errors.New("providers.stt: at least one provider is required"))
	}
	for i, p := range c.Providers.STT {
		errs = append(errs, validateProvider(fmt.Sprintf("providers.stt[%d]", i), p)...)
	}
	if c.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if len(c.Providers.TTS) == 0 {
		slog.Warn("no TTS providers configured, all speech falls back to on-device synthesis")
	}
	for i, p := range c.Providers.TTS {
		errs = append(errs, validateProvider(fmt.Sprintf("providers.tts[%d]", i), p)...)
	}

	if c.Conversation.ProgressStep > 100 {
		errs = append(errs, fmt.Errorf("conversation.progress_step: %d exceeds the 0-100 scale",
			c.Conversation.ProgressStep))
	}
	if c.Conversation.HistoryWindow > 50 {
		slog.Warn("large history window inflates prompt size",
			"history_window", c.Conversation.HistoryWindow)
	}

	if c.Storage.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured, sessions will not survive restarts")
	}
	if c.Scenarios.CatalogPath == "" {
		errs = append(errs, errors.New("scenarios.catalog_path is required"))
	}

	return errors.Join(errs...)
}

func validateProvider(prefix string, p ProviderEntry) []error {
	var errs []error
	if p.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", prefix))
	}
	if p.Name == "whisper-local" && p.ModelPath == "" {
		errs = append(errs, fmt.Errorf("%s.model_path is required for whisper-local", prefix))
	}
	return errs
}
