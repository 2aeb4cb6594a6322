// Package config provides the configuration schema and loader for the Verbly
// voice-practice server.
package config

import "time"

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file via [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Conversation ConversationConfig `yaml:"conversation"`
	Storage      StorageConfig      `yaml:"storage"`
	Scenarios    ScenariosConfig    `yaml:"scenarios"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares the providers for each pipeline stage. STT and TTS
// take ordered lists — the first entry is the primary, the rest are tried in
// order when it fails.
type ProvidersConfig struct {
	STT []ProviderEntry `yaml:"stt"`
	LLM ProviderEntry   `yaml:"llm"`
	TTS []ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider
// kinds.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "whisper-api",
	// "elevenlabs", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API, if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "gpt-4o-mini", "whisper-1", "eleven_flash_v2_5").
	Model string `yaml:"model"`

	// ModelPath is the filesystem path to a local model file. Only used by
	// the "whisper-local" STT provider.
	ModelPath string `yaml:"model_path"`
}

// ConversationConfig holds the tunables of the turn pipeline.
type ConversationConfig struct {
	// Language is the BCP-47 tag of the practised language. Default "en".
	Language string `yaml:"language"`

	// HistoryWindow is the number of recent turns sent to the reply model.
	// Default 6.
	HistoryWindow int `yaml:"history_window"`

	// ProgressStep is how much session progress each answered user turn is
	// worth, on the 0–100 scale. Default 10.
	ProgressStep int `yaml:"progress_step"`

	// SettleDelay is the pause between the end of character playback and
	// auto-listen re-arming capture, so the microphone does not pick up the
	// tail of the character's own speech. Default 700ms.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// StageTimeout bounds each remote call (transcription, generation,
	// synthesis). A call exceeding it counts as a provider failure.
	// Default 30s.
	StageTimeout time.Duration `yaml:"stage_timeout"`
}

// StorageConfig holds settings for the session snapshot store.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. Empty disables
	// persistence; sessions then live only in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ScenariosConfig locates the preset scenario catalog.
type ScenariosConfig struct {
	// CatalogPath is the path to the YAML catalog of preset scenarios,
	// keyed by audience tier.
	CatalogPath string `yaml:"catalog_path"`
}

// applyDefaults fills zero-value tunables with their defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Conversation.Language == "" {
		c.Conversation.Language = "en"
	}
	if c.Conversation.HistoryWindow <= 0 {
		c.Conversation.HistoryWindow = 6
	}
	if c.Conversation.ProgressStep <= 0 {
		c.Conversation.ProgressStep = 10
	}
	if c.Conversation.SettleDelay <= 0 {
		c.Conversation.SettleDelay = 700 * time.Millisecond
	}
	if c.Conversation.StageTimeout <= 0 {
		c.Conversation.StageTimeout = 30 * time.Second
	}
}
