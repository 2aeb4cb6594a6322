// Command verbly is the main entry point for the Verbly language-practice
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/config"
	"github.com/verbly-ai/verbly/internal/conversation"
	"github.com/verbly-ai/verbly/internal/health"
	"github.com/verbly-ai/verbly/internal/httpapi"
	"github.com/verbly-ai/verbly/internal/observe"
	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/store"
	"github.com/verbly-ai/verbly/internal/synthesis"
	"github.com/verbly-ai/verbly/internal/transcribe"
	"github.com/verbly-ai/verbly/pkg/provider/device"
	"github.com/verbly-ai/verbly/pkg/provider/llm"
	"github.com/verbly-ai/verbly/pkg/provider/llm/anyllm"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
	"github.com/verbly-ai/verbly/pkg/provider/stt/whisper"
	"github.com/verbly-ai/verbly/pkg/provider/stt/whisperapi"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
	"github.com/verbly-ai/verbly/pkg/provider/tts/elevenlabs"
	"github.com/verbly-ai/verbly/pkg/provider/tts/openaispeech"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "verbly: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "verbly: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("verbly starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "verbly"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Scenario catalog ──────────────────────────────────────────────────────
	catalog, err := scenario.LoadCatalog(cfg.Scenarios.CatalogPath)
	if err != nil {
		slog.Error("failed to load scenario catalog", "path", cfg.Scenarios.CatalogPath, "err", err)
		return 1
	}
	slog.Info("scenario catalog loaded", "path", cfg.Scenarios.CatalogPath, "presets", len(catalog.All()))

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Session store ─────────────────────────────────────────────────────────
	var (
		snaps    store.SnapshotStore
		checkers = []health.Checker{
			{Name: "scenario_catalog", Check: func(context.Context) error {
				if len(catalog.All()) == 0 {
					return errors.New("catalog is empty")
				}
				return nil
			}},
		}
	)
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to open session store", "err", err)
			return 1
		}
		defer pg.Close()
		snaps = pg
		checkers = append(checkers, health.Checker{Name: "database", Check: pg.Ping})
		slog.Info("session store ready", "backend", "postgres")
	} else {
		snaps = store.NewMemoryStore()
		slog.Info("session store ready", "backend", "memory")
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	factory := newControllerFactory(cfg, providers, catalog, logger)
	server, err := httpapi.New(httpapi.Deps{
		Config:  cfg.Server,
		Factory: factory,
		Store:   snaps,
		Catalog: catalog,
		Health:  health.New(checkers...),
		Log:     logger,
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providers holds the shared provider instances every session's pipeline
// draws from. The synthesis chain itself is built per session because its
// on-device fallback is bound to one client.
type providers struct {
	stt []namedSTT
	llm llm.Provider
	tts []namedTTS
}

type namedSTT struct {
	name     string
	provider stt.Provider
}

type namedTTS struct {
	name     string
	provider tts.Provider
	mapper   synthesis.Mapper
}

func buildProviders(ctx context.Context, cfg *config.Config) (*providers, error) {
	ps := &providers{}

	for _, entry := range cfg.Providers.STT {
		p, err := buildSTT(entry, cfg.Conversation.Language)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		ps.stt = append(ps.stt, namedSTT{name: entry.Name, provider: p})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	p, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.llm = p
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)

	for _, entry := range cfg.Providers.TTS {
		tp, err := buildTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		ps.tts = append(ps.tts, namedTTS{
			name:     entry.Name,
			provider: tp,
			mapper:   buildVoiceMapper(ctx, entry.Name, tp),
		})
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	return ps, nil
}

func buildSTT(entry config.ProviderEntry, language string) (stt.Provider, error) {
	switch entry.Name {
	case "whisper-api":
		var opts []whisperapi.Option
		if entry.BaseURL != "" {
			opts = append(opts, whisperapi.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, whisperapi.WithModel(entry.Model))
		}
		return whisperapi.New(entry.APIKey, opts...)
	case "whisper-local":
		var opts []whisper.Option
		if language != "" {
			opts = append(opts, whisper.WithLanguage(language))
		}
		return whisper.New(entry.ModelPath, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildLLM accepts any backend any-llm-go supports (openai, anthropic,
// ollama, gemini, mistral, groq, …).
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "openai":
		var opts []openaispeech.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaispeech.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, openaispeech.WithModel(entry.Model))
		}
		return openaispeech.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// buildVoiceMapper fetches the provider's voice catalogue once at startup and
// derives a deterministic profile-to-voice mapping from it. When the
// catalogue is unavailable the provider's default voice is used for every
// profile.
func buildVoiceMapper(ctx context.Context, name string, p tts.Provider) synthesis.Mapper {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	voices, err := p.Voices(listCtx)
	if err != nil {
		slog.Warn("voice catalogue unavailable, using provider default voice",
			"provider", name, "err", err)
		return nil
	}
	slog.Debug("voice catalogue loaded", "provider", name, "voices", len(voices))
	return synthesis.CatalogMapper(voices)
}

// newControllerFactory wires one conversation pipeline per session around the
// shared providers.
func newControllerFactory(cfg *config.Config, ps *providers, catalog *scenario.Catalog, logger *slog.Logger) httpapi.ControllerFactory {
	breaker := resilience.BreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second}

	return func(dev capture.Device, sink playback.Sink, speaker device.Synthesizer, notify conversation.Notifier) *conversation.Controller {
		var sttChain *resilience.Chain[stt.Provider]
		for _, s := range ps.stt {
			if sttChain == nil {
				sttChain = resilience.NewChain[stt.Provider](s.provider, s.name, resilience.ChainConfig{Breaker: breaker})
			} else {
				sttChain.Append(s.name, s.provider)
			}
		}

		synthChain := synthesis.NewChain(speaker, breaker, logger)
		for _, t := range ps.tts {
			synthChain.AddProvider(t.name, t.provider, t.mapper, tts.Voice{})
		}

		return conversation.New(conversation.Deps{
			Capture:     capture.NewSession(dev, logger),
			Transcriber: transcribe.NewClient(sttChain, logger),
			Generator:   respond.NewGenerator(ps.llm, respond.NewScorer(), cfg.Conversation.HistoryWindow, logger),
			Synthesizer: synthChain,
			Sink:        sink,
			Catalog:     catalog,
			Notify:      notify,
			Log:         logger,
		}, conversation.Config{
			Language:     cfg.Conversation.Language,
			ProgressStep: cfg.Conversation.ProgressStep,
			SettleDelay:  cfg.Conversation.SettleDelay,
			StageTimeout: cfg.Conversation.StageTimeout,
		})
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
