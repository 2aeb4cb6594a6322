package conversation_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/verbly-ai/verbly/internal/capture"
	capmock "github.com/verbly-ai/verbly/internal/capture/mock"
	"github.com/verbly-ai/verbly/internal/conversation"
	playmock "github.com/verbly-ai/verbly/internal/playback/mock"
	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/synthesis"
	"github.com/verbly-ai/verbly/internal/transcribe"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/llm"
	llmmock "github.com/verbly-ai/verbly/pkg/provider/llm/mock"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
	sttmock "github.com/verbly-ai/verbly/pkg/provider/stt/mock"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
	ttsmock "github.com/verbly-ai/verbly/pkg/provider/tts/mock"
)

// The controller records through the global OTel providers, so the package
// installs inspectable ones before any test runs.
var (
	metricReader *sdkmetric.ManualReader
	spanRecorder *tracetest.SpanRecorder
)

func TestMain(m *testing.M) {
	metricReader = sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(metricReader)))

	spanRecorder = tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))

	os.Exit(m.Run())
}

// slowTTS synthesizes after a fixed delay so latency accounting is visible.
type slowTTS struct {
	ttsmock.Provider
	delay time.Duration
}

func (s *slowTTS) Synthesize(ctx context.Context, text string, voice tts.Voice) (audio.Clip, error) {
	time.Sleep(s.delay)
	return s.Provider.Synthesize(ctx, text, voice)
}

func TestTurnDuration_IncludesSynthesisLatency(t *testing.T) {
	const synthDelay = 50 * time.Millisecond

	slow := &slowTTS{delay: synthDelay}
	slow.Clip = audio.Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}

	breaker := resilience.BreakerConfig{MaxFailures: 100, ResetTimeout: time.Hour}
	sttChain := resilience.NewChain[stt.Provider](&sttmock.Provider{
		Results: []stt.Result{{Text: "I'd like a latte please", Confidence: 0.9}},
	}, "whisper", resilience.ChainConfig{Breaker: breaker})

	synthChain := synthesis.NewChain(nil, breaker, nil)
	synthChain.AddProvider("slow", slow, nil, tts.Voice{ID: "v1"})

	catalog, err := scenario.LoadCatalogFromReader(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}

	ctrl := conversation.New(conversation.Deps{
		Capture: capture.NewSession(&capmock.Device{
			Clip: audio.Clip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1},
		}, nil),
		Transcriber: transcribe.NewClient(sttChain, nil),
		Generator: respond.NewGenerator(&llmmock.Provider{Responses: []*llm.CompletionResponse{{
			Content: `{"response": "One latte coming right up!", "feedback": {"accuracy": 85, "suggestions": []}, "emotion": "happy"}`,
		}}}, respond.NewScorer(), 6, nil),
		Synthesizer: synthChain,
		Sink:        &playmock.Sink{},
		Catalog:     catalog,
	}, conversation.Config{SettleDelay: 5 * time.Millisecond})

	if _, err := ctrl.Start(context.Background(), mina, coffeeShop); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.StartListening(context.Background()); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if err := ctrl.StopListening(context.Background()); err != nil {
		t.Fatalf("StopListening: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := metricReader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	hist, ok := findHistogram(rm, "verbly.turn.duration")
	if !ok {
		t.Fatal("turn duration histogram was never recorded")
	}
	var maxSeen float64
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Max.Value(); ok && v > maxSeen {
			maxSeen = v
		}
	}
	if maxSeen < synthDelay.Seconds() {
		t.Errorf("turn duration max = %.3fs, want at least the %.3fs synthesis latency",
			maxSeen, synthDelay.Seconds())
	}
}

func TestTurn_EmitsPipelineStageSpans(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.oneTurn(t)

	seen := make(map[string]bool)
	for _, span := range spanRecorder.Ended() {
		seen[span.Name()] = true
	}
	for _, want := range []string{"turn.transcribe", "turn.generate", "turn.synthesize"} {
		if !seen[want] {
			t.Errorf("no %q span recorded for the turn", want)
		}
	}
}

func findHistogram(rm metricdata.ResourceMetrics, name string) (metricdata.Histogram[float64], bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == name {
				h, ok := met.Data.(metricdata.Histogram[float64])
				return h, ok
			}
		}
	}
	return metricdata.Histogram[float64]{}, false
}
