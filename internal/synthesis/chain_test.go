package synthesis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/device"
	devmock "github.com/verbly-ai/verbly/pkg/provider/device/mock"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
	ttsmock "github.com/verbly-ai/verbly/pkg/provider/tts/mock"
)

var testProfile = Profile{Gender: "female", Style: "cheerful", Role: "barista"}

func testBreaker() resilience.BreakerConfig {
	return resilience.BreakerConfig{MaxFailures: 5, ResetTimeout: time.Hour}
}

func testClip() audio.Clip {
	return audio.Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}
}

func TestSynthesize_PrimaryServes(t *testing.T) {
	primary := &ttsmock.Provider{Clip: testClip()}
	c := NewChain(nil, testBreaker(), nil)
	c.AddProvider("elevenlabs", primary, nil, tts.Voice{ID: "v1"})

	res, err := c.Synthesize(context.Background(), "One latte coming up!", testProfile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "elevenlabs" || !res.Replayable {
		t.Errorf("result = %+v, want replayable elevenlabs clip", res)
	}
	if res.Clip.Empty() {
		t.Error("expected audio in the result")
	}
}

func TestSynthesize_FailsOverWithIndependentVoiceMapping(t *testing.T) {
	primary := &ttsmock.Provider{Err: errors.New("http 500")}
	secondary := &ttsmock.Provider{Clip: testClip()}

	c := NewChain(nil, testBreaker(), nil)
	c.AddProvider("a", primary, StaticMapper(map[string]tts.Voice{
		"female/cheerful": {ID: "a-sunny", Provider: "a"},
	}), tts.Voice{ID: "a-default"})
	c.AddProvider("b", secondary, StaticMapper(map[string]tts.Voice{
		"female/cheerful": {ID: "b-bright", Provider: "b"},
	}), tts.Voice{ID: "b-default"})

	res, err := c.Synthesize(context.Background(), "hello", testProfile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != "b" {
		t.Errorf("Provider = %q, want b", res.Provider)
	}

	// Each provider must be addressed in its own voice namespace.
	if got := primary.SynthesizeCalls[0].Voice.ID; got != "a-sunny" {
		t.Errorf("primary voice = %q, want a-sunny", got)
	}
	if got := secondary.SynthesizeCalls[0].Voice.ID; got != "b-bright" {
		t.Errorf("secondary voice = %q, want b-bright", got)
	}
}

func TestSynthesize_MissingMappingUsesDefaultVoice(t *testing.T) {
	p := &ttsmock.Provider{Clip: testClip()}
	c := NewChain(nil, testBreaker(), nil)
	c.AddProvider("a", p, StaticMapper(map[string]tts.Voice{}), tts.Voice{ID: "a-default"})

	if _, err := c.Synthesize(context.Background(), "hello", testProfile); err != nil {
		t.Fatalf("mapping gap must not abort the chain: %v", err)
	}
	if got := p.SynthesizeCalls[0].Voice.ID; got != "a-default" {
		t.Errorf("voice = %q, want the provider default", got)
	}
}

func TestSynthesize_DeviceFallback(t *testing.T) {
	remote := &ttsmock.Provider{Err: errors.New("http 500")}
	dev := &devmock.Synthesizer{}

	c := NewChain(dev, testBreaker(), nil)
	c.AddProvider("a", remote, nil, tts.Voice{ID: "v"})

	res, err := c.Synthesize(context.Background(), "hello there", testProfile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Provider != DeviceProvider || res.Replayable {
		t.Errorf("result = %+v, want non-replayable device result", res)
	}
	if !res.Clip.Empty() {
		t.Error("device synthesis must not carry server-side audio")
	}
	if len(dev.Spoken) != 1 || dev.Spoken[0].Text != "hello there" {
		t.Errorf("device spoke %+v, want the reply text", dev.Spoken)
	}
}

func TestSynthesize_UnavailableWhenDeviceUnsupported(t *testing.T) {
	remote := &ttsmock.Provider{Err: errors.New("http 500")}
	dev := &devmock.Synthesizer{Err: device.ErrUnavailable}

	c := NewChain(dev, testBreaker(), nil)
	c.AddProvider("a", remote, nil, tts.Voice{ID: "v"})

	_, err := c.Synthesize(context.Background(), "hello", testProfile)
	if !errors.Is(err, ErrSynthesisUnavailable) {
		t.Fatalf("err = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestSynthesize_NoProvidersNoDevice(t *testing.T) {
	c := NewChain(nil, testBreaker(), nil)
	_, err := c.Synthesize(context.Background(), "hello", testProfile)
	if !errors.Is(err, ErrSynthesisUnavailable) {
		t.Fatalf("err = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestCatalogMapper_Deterministic(t *testing.T) {
	voices := []tts.Voice{
		{ID: "v1", Metadata: map[string]string{"gender": "male"}},
		{ID: "v2", Metadata: map[string]string{"gender": "female"}},
		{ID: "v3", Metadata: map[string]string{"gender": "female"}},
	}
	m := CatalogMapper(voices)

	first, ok := m(testProfile)
	if !ok {
		t.Fatal("expected a mapping")
	}
	for i := 0; i < 10; i++ {
		v, _ := m(testProfile)
		if v.ID != first.ID {
			t.Fatalf("mapping not stable: %q then %q", first.ID, v.ID)
		}
	}
	if first.Metadata["gender"] != "female" {
		t.Errorf("picked %+v, want a gender match", first)
	}
}

func TestCatalogMapper_FallsBackAcrossGenders(t *testing.T) {
	voices := []tts.Voice{{ID: "only", Metadata: map[string]string{"gender": "male"}}}
	v, ok := CatalogMapper(voices)(testProfile)
	if !ok || v.ID != "only" {
		t.Errorf("got (%+v, %v), want the only voice", v, ok)
	}
}
