package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/conversation"
	"github.com/verbly-ai/verbly/internal/httpapi"
	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/internal/resilience"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/store"
	"github.com/verbly-ai/verbly/internal/synthesis"
	"github.com/verbly-ai/verbly/internal/transcribe"
	"github.com/verbly-ai/verbly/pkg/audio"
	"github.com/verbly-ai/verbly/pkg/provider/device"
	"github.com/verbly-ai/verbly/pkg/provider/llm"
	llmmock "github.com/verbly-ai/verbly/pkg/provider/llm/mock"
	"github.com/verbly-ai/verbly/pkg/provider/stt"
	sttmock "github.com/verbly-ai/verbly/pkg/provider/stt/mock"
	"github.com/verbly-ai/verbly/pkg/provider/tts"
	ttsmock "github.com/verbly-ai/verbly/pkg/provider/tts/mock"
)

const catalogYAML = `
scenarios:
  - key: coffee_shop
    title: Ordering Coffee
    tier: adults
    description: The learner orders a drink at a busy coffee shop.
    role: barista
    opening_line: "Hi there! What can I get started for you today?"
    key_phrases:
      - "I'd like a latte please"
  - key: school_trip
    title: The School Trip
    tier: kids
    description: Chatting with a classmate on the bus.
    role: classmate
    opening_line: "Are you excited for the trip?"
`

var mina = respond.Character{Name: "Mina", Gender: "female", Style: "cheerful"}

type env struct {
	server *httpapi.Server
	store  *store.MemoryStore
	stt    *sttmock.Provider
	llm    *llmmock.Provider
	tts    *ttsmock.Provider
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store: store.NewMemoryStore(),
		stt: &sttmock.Provider{
			Results: []stt.Result{{Text: "I'd like a latte please", Confidence: 0.9}},
		},
		llm: &llmmock.Provider{Responses: []*llm.CompletionResponse{{
			Content: `{"response": "One latte coming right up!", "feedback": {"accuracy": 85, "suggestions": []}, "emotion": "happy"}`,
		}}},
		tts: &ttsmock.Provider{Clip: audio.Clip{PCM: make([]byte, 640), SampleRate: 16000, Channels: 1}},
	}

	catalog, err := scenario.LoadCatalogFromReader(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}

	breaker := resilience.BreakerConfig{MaxFailures: 100, ResetTimeout: time.Hour}
	factory := func(dev capture.Device, sink playback.Sink, speaker device.Synthesizer, notify conversation.Notifier) *conversation.Controller {
		sttChain := resilience.NewChain[stt.Provider](e.stt, "whisper", resilience.ChainConfig{Breaker: breaker})
		synthChain := synthesis.NewChain(speaker, breaker, nil)
		synthChain.AddProvider("A", e.tts, nil, tts.Voice{ID: "a-default"})
		return conversation.New(conversation.Deps{
			Capture:     capture.NewSession(dev, nil),
			Transcriber: transcribe.NewClient(sttChain, nil),
			Generator:   respond.NewGenerator(e.llm, respond.NewScorer(), 6, nil),
			Synthesizer: synthChain,
			Sink:        sink,
			Catalog:     catalog,
			Notify:      notify,
		}, conversation.Config{ProgressStep: 10})
	}

	e.server, err = httpapi.New(httpapi.Deps{
		Factory: factory,
		Store:   e.store,
		Catalog: catalog,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func (e *env) createSession(t *testing.T) conversation.Session {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"character": mina,
		"scenario":  map[string]string{"preset_key": "coffee_shop"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session = %d, body %s", rec.Code, rec.Body)
	}
	var sess conversation.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	return sess
}

func (e *env) submitAudio(t *testing.T, id string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, "/api/sessions/"+id+"/audio", map[string]any{
		"codec":       "pcm",
		"sample_rate": 16000,
		"channels":    1,
		"data":        make([]byte, 3200),
	})
}

func TestCreateSession_OpensWithScriptedLine(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	if sess.ID == "" {
		t.Error("session ID is empty")
	}
	if len(sess.Turns) != 1 {
		t.Fatalf("turns = %d, want the opening turn", len(sess.Turns))
	}
	opening := sess.Turns[0]
	if opening.Speaker != conversation.SpeakerCharacter {
		t.Errorf("opening speaker = %q", opening.Speaker)
	}
	if opening.Text != "Hi there! What can I get started for you today?" {
		t.Errorf("opening text = %q", opening.Text)
	}
	if sess.Progress != 0 {
		t.Errorf("progress = %d, want 0 before any user turn", sess.Progress)
	}
}

func TestCreateSession_RejectsInvalidCharacter(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"character": map[string]string{"name": "Rex", "gender": "robot", "style": "cheerful"},
		"scenario":  map[string]string{"preset_key": "coffee_shop"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateSession_UnknownPreset(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"character": mina,
		"scenario":  map[string]string{"preset_key": "space_station"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSubmitAudio_RunsFullTurn(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	rec := e.submitAudio(t, sess.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit audio = %d, body %s", rec.Code, rec.Body)
	}
	var after conversation.Session
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if len(after.Turns) != 3 {
		t.Fatalf("turns = %d, want opening + user + character", len(after.Turns))
	}
	user, char := after.Turns[1], after.Turns[2]
	if user.Speaker != conversation.SpeakerUser || user.Text != "I'd like a latte please" {
		t.Errorf("user turn = %+v", user)
	}
	if char.Speaker != conversation.SpeakerCharacter || char.Text != "One latte coming right up!" {
		t.Errorf("character turn = %+v", char)
	}
	if char.AudioProvider != "A" {
		t.Errorf("audio provider = %q, want A", char.AudioProvider)
	}
	if after.Progress != 10 {
		t.Errorf("progress = %d, want 10", after.Progress)
	}
}

func TestSubmitAudio_UnknownSession(t *testing.T) {
	e := newEnv(t)
	rec := e.submitAudio(t, "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSubmitAudio_UnsupportedCodec(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	rec := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/audio", map[string]any{
		"codec": "mp3", "channels": 1, "data": []byte{1, 2},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetSession_IncludesState(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	rec := e.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var view struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if view.ID != sess.ID {
		t.Errorf("id = %q, want %q", view.ID, sess.ID)
	}
	if view.State != string(conversation.StateIdle) {
		t.Errorf("state = %q, want idle", view.State)
	}
}

func TestReset_ClearsHistory(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	e.submitAudio(t, sess.ID)

	rec := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d, body %s", rec.Code, rec.Body)
	}
	var after conversation.Session
	if err := json.NewDecoder(rec.Body).Decode(&after); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if len(after.Turns) != 1 {
		t.Errorf("turns after reset = %d, want only the fresh opening", len(after.Turns))
	}
	if after.Progress != 0 {
		t.Errorf("progress after reset = %d, want 0", after.Progress)
	}
}

func TestAutoListen_Toggle(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	rec := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/auto-listen", map[string]bool{"enabled": true})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("auto-listen = %d, body %s", rec.Code, rec.Body)
	}

	rec = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	var view struct {
		AutoListen bool `json:"auto_listen"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decoding view: %v", err)
	}
	if !view.AutoListen {
		t.Error("auto_listen = false after enabling")
	}
}

func TestReplay_CharacterTurn(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	e.submitAudio(t, sess.ID)

	rec := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/replay", map[string]int{"turn_index": 2})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("replay = %d, body %s", rec.Code, rec.Body)
	}
}

func TestReplay_UserTurnRejected(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)
	e.submitAudio(t, sess.ID)

	rec := e.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/replay", map[string]int{"turn_index": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("replay of user turn = %d, want 400", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	rec := e.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = e.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete = %d, want 404", rec.Code)
	}
}

func TestResumeSession_FromSnapshot(t *testing.T) {
	e := newEnv(t)

	snap := conversation.Snapshot{
		ID:        "resume-me",
		Character: mina,
		Scenario:  scenario.Descriptor{PresetKey: "coffee_shop"},
		Turns: []conversation.Turn{
			{ID: "t1", Speaker: conversation.SpeakerCharacter, Text: "Hi there! What can I get started for you today?", Replayable: true},
		},
		Progress:  20,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.Save(context.Background(), snap); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]string{"resume": "resume-me"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("resume = %d, body %s", rec.Code, rec.Body)
	}
	var sess conversation.Session
	if err := json.NewDecoder(rec.Body).Decode(&sess); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if sess.ID != "resume-me" {
		t.Errorf("id = %q, want resume-me", sess.ID)
	}
	if sess.Progress != 20 {
		t.Errorf("progress = %d, want 20", sess.Progress)
	}
	if len(sess.Turns) != 1 || sess.Turns[0].Replayable {
		t.Errorf("restored turns should be present and non-replayable: %+v", sess.Turns)
	}
}

func TestResumeSession_UnknownID(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/sessions", map[string]string{"resume": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestScenarios_ListAndFilter(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/scenarios", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Scenarios []scenario.Preset `json:"scenarios"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(body.Scenarios))
	}

	rec = e.do(t, http.MethodGet, "/api/scenarios?tier=kids", nil)
	body.Scenarios = nil
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(body.Scenarios) != 1 || body.Scenarios[0].Key != "school_trip" {
		t.Errorf("kids tier = %+v", body.Scenarios)
	}

	rec = e.do(t, http.MethodGet, "/api/scenarios?tier=seniors", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus tier = %d, want 400", rec.Code)
	}
}

func TestEvents_StreamsTurnEvents(t *testing.T) {
	e := newEnv(t)
	sess := e.createSession(t)

	ts := httptest.NewServer(e.server.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + sess.ID + "/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dialing event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "test done")

	resp, err := http.Post(
		fmt.Sprintf("%s/api/sessions/%s/audio", ts.URL, sess.ID),
		"application/json",
		strings.NewReader(`{"codec":"pcm","sample_rate":16000,"channels":1,"data":"`+strings.Repeat("AAAA", 800)+`"}`),
	)
	if err != nil {
		t.Fatalf("submitting audio: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit audio = %d", resp.StatusCode)
	}

	sawTurn := false
	for !sawTurn {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("reading event (saw no turn event yet): %v", err)
		}
		var ev struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type == string(conversation.EventTurn) {
			sawTurn = true
		}
	}
}
