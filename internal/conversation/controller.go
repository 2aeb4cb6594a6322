// Package conversation implements the turn controller at the heart of
// Verbly: the state machine that drives one practice session through
// capture, transcription, reply generation, synthesis, and playback.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/observe"
	"github.com/verbly-ai/verbly/internal/playback"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/synthesis"
	"github.com/verbly-ai/verbly/internal/transcribe"
	"github.com/verbly-ai/verbly/pkg/audio"
)

// State is the controller's position in the turn loop.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateGenerating   State = "generating"
	StateSynthesizing State = "synthesizing"
	StatePlaying      State = "playing"
	StateError        State = "error"
)

var (
	// ErrNoSession is returned by operations that need a started session.
	ErrNoSession = errors.New("no active session")

	// ErrSessionActive is returned by Start when a session already exists.
	ErrSessionActive = errors.New("session already started")

	// ErrBusy is returned when an operation would overlap the single in-
	// flight turn pipeline.
	ErrBusy = errors.New("a turn is already in progress")

	// ErrNotListening is returned by StopListening outside the Listening
	// state.
	ErrNotListening = errors.New("not listening")

	// ErrNotReplayable is returned by Replay for turns without retrievable
	// audio (user turns, on-device or text-only character turns).
	ErrNotReplayable = errors.New("turn audio is not replayable")
)

// EventType tags the events a controller emits for its UI.
type EventType string

const (
	// EventState reports a state transition.
	EventState EventType = "state"

	// EventTurn reports a newly appended turn.
	EventTurn EventType = "turn"

	// EventProgress reports a progress update.
	EventProgress EventType = "progress"

	// EventNotice carries a human-readable message (retry prompts,
	// degradation notices, error reports).
	EventNotice EventType = "notice"
)

// Event is one observable side effect of the controller, suitable for
// driving a UI.
type Event struct {
	Type     EventType `json:"type"`
	State    State     `json:"state,omitempty"`
	Turn     *Turn     `json:"turn,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Notifier receives controller events. Called from controller goroutines;
// implementations must not call back into the controller.
type Notifier func(Event)

// Config holds the controller's tunables.
type Config struct {
	// Language is the BCP-47 hint passed to transcription.
	Language string

	// ProgressStep is the progress earned per answered user turn.
	ProgressStep int

	// SettleDelay is the pause before auto-listen re-arms capture after a
	// character turn, so the microphone misses the tail of playback.
	SettleDelay time.Duration

	// StageTimeout bounds each remote call. Zero disables the bound.
	StageTimeout time.Duration
}

// Deps are the collaborators a controller drives.
type Deps struct {
	Capture     *capture.Session
	Transcriber *transcribe.Client
	Generator   *respond.Generator
	Synthesizer *synthesis.Chain
	Sink        playback.Sink
	Catalog     *scenario.Catalog
	Notify      Notifier
	Log         *slog.Logger
}

// Controller owns one [Session] and enforces the single-pipeline invariant:
// at most one of capturing, transcribing, generating, synthesizing, or
// playing is active at a time.
type Controller struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	mu         sync.Mutex
	session    *Session
	state      State
	busy       bool
	generation uint64
	cancel     context.CancelFunc
	clips      map[string]audio.Clip
}

// New creates a controller. Zero-value config fields get defaults.
func New(deps Deps, cfg Config) *Controller {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = 10
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 700 * time.Millisecond
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		state: StateIdle,
		clips: make(map[string]audio.Clip),
	}
}

// Start creates the session and produces the opening character turn. The
// character and scenario are validated before any state is created.
func (c *Controller) Start(ctx context.Context, char respond.Character, desc scenario.Descriptor) (Session, error) {
	if err := char.Validate(); err != nil {
		return Session{}, err
	}
	preset, err := c.deps.Catalog.Resolve(desc)
	if err != nil {
		return Session{}, err
	}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return Session{}, ErrSessionActive
	}
	c.session = newSession(char, desc, preset)
	c.busy = true
	gen := c.generation
	c.mu.Unlock()

	c.log.Info("session started",
		"session_id", c.session.ID, "character", char.Name, "scenario", preset.Key)
	c.openingTurn(ctx, gen)

	c.mu.Lock()
	view := c.session.copyOut()
	c.mu.Unlock()
	return view, nil
}

// StartListening arms capture. Refused while a previous turn is still in
// flight. A microphone permission failure surfaces as
// [capture.ErrPermissionDenied] and leaves the controller in Idle.
func (c *Controller) StartListening(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.session == nil:
		c.mu.Unlock()
		return ErrNoSession
	case c.busy:
		c.mu.Unlock()
		return ErrBusy
	case c.state != StateIdle:
		c.mu.Unlock()
		return fmt.Errorf("cannot start listening in state %q", c.state)
	}
	gen := c.generation
	c.mu.Unlock()

	if err := c.deps.Capture.Start(ctx); err != nil {
		c.reportError(gen, "microphone unavailable: "+err.Error())
		return err
	}
	c.setState(gen, StateListening)
	return nil
}

// Level returns the capture amplitude in [0,100] while listening, 0
// otherwise. Display-only.
func (c *Controller) Level() int {
	return c.deps.Capture.Level()
}

// StopListening finalizes the recording and runs the full turn pipeline:
// transcribe, generate, synthesize, play. It blocks until the turn completes
// or is absorbed. Transcription problems are the only failures that surface;
// generation and synthesis degrade internally.
func (c *Controller) StopListening(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.state != StateListening {
		c.mu.Unlock()
		return ErrNotListening
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	gen := c.generation
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	spoke, err := c.runTurn(ctx, gen)

	c.mu.Lock()
	auto := false
	if c.generation == gen {
		c.busy = false
		c.cancel = nil
		auto = spoke && err == nil && c.session != nil &&
			c.session.AutoListen && c.state == StateIdle
	}
	c.mu.Unlock()

	if auto {
		c.scheduleAutoListen(gen)
	}
	return err
}

// runTurn drives one user turn through the pipeline, reporting whether a
// character turn was produced. Results arriving after a reset (stale
// generation) are discarded, never applied.
func (c *Controller) runTurn(ctx context.Context, gen uint64) (bool, error) {
	metrics := observe.DefaultMetrics()
	turnStart := time.Now()

	c.setState(gen, StateTranscribing)
	clip, err := c.deps.Capture.Finalize(ctx)
	if err != nil {
		c.reportError(gen, "recording failed: "+err.Error())
		return false, err
	}

	transcript, err := c.transcribeStage(ctx, clip)
	switch {
	case errors.Is(err, transcribe.ErrNoSpeech):
		// Not a failure: prompt a retry, record nothing.
		c.setState(gen, StateIdle)
		c.notify(gen, Event{Type: EventNotice, Message: "I didn't catch that, try speaking again."})
		return false, nil
	case err != nil:
		c.reportError(gen, "transcription failed, please try again")
		return false, err
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return false, nil
	}
	userTurn := newTurn(SpeakerUser, transcript.Text)
	c.session.append(userTurn)
	history := c.session.history()
	char := c.session.Character
	preset := c.session.preset
	c.mu.Unlock()
	c.notify(gen, Event{Type: EventTurn, Turn: &userTurn})
	metrics.RecordTurn(ctx, string(SpeakerUser))

	c.setState(gen, StateGenerating)
	reply := c.generateStage(ctx, transcript.Text, history, char, preset)

	c.setState(gen, StateSynthesizing)
	c.speakReply(ctx, gen, reply, turnStart)
	metrics.RecordTurn(ctx, string(SpeakerCharacter))
	return true, nil
}

// openingTurn produces and plays the character's first turn. Failures
// degrade the same way a normal turn does; the session always opens.
func (c *Controller) openingTurn(ctx context.Context, gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	char := c.session.Character
	preset := c.session.preset
	c.mu.Unlock()

	c.setState(gen, StateGenerating)
	sctx, cancel := c.stageCtx(ctx)
	reply := c.deps.Generator.Opening(sctx, char, preset)
	cancel()

	c.setState(gen, StateSynthesizing)
	c.speakReply(ctx, gen, reply, time.Time{})

	c.mu.Lock()
	auto := false
	if c.generation == gen {
		c.busy = false
		auto = c.session != nil && c.session.AutoListen && c.state == StateIdle
	}
	c.mu.Unlock()
	if auto {
		c.scheduleAutoListen(gen)
	}
}

// speakReply appends the character turn, synthesizes and plays it, advances
// progress when the turn answers a user utterance, and re-arms auto-listen.
// startedAt is the moment the user stopped speaking; the zero value marks an
// opening turn, which answers no utterance and records no turn latency.
func (c *Controller) speakReply(ctx context.Context, gen uint64, reply respond.Reply, startedAt time.Time) {
	answersUser := !startedAt.IsZero()
	c.mu.Lock()
	if c.generation != gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	profile := synthesis.Profile{
		Gender: c.session.Character.Gender,
		Style:  c.session.Character.Style,
		Role:   c.session.preset.Role,
	}
	c.mu.Unlock()

	sctx, cancel := c.stageCtx(ctx)
	sctx, span := observe.StartSpan(sctx, "turn.synthesize")
	res, synthErr := c.deps.Synthesizer.Synthesize(sctx, reply.Text, profile)
	span.End()
	cancel()

	turn := newTurn(SpeakerCharacter, reply.Text)
	turn.Feedback = reply.Feedback
	turn.Emotion = reply.Emotion
	if synthErr == nil {
		turn.AudioProvider = res.Provider
		turn.Replayable = res.Replayable
	}

	c.mu.Lock()
	if c.generation != gen || c.session == nil {
		c.mu.Unlock()
		return
	}
	c.session.append(turn)
	if turn.Replayable {
		c.clips[turn.ID] = res.Clip
	}
	var progress int
	if answersUser {
		c.session.advanceProgress(c.cfg.ProgressStep)
		progress = c.session.Progress
	}
	c.mu.Unlock()

	c.notify(gen, Event{Type: EventTurn, Turn: &turn})
	if answersUser {
		c.notify(gen, Event{Type: EventProgress, Progress: progress})
	}
	if synthErr != nil {
		c.notify(gen, Event{Type: EventNotice, Message: "voice output unavailable, showing text only"})
	} else if res.Provider == synthesis.DeviceProvider {
		c.notify(gen, Event{Type: EventNotice, Message: "using system voice"})
	}

	c.setState(gen, StatePlaying)
	if answersUser {
		m := observe.DefaultMetrics()
		m.RecordStage(ctx, m.TurnDuration, "pipeline", time.Since(startedAt))
	}
	if synthErr == nil && !res.Clip.Empty() {
		if err := c.deps.Sink.Play(ctx, res.Clip); err != nil {
			c.log.Warn("playback failed", "error", err)
		}
	}
	c.setState(gen, StateIdle)
}

// scheduleAutoListen re-arms capture after the settle delay, unless the
// session was reset or something else claimed the pipeline meanwhile.
func (c *Controller) scheduleAutoListen(gen uint64) {
	time.AfterFunc(c.cfg.SettleDelay, func() {
		c.mu.Lock()
		stale := c.generation != gen || c.session == nil || c.busy ||
			c.state != StateIdle || !c.session.AutoListen
		c.mu.Unlock()
		if stale {
			return
		}
		if err := c.StartListening(context.Background()); err != nil {
			c.log.Warn("auto-listen re-arm failed", "error", err)
		}
	})
}

// Replay plays a previous character turn's audio again. Disallowed while a
// turn pipeline is in flight so replay can never corrupt in-flight state.
func (c *Controller) Replay(ctx context.Context, turnIndex int) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	if c.busy || c.state != StateIdle {
		c.mu.Unlock()
		return ErrBusy
	}
	if turnIndex < 0 || turnIndex >= len(c.session.Turns) {
		c.mu.Unlock()
		return fmt.Errorf("turn index %d out of range", turnIndex)
	}
	turn := c.session.Turns[turnIndex]
	clip, ok := c.clips[turn.ID]
	if !turn.Replayable || !ok {
		c.mu.Unlock()
		return ErrNotReplayable
	}
	c.busy = true
	gen := c.generation
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.generation == gen {
			c.busy = false
		}
		c.mu.Unlock()
	}()
	return c.deps.Sink.Play(ctx, clip)
}

// SetAutoListen toggles automatic capture re-arming.
func (c *Controller) SetAutoListen(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrNoSession
	}
	c.session.AutoListen = enabled
	c.session.UpdatedAt = time.Now().UTC()
	return nil
}

// Reset cancels any in-flight step, releases the microphone, clears turns
// and progress, and re-opens the conversation with a fresh character turn.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return ErrNoSession
	}
	c.generation++
	gen := c.generation
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.session.Turns = []Turn{}
	c.session.Progress = 0
	c.session.UpdatedAt = time.Now().UTC()
	c.clips = make(map[string]audio.Clip)
	c.state = StateIdle
	c.busy = true
	c.mu.Unlock()

	c.deps.Capture.Stop()
	c.log.Info("session reset", "session_id", c.SessionID())
	c.openingTurn(ctx, gen)
	return nil
}

// Close cancels in-flight work and releases the microphone. The controller
// is unusable afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.generation++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	c.deps.Capture.Stop()
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session's ID, or "" before Start.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

// SessionView returns a copy of the session for read-only display.
func (c *Controller) SessionView() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, ErrNoSession
	}
	return c.session.copyOut(), nil
}

// Snapshot returns the session's persistable form.
func (c *Controller) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Snapshot{}, ErrNoSession
	}
	return c.session.snapshot(), nil
}

// Restore installs a previously snapshotted session. Only valid before
// Start. Turn audio is not restored; prior turns are not replayable.
func (c *Controller) Restore(snap Snapshot) error {
	if err := snap.Character.Validate(); err != nil {
		return err
	}
	preset, err := c.deps.Catalog.Resolve(snap.Scenario)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return ErrSessionActive
	}
	c.session = sessionFromSnapshot(snap, preset)
	for i := range c.session.Turns {
		c.session.Turns[i].Replayable = false
	}
	return nil
}

func (c *Controller) transcribeStage(ctx context.Context, clip audio.Clip) (transcribe.Transcript, error) {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "turn.transcribe")
	defer span.End()
	return c.deps.Transcriber.Transcribe(sctx, clip, c.cfg.Language)
}

func (c *Controller) generateStage(ctx context.Context, text string, history []respond.HistoryEntry, char respond.Character, preset scenario.Preset) respond.Reply {
	sctx, cancel := c.stageCtx(ctx)
	defer cancel()
	sctx, span := observe.StartSpan(sctx, "turn.generate")
	defer span.End()
	metrics := observe.DefaultMetrics()
	defer metrics.TimeStage(ctx, metrics.GenerateDuration, "llm")()
	return c.deps.Generator.Generate(sctx, text, history, char, preset)
}

func (c *Controller) stageCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.StageTimeout)
}

// setState applies a state transition unless gen is stale, then notifies.
func (c *Controller) setState(gen uint64, state State) {
	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.notify(gen, Event{Type: EventState, State: state})
}

// reportError surfaces a failure through the Error state, then returns the
// controller to Idle ready for another attempt.
func (c *Controller) reportError(gen uint64, msg string) {
	c.setState(gen, StateError)
	c.notify(gen, Event{Type: EventNotice, Message: msg})
	c.setState(gen, StateIdle)
}

func (c *Controller) notify(gen uint64, ev Event) {
	c.mu.Lock()
	stale := c.generation != gen
	fn := c.deps.Notify
	c.mu.Unlock()
	if stale || fn == nil {
		return
	}
	fn(ev)
}
