package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
)

// Session is the state of one practice conversation. It is owned and mutated
// exclusively by its [Controller]; everything handed out of the controller is
// a copy.
type Session struct {
	// ID identifies the session.
	ID string `json:"id"`

	// Character is the configured tutor persona.
	Character respond.Character `json:"character"`

	// Scenario is the descriptor the session was started with.
	Scenario scenario.Descriptor `json:"scenario"`

	// Turns is the full chronological history. Appended, never mutated.
	Turns []Turn `json:"turns"`

	// Progress is the session's completion estimate in [0,100]. It only
	// ever increases.
	Progress int `json:"progress"`

	// AutoListen re-arms capture automatically after each character turn.
	AutoListen bool `json:"auto_listen"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// preset is the resolved scenario; not serialized, re-resolved on
	// restore.
	preset scenario.Preset
}

func newSession(char respond.Character, desc scenario.Descriptor, preset scenario.Preset) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Character: char,
		Scenario:  desc,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
		preset:    preset,
	}
}

func (s *Session) append(t Turn) {
	s.Turns = append(s.Turns, t)
	s.UpdatedAt = time.Now().UTC()
}

// advanceProgress raises progress by step, clamped to 100. Progress is
// monotone: a non-positive step is a no-op.
func (s *Session) advanceProgress(step int) {
	if step <= 0 {
		return
	}
	s.Progress += step
	if s.Progress > 100 {
		s.Progress = 100
	}
}

// history returns the turn history in the shape the reply generator expects,
// skipping system turns.
func (s *Session) history() []respond.HistoryEntry {
	out := make([]respond.HistoryEntry, 0, len(s.Turns))
	for _, t := range s.Turns {
		if t.Speaker == SpeakerSystem {
			continue
		}
		out = append(out, respond.HistoryEntry{Speaker: string(t.Speaker), Text: t.Text})
	}
	return out
}

// copyOut returns a deep-enough copy safe to hand to callers.
func (s *Session) copyOut() Session {
	out := *s
	out.Turns = make([]Turn, len(s.Turns))
	copy(out.Turns, s.Turns)
	out.preset = scenario.Preset{}
	return out
}

// Snapshot is the persistable form of a session.
type Snapshot struct {
	ID         string              `json:"id"`
	Character  respond.Character   `json:"character"`
	Scenario   scenario.Descriptor `json:"scenario"`
	Turns      []Turn              `json:"turns"`
	Progress   int                 `json:"progress"`
	AutoListen bool                `json:"auto_listen"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (s *Session) snapshot() Snapshot {
	turns := make([]Turn, len(s.Turns))
	copy(turns, s.Turns)
	return Snapshot{
		ID:         s.ID,
		Character:  s.Character,
		Scenario:   s.Scenario,
		Turns:      turns,
		Progress:   s.Progress,
		AutoListen: s.AutoListen,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func sessionFromSnapshot(snap Snapshot, preset scenario.Preset) *Session {
	s := &Session{
		ID:         snap.ID,
		Character:  snap.Character,
		Scenario:   snap.Scenario,
		Turns:      make([]Turn, len(snap.Turns)),
		Progress:   snap.Progress,
		AutoListen: snap.AutoListen,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		preset:     preset,
	}
	copy(s.Turns, snap.Turns)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return s
}
