package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/verbly-ai/verbly/internal/respond"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerCharacter Speaker = "character"
	SpeakerSystem    Speaker = "system"
)

// Turn is one utterance in a session. Turns are immutable once created and
// only ever appended to the session history.
type Turn struct {
	// ID is unique within the session.
	ID string `json:"id"`

	// Speaker identifies who produced the turn.
	Speaker Speaker `json:"speaker"`

	// Text is the spoken or displayed content. Never empty for user and
	// character turns.
	Text string `json:"text"`

	// Feedback is the tutor's assessment, present only on character turns
	// that answer a learner utterance.
	Feedback *respond.Feedback `json:"feedback,omitempty"`

	// Emotion is an optional display hint on character turns.
	Emotion string `json:"emotion,omitempty"`

	// AudioProvider names the synthesis provider that produced the turn's
	// audio; empty for user and system turns, "device" for on-device
	// synthesis, "" also when synthesis was unavailable (text-only turn).
	AudioProvider string `json:"audio_provider,omitempty"`

	// Replayable reports whether the turn's audio is held server-side and
	// can be played again. On-device and text-only turns are not replayable.
	Replayable bool `json:"replayable"`

	// CreatedAt orders the turn chronologically.
	CreatedAt time.Time `json:"created_at"`
}

func newTurn(speaker Speaker, text string) Turn {
	return Turn{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}
