// Package respond generates the tutor character's next turn from the
// learner's transcript and the recent conversation history.
//
// Generation never fails outward: when the underlying model errors or
// returns output the parser cannot make sense of, the generator substitutes
// a fixed continuation so the conversation stays alive.
package respond

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/pkg/provider/llm"
)

// Character is the tutor persona the learner configured for the session.
type Character struct {
	Name        string `json:"name"`
	Gender      string `json:"gender"` // "male" or "female"
	Style       string `json:"style"`  // "cheerful", "calm", or "strict"
	PortraitURL string `json:"portrait_url,omitempty"`
}

// Validate checks the character for required fields and known enum values.
func (c Character) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("character: name is required")
	}
	switch c.Gender {
	case "male", "female":
	default:
		return fmt.Errorf("character: unknown gender %q", c.Gender)
	}
	switch c.Style {
	case "cheerful", "calm", "strict":
	default:
		return fmt.Errorf("character: unknown teaching style %q", c.Style)
	}
	return nil
}

// Feedback is the tutor's assessment of the learner's utterance.
type Feedback struct {
	// Accuracy is an integer score in [0,100].
	Accuracy int `json:"accuracy"`

	// PronunciationQuality is an integer score in [0,100], derived from
	// phonetic similarity between the transcript and the scenario's key
	// phrases.
	PronunciationQuality int `json:"pronunciation_quality"`

	// Suggestions are ordered improvement hints, possibly empty.
	Suggestions []string `json:"suggestions"`

	// ImprovedExpression is an optional corrected version of what the
	// learner said.
	ImprovedExpression string `json:"improved_expression,omitempty"`
}

// Reply is one generated character turn.
type Reply struct {
	// Text is the character's spoken reply. Never empty.
	Text string

	// Feedback is the optional assessment of the learner's utterance.
	Feedback *Feedback

	// Emotion is an optional display hint (e.g., "happy", "encouraging").
	Emotion string
}

// HistoryEntry is one prior turn passed as generation context.
type HistoryEntry struct {
	// Speaker is "user" or "character".
	Speaker string

	// Text is the turn's content.
	Text string
}

// Generator produces character replies through an LLM provider.
type Generator struct {
	provider      llm.Provider
	scorer        *Scorer
	historyWindow int
	log           *slog.Logger
}

// NewGenerator creates a generator. historyWindow bounds how many recent
// turns are sent to the model; values below 1 fall back to 6.
func NewGenerator(provider llm.Provider, scorer *Scorer, historyWindow int, log *slog.Logger) *Generator {
	if historyWindow < 1 {
		historyWindow = 6
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{
		provider:      provider,
		scorer:        scorer,
		historyWindow: historyWindow,
		log:           log,
	}
}

// modelReply mirrors the JSON structure the model is instructed to emit.
type modelReply struct {
	Response string    `json:"response"`
	Feedback *Feedback `json:"feedback"`
	Emotion  string    `json:"emotion"`
}

// Generate produces the character's next turn. It always returns a reply
// with non-empty text; model failures and malformed output degrade to a
// fixed continuation.
func (g *Generator) Generate(ctx context.Context, userText string, history []HistoryEntry, char Character, scen scenario.Preset) Reply {
	req := llm.CompletionRequest{
		SystemPrompt: g.systemPrompt(char, scen),
		Messages:     g.buildMessages(userText, history, char),
		Temperature:  0.7,
		MaxTokens:    400,
	}

	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		g.log.Warn("reply generation failed, using generic continuation", "error", err)
		return g.genericContinuation(char)
	}

	reply, ok := parseReply(resp.Content)
	if !ok || strings.TrimSpace(reply.Text) == "" {
		g.log.Warn("reply generation returned malformed output, using generic continuation")
		return g.genericContinuation(char)
	}

	if reply.Feedback != nil {
		reply.Feedback.Accuracy = clamp(reply.Feedback.Accuracy, 0, 100)
		if reply.Feedback.Suggestions == nil {
			reply.Feedback.Suggestions = []string{}
		}
	} else if g.scorer != nil && len(scen.KeyPhrases) > 0 {
		// The model gave no assessment; fall back to local scoring against
		// the scenario's target phrases.
		reply.Feedback = &Feedback{
			Accuracy:    g.scorer.Score(userText, scen.KeyPhrases),
			Suggestions: []string{},
		}
	}
	// Pronunciation quality is always measured locally; the model only hears
	// text, never the learner's voice.
	if reply.Feedback != nil && g.scorer != nil && len(scen.KeyPhrases) > 0 {
		reply.Feedback.PronunciationQuality = g.scorer.Score(userText, scen.KeyPhrases)
	}
	return reply
}

// Opening produces the character's first turn of a session. Preset scenarios
// carry a scripted opening line; free-text scenarios ask the model for one,
// degrading to a fixed greeting on failure.
func (g *Generator) Opening(ctx context.Context, char Character, scen scenario.Preset) Reply {
	if scen.OpeningLine != "" {
		return Reply{Text: scen.OpeningLine}
	}

	req := llm.CompletionRequest{
		SystemPrompt: g.systemPrompt(char, scen),
		Messages: []llm.Message{{
			Role:    "user",
			Content: "Open the conversation in character with one short, friendly line that invites the learner to speak.",
		}},
		Temperature: 0.7,
		MaxTokens:   120,
	}
	resp, err := g.provider.Complete(ctx, req)
	if err != nil {
		g.log.Warn("opening generation failed, using fixed greeting", "error", err)
		return g.fixedOpening(char)
	}
	reply, ok := parseReply(resp.Content)
	if !ok || strings.TrimSpace(reply.Text) == "" {
		return g.fixedOpening(char)
	}
	reply.Feedback = nil
	return reply
}

func (g *Generator) systemPrompt(char Character, scen scenario.Preset) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s English tutor playing the role of a %s.\n",
		char.Name, char.Style, roleOrDefault(scen.Role))
	if scen.Description != "" {
		fmt.Fprintf(&b, "Scenario: %s\n", scen.Description)
	}
	if len(scen.KeyPhrases) > 0 {
		fmt.Fprintf(&b, "Gently steer the learner towards these expressions: %s.\n",
			strings.Join(scen.KeyPhrases, "; "))
	}
	b.WriteString("Stay in character, keep replies to one or two spoken sentences, " +
		"and correct the learner kindly.\n")
	b.WriteString(`Respond with JSON only: {"response": "<your spoken reply>", ` +
		`"feedback": {"accuracy": <0-100>, "suggestions": ["..."], ` +
		`"improved_expression": "<optional corrected sentence>"}, "emotion": "<one word>"}`)
	return b.String()
}

func (g *Generator) buildMessages(userText string, history []HistoryEntry, char Character) []llm.Message {
	recent := history
	if len(recent) > g.historyWindow {
		recent = recent[len(recent)-g.historyWindow:]
	}

	msgs := make([]llm.Message, 0, len(recent)+1)
	for _, h := range recent {
		role := "user"
		var name string
		if h.Speaker == "character" {
			role = "assistant"
			name = char.Name
		}
		msgs = append(msgs, llm.Message{Role: role, Content: h.Text, Name: name})
	}
	return append(msgs, llm.Message{Role: "user", Content: userText})
}

// parseReply extracts the structured reply from model output, tolerating
// markdown code fences and plain-text answers.
func parseReply(content string) (Reply, bool) {
	content = strings.TrimSpace(content)
	if fenced := stripFence(content); fenced != "" {
		content = fenced
	}

	var mr modelReply
	if err := json.Unmarshal([]byte(content), &mr); err == nil && mr.Response != "" {
		return Reply{Text: mr.Response, Feedback: mr.Feedback, Emotion: mr.Emotion}, true
	}

	// Not JSON: a plain-text reply is still usable, but JSON-looking text
	// that failed to parse is not.
	if content == "" || strings.HasPrefix(content, "{") {
		return Reply{}, false
	}
	return Reply{Text: content}, true
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return ""
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// genericContinuation is the deterministic fallback reply used whenever
// generation fails. Conversation continuity beats generation fidelity.
func (g *Generator) genericContinuation(char Character) Reply {
	return Reply{
		Text:    "I see! That's interesting. Please, tell me more.",
		Emotion: styleEmotion(char.Style),
	}
}

func (g *Generator) fixedOpening(char Character) Reply {
	return Reply{
		Text:    fmt.Sprintf("Hi, I'm %s! Let's practice together. Whenever you're ready, just start talking.", char.Name),
		Emotion: styleEmotion(char.Style),
	}
}

func styleEmotion(style string) string {
	switch style {
	case "cheerful":
		return "happy"
	case "strict":
		return "serious"
	default:
		return "calm"
	}
}

func roleOrDefault(role string) string {
	if role == "" {
		return "conversation partner"
	}
	return role
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
