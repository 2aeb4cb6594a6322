package respond

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/pkg/provider/llm"
	llmmock "github.com/verbly-ai/verbly/pkg/provider/llm/mock"
)

var (
	testChar = Character{Name: "Mina", Gender: "female", Style: "cheerful"}
	testScen = scenario.Preset{
		Key:         "coffee_shop",
		Description: "The learner orders a drink at a busy coffee shop.",
		Role:        "barista",
		OpeningLine: "Hi there! What can I get started for you today?",
		KeyPhrases:  []string{"I'd like a latte please"},
	}
)

func jsonResponse(s string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: s}
}

func TestGenerate_ParsesStructuredReply(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": "One latte coming right up!", "feedback": {"accuracy": 88, "suggestions": ["try a fuller sentence"]}, "emotion": "happy"}`,
	)}}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "I'd like a latte please", nil, testChar, testScen)
	if reply.Text != "One latte coming right up!" {
		t.Errorf("Text = %q", reply.Text)
	}
	if reply.Feedback == nil || reply.Feedback.Accuracy != 88 {
		t.Errorf("Feedback = %+v, want accuracy 88", reply.Feedback)
	}
	if reply.Emotion != "happy" {
		t.Errorf("Emotion = %q, want happy", reply.Emotion)
	}
}

func TestGenerate_TrimsHistoryWindow(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": "Sure!"}`,
	)}}
	g := NewGenerator(provider, nil, 3, nil)

	var history []HistoryEntry
	for i := 0; i < 10; i++ {
		history = append(history, HistoryEntry{Speaker: "user", Text: "old"})
	}
	history = append(history, HistoryEntry{Speaker: "character", Text: "newest context"})

	g.Generate(context.Background(), "and a muffin", history, testChar, testScen)

	req := provider.Calls[0].Req
	// 3 history turns plus the fresh user utterance.
	if len(req.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(req.Messages))
	}
	if req.Messages[2].Content != "newest context" || req.Messages[2].Role != "assistant" {
		t.Errorf("kept wrong history tail: %+v", req.Messages[2])
	}
	if req.Messages[3].Content != "and a muffin" {
		t.Errorf("last message = %+v, want the fresh utterance", req.Messages[3])
	}
}

func TestGenerate_ProviderErrorYieldsGenericContinuation(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("rate limited")}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "hello", nil, testChar, testScen)
	if strings.TrimSpace(reply.Text) == "" {
		t.Fatal("reply text must never be empty")
	}

	// Deterministic: the same failure produces the same continuation.
	again := g.Generate(context.Background(), "hello", nil, testChar, testScen)
	if again.Text != reply.Text {
		t.Errorf("continuation not deterministic: %q vs %q", again.Text, reply.Text)
	}
}

func TestGenerate_MalformedJSONYieldsGenericContinuation(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": `,
	)}}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "hello", nil, testChar, testScen)
	if strings.TrimSpace(reply.Text) == "" {
		t.Fatal("reply text must never be empty")
	}
}

func TestGenerate_PlainTextReplyAccepted(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		"Of course! For here or to go?",
	)}}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "a latte please", nil, testChar, testScen)
	if reply.Text != "Of course! For here or to go?" {
		t.Errorf("Text = %q, want the plain reply", reply.Text)
	}
}

func TestGenerate_FencedJSONAccepted(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		"```json\n{\"response\": \"Great choice!\"}\n```",
	)}}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "a latte", nil, testChar, testScen)
	if reply.Text != "Great choice!" {
		t.Errorf("Text = %q, want Great choice!", reply.Text)
	}
}

func TestGenerate_ClampsAccuracy(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": "Nice!", "feedback": {"accuracy": 150}}`,
	)}}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Generate(context.Background(), "hi", nil, testChar, testScen)
	if reply.Feedback == nil || reply.Feedback.Accuracy != 100 {
		t.Errorf("Feedback = %+v, want accuracy clamped to 100", reply.Feedback)
	}
	if reply.Feedback.Suggestions == nil {
		t.Error("Suggestions must be an empty list, not nil")
	}
}

func TestGenerate_ScorerFillsMissingFeedback(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": "Coming right up!"}`,
	)}}
	g := NewGenerator(provider, NewScorer(), 6, nil)

	reply := g.Generate(context.Background(), "I'd like a latte please", nil, testChar, testScen)
	if reply.Feedback == nil {
		t.Fatal("expected scorer-derived feedback")
	}
	if reply.Feedback.Accuracy != 100 {
		t.Errorf("Accuracy = %d, want 100 for an exact key-phrase match", reply.Feedback.Accuracy)
	}
}

func TestGenerate_PronunciationQualityMeasuredLocally(t *testing.T) {
	provider := &llmmock.Provider{Responses: []*llm.CompletionResponse{jsonResponse(
		`{"response": "Nice!", "feedback": {"accuracy": 70, "pronunciation_quality": 5}}`,
	)}}
	g := NewGenerator(provider, NewScorer(), 6, nil)

	reply := g.Generate(context.Background(), "I'd like a latte please", nil, testChar, testScen)
	if reply.Feedback == nil {
		t.Fatal("expected feedback")
	}
	// The model's own pronunciation guess is overwritten by the phonetic
	// score; an exact key-phrase match scores 100.
	if reply.Feedback.PronunciationQuality != 100 {
		t.Errorf("PronunciationQuality = %d, want 100", reply.Feedback.PronunciationQuality)
	}
	if reply.Feedback.Accuracy != 70 {
		t.Errorf("Accuracy = %d, want the model's 70 preserved", reply.Feedback.Accuracy)
	}
}

func TestOpening_PresetUsesScriptedLine(t *testing.T) {
	provider := &llmmock.Provider{}
	g := NewGenerator(provider, nil, 6, nil)

	reply := g.Opening(context.Background(), testChar, testScen)
	if reply.Text != testScen.OpeningLine {
		t.Errorf("Text = %q, want the scripted opening line", reply.Text)
	}
	if len(provider.Calls) != 0 {
		t.Error("preset openings must not call the model")
	}
}

func TestOpening_FreeTextFallsBackOnFailure(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("down")}
	g := NewGenerator(provider, nil, 6, nil)

	free := scenario.Preset{Description: "bargaining at a flea market", Role: "vendor"}
	reply := g.Opening(context.Background(), testChar, free)
	if strings.TrimSpace(reply.Text) == "" {
		t.Fatal("opening text must never be empty")
	}
	if !strings.Contains(reply.Text, "Mina") {
		t.Errorf("fallback opening %q should introduce the character", reply.Text)
	}
}

func TestCharacter_Validate(t *testing.T) {
	cases := []struct {
		name    string
		c       Character
		wantErr bool
	}{
		{"valid", Character{Name: "Mina", Gender: "female", Style: "cheerful"}, false},
		{"empty name", Character{Gender: "male", Style: "calm"}, true},
		{"bad gender", Character{Name: "A", Gender: "robot", Style: "calm"}, true},
		{"bad style", Character{Name: "A", Gender: "male", Style: "sleepy"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.c.Validate(); (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
