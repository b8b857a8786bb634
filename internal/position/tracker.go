package position

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"debatelab/internal/llm"
	"debatelab/internal/models"

	"github.com/cloudwego/eino/schema"
)

// maxDelta bounds a single evaluation's confidence movement.
const maxDelta = 0.4

// minEvaluableLength is the character threshold below which an utterance is
// treated as neutral without consulting the evaluator.
const minEvaluableLength = 12

var neutralOpeners = []string{
	"hi", "hello", "hey", "yo", "ok", "okay", "sure", "thanks", "thank you",
	"lol", "haha", "yeah", "yep", "hmm", "brb", "good morning", "good evening",
}

// Evaluation is the tracker's verdict on one AI utterance.
type Evaluation struct {
	Position    models.Position `json:"updatedPosition"`
	Delta       float64         `json:"confidenceChange"`
	MessageType string          `json:"messageType"`
	Reasoning   string          `json:"reasoning"`
	Changed     bool            `json:"-"`
}

// Tracker maintains the bounded confidence scalar for AI stance-holders.
// Evaluation failures leave the position unchanged; they never fail the
// enclosing conversation turn.
type Tracker struct {
	judge llm.Generator // nil degrades every evaluation to "unchanged"
}

func NewTracker(judge llm.Generator) *Tracker {
	return &Tracker{judge: judge}
}

// Evaluate scores how an AI's own utterance moved its stance confidence and
// returns the updated position.
func (t *Tracker) Evaluate(ctx context.Context, utterance string, current models.Position, topic string) Evaluation {
	unchanged := Evaluation{Position: current, MessageType: "neutral"}

	if isNeutral(utterance) {
		unchanged.Reasoning = "utterance is a greeting or too short to evaluate"
		return unchanged
	}
	if t.judge == nil {
		log.Printf("position evaluator unconfigured, leaving position unchanged")
		return unchanged
	}

	systemPrompt := "You evaluate how strongly a debate statement commits to its speaker's declared side. " +
		"Return strict JSON only, no prose: " +
		`{"delta": <number between -0.4 and 0.4>, "type": "<reinforcement|support|neutral|doubt|contradiction>", "reasoning": "<one sentence>"}. ` +
		"Positive delta means the statement strengthens the speaker's stance, negative means it concedes ground."

	userPrompt := fmt.Sprintf("Debate topic: %s\nSpeaker's stance: %s (confidence %.1f)\nStatement: %s",
		topic, current.Stance, current.Intensity, utterance)

	resp, err := t.judge.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		log.Printf("position evaluation failed, leaving position unchanged: %v", err)
		return unchanged
	}

	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		log.Printf("position verdict unparseable (%v), leaving position unchanged", err)
		return unchanged
	}

	delta := clampDelta(verdict.Delta)
	updated := current.Shift(delta)
	return Evaluation{
		Position:    updated,
		Delta:       delta,
		MessageType: verdict.Type,
		Reasoning:   verdict.Reasoning,
		Changed:     updated.Intensity != current.Intensity || updated.Stance != current.Stance,
	}
}

type verdict struct {
	Delta     float64 `json:"delta"`
	Type      string  `json:"type"`
	Reasoning string  `json:"reasoning"`
}

// parseVerdict extracts the JSON object from the judge's reply, tolerating
// surrounding prose or markdown fences.
func parseVerdict(content string) (*verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in %q", content)
	}
	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func clampDelta(d float64) float64 {
	if d > maxDelta {
		return maxDelta
	}
	if d < -maxDelta {
		return -maxDelta
	}
	return d
}

// isNeutral short-circuits greetings, acks and near-empty messages.
func isNeutral(utterance string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(utterance))
	if len(trimmed) < minEvaluableLength {
		return true
	}
	for _, opener := range neutralOpeners {
		if trimmed == opener || strings.HasPrefix(trimmed, opener+"!") || strings.HasPrefix(trimmed, opener+".") {
			return true
		}
	}
	return false
}
