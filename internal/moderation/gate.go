package moderation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"debatelab/internal/llm"

	"github.com/cloudwego/eino/schema"
)

// Tier names reported in results.
const (
	TierOpenAI     = "openai"
	TierKeyword    = "keyword"
	TierContextual = "contextual"
	TierFallback   = "fallback"
	TierApproved   = "approved"
)

// Result is the gate's verdict on one human message.
type Result struct {
	Safe       bool     `json:"isSafe"`
	Reason     string   `json:"reason,omitempty"`
	Type       string   `json:"moderationType"`
	Categories []string `json:"categories,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// SafetyClassifier is tier 1: the provider's categorical classifier.
type SafetyClassifier interface {
	Configured() bool
	Classify(ctx context.Context, input string) (bool, []string, error)
}

// Gate runs the three moderation tiers in strict order. The keyword tier is
// reached only when tier 1 is unreachable, never when tier 1 merely says
// safe; a safe tier-1 verdict always proceeds to the contextual judge. A
// tier's own failure degrades to safe rather than blocking the turn.
type Gate struct {
	classifier SafetyClassifier
	judge      llm.Generator // nil when the provider credential is absent
}

func NewGate(classifier SafetyClassifier, judge llm.Generator) *Gate {
	return &Gate{classifier: classifier, judge: judge}
}

// Check decides whether the message may trigger downstream AI behavior.
func (g *Gate) Check(ctx context.Context, message, conversationContext, topic string) Result {
	if g.classifier == nil || !g.classifier.Configured() {
		return g.keywordCheck(message)
	}

	flagged, categories, err := g.classifier.Classify(ctx, message)
	if err != nil {
		log.Printf("moderation tier 1 unavailable, falling back to keywords: %v", err)
		return g.keywordCheck(message)
	}
	if flagged {
		return Result{
			Safe:       false,
			Reason:     "message flagged by safety classifier",
			Type:       TierOpenAI,
			Categories: categories,
		}
	}
	return g.contextualCheck(ctx, message, conversationContext, topic)
}

func (g *Gate) keywordCheck(message string) Result {
	if hits := matchKeywords(message); len(hits) > 0 {
		return Result{
			Safe:     false,
			Reason:   "message matched blocked terms",
			Type:     TierKeyword,
			Keywords: hits,
		}
	}
	return Result{Safe: true, Type: TierKeyword}
}

// contextualCheck asks an LLM whether the message is on-topic and civil for
// this specific debate. The judge must lead its answer with SAFE or UNSAFE;
// anything else is treated as a judge failure and degrades to safe.
func (g *Gate) contextualCheck(ctx context.Context, message, conversationContext, topic string) Result {
	if g.judge == nil {
		log.Printf("moderation contextual judge unconfigured, degrading to safe")
		return Result{Safe: true, Type: TierFallback}
	}

	systemPrompt := "You are a moderation judge for a structured debate. " +
		"Decide whether the participant's message is an acceptable contribution: on-topic for the debate subject, " +
		"respectful of other participants, and not an attempt to break or derail the conversation. " +
		"Respond with a single line starting with SAFE or UNSAFE, optionally followed by a short reason."

	userPrompt := fmt.Sprintf("Debate topic: %s\n", topic)
	if conversationContext != "" {
		userPrompt += fmt.Sprintf("Recent conversation:\n%s\n", conversationContext)
	}
	userPrompt += fmt.Sprintf("Participant message: %s", message)

	resp, err := g.judge.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		log.Printf("moderation contextual judge failed, degrading to safe: %v", err)
		return Result{Safe: true, Type: TierFallback}
	}

	verdict := strings.TrimSpace(resp.Content)
	upper := strings.ToUpper(verdict)
	switch {
	case strings.HasPrefix(upper, "UNSAFE"):
		reason := strings.TrimSpace(strings.TrimLeft(verdict[len("UNSAFE"):], ":,.- "))
		if reason == "" {
			reason = "message judged off-topic or abusive for this debate"
		}
		return Result{Safe: false, Reason: reason, Type: TierContextual}
	case strings.HasPrefix(upper, "SAFE"):
		return Result{Safe: true, Type: TierApproved}
	default:
		log.Printf("moderation judge returned unparseable verdict %q, degrading to safe", verdict)
		return Result{Safe: true, Type: TierFallback}
	}
}
