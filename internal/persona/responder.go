package persona

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"debatelab/internal/llm"
	"debatelab/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// earlyStageTurns is the message count below which replies mirror the
// human's brevity instead of unfolding the full persona.
const earlyStageTurns = 6

// GenerateRequest carries everything a persona-conditioned reply needs.
type GenerateRequest struct {
	Profile       Profile
	History       []*models.Message // chronological, newest last
	Topic         string
	Position      *models.Position // the persona's own stance, when it holds one
	HumanPosition string           // the human's declared side, "for" or "against"
	HumanMessage  string           // the turn being replied to
}

// Responder builds persona prompts and calls the chat model. Generation
// failures never reach the conversation: a deflection line goes out instead.
type Responder struct {
	chatModel llm.Generator

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewResponder(chatModel llm.Generator) *Responder {
	return &Responder{
		chatModel: chatModel,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate produces one reply as the given persona. The returned bool
// reports whether the content is a fallback deflection.
func (r *Responder) Generate(ctx context.Context, req GenerateRequest) (string, bool) {
	if r.chatModel == nil {
		return r.deflection(), true
	}

	messages := []*schema.Message{
		{Role: schema.System, Content: r.systemPrompt(req)},
	}
	messages = append(messages, historyToSchema(req.History, req.Profile.Name)...)
	if req.HumanMessage != "" {
		messages = append(messages, &schema.Message{Role: schema.User, Content: req.HumanMessage})
	}

	resp, err := r.chatModel.Generate(ctx, messages, model.WithMaxTokens(r.tokenBudget(req)))
	if err != nil {
		log.Printf("persona %s generation failed, deflecting: %v", req.Profile.Name, err)
		return r.deflection(), true
	}
	content := strings.TrimSpace(resp.Content)
	if content == "" {
		log.Printf("persona %s generation returned empty content, deflecting", req.Profile.Name)
		return r.deflection(), true
	}
	return content, false
}

// systemPrompt assembles the fixed persona block, conversation-stage
// guidance and, when both topic and stance are known, the instruction to
// argue against the human's declared side.
func (r *Responder) systemPrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a participant in an online debate. Stay fully in character and never mention being an AI.\n\n", req.Profile.Name)
	fmt.Fprintf(&b, "Background: %s\n", req.Profile.Bio)
	fmt.Fprintf(&b, "How you write: %s\n", req.Profile.Speech)

	if len(req.History) < earlyStageTurns {
		b.WriteString("\nThe conversation is just starting. Keep replies short and mirror the other person's length and energy. Do not lecture.\n")
	} else {
		b.WriteString("\nThe conversation is underway. Let your personality come through fully; develop your arguments and push back where you disagree.\n")
	}

	if req.Topic != "" && req.HumanPosition != "" {
		stance := "against"
		if strings.EqualFold(req.HumanPosition, "against") {
			stance = "for"
		}
		fmt.Fprintf(&b, "\nThe debate topic is: %q. Argue %s this proposition, the opposite of your counterpart's declared position.\n", req.Topic, stance)
	}
	if req.Position != nil {
		fmt.Fprintf(&b, "Your current conviction in your side is %.1f out of 1.0; let strong conviction show as certainty and weak conviction as hedging.\n", req.Position.Intensity)
	}
	return b.String()
}

// tokenBudget scales the response ceiling with the human's own message
// length and how deep the conversation is, keeping exchanges proportionate.
// It is a budget, not a truncation.
func (r *Responder) tokenBudget(req GenerateRequest) int {
	budget := 60 + len(req.HumanMessage)/3
	if len(req.History) >= earlyStageTurns {
		budget += 80
	}
	if budget > 400 {
		budget = 400
	}
	return budget
}

func (r *Responder) deflection() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Deflections[r.rnd.Intn(len(Deflections))]
}

// historyToSchema maps the stored transcript onto chat roles from the
// persona's point of view: its own past messages become assistant turns,
// everyone else's become user turns with a speaker prefix.
func historyToSchema(history []*models.Message, personaName string) []*schema.Message {
	selfID := models.AIUserPrefix + strings.ToLower(personaName)
	out := make([]*schema.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch {
		case msg.SenderID == selfID:
			out = append(out, &schema.Message{Role: schema.Assistant, Content: msg.Content})
		case msg.Role == models.RoleSystem:
			out = append(out, &schema.Message{Role: schema.System, Content: msg.Content})
		default:
			out = append(out, &schema.Message{Role: schema.User, Content: fmt.Sprintf("%s: %s", msg.SenderID, msg.Content)})
		}
	}
	return out
}
