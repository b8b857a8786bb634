package api

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"debatelab/internal/matchmaker"
	"debatelab/internal/models"
	"debatelab/internal/moderation"
	"debatelab/internal/persona"
	"debatelab/internal/position"
	"debatelab/internal/scheduler"
	"debatelab/internal/store"
)

// RoomStore is the store surface the handlers touch directly.
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error)
	GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error)
	ListMessages(ctx context.Context, roomID string) ([]*models.Message, error)
	LatestMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
	AddMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	HasModeratorMessageSince(ctx context.Context, roomID string, since time.Time) (bool, error)
	UpdateRoomStatus(ctx context.Context, roomID string, status models.RoomStatus) error
	UpdateMemberPosition(ctx context.Context, roomID, userID string, pos models.Position) error
}

// Handler wires HTTP routes to the matchmaking and orchestration engine.
type Handler struct {
	store        RoomStore
	matchmaker   *matchmaker.Matchmaker
	gate         *moderation.Gate
	responder    *persona.Responder
	responderErr error // why the responder is unavailable, when it is
	tracker      *position.Tracker
	scheduler    *scheduler.Scheduler
}

// NewHandler constructs a Handler instance. responder may be nil when the
// generation credential is absent; only the endpoints that need it degrade.
func NewHandler(
	roomStore RoomStore,
	mm *matchmaker.Matchmaker,
	gate *moderation.Gate,
	responder *persona.Responder,
	responderErr error,
	tracker *position.Tracker,
	sched *scheduler.Scheduler,
) *Handler {
	return &Handler{
		store:        roomStore,
		matchmaker:   mm,
		gate:         gate,
		responder:    responder,
		responderErr: responderErr,
		tracker:      tracker,
		scheduler:    sched,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/rooms/:id/join", h.joinRoom)
	api.GET("/rooms/:id", h.getRoom)
	api.GET("/rooms/:id/messages", h.getMessages)
	api.POST("/rooms/:id/messages", h.postMessage)
	api.POST("/rooms/:id/end", h.endRoom)
	api.POST("/chat", h.chat)
	api.POST("/moderate", h.moderate)
	api.POST("/evaluate-position", h.evaluatePosition)
}

type joinRequest struct {
	UserID        string            `json:"user_id"`
	UserName      string            `json:"user_name"`
	IsConfederate bool              `json:"is_confederate"`
	UserOpinions  map[string]string `json:"user_opinions"`
	Team          string            `json:"team"`
}

func (h *Handler) joinRoom(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.UserName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and user_name are required"})
		return
	}

	room, err := h.matchmaker.Join(c.Request.Context(), c.Param("id"), matchmaker.JoinRequest{
		UserID:        req.UserID,
		UserName:      req.UserName,
		IsConfederate: req.IsConfederate,
		UserOpinions:  req.UserOpinions,
		TeamHint:      req.Team,
	})
	if err != nil {
		switch {
		case errors.Is(err, matchmaker.ErrUnknownTopology):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, store.ErrRoomUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room store unavailable, please retry"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room})
}

func (h *Handler) getRoom(c *gin.Context) {
	roomID := c.Param("id")
	room, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	members, err := h.store.ListMembers(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "members": members})
}

func (h *Handler) getMessages(c *gin.Context) {
	msgs, err := h.store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type postMessageRequest struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// moderatorNotice is the synthesized intervention appended instead of any
// AI reply when a message is rejected.
const moderatorNotice = "A moderator has hidden the last message for being off-topic or disrespectful. Please keep the discussion civil and on the debate topic."

// postMessage is the engine pipeline for one human turn: append, moderate,
// then either inject a moderator notice or hand the turn to the scheduler.
func (h *Handler) postMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.SenderID) == "" || strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sender_id and content are required"})
		return
	}
	ctx := c.Request.Context()
	roomID := c.Param("id")

	room, err := h.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.store.GetMember(ctx, roomID, req.SenderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusForbidden, gin.H{"error": "sender is not a member of this room"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.store.AddMessage(ctx, models.Message{
		RoomID:   roomID,
		SenderID: req.SenderID,
		Role:     models.RoleUser,
		Content:  req.Content,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	verdict := h.gate.Check(ctx, req.Content, h.recentContext(ctx, roomID), room.Topic)
	if !verdict.Safe {
		// duplicate triggers from polling clients must still yield exactly
		// one moderator message
		exists, err := h.store.HasModeratorMessageSince(ctx, roomID, msg.CreatedAt)
		if err == nil && !exists {
			if _, err := h.store.AddMessage(ctx, models.Message{
				RoomID:   roomID,
				SenderID: models.ModeratorSender,
				Role:     models.RoleSystem,
				Content:  moderatorNotice,
			}); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"message": msg, "moderation": verdict})
		return
	}

	// ended rooms still accept appends, but do not trigger new AI turns
	if room.Status == models.StatusActive {
		members, err := h.store.ListMembers(ctx, roomID)
		if err == nil {
			h.scheduler.Dispatch(room, msg, members)
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "moderation": verdict})
}

// recentContext renders the last few turns for the contextual judge.
func (h *Handler) recentContext(ctx context.Context, roomID string) string {
	msgs, err := h.store.LatestMessages(ctx, roomID, 6)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.SenderID)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func (h *Handler) endRoom(c *gin.Context) {
	roomID := c.Param("id")
	if _, err := h.store.GetRoom(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.UpdateRoomStatus(c.Request.Context(), roomID, models.StatusEnded); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.scheduler.CancelRoom(roomID)
	c.Status(http.StatusNoContent)
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	UserTraits          string `json:"userTraits"`
	Topic               string `json:"topic"`
	RoomID              string `json:"roomId"`
	DebateTopic         string `json:"debateTopic"`
	UserPosition        string `json:"userPosition"`
	ConfederateName     string `json:"confederateName"`
	RoomType            string `json:"roomType"`
	ResponderID         string `json:"responderId"`
	ConversationContext string `json:"conversationContext"`
}

// chat is the direct persona-generation entry point. Generation failures
// answer 200 with a deflection line; only a missing credential is a 500.
func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if h.responder == nil {
		msg := "generation provider credential missing"
		if h.responderErr != nil {
			msg = h.responderErr.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
		return
	}

	name := req.ConfederateName
	if name == "" && req.ResponderID != "" {
		name = strings.TrimPrefix(req.ResponderID, models.AIUserPrefix)
	}
	profile, ok := persona.ByName(name)
	if !ok {
		profile = persona.Profile{Name: name, SpeedFactor: 1}
	}

	var history []*models.Message
	var humanMessage string
	for _, m := range req.Messages {
		role := models.Role(m.Role)
		senderID := "participant"
		if role == models.RoleAssistant {
			senderID = models.AIUserPrefix + strings.ToLower(profile.Name)
		}
		history = append(history, &models.Message{SenderID: senderID, Role: role, Content: m.Content})
	}
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser {
		humanMessage = history[n-1].Content
		history = history[:n-1]
	}

	topic := req.DebateTopic
	if topic == "" {
		topic = req.Topic
	}
	content, _ := h.responder.Generate(c.Request.Context(), persona.GenerateRequest{
		Profile:       profile,
		History:       history,
		Topic:         topic,
		HumanPosition: req.UserPosition,
		HumanMessage:  humanMessage,
	})
	c.JSON(http.StatusOK, gin.H{
		"content": content,
		"id":      uuid.NewString(),
		"role":    models.RoleAssistant,
	})
}

type moderateRequest struct {
	Message string `json:"message"`
	Context string `json:"context"`
	Topic   string `json:"topic"`
}

func (h *Handler) moderate(c *gin.Context) {
	var req moderateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	c.JSON(http.StatusOK, h.gate.Check(c.Request.Context(), req.Message, req.Context, req.Topic))
}

type evaluatePositionRequest struct {
	Message         string           `json:"message"`
	CurrentPosition *models.Position `json:"currentPosition"`
	DebateTopic     string           `json:"debateTopic"`
	RoomID          string           `json:"roomId"`
	LLMUserID       string           `json:"llmUserId"`
}

func (h *Handler) evaluatePosition(c *gin.Context) {
	var req evaluatePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CurrentPosition == nil || req.CurrentPosition.Stance == "" || req.CurrentPosition.Intensity == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currentPosition with stance and intensity is required"})
		return
	}

	current := models.NewPosition(req.CurrentPosition.Intensity)
	eval := h.tracker.Evaluate(c.Request.Context(), req.Message, current, req.DebateTopic)

	if eval.Changed && req.RoomID != "" && req.LLMUserID != "" {
		// best effort: a failed write must not fail the evaluation response
		if err := h.store.UpdateMemberPosition(c.Request.Context(), req.RoomID, req.LLMUserID, eval.Position); err != nil {
			log.Printf("persist position for %s in room %s failed: %v", req.LLMUserID, req.RoomID, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"updatedPosition":    eval.Position,
		"reasoning":          eval.Reasoning,
		"messageType":        eval.MessageType,
		"confidenceChange":   eval.Delta,
		"previousConfidence": current.Intensity,
		"newConfidence":      eval.Position.Intensity,
	})
}
