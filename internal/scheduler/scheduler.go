package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"debatelab/internal/models"
	"debatelab/internal/persona"
	"debatelab/internal/position"
	"debatelab/internal/redis"
	"debatelab/internal/worker"
)

// afterFunc is a seam for tests; production uses the real timer.
var afterFunc = time.AfterFunc

const (
	generationTimeout = 60 * time.Second
	// how long after an AI post the room still counts as "recently replied"
	recentReplyWindow = 10 * time.Second
)

// Store is the slice of the room store the scheduler reads and writes.
type Store interface {
	ActiveRooms(ctx context.Context) ([]*models.Room, error)
	ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error)
	LatestMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error)
	AddMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	UpdateMemberPosition(ctx context.Context, roomID, userID string, pos models.Position) error
}

// Generator produces one persona reply; see persona.Responder.
type Generator interface {
	Generate(ctx context.Context, req persona.GenerateRequest) (string, bool)
}

// Evaluator scores an AI utterance against its stance; see position.Tracker.
type Evaluator interface {
	Evaluate(ctx context.Context, utterance string, current models.Position, topic string) position.Evaluation
}

// Scheduler decides which AI participants answer a human turn and when.
// Replies are fire-and-forget: timers feed the room-keyed dispatcher, and
// nothing in flight can be aborted once dispatched.
type Scheduler struct {
	store      Store
	responder  Generator
	tracker    Evaluator
	dispatcher *worker.Dispatcher
	cache      *redis.Client

	mu  sync.Mutex
	rnd *rand.Rand
}

func New(store Store, responder Generator, tracker Evaluator, dispatcher *worker.Dispatcher, cache *redis.Client) *Scheduler {
	return &Scheduler{
		store:      store,
		responder:  responder,
		tracker:    tracker,
		dispatcher: dispatcher,
		cache:      cache,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Dispatch selects responders for a human turn and schedules their replies.
// A direct address selects exactly that candidate; otherwise one or two are
// drawn at random. Each reply is scheduled independently with its own
// human-plausible delay.
func (s *Scheduler) Dispatch(room *models.Room, trigger *models.Message, candidates []*models.RoomMember) {
	var aiCands []*models.RoomMember
	for _, c := range candidates {
		if c.IsAI() {
			aiCands = append(aiCands, c)
		}
	}
	if len(aiCands) == 0 {
		return
	}

	var selected []*models.RoomMember
	if addressee := DirectAddressee(trigger.Content, aiCands); addressee != nil {
		selected = []*models.RoomMember{addressee}
	} else {
		selected = s.sample(aiCands)
	}

	for i, member := range selected {
		profile := s.profileFor(member)
		expectedLen := 60 + len(trigger.Content)/2
		delay := ReplyDelay(len(trigger.Content), expectedLen, profile.SpeedFactor)
		delay += time.Duration(i) * interResponderGap

		s.markInFlight(room.ID, delay+generationTimeout)
		s.schedule(room, member, trigger, delay)
	}
}

// CancelRoom drops replies queued for a room that has ended. Jobs already on
// a worker still complete.
func (s *Scheduler) CancelRoom(roomID string) {
	s.dispatcher.CancelRoom(roomID)
}

// RunSilenceMonitor periodically injects one AI turn into rooms that have
// gone quiet, unless the latest word already belongs to an AI or a reply is
// in flight. Blocks until ctx is done.
func (s *Scheduler) RunSilenceMonitor(ctx context.Context, every, threshold time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepSilentRooms(ctx, threshold)
		}
	}
}

func (s *Scheduler) sweepSilentRooms(ctx context.Context, threshold time.Duration) {
	rooms, err := s.store.ActiveRooms(ctx)
	if err != nil {
		log.Printf("silence sweep room list failed: %v", err)
		return
	}
	for _, room := range rooms {
		s.maybeContinue(ctx, room, threshold)
	}
}

func (s *Scheduler) maybeContinue(ctx context.Context, room *models.Room, threshold time.Duration) {
	msgs, err := s.store.LatestMessages(ctx, room.ID, 2)
	if err != nil || len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if time.Since(last.CreatedAt) < threshold {
		return
	}
	// never chain autonomous turns: the last word must belong to a human
	if last.Role != models.RoleUser {
		return
	}
	if !s.tryMarkInFlight(room.ID, generationTimeout) {
		return
	}

	members, err := s.store.ListMembers(ctx, room.ID)
	if err != nil {
		return
	}
	var aiMembers []*models.RoomMember
	for _, m := range members {
		if m.IsAI() {
			aiMembers = append(aiMembers, m)
		}
	}
	if len(aiMembers) == 0 {
		return
	}
	s.mu.Lock()
	member := aiMembers[s.rnd.Intn(len(aiMembers))]
	s.mu.Unlock()

	profile := s.profileFor(member)
	delay := ReplyDelay(len(last.Content), 80, profile.SpeedFactor)
	s.schedule(room, member, last, delay)
}

func (s *Scheduler) schedule(room *models.Room, member *models.RoomMember, trigger *models.Message, delay time.Duration) {
	roomID := room.ID
	afterFunc(delay, func() {
		err := s.dispatcher.Submit(worker.Job{
			RoomID: roomID,
			Run: func() {
				s.generateReply(room, member, trigger)
			},
		})
		if err != nil {
			log.Printf("room %s reply for %s dropped: %v", roomID, member.UserID, err)
		}
	})
}

// generateReply runs on a pooled worker: build the persona request from the
// stored transcript, generate, append, then evaluate the stance shift for
// stance-holding AIs. Store failures on the position write are logged and
// swallowed; the reply itself already landed.
func (s *Scheduler) generateReply(room *models.Room, member *models.RoomMember, trigger *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), generationTimeout)
	defer cancel()

	history, err := s.store.LatestMessages(ctx, room.ID, 30)
	if err != nil {
		log.Printf("room %s history read failed: %v", room.ID, err)
		history = nil
	}
	// the trigger goes in as the turn being answered, not as history
	trimmed := history[:0]
	for _, m := range history {
		if m.ID != trigger.ID {
			trimmed = append(trimmed, m)
		}
	}

	topic := member.DebateTopic
	if topic == "" {
		topic = room.Topic
	}
	content, _ := s.responder.Generate(ctx, persona.GenerateRequest{
		Profile:      s.profileFor(member),
		History:      trimmed,
		Topic:        topic,
		Position:     member.Position,
		HumanMessage: trigger.Content,
	})

	if _, err := s.store.AddMessage(ctx, models.Message{
		RoomID:   room.ID,
		SenderID: member.UserID,
		Role:     models.RoleAssistant,
		Content:  content,
	}); err != nil {
		log.Printf("room %s append reply failed: %v", room.ID, err)
		return
	}
	s.markInFlight(room.ID, recentReplyWindow)

	if member.Position != nil && s.tracker != nil {
		eval := s.tracker.Evaluate(ctx, content, *member.Position, topic)
		if eval.Changed {
			if err := s.store.UpdateMemberPosition(ctx, room.ID, member.UserID, eval.Position); err != nil {
				log.Printf("room %s position update for %s failed: %v", room.ID, member.UserID, err)
			} else {
				member.Position = &eval.Position
			}
		}
	}
}

// sample picks one or two candidates uniformly without replacement.
func (s *Scheduler) sample(candidates []*models.RoomMember) []*models.RoomMember {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := 1
	if len(candidates) > 1 && s.rnd.Intn(2) == 1 {
		k = 2
	}
	idx := s.rnd.Perm(len(candidates))
	out := make([]*models.RoomMember, 0, k)
	for _, i := range idx[:k] {
		out = append(out, candidates[i])
	}
	return out
}

func (s *Scheduler) profileFor(member *models.RoomMember) persona.Profile {
	if p, ok := persona.ByName(member.Persona); ok {
		return p
	}
	return persona.Profile{Name: member.UserName, SpeedFactor: 1}
}

func inFlightKey(roomID string) string {
	return "room:inflight:" + roomID
}

// markInFlight records that a reply is pending or just landed for the room.
// Best effort: without redis the guard degrades to nothing and only the
// last-message-author check protects against AI-only loops.
func (s *Scheduler) markInFlight(roomID string, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, inFlightKey(roomID), "1", ttl); err != nil {
		log.Printf("room %s in-flight mark failed: %v", roomID, err)
	}
}

// tryMarkInFlight atomically claims the room's single autonomous-turn slot.
func (s *Scheduler) tryMarkInFlight(roomID string, ttl time.Duration) bool {
	if s.cache == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ok, err := s.cache.SetNX(ctx, inFlightKey(roomID), "1", ttl)
	if err != nil {
		log.Printf("room %s in-flight claim failed: %v", roomID, err)
		return false
	}
	return ok
}
