package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"debatelab/internal/models"
	"debatelab/internal/persona"
	"debatelab/internal/position"
	"debatelab/internal/worker"
)

type memStore struct {
	mu       sync.Mutex
	members  map[string][]*models.RoomMember
	messages map[string][]*models.Message
	appended chan *models.Message
}

func newSchedStore() *memStore {
	return &memStore{
		members:  make(map[string][]*models.RoomMember),
		messages: make(map[string][]*models.Message),
		appended: make(chan *models.Message, 16),
	}
}

func (s *memStore) ActiveRooms(ctx context.Context) ([]*models.Room, error) { return nil, nil }

func (s *memStore) ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.RoomMember{}, s.members[roomID]...), nil
}

func (s *memStore) LatestMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*models.Message{}, msgs...), nil
}

func (s *memStore) AddMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	s.mu.Lock()
	msg.ID = int64(len(s.messages[msg.RoomID]) + 1)
	msg.CreatedAt = time.Now()
	stored := &msg
	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], stored)
	s.mu.Unlock()
	s.appended <- stored
	return stored, nil
}

func (s *memStore) UpdateMemberPosition(ctx context.Context, roomID, userID string, pos models.Position) error {
	return nil
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []persona.GenerateRequest
}

func (f *fakeResponder) Generate(ctx context.Context, req persona.GenerateRequest) (string, bool) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return "generated reply", false
}

type fakeTracker struct{}

func (fakeTracker) Evaluate(ctx context.Context, utterance string, current models.Position, topic string) position.Evaluation {
	return position.Evaluation{Position: current}
}

func immediateAfterFunc(t *testing.T) func() {
	orig := afterFunc
	afterFunc = func(d time.Duration, f func()) *time.Timer {
		return time.AfterFunc(0, f)
	}
	return func() { afterFunc = orig }
}

func testScheduler(s *memStore, r *fakeResponder) *Scheduler {
	d := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 16})
	sched := New(s, r, fakeTracker{}, d, nil)
	sched.rnd = rand.New(rand.NewSource(3))
	return sched
}

func waitForMessages(t *testing.T, s *memStore, n int) []*models.Message {
	t.Helper()
	var out []*models.Message
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case msg := <-s.appended:
			out = append(out, msg)
		case <-timeout:
			t.Fatalf("got %d appended messages, want %d", len(out), n)
		}
	}
	return out
}

func TestDirectAddressDispatchesExactlyOneResponder(t *testing.T) {
	defer immediateAfterFunc(t)()

	s := newSchedStore()
	room := &models.Room{ID: "r1", Status: models.StatusActive, Topic: "zoos"}
	pos := models.NewPosition(0.7)
	jamie := &models.RoomMember{RoomID: "r1", UserID: "llm_jamie", UserName: "Jamie", Kind: models.KindAIConfederate, Persona: "Jamie", Position: &pos}
	ben := &models.RoomMember{RoomID: "r1", UserID: "llm_ben", UserName: "Ben", Kind: models.KindAITeammate, Persona: "Ben"}
	human := &models.RoomMember{RoomID: "r1", UserID: "u1", UserName: "Alice", Kind: models.KindHuman}
	s.members["r1"] = []*models.RoomMember{human, jamie, ben}

	responder := &fakeResponder{}
	sched := testScheduler(s, responder)

	trigger := &models.Message{ID: 99, RoomID: "r1", SenderID: "u1", Role: models.RoleUser, Content: "Hey Jamie, what do you think?"}
	sched.Dispatch(room, trigger, s.members["r1"])

	msgs := waitForMessages(t, s, 1)
	if msgs[0].SenderID != "llm_jamie" {
		t.Fatalf("responder = %s, want llm_jamie", msgs[0].SenderID)
	}

	// give a potential stray second responder a moment to show up
	select {
	case msg := <-s.appended:
		t.Fatalf("unexpected extra responder: %s", msg.SenderID)
	case <-time.After(200 * time.Millisecond):
	}

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.calls) != 1 {
		t.Fatalf("generate calls = %d, want 1", len(responder.calls))
	}
	if responder.calls[0].Profile.Name != "Jamie" {
		t.Fatalf("wrong persona: %s", responder.calls[0].Profile.Name)
	}
}

func TestDispatchIgnoresHumanCandidates(t *testing.T) {
	defer immediateAfterFunc(t)()

	s := newSchedStore()
	room := &models.Room{ID: "r1", Status: models.StatusActive}
	human := &models.RoomMember{RoomID: "r1", UserID: "u1", UserName: "Alice", Kind: models.KindHuman}
	s.members["r1"] = []*models.RoomMember{human}

	sched := testScheduler(s, &fakeResponder{})
	sched.Dispatch(room, &models.Message{RoomID: "r1", Content: "anyone there?"}, s.members["r1"])

	select {
	case msg := <-s.appended:
		t.Fatalf("no AI candidates, but got reply from %s", msg.SenderID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSilenceContinuationSkipsAIFinalWord(t *testing.T) {
	defer immediateAfterFunc(t)()

	s := newSchedStore()
	room := &models.Room{ID: "r1", Status: models.StatusActive, Topic: "zoos"}
	jamie := &models.RoomMember{RoomID: "r1", UserID: "llm_jamie", UserName: "Jamie", Kind: models.KindAIConfederate, Persona: "Jamie"}
	s.members["r1"] = []*models.RoomMember{jamie}
	s.messages["r1"] = []*models.Message{
		{ID: 1, RoomID: "r1", SenderID: "llm_jamie", Role: models.RoleAssistant, Content: "my point stands", CreatedAt: time.Now().Add(-time.Hour)},
	}

	sched := testScheduler(s, &fakeResponder{})
	sched.maybeContinue(context.Background(), room, time.Millisecond)

	select {
	case msg := <-s.appended:
		t.Fatalf("AI already had the last word, but got %s", msg.SenderID)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSilenceContinuationInjectsOneAITurn(t *testing.T) {
	defer immediateAfterFunc(t)()

	s := newSchedStore()
	room := &models.Room{ID: "r1", Status: models.StatusActive, Topic: "zoos"}
	jamie := &models.RoomMember{RoomID: "r1", UserID: "llm_jamie", UserName: "Jamie", Kind: models.KindAIConfederate, Persona: "Jamie"}
	human := &models.RoomMember{RoomID: "r1", UserID: "u1", UserName: "Alice", Kind: models.KindHuman}
	s.members["r1"] = []*models.RoomMember{human, jamie}
	s.messages["r1"] = []*models.Message{
		{ID: 1, RoomID: "r1", SenderID: "u1", Role: models.RoleUser, Content: "well I still think zoos are fine", CreatedAt: time.Now().Add(-time.Hour)},
	}

	sched := testScheduler(s, &fakeResponder{})
	sched.maybeContinue(context.Background(), room, time.Minute)

	msgs := waitForMessages(t, s, 1)
	if msgs[0].SenderID != "llm_jamie" || msgs[0].Role != models.RoleAssistant {
		t.Fatalf("unexpected continuation: %#v", msgs[0])
	}
}

func TestRecentActivitySuppressesContinuation(t *testing.T) {
	s := newSchedStore()
	room := &models.Room{ID: "r1", Status: models.StatusActive}
	s.messages["r1"] = []*models.Message{
		{ID: 1, RoomID: "r1", SenderID: "u1", Role: models.RoleUser, Content: "fresh message", CreatedAt: time.Now()},
	}
	sched := testScheduler(s, &fakeResponder{})
	sched.maybeContinue(context.Background(), room, time.Minute)

	select {
	case msg := <-s.appended:
		t.Fatalf("room was not silent, but got %s", msg.SenderID)
	case <-time.After(100 * time.Millisecond):
	}
}
