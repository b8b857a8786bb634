package matchmaker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"debatelab/internal/models"
	"debatelab/internal/roles"
	"debatelab/internal/store"
)

type memStore struct {
	mu      sync.Mutex
	rooms   []*models.Room
	members map[string][]*models.RoomMember

	openRoomsErr error
	seatTakenFor map[string]bool // room ids whose guarded insert loses the race once
}

func newMemStore() *memStore {
	return &memStore{members: make(map[string][]*models.RoomMember), seatTakenFor: make(map[string]bool)}
}

func (s *memStore) CreateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room.CreatedAt = time.Now()
	s.rooms = append(s.rooms, room)
	return nil
}

func (s *memStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.ID == roomID {
			return r, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memStore) OpenRooms(ctx context.Context, roomType models.RoomType, statuses ...models.RoomStatus) ([]*models.Room, error) {
	if s.openRoomsErr != nil {
		return nil, s.openRoomsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Room
	for _, r := range s.rooms {
		if r.Type != roomType {
			continue
		}
		for _, st := range statuses {
			if r.Status == st {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) CountHumans(ctx context.Context, roomID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members[roomID] {
		if m.Kind == models.KindHuman {
			n++
		}
	}
	return n, nil
}

func (s *memStore) HasMember(ctx context.Context, roomID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members[roomID] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) AddMember(ctx context.Context, m *models.RoomMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.RoomID] = append(s.members[m.RoomID], m)
	return nil
}

func (s *memStore) AddMemberGuarded(ctx context.Context, m *models.RoomMember, capacity int) error {
	s.mu.Lock()
	if s.seatTakenFor[m.RoomID] {
		delete(s.seatTakenFor, m.RoomID)
		s.mu.Unlock()
		return store.ErrSeatTaken
	}
	n := 0
	for _, existing := range s.members[m.RoomID] {
		if existing.Kind == models.KindHuman {
			n++
		}
	}
	if n >= capacity {
		s.mu.Unlock()
		return store.ErrSeatTaken
	}
	s.members[m.RoomID] = append(s.members[m.RoomID], m)
	s.mu.Unlock()
	return nil
}

func (s *memStore) ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.RoomMember{}, s.members[roomID]...), nil
}

func (s *memStore) SetTeamAssignments(ctx context.Context, roomID string, assignment models.TeamAssignment) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if room.TeamAssignments == "" {
		room.TeamAssignments = "set"
	}
	return nil
}

func (s *memStore) SetConfederateName(ctx context.Context, roomID, name string) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room.ConfederateName = name
	return nil
}

func (s *memStore) UpdateRoomStatus(ctx context.Context, roomID string, status models.RoomStatus) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	room.Status = status
	return nil
}

func newTestMatchmaker(s *memStore) *Matchmaker {
	assigner := roles.NewAssignerWithRand(s, rand.New(rand.NewSource(7)))
	return New(s, assigner)
}

func TestSoloJoinsCreateIndependentActiveRooms(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	first, err := mm.Join(ctx, "solo_ai", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("first join: %v", err)
	}
	second, err := mm.Join(ctx, "solo_ai", JoinRequest{UserID: "u2", UserName: "Bob"})
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("solo joins must not share a room")
	}
	for _, room := range []*models.Room{first, second} {
		if room.Status != models.StatusActive {
			t.Fatalf("room %s status = %s, want active", room.ID, room.Status)
		}
		if room.Topic == "" || room.ConfederateName == "" {
			t.Fatalf("room %s missing topic or persona: %#v", room.ID, room)
		}
		members, _ := s.ListMembers(ctx, room.ID)
		if len(members) != 2 {
			t.Fatalf("room %s member count = %d, want 2", room.ID, len(members))
		}
		ai := members[1]
		if ai.Kind != models.KindAIConfederate || ai.Position == nil {
			t.Fatalf("AI seat not synthesized correctly: %#v", ai)
		}
		if ai.UserID != roles.AIUserID(room.ConfederateName) {
			t.Fatalf("AI user id %q does not encode persona %q", ai.UserID, room.ConfederateName)
		}
	}
}

func TestPairActivatesExactlyAtCapacity(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	room1, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("join 1: %v", err)
	}
	if room1.Status == models.StatusActive {
		t.Fatalf("room active with one member")
	}

	room2, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u2", UserName: "Bob"})
	if err != nil {
		t.Fatalf("join 2: %v", err)
	}
	if room2.ID != room1.ID {
		t.Fatalf("second join should fill the waiting room")
	}
	if room2.Status != models.StatusActive {
		t.Fatalf("room status = %s, want active", room2.Status)
	}
	if n, _ := s.CountHumans(ctx, room2.ID); n != 2 {
		t.Fatalf("human count = %d, want exactly 2", n)
	}

	room3, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u3", UserName: "Cara"})
	if err != nil {
		t.Fatalf("join 3: %v", err)
	}
	if room3.ID == room1.ID {
		t.Fatalf("full room accepted a third member")
	}
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	room1, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	room2, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if room1.ID != room2.ID {
		t.Fatalf("rejoin landed in a different room")
	}
	members, _ := s.ListMembers(ctx, room1.ID)
	if len(members) != 1 {
		t.Fatalf("rejoin duplicated membership: %d rows", len(members))
	}
}

func TestLostSeatRaceFallsBackToNewRoom(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	room1, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	// simulate a concurrent join stealing the last seat between the count
	// and the insert
	s.seatTakenFor[room1.ID] = true

	room2, err := mm.Join(ctx, "human_pair", JoinRequest{UserID: "u2", UserName: "Bob"})
	if err != nil {
		t.Fatalf("join after lost race: %v", err)
	}
	if room2.ID == room1.ID {
		t.Fatalf("join should have moved on after losing the seat")
	}
}

func TestTeamRoomSynthesizesAIAndTeams(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	var room *models.Room
	var err error
	for i, id := range []string{"u1", "u2", "u3", "u4"} {
		room, err = mm.Join(ctx, "team_debate", JoinRequest{UserID: id, UserName: id})
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if room.Status != models.StatusActive {
		t.Fatalf("team room status = %s, want active", room.Status)
	}
	members, _ := s.ListMembers(ctx, room.ID)
	if len(members) != 8 {
		t.Fatalf("member count = %d, want 8", len(members))
	}
	aiCount := 0
	for _, m := range members {
		if m.IsAI() {
			aiCount++
			if m.Team != "red" && m.Team != "blue" {
				t.Fatalf("AI member %s has no team", m.UserID)
			}
		}
	}
	if aiCount != 4 {
		t.Fatalf("AI count = %d, want 4", aiCount)
	}
	if room.TeamAssignments == "" {
		t.Fatalf("team assignments not persisted")
	}
}

func TestGroupRoomActiveFromCreation(t *testing.T) {
	s := newMemStore()
	mm := newTestMatchmaker(s)
	ctx := context.Background()

	room, err := mm.Join(ctx, "group_melee", JoinRequest{UserID: "u1", UserName: "Alice"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if room.Status != models.StatusActive {
		t.Fatalf("group room status = %s, want active", room.Status)
	}
	members, _ := s.ListMembers(ctx, room.ID)
	if len(members) != 4 { // 1 human + 3 AI
		t.Fatalf("member count = %d, want 4", len(members))
	}

	// a second human joins the same already-active room
	room2, err := mm.Join(ctx, "group_melee", JoinRequest{UserID: "u2", UserName: "Bob"})
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if room2.ID != room.ID {
		t.Fatalf("second melee join opened a new room")
	}
	members, _ = s.ListMembers(ctx, room.ID)
	aiCount := 0
	for _, m := range members {
		if m.IsAI() {
			aiCount++
		}
	}
	if aiCount != 3 {
		t.Fatalf("AI seats reseeded: %d, want 3", aiCount)
	}
}

func TestUnknownTopology(t *testing.T) {
	mm := newTestMatchmaker(newMemStore())
	if _, err := mm.Join(context.Background(), "octagon", JoinRequest{UserID: "u1", UserName: "A"}); !errors.Is(err, ErrUnknownTopology) {
		t.Fatalf("err = %v, want ErrUnknownTopology", err)
	}
}

func TestStoreFailureSurfacesRoomUnavailable(t *testing.T) {
	s := newMemStore()
	s.openRoomsErr = errors.New("connection refused")
	mm := newTestMatchmaker(s)
	if _, err := mm.Join(context.Background(), "human_pair", JoinRequest{UserID: "u1", UserName: "A"}); !errors.Is(err, store.ErrRoomUnavailable) {
		t.Fatalf("err = %v, want ErrRoomUnavailable", err)
	}
}
