package roles

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"debatelab/internal/models"
	"debatelab/internal/persona"
)

// Store is the slice of the room store the assigner writes through.
type Store interface {
	AddMember(ctx context.Context, m *models.RoomMember) error
	ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error)
	SetTeamAssignments(ctx context.Context, roomID string, assignment models.TeamAssignment) error
	SetConfederateName(ctx context.Context, roomID, name string) error
	UpdateRoomStatus(ctx context.Context, roomID string, status models.RoomStatus) error
}

// seedIntensities is the discrete pool initial confidence draws from; the
// stance falls out of the >=0.5 rule.
var seedIntensities = []float64{0.3, 0.4, 0.6, 0.7, 0.8}

// Assigner hands out personas, teams and synthesized AI seats when a room
// reaches capacity. Every draw is made once and persisted; later reads must
// come back from the store, never from a fresh shuffle.
type Assigner struct {
	store Store

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewAssigner(store Store) *Assigner {
	return &Assigner{
		store: store,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewAssignerWithRand pins the random source, for tests.
func NewAssignerWithRand(store Store, rnd *rand.Rand) *Assigner {
	return &Assigner{store: store, rnd: rnd}
}

// AIUserID derives the synthesized member id for a persona name.
func AIUserID(name string) string {
	return models.AIUserPrefix + strings.ToLower(name)
}

// AssignRoles finalizes a room that just met its human capacity: it inserts
// AI seats, partitions teams where the room type has them, seeds stance
// positions and flips the room active.
func (a *Assigner) AssignRoles(ctx context.Context, room *models.Room) error {
	switch room.Type {
	case models.RoomSoloAI:
		if err := a.assignSolo(ctx, room); err != nil {
			return err
		}
	case models.RoomHumanPair:
		// both seats are human; insertion order already encodes who plays
		// participant and who plays confederate
	case models.RoomTeamDebate:
		if err := a.assignTeams(ctx, room); err != nil {
			return err
		}
	case models.RoomGroupMelee:
		if err := a.SeedGroupAI(ctx, room); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown room type: %s", room.Type)
	}
	if err := a.store.UpdateRoomStatus(ctx, room.ID, models.StatusActive); err != nil {
		return err
	}
	room.Status = models.StatusActive
	return nil
}

func (a *Assigner) assignSolo(ctx context.Context, room *models.Room) error {
	name := room.ConfederateName
	if name == "" {
		name = a.pickPersonas(1)[0].Name
		if err := a.store.SetConfederateName(ctx, room.ID, name); err != nil {
			return err
		}
		room.ConfederateName = name
	}
	pos := a.seedPosition()
	return a.store.AddMember(ctx, &models.RoomMember{
		RoomID:      room.ID,
		UserID:      AIUserID(name),
		UserName:    name,
		Kind:        models.KindAIConfederate,
		Persona:     name,
		DebateTopic: room.Topic,
		Position:    &pos,
	})
}

// assignTeams synthesizes four AI seats and partitions the eight member ids
// into red and blue. Each team gets two humans, one AI confederate and one
// AI teammate.
func (a *Assigner) assignTeams(ctx context.Context, room *models.Room) error {
	members, err := a.store.ListMembers(ctx, room.ID)
	if err != nil {
		return err
	}
	var humanIDs []string
	for _, m := range members {
		if m.IsAI() {
			// already assigned, duplicate trigger from a concurrent join
			return nil
		}
		if m.Kind == models.KindHuman {
			humanIDs = append(humanIDs, m.UserID)
		}
	}
	if len(humanIDs) < 4 {
		return fmt.Errorf("team room %s has %d humans, want 4", room.ID, len(humanIDs))
	}
	humanIDs = humanIDs[:4]

	picks := a.pickPersonas(4)
	type aiSeat struct {
		profile persona.Profile
		kind    models.ParticipantKind
		team    string
		seed    float64
	}
	seats := []aiSeat{
		{picks[0], models.KindAIConfederate, "red", a.pickIntensity(models.StanceFor)},
		{picks[1], models.KindAITeammate, "red", a.pickIntensity(models.StanceFor)},
		{picks[2], models.KindAIConfederate, "blue", a.pickIntensity(models.StanceAgainst)},
		{picks[3], models.KindAITeammate, "blue", a.pickIntensity(models.StanceAgainst)},
	}

	a.mu.Lock()
	a.rnd.Shuffle(len(humanIDs), func(i, j int) { humanIDs[i], humanIDs[j] = humanIDs[j], humanIDs[i] })
	a.mu.Unlock()

	assignment := models.TeamAssignment{
		Red:  append([]string{}, humanIDs[0], humanIDs[1]),
		Blue: append([]string{}, humanIDs[2], humanIDs[3]),
	}
	for _, seat := range seats {
		id := AIUserID(seat.profile.Name)
		pos := models.NewPosition(seat.seed)
		if err := a.store.AddMember(ctx, &models.RoomMember{
			RoomID:      room.ID,
			UserID:      id,
			UserName:    seat.profile.Name,
			Kind:        seat.kind,
			Team:        seat.team,
			Persona:     seat.profile.Name,
			DebateTopic: room.Topic,
			Position:    &pos,
		}); err != nil {
			return err
		}
		if seat.team == "red" {
			assignment.Red = append(assignment.Red, id)
		} else {
			assignment.Blue = append(assignment.Blue, id)
		}
	}
	return a.store.SetTeamAssignments(ctx, room.ID, assignment)
}

// SeedGroupAI inserts the standing AI participants of a melee room. Called
// at room creation; the room is active before any second human arrives.
func (a *Assigner) SeedGroupAI(ctx context.Context, room *models.Room) error {
	existing, err := a.store.ListMembers(ctx, room.ID)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if m.IsAI() {
			// already seeded, duplicate trigger from a concurrent join
			return nil
		}
	}
	for _, p := range a.pickPersonas(3) {
		pos := a.seedPosition()
		if err := a.store.AddMember(ctx, &models.RoomMember{
			RoomID:      room.ID,
			UserID:      AIUserID(p.Name),
			UserName:    p.Name,
			Kind:        models.KindAITeammate,
			Persona:     p.Name,
			DebateTopic: room.Topic,
			Position:    &pos,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PickPersona draws one persona name, for room creation.
func (a *Assigner) PickPersona() persona.Profile {
	return a.pickPersonas(1)[0]
}

// PickTopic chooses a debate topic, preferring one the joiner stated an
// opinion about.
func (a *Assigner) PickTopic(opinions map[string]string) string {
	for _, t := range persona.Topics {
		if _, ok := opinions[t]; ok {
			return t
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return persona.Topics[a.rnd.Intn(len(persona.Topics))]
}

func (a *Assigner) pickPersonas(n int) []persona.Profile {
	pool := persona.All()
	a.mu.Lock()
	a.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	a.mu.Unlock()
	if n > len(pool) {
		n = len(pool)
	}
	return pool[:n]
}

func (a *Assigner) seedPosition() models.Position {
	a.mu.Lock()
	v := seedIntensities[a.rnd.Intn(len(seedIntensities))]
	a.mu.Unlock()
	return models.NewPosition(v)
}

// pickIntensity draws a seed on the requested side of the stance rule.
func (a *Assigner) pickIntensity(stance models.Stance) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		v := seedIntensities[a.rnd.Intn(len(seedIntensities))]
		if (stance == models.StanceFor) == (v >= 0.5) {
			return v
		}
	}
}
