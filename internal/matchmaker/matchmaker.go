package matchmaker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"debatelab/internal/models"
	"debatelab/internal/roles"
	"debatelab/internal/store"

	"github.com/google/uuid"
)

// Topology describes a room shape: human seats, synthesized AI count and
// how joins interact with existing rooms.
type Topology struct {
	Type             models.RoomType
	HumanCapacity    int
	AICount          int
	JoinExisting     bool // false: every join opens a fresh room
	ActiveAtCreation bool // true: no fill threshold, room debates immediately
}

var topologies = map[models.RoomType]Topology{
	models.RoomSoloAI:     {Type: models.RoomSoloAI, HumanCapacity: 1, AICount: 1, JoinExisting: false, ActiveAtCreation: true},
	models.RoomHumanPair:  {Type: models.RoomHumanPair, HumanCapacity: 2, AICount: 0, JoinExisting: true},
	models.RoomTeamDebate: {Type: models.RoomTeamDebate, HumanCapacity: 4, AICount: 4, JoinExisting: true},
	models.RoomGroupMelee: {Type: models.RoomGroupMelee, HumanCapacity: 4, AICount: 3, JoinExisting: true, ActiveAtCreation: true},
}

// Lookup resolves a topology by its room type name.
func Lookup(name string) (Topology, bool) {
	t, ok := topologies[models.RoomType(name)]
	return t, ok
}

var ErrUnknownTopology = errors.New("unknown topology")

// Store is the slice of the room store the matchmaker needs.
type Store interface {
	roles.Store
	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	OpenRooms(ctx context.Context, roomType models.RoomType, statuses ...models.RoomStatus) ([]*models.Room, error)
	CountHumans(ctx context.Context, roomID string) (int, error)
	HasMember(ctx context.Context, roomID, userID string) (bool, error)
	AddMemberGuarded(ctx context.Context, m *models.RoomMember, capacity int) error
}

// JoinRequest carries the arriving participant's identity and topology
// specific hints.
type JoinRequest struct {
	UserID        string
	UserName      string
	IsConfederate bool
	UserOpinions  map[string]string
	TeamHint      string
}

// Matchmaker places arriving participants into rooms. Selection is first
// candidate in query order; there is no scoring. Seat capacity is enforced
// by the store's guarded insert, so two simultaneous joins racing for the
// last seat resolve to one winner and one retry.
type Matchmaker struct {
	store    Store
	assigner *roles.Assigner
}

func New(s Store, a *roles.Assigner) *Matchmaker {
	return &Matchmaker{store: s, assigner: a}
}

// Join finds or creates a room for the participant and seats them. When the
// seat completes the room's human capacity the role assigner runs in the
// same call and the returned room is already active.
func (m *Matchmaker) Join(ctx context.Context, topologyName string, req JoinRequest) (*models.Room, error) {
	topo, ok := Lookup(topologyName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopology, topologyName)
	}

	if topo.JoinExisting {
		room, err := m.joinExisting(ctx, topo, req)
		if err != nil {
			return nil, err
		}
		if room != nil {
			return room, nil
		}
	}
	return m.createRoom(ctx, topo, req)
}

// joinExisting walks open rooms of the topology and takes the first with a
// free human seat. Returns (nil, nil) when no candidate accepts the join.
func (m *Matchmaker) joinExisting(ctx context.Context, topo Topology, req JoinRequest) (*models.Room, error) {
	statuses := []models.RoomStatus{models.StatusWaiting, models.StatusFilling}
	if topo.ActiveAtCreation {
		statuses = append(statuses, models.StatusActive)
	}
	candidates, err := m.store.OpenRooms(ctx, topo.Type, statuses...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
	}

	for _, room := range candidates {
		seated, err := m.store.HasMember(ctx, room.ID, req.UserID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
		}
		if seated {
			// repeated join while waiting: same seat, no duplicate row
			return room, nil
		}
		count, err := m.store.CountHumans(ctx, room.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
		}
		if count >= topo.HumanCapacity {
			continue
		}
		if err := m.seat(ctx, topo, room, req); err != nil {
			if errors.Is(err, store.ErrSeatTaken) {
				// lost the last seat to a concurrent join, keep looking
				continue
			}
			return nil, err
		}
		return m.afterSeat(ctx, topo, room)
	}
	return nil, nil
}

func (m *Matchmaker) createRoom(ctx context.Context, topo Topology, req JoinRequest) (*models.Room, error) {
	room := &models.Room{
		ID:     uuid.NewString(),
		Type:   topo.Type,
		Status: models.StatusWaiting,
		Topic:  m.assigner.PickTopic(req.UserOpinions),
	}
	if topo.Type == models.RoomSoloAI {
		room.ConfederateName = m.assigner.PickPersona().Name
	}
	if err := m.store.CreateRoom(ctx, room); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
	}
	if err := m.seat(ctx, topo, room, req); err != nil {
		return nil, err
	}
	return m.afterSeat(ctx, topo, room)
}

func (m *Matchmaker) seat(ctx context.Context, topo Topology, room *models.Room, req JoinRequest) error {
	member := &models.RoomMember{
		RoomID:      room.ID,
		UserID:      req.UserID,
		UserName:    req.UserName,
		Kind:        models.KindHuman,
		Team:        req.TeamHint,
		DebateTopic: room.Topic,
	}
	err := m.store.AddMemberGuarded(ctx, member, topo.HumanCapacity)
	if err == nil || errors.Is(err, store.ErrSeatTaken) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
}

// afterSeat applies the post-insert status transition: activate on full (or
// on creation for always-active topologies), otherwise mark filling.
func (m *Matchmaker) afterSeat(ctx context.Context, topo Topology, room *models.Room) (*models.Room, error) {
	count, err := m.store.CountHumans(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrRoomUnavailable, err)
	}

	full := count >= topo.HumanCapacity
	switch {
	case room.Status == models.StatusActive:
		// already debating, nothing to transition
	case full || topo.ActiveAtCreation:
		if err := m.assigner.AssignRoles(ctx, room); err != nil {
			return nil, fmt.Errorf("assign roles: %w", err)
		}
	case room.Status == models.StatusWaiting && count > 0:
		if err := m.store.UpdateRoomStatus(ctx, room.ID, models.StatusFilling); err != nil {
			log.Printf("room %s filling transition failed: %v", room.ID, err)
		} else {
			room.Status = models.StatusFilling
		}
	}
	return room, nil
}
