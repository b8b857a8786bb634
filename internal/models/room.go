package models

import "time"

// RoomType is the fixed shape a room is created for: how many humans it
// seats and how many AI participants get synthesized alongside them.
type RoomType string

const (
	// RoomSoloAI seats one human opposite one AI persona.
	RoomSoloAI RoomType = "solo_ai"
	// RoomHumanPair seats two humans; the second joiner plays confederate.
	RoomHumanPair RoomType = "human_pair"
	// RoomTeamDebate seats four humans plus four AI split into two teams.
	RoomTeamDebate RoomType = "team_debate"
	// RoomGroupMelee is active from creation with three AI; humans keep
	// joining while seats remain.
	RoomGroupMelee RoomType = "group_melee"
)

type RoomStatus string

const (
	StatusWaiting RoomStatus = "waiting"
	StatusFilling RoomStatus = "filling"
	StatusActive  RoomStatus = "active"
	StatusEnded   RoomStatus = "ended"
)

// Room is a debate room row. Terminal status is ended; rooms are retained
// for research data and never deleted.
type Room struct {
	ID              string     `json:"id"`
	Type            RoomType   `json:"type"`
	Status          RoomStatus `json:"status"`
	Topic           string     `json:"topic"`
	ConfederateName string     `json:"confederate_name,omitempty"`
	TeamAssignments string     `json:"team_assignments,omitempty"` // serialized TeamAssignment, written once
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TeamAssignment partitions every member id of a team room into two disjoint
// fixed-size sets. Persisted on the room row at role assignment and read back
// verbatim on every poll so repeated fetches never reshuffle teams.
type TeamAssignment struct {
	Red  []string `json:"red"`
	Blue []string `json:"blue"`
}
