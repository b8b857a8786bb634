package models

import (
	"strings"
	"time"
)

// ParticipantKind classifies a member's origin explicitly on the row instead
// of requiring callers to parse it back out of the user id.
type ParticipantKind string

const (
	KindHuman         ParticipantKind = "human"
	KindAIConfederate ParticipantKind = "ai_confederate"
	KindAITeammate    ParticipantKind = "ai_teammate"
)

// AIUserPrefix still prefixes synthesized member ids so transcripts remain
// classifiable on their own, but code should read Kind, not the prefix.
const AIUserPrefix = "llm_"

// RoomMember is one seat in a room. Insertion order matters for some room
// types: in a human pair the first joiner is the participant and the second
// the confederate.
type RoomMember struct {
	RoomID      string          `json:"room_id"`
	UserID      string          `json:"user_id"`
	UserName    string          `json:"user_name"`
	Kind        ParticipantKind `json:"kind"`
	Team        string          `json:"team,omitempty"`
	Persona     string          `json:"persona,omitempty"`
	DebateTopic string          `json:"debate_topic,omitempty"`
	Position    *Position       `json:"position_data,omitempty"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// IsAI reports whether the member is a synthesized participant.
func (m *RoomMember) IsAI() bool {
	if m.Kind == KindAIConfederate || m.Kind == KindAITeammate {
		return true
	}
	return strings.HasPrefix(m.UserID, AIUserPrefix)
}
