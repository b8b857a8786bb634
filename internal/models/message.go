package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ModeratorSender is the reserved sender id for synthesized interventions.
const ModeratorSender = "moderator"

// Message is one append-only conversation row. Ordering is by CreatedAt at
// read time; insertion order is not trusted.
type Message struct {
	ID        int64     `json:"id"`
	RoomID    string    `json:"room_id"`
	SenderID  string    `json:"sender_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
