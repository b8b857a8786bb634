package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"debatelab/internal/models"
	"debatelab/internal/redis"
	"debatelab/internal/storage"
)

// ErrRoomUnavailable is returned when the backing store cannot serve a
// matchmaking request.
var ErrRoomUnavailable = errors.New("room store unavailable")

// ErrSeatTaken is returned by the guarded insert when the room filled up
// between candidate selection and the insert itself.
var ErrSeatTaken = errors.New("no open seat in room")

// Service is the single source of truth for rooms, members and messages.
// Nothing in process keeps authoritative state; every component reads and
// writes through here.
type Service struct {
	db     *sql.DB
	driver string
	cache  *redis.Client
}

func NewService(db *sql.DB, driver string, cache *redis.Client) *Service {
	return &Service{db: db, driver: driver, cache: cache}
}

// MessageChannel is the pub/sub channel messages for a room are pushed on.
func MessageChannel(roomID string) string {
	return fmt.Sprintf("room:messages:%s", roomID)
}

// CreateRoom inserts a new room row.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, type, status, topic, confederate_name, team_assignments, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		room.ID, room.Type, room.Status, room.Topic, room.ConfederateName, room.TeamAssignments, now, now,
	)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// GetRoom returns one room by id.
func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, status, topic, confederate_name, team_assignments, created_at, updated_at
		 FROM rooms WHERE id = ?`, roomID,
	).Scan(&r.ID, &r.Type, &r.Status, &r.Topic, &r.ConfederateName, &r.TeamAssignments, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return &r, nil
}

// OpenRooms lists rooms of a type that have not reached a terminal state,
// oldest first. Candidate order is query order; the matchmaker does no
// ranking beyond it.
func (s *Service) OpenRooms(ctx context.Context, roomType models.RoomType, statuses ...models.RoomStatus) ([]*models.Room, error) {
	if len(statuses) == 0 {
		statuses = []models.RoomStatus{models.StatusWaiting, models.StatusFilling, models.StatusActive}
	}
	query := `SELECT id, type, status, topic, confederate_name, team_assignments, created_at, updated_at
		 FROM rooms WHERE type = ? AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `) ORDER BY created_at ASC`
	args := make([]interface{}, 0, len(statuses)+1)
	args = append(args, roomType)
	for _, st := range statuses {
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		r := new(models.Room)
		if err := rows.Scan(&r.ID, &r.Type, &r.Status, &r.Topic, &r.ConfederateName, &r.TeamAssignments, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// ActiveRooms lists every room currently debating, for the silence sweep.
func (s *Service) ActiveRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, status, topic, confederate_name, team_assignments, created_at, updated_at
		 FROM rooms WHERE status = ? ORDER BY updated_at DESC`, models.StatusActive,
	)
	if err != nil {
		return nil, fmt.Errorf("list active rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		r := new(models.Room)
		if err := rows.Scan(&r.ID, &r.Type, &r.Status, &r.Topic, &r.ConfederateName, &r.TeamAssignments, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

// UpdateRoomStatus transitions a room's status.
func (s *Service) UpdateRoomStatus(ctx context.Context, roomID string, status models.RoomStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), roomID,
	)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	return nil
}

// SetTeamAssignments persists the serialized team partition, but only if no
// assignment has been written yet: the split is computed once and must never
// change across polls.
func (s *Service) SetTeamAssignments(ctx context.Context, roomID string, assignment models.TeamAssignment) error {
	data, err := json.Marshal(assignment)
	if err != nil {
		return fmt.Errorf("marshal team assignments: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET team_assignments = ?, updated_at = ? WHERE id = ? AND team_assignments = ''`,
		string(data), time.Now().UTC(), roomID,
	)
	if err != nil {
		return fmt.Errorf("set team assignments: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// already assigned, keep the stored partition
		return nil
	}
	return nil
}

// SetConfederateName records the AI persona chosen for the room.
func (s *Service) SetConfederateName(ctx context.Context, roomID, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET confederate_name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), roomID,
	)
	if err != nil {
		return fmt.Errorf("set confederate name: %w", err)
	}
	return nil
}

// CountHumans counts human seats taken in a room.
func (s *Service) CountHumans(ctx context.Context, roomID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND kind = ?`,
		roomID, models.KindHuman,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count humans: %w", err)
	}
	return n, nil
}

// HasMember reports whether the identity already holds a seat in the room.
func (s *Service) HasMember(ctx context.Context, roomID, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND user_id = ?`,
		roomID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return n > 0, nil
}

// AddMember inserts a membership row unconditionally (used for synthesized
// AI seats, which are not subject to the human capacity check).
func (s *Service) AddMember(ctx context.Context, m *models.RoomMember) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	pos, err := marshalPosition(m.Position)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id, user_name, kind, team, persona, debate_topic, position_data, joined_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RoomID, m.UserID, m.UserName, m.Kind, m.Team, m.Persona, m.DebateTopic, pos, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// AddMemberGuarded inserts a human membership row only while the room still
// has an open human seat. The capacity check and the insert run as one
// statement; losing the race surfaces as ErrSeatTaken.
func (s *Service) AddMemberGuarded(ctx context.Context, m *models.RoomMember, capacity int) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	pos, err := marshalPosition(m.Position)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, storage.GuardedMemberInsert(s.driver),
		m.RoomID, m.UserID, m.UserName, m.Kind, m.Team, m.Persona, m.DebateTopic, pos, m.JoinedAt,
		m.RoomID, capacity,
	)
	if err != nil {
		return fmt.Errorf("guarded insert member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("guarded insert rows: %w", err)
	}
	if n == 0 {
		return ErrSeatTaken
	}
	return nil
}

// ListMembers returns a room's members in join order.
func (s *Service) ListMembers(ctx context.Context, roomID string) ([]*models.RoomMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, user_id, user_name, kind, team, persona, debate_topic, position_data, joined_at
		 FROM room_members WHERE room_id = ? ORDER BY joined_at ASC, user_id ASC`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*models.RoomMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember returns one member row.
func (s *Service) GetMember(ctx context.Context, roomID, userID string) (*models.RoomMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT room_id, user_id, user_name, kind, team, persona, debate_topic, position_data, joined_at
		 FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return m, nil
}

// UpdateMemberPosition persists a stance-holder's new position.
func (s *Service) UpdateMemberPosition(ctx context.Context, roomID, userID string, pos models.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE room_members SET position_data = ? WHERE room_id = ? AND user_id = ?`,
		string(data), roomID, userID,
	)
	if err != nil {
		return fmt.Errorf("update member position: %w", err)
	}
	return nil
}

// AddMessage appends one conversation row and pushes it on the room's
// pub/sub channel. Publication failures are logged and swallowed: delivery
// is best effort, the table is the source of truth.
func (s *Service) AddMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.RoomID, msg.SenderID, msg.Role, msg.Content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now

	if s.cache != nil {
		if payload, err := json.Marshal(msg); err == nil {
			if err := s.cache.Publish(ctx, MessageChannel(msg.RoomID), payload); err != nil {
				log.Printf("publish message for room %s failed: %v", msg.RoomID, err)
			}
		}
	}
	return &msg, nil
}

// ListMessages returns a room's messages ordered by created_at.
func (s *Service) ListMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, role, content, created_at
		 FROM messages WHERE room_id = ? ORDER BY created_at ASC, id ASC`, roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessages returns up to limit most recent messages, newest last.
func (s *Service) LatestMessages(ctx context.Context, roomID string, limit int) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_id, role, content, created_at
		 FROM messages WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("latest messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// HasModeratorMessageSince reports whether a moderator intervention already
// exists after the given time, so polling clients triggering the same
// rejection twice still produce exactly one moderator message.
func (s *Service) HasModeratorMessageSince(ctx context.Context, roomID string, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = ? AND sender_id = ? AND created_at >= ?`,
		roomID, models.ModeratorSender, since,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check moderator message: %w", err)
	}
	return n > 0, nil
}

func scanMember(row interface{ Scan(...interface{}) error }) (*models.RoomMember, error) {
	m := new(models.RoomMember)
	var pos sql.NullString
	if err := row.Scan(&m.RoomID, &m.UserID, &m.UserName, &m.Kind, &m.Team, &m.Persona, &m.DebateTopic, &pos, &m.JoinedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}
	if pos.Valid && pos.String != "" {
		var p models.Position
		if err := json.Unmarshal([]byte(pos.String), &p); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		m.Position = &p
	}
	return m, nil
}

func marshalPosition(p *models.Position) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal position: %w", err)
	}
	return string(data), nil
}
