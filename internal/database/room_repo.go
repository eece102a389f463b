package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lunarhall/parley/internal/domain"
)

// RoomRepository handles room and message data access. Access lists are stored
// as uuid[] columns and hydrated into ID-only member refs; resolving the refs
// to user records is the service layer's concern.
type RoomRepository struct {
	db *DB
}

func NewRoomRepository(db *DB) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `
	id, slug, name, description, owner_id, private, password_hash,
	superusers, participants, enabled_members, archived, created_at, last_active
`

func scanRoom(row pgx.Row) (*domain.Room, error) {
	room := &domain.Room{}
	var superusers, participants, enabled []uuid.UUID
	err := row.Scan(
		&room.ID, &room.Slug, &room.Name, &room.Description,
		&room.OwnerID, &room.Private, &room.PasswordHash,
		&superusers, &participants, &enabled,
		&room.Archived, &room.CreatedAt, &room.LastActive,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	room.Superusers = domain.MembersFromIDs(superusers)
	room.Participants = domain.MembersFromIDs(participants)
	room.EnabledMembers = domain.MembersFromIDs(enabled)
	return room, nil
}

// Create inserts a new room
func (r *RoomRepository) Create(ctx context.Context, room *domain.Room) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO rooms (id, slug, name, description, owner_id, private, password_hash,
		                   superusers, participants, enabled_members)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, room.ID, room.Slug, room.Name, room.Description,
		room.OwnerID, room.Private, room.PasswordHash,
		domain.MemberIDs(room.Superusers),
		domain.MemberIDs(room.Participants),
		domain.MemberIDs(room.EnabledMembers),
	)
	return err
}

// GetByID retrieves a room by ID
func (r *RoomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	return scanRoom(r.db.Pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE id = $1
	`, id))
}

// GetBySlug retrieves a room by its URL slug
func (r *RoomRepository) GetBySlug(ctx context.Context, slug string) (*domain.Room, error) {
	return scanRoom(r.db.Pool.QueryRow(ctx, `
		SELECT `+roomColumns+` FROM rooms WHERE slug = $1
	`, slug))
}

// Update persists a room's mutable fields and access lists. The slug is
// immutable after creation and deliberately absent here.
func (r *RoomRepository) Update(ctx context.Context, room *domain.Room) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE rooms
		SET name = $2, description = $3, private = $4, password_hash = $5,
		    superusers = $6, participants = $7, enabled_members = $8
		WHERE id = $1
	`, room.ID, room.Name, room.Description, room.Private, room.PasswordHash,
		domain.MemberIDs(room.Superusers),
		domain.MemberIDs(room.Participants),
		domain.MemberIDs(room.EnabledMembers),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// Archive soft-deletes a room
func (r *RoomRepository) Archive(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool.Exec(ctx, `
		UPDATE rooms SET archived = TRUE WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// List returns the non-archived rooms visible to a viewer: every public or
// password-protected room, plus the private rooms the viewer belongs to.
func (r *RoomRepository) List(ctx context.Context, viewerID uuid.UUID) ([]*domain.Room, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE NOT archived
		  AND (NOT private
		       OR password_hash <> ''
		       OR owner_id = $1
		       OR $1 = ANY(superusers)
		       OR $1 = ANY(participants)
		       OR $1 = ANY(enabled_members))
		ORDER BY last_active DESC
	`, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRooms(rows)
}

// RoomsForMember returns the non-archived rooms a user is enabled in or owns.
func (r *RoomRepository) RoomsForMember(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+roomColumns+`
		FROM rooms
		WHERE NOT archived
		  AND (owner_id = $1 OR $1 = ANY(enabled_members))
		ORDER BY last_active DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRooms(rows)
}

func collectRooms(rows pgx.Rows) ([]*domain.Room, error) {
	var rooms []*domain.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// SlugExists checks if a room slug is taken
func (r *RoomRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM rooms WHERE slug = $1)
	`, slug).Scan(&exists)
	return exists, err
}

// AddParticipant appends a user to the participant list exactly once.
func (r *RoomRepository) AddParticipant(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE rooms
		SET participants = array_append(participants, $2)
		WHERE id = $1 AND NOT ($2 = ANY(participants))
	`, roomID, userID)
	return err
}

// AddEnabledMember appends a user to the enabled-member list exactly once.
func (r *RoomRepository) AddEnabledMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE rooms
		SET enabled_members = array_append(enabled_members, $2)
		WHERE id = $1 AND NOT ($2 = ANY(enabled_members))
	`, roomID, userID)
	return err
}

// RemoveEnabledMember drops a user from the enabled-member list.
func (r *RoomRepository) RemoveEnabledMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE rooms
		SET enabled_members = array_remove(enabled_members, $2)
		WHERE id = $1
	`, roomID, userID)
	return err
}

// ============================================================================
// Message Operations
// ============================================================================

// CreateMessage stores a message and bumps the room's activity timestamp.
func (r *RoomRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, body_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, msg.ID, msg.RoomID, msg.SenderID, msg.Text, msg.CreatedAt)
	if err == nil {
		_, _ = r.db.Pool.Exec(ctx, `
			UPDATE rooms SET last_active = NOW() WHERE id = $1
		`, msg.RoomID)
	}
	return err
}

// GetMessages retrieves room messages with cursor pagination (before timestamp)
func (r *RoomRepository) GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT m.id, m.room_id, m.sender_id, m.body_text, m.created_at,
			       u.username, u.display_name, u.avatar_url
			FROM messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = $1 AND m.created_at < $2
			ORDER BY m.created_at DESC
			LIMIT $3
		`, roomID, before, limit)
	} else {
		rows, err = r.db.Pool.Query(ctx, `
			SELECT m.id, m.room_id, m.sender_id, m.body_text, m.created_at,
			       u.username, u.display_name, u.avatar_url
			FROM messages m
			JOIN users u ON u.id = m.sender_id
			WHERE m.room_id = $1
			ORDER BY m.created_at DESC
			LIMIT $2
		`, roomID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var sender domain.PublicUser
		err := rows.Scan(
			&m.ID, &m.RoomID, &m.SenderID, &m.Text, &m.CreatedAt,
			&sender.Username, &sender.DisplayName, &sender.AvatarURL,
		)
		if err != nil {
			return nil, err
		}
		sender.ID = m.SenderID
		m.Sender = &sender
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
