// Package rooms implements room lifecycle, join admission, and the
// authorization reconciliation pipeline: when a room's access lists change,
// the delta is computed from the in-memory before/after lists, live
// connections are migrated immediately, and persistence follows. A revoked
// user stops receiving room events the instant the lists change, even if the
// database write lags.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/lunarhall/parley/internal/domain"
)

// Broadcast event names for room lifecycle changes.
const (
	EventRoomCreated  = "room.created"
	EventRoomUpdated  = "room.updated"
	EventRoomArchived = "room.archived"
)

// Repository is the room persistence surface the service depends on.
type Repository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Room, error)
	Update(ctx context.Context, room *domain.Room) error
	Archive(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, viewerID uuid.UUID) ([]*domain.Room, error)
	RoomsForMember(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	AddParticipant(ctx context.Context, roomID, userID uuid.UUID) error
	AddEnabledMember(ctx context.Context, roomID, userID uuid.UUID) error
	RemoveEnabledMember(ctx context.Context, roomID, userID uuid.UUID) error
	CreateMessage(ctx context.Context, msg *domain.Message) error
	GetMessages(ctx context.Context, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error)
}

// Presence is the live-session surface the service drives. Reconcile migrates
// already-open sessions when access lists change; BroadcastRoomEvent routes
// lifecycle events to the correct recipient set.
type Presence interface {
	Reconcile(room *domain.Room, unauthorized, newlyAuthorized []domain.MemberRef)
	BroadcastRoomEvent(room *domain.Room, event string, payload any)
	UsersForRoom(roomID uuid.UUID) []*domain.PublicUser
	UserCountForRoom(roomID uuid.UUID) int
}

// Service owns room lifecycle and admission decisions.
type Service struct {
	repo     Repository
	presence Presence
	logger   *slog.Logger
}

func NewService(repo Repository, presence Presence, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		presence: presence,
		logger:   logger.With("component", "rooms"),
	}
}

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,31}$`)

// CreateInput for room creation
type CreateInput struct {
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Private      bool        `json:"private"`
	Password     string      `json:"password"`
	Superusers   []uuid.UUID `json:"superusers"`
	Participants []uuid.UUID `json:"participants"`
}

// Create builds a room with cleaned role lists, seeds enabled members from the
// initial access list, admits any already-connected members, persists, and
// announces the room.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, input CreateInput) (*domain.Room, error) {
	if !slugRegex.MatchString(input.Slug) {
		return nil, errors.New("slug must be 2-32 lowercase letters, numbers, or hyphens")
	}
	if input.Name == "" {
		return nil, errors.New("name is required")
	}
	taken, err := s.repo.SlugExists(ctx, input.Slug)
	if err != nil {
		return nil, fmt.Errorf("check slug: %w", err)
	}
	if taken {
		return nil, domain.ErrSlugTaken
	}

	var passwordHash string
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hash)
	}

	superusers := domain.CleanSuperusers(domain.MembersFromIDs(input.Superusers), ownerID)
	participants := domain.CleanParticipants(domain.MembersFromIDs(input.Participants), superusers, ownerID)

	room := &domain.Room{
		ID:           uuid.New(),
		Slug:         input.Slug,
		Name:         input.Name,
		Description:  input.Description,
		OwnerID:      ownerID,
		Private:      input.Private,
		PasswordHash: passwordHash,
		Superusers:   superusers,
		Participants: participants,
		CreatedAt:    time.Now(),
		LastActive:   time.Now(),
	}

	// The initial access list is a delta against an empty previous list.
	newlyAuthorized := domain.NewlyAuthorizedMembers(nil, room.AccessList())
	room.EnabledMembers = domain.PatchEnabledMembers(nil, nil, newlyAuthorized)

	if room.Private {
		s.presence.Reconcile(room, nil, newlyAuthorized)
	}

	if err := s.repo.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	s.presence.BroadcastRoomEvent(room, EventRoomCreated, room.View(uuid.Nil))
	s.logger.Info("room created", "room_id", room.ID, "slug", room.Slug, "private", room.Private)
	return room, nil
}

// UpdateInput for room updates. Nil fields are left unchanged; the slug is
// immutable. A nil Password keeps the current one, an empty string clears it.
type UpdateInput struct {
	Name         *string      `json:"name"`
	Description  *string      `json:"description"`
	Private      *bool        `json:"private"`
	Password     *string      `json:"password"`
	Superusers   *[]uuid.UUID `json:"superusers"`
	Participants *[]uuid.UUID `json:"participants"`
}

// Update edits a room. Only the owner or a superuser may edit; changing the
// superuser list is owner-only. Access-list changes are diffed against the
// previous in-memory lists, live sessions are migrated before the update is
// persisted, and one generic room.updated broadcast follows.
func (s *Service) Update(ctx context.Context, actorID, roomID uuid.UUID, input UpdateInput) (*domain.Room, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if actorID != room.OwnerID && !room.IsSuperuser(actorID) {
		return nil, domain.ErrNotAuthorized
	}
	if input.Superusers != nil && actorID != room.OwnerID {
		return nil, domain.ErrSuperuserEdit
	}

	previous := room.AccessList()

	if input.Name != nil {
		if *input.Name == "" {
			return nil, errors.New("name is required")
		}
		room.Name = *input.Name
	}
	if input.Description != nil {
		room.Description = *input.Description
	}
	if input.Private != nil {
		room.Private = *input.Private
	}
	if input.Password != nil {
		if *input.Password == "" {
			room.PasswordHash = ""
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			room.PasswordHash = string(hash)
		}
	}
	if input.Superusers != nil {
		room.Superusers = domain.CleanSuperusers(domain.MembersFromIDs(*input.Superusers), room.OwnerID)
	}
	if input.Participants != nil {
		room.Participants = domain.MembersFromIDs(*input.Participants)
	}
	room.Participants = domain.CleanParticipants(room.Participants, room.Superusers, room.OwnerID)

	update := room.AccessList()
	unauthorized := domain.UnauthorizedMembers(previous, update)
	newlyAuthorized := domain.NewlyAuthorizedMembers(previous, update)
	room.EnabledMembers = domain.PatchEnabledMembers(room.EnabledMembers, unauthorized, newlyAuthorized)

	// Migrate live sessions before touching the store: revocation takes
	// effect immediately even if the write below fails or lags.
	if room.Private {
		s.presence.Reconcile(room, unauthorized, newlyAuthorized)
	}

	if err := s.repo.Update(ctx, room); err != nil {
		return nil, fmt.Errorf("update room: %w", err)
	}

	s.presence.BroadcastRoomEvent(room, EventRoomUpdated, room.View(uuid.Nil))
	s.logger.Info("room updated",
		"room_id", room.ID,
		"revoked", len(unauthorized),
		"granted", len(newlyAuthorized),
	)
	return room, nil
}

// Archive soft-deletes a room. Owner only.
func (s *Service) Archive(ctx context.Context, actorID, roomID uuid.UUID) error {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if actorID != room.OwnerID {
		return domain.ErrOwnerOnly
	}
	if err := s.repo.Archive(ctx, roomID); err != nil {
		return fmt.Errorf("archive room: %w", err)
	}
	room.Archived = true

	s.presence.BroadcastRoomEvent(room, EventRoomArchived, room.View(uuid.Nil))
	s.logger.Info("room archived", "room_id", room.ID)
	return nil
}

// CanJoin decides admission for one user. Three outcomes: already authorized
// (admit, nothing persisted), password match (admit; when persistMembership is
// set the user is appended to participants and enabled members exactly once),
// or denied. A room with no password and no prior authorization is
// unconditionally denied, never silently admitted.
func (s *Service) CanJoin(ctx context.Context, room *domain.Room, userID uuid.UUID, password string, persistMembership bool) error {
	if room.IsAuthorized(userID) {
		return nil
	}
	if !room.HasPassword() {
		return domain.ErrNotAuthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)); err != nil {
		return domain.ErrPasswordNeeded
	}
	if persistMembership {
		if err := s.saveMembership(ctx, room, userID); err != nil {
			return err
		}
	}
	return nil
}

// saveMembership records a password-admitted user as a participant. The
// database append is idempotent, so two concurrent joins still append the id
// exactly once; the in-memory list is patched so the admission is visible to
// broadcast routing immediately.
func (s *Service) saveMembership(ctx context.Context, room *domain.Room, userID uuid.UUID) error {
	if err := s.repo.AddParticipant(ctx, room.ID, userID); err != nil {
		return fmt.Errorf("persist participant: %w", err)
	}
	member := []domain.MemberRef{domain.MemberID(userID)}
	room.Participants = domain.PatchEnabledMembers(room.Participants, nil, member)
	return nil
}

// Join admits a user to a room. Every admitted joiner is recorded as an
// enabled member so their room list survives reconnects; password joins
// additionally persist the user into participants.
func (s *Service) Join(ctx context.Context, userID, roomID uuid.UUID, password string) (*domain.Room, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Archived {
		return nil, domain.ErrRoomNotFound
	}
	if err := s.CanJoin(ctx, room, userID, password, true); err != nil {
		return nil, err
	}
	if err := s.repo.AddEnabledMember(ctx, room.ID, userID); err != nil {
		return nil, fmt.Errorf("persist enabled member: %w", err)
	}
	member := []domain.MemberRef{domain.MemberID(userID)}
	room.EnabledMembers = domain.PatchEnabledMembers(room.EnabledMembers, nil, member)
	return room, nil
}

// Leave records a voluntary departure, dropping the user from the enabled
// members. Removing an absent member is a no-op.
func (s *Service) Leave(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := s.repo.RemoveEnabledMember(ctx, roomID, userID); err != nil {
		return fmt.Errorf("remove enabled member: %w", err)
	}
	return nil
}

// Get retrieves a room by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	return s.repo.GetByID(ctx, id)
}

// GetBySlug retrieves a room by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*domain.Room, error) {
	return s.repo.GetBySlug(ctx, slug)
}

// List returns the rooms visible to a viewer, newest activity first.
func (s *Service) List(ctx context.Context, viewerID uuid.UUID) ([]*domain.Room, error) {
	return s.repo.List(ctx, viewerID)
}

// RoomsForUser returns the rooms a user is enabled in or owns.
func (s *Service) RoomsForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Room, error) {
	return s.repo.RoomsForMember(ctx, userID)
}

// UsersInRoom returns the distinct users currently present in a room.
func (s *Service) UsersInRoom(roomID uuid.UUID) []*domain.PublicUser {
	return s.presence.UsersForRoom(roomID)
}

// UserCount returns how many distinct users are present in a room.
func (s *Service) UserCount(roomID uuid.UUID) int {
	return s.presence.UserCountForRoom(roomID)
}

// SendMessage stores a message from an authorized sender and returns it for
// fan-out. Senders must be authorized for the room; password-joined members
// qualify because joining persisted them into participants.
func (s *Service) SendMessage(ctx context.Context, senderID, roomID uuid.UUID, text string) (*domain.Message, error) {
	if text == "" {
		return nil, errors.New("message text is required")
	}
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Archived {
		return nil, domain.ErrRoomNotFound
	}
	if !room.IsAuthorized(senderID) {
		return nil, domain.ErrNotAuthorized
	}

	msg := &domain.Message{
		ID:        uuid.New(),
		RoomID:    roomID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if err := s.repo.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("store message: %w", err)
	}
	return msg, nil
}

// Messages returns room history, newest first, for an authorized viewer.
func (s *Service) Messages(ctx context.Context, viewerID, roomID uuid.UUID, before *time.Time, limit int) ([]domain.Message, error) {
	room, err := s.repo.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsAuthorized(viewerID) {
		return nil, domain.ErrNotAuthorized
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.GetMessages(ctx, roomID, before, limit)
}
