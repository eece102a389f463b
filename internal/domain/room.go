package domain

import (
	"time"

	"github.com/google/uuid"
)

// Room is a named channel with an access-control configuration. Three shapes
// exist: public (no restriction), password-protected (anyone with the
// password), and private membership (owner + superusers + participants).
//
// EnabledMembers is the authoritative "who may receive live events" list for
// private rooms. It is never recomputed from scratch; it is patched with
// authorization deltas so that members admitted through other paths (password
// joins) are not disturbed.
type Room struct {
	ID             uuid.UUID   `json:"id"`
	Slug           string      `json:"slug"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	OwnerID        uuid.UUID   `json:"owner"`
	Private        bool        `json:"private"`
	PasswordHash   string      `json:"-"`
	Superusers     []MemberRef `json:"-"`
	Participants   []MemberRef `json:"-"`
	EnabledMembers []MemberRef `json:"-"`
	Archived       bool        `json:"-"`
	CreatedAt      time.Time   `json:"created_at"`
	LastActive     time.Time   `json:"last_active"`
}

// HasPassword reports whether joining requires a password.
func (r *Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// AccessList is the superusers and participants combined, the input to the
// ACL diff engine. Order matters for deterministic deltas: superusers first,
// matching how the lists are edited.
func (r *Room) AccessList() []MemberRef {
	list := make([]MemberRef, 0, len(r.Superusers)+len(r.Participants))
	list = append(list, r.Superusers...)
	list = append(list, r.Participants...)
	return list
}

// IsAuthorized reports whether the user may see this room's live events.
// This is the single predicate consulted by every broadcast-routing decision.
func (r *Room) IsAuthorized(userID uuid.UUID) bool {
	if userID == uuid.Nil {
		return false
	}
	if !r.Private && !r.HasPassword() {
		return true
	}
	if r.OwnerID == userID {
		return true
	}
	return containsMember(r.Participants, userID) || containsMember(r.Superusers, userID)
}

// IsSuperuser reports whether the user holds the superuser role.
func (r *Room) IsSuperuser(userID uuid.UUID) bool {
	return containsMember(r.Superusers, userID)
}

// RoomView is the wire shape of a room, sanitized for one viewer: membership
// lists are exposed only to viewers authorized for a private room.
type RoomView struct {
	ID           uuid.UUID     `json:"id"`
	Slug         string        `json:"slug"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Owner        uuid.UUID     `json:"owner"`
	Private      bool          `json:"private"`
	HasPassword  bool          `json:"has_password"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActive   time.Time     `json:"last_active"`
	Superusers   []string      `json:"superusers"`
	Participants []string      `json:"participants"`
	Users        []*PublicUser `json:"users,omitempty"`
	UserCount    int           `json:"user_count,omitempty"`
}

// View renders the room for a viewer.
func (r *Room) View(viewerID uuid.UUID) RoomView {
	v := RoomView{
		ID:           r.ID,
		Slug:         r.Slug,
		Name:         r.Name,
		Description:  r.Description,
		Owner:        r.OwnerID,
		Private:      r.Private,
		HasPassword:  r.HasPassword(),
		CreatedAt:    r.CreatedAt,
		LastActive:   r.LastActive,
		Superusers:   []string{},
		Participants: []string{},
	}
	if r.Private && r.IsAuthorized(viewerID) {
		v.Superusers = memberNames(r.Superusers)
		v.Participants = memberNames(r.Participants)
	}
	return v
}

// memberNames renders a member list as usernames, falling back to the bare ID
// for refs that were never resolved.
func memberNames(members []MemberRef) []string {
	names := make([]string, 0, len(members))
	for _, m := range members {
		if m.User != nil {
			names = append(names, m.User.Username)
		} else {
			names = append(names, m.ID.String())
		}
	}
	return names
}
