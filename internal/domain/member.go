package domain

import "github.com/google/uuid"

// MemberRef identifies a room member. Depending on where it came from it
// carries either a bare user ID or the resolved user record as well; equality
// is always by ID so both representations compare interchangeably.
type MemberRef struct {
	ID   uuid.UUID   `json:"id"`
	User *PublicUser `json:"user,omitempty"`
}

// MemberID wraps a bare user ID.
func MemberID(id uuid.UUID) MemberRef {
	return MemberRef{ID: id}
}

// MemberRecord wraps a resolved user record.
func MemberRecord(u *PublicUser) MemberRef {
	if u == nil {
		return MemberRef{}
	}
	return MemberRef{ID: u.ID, User: u}
}

// Is reports whether the ref identifies the given user.
func (m MemberRef) Is(id uuid.UUID) bool {
	return m.ID == id
}

// MemberIDs collects the IDs of a member list, preserving order.
func MemberIDs(members []MemberRef) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ID)
	}
	return ids
}

// MembersFromIDs lifts bare IDs into refs, preserving order.
func MembersFromIDs(ids []uuid.UUID) []MemberRef {
	members := make([]MemberRef, 0, len(ids))
	for _, id := range ids {
		members = append(members, MemberID(id))
	}
	return members
}

// containsMember reports whether members holds the given user ID.
func containsMember(members []MemberRef, id uuid.UUID) bool {
	for _, m := range members {
		if m.ID == id {
			return true
		}
	}
	return false
}
