package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestRoom_IsAuthorized_PublicRoom(t *testing.T) {
	room := &Room{ID: uuid.New(), OwnerID: uuid.New()}

	assert.True(t, room.IsAuthorized(uuid.New()), "public room admits anyone")
	assert.False(t, room.IsAuthorized(uuid.Nil), "missing ID is never authorized")
}

func TestRoom_IsAuthorized_OwnerAlwaysAuthorized(t *testing.T) {
	owner := uuid.New()

	for name, room := range map[string]*Room{
		"public":   {OwnerID: owner},
		"password": {OwnerID: owner, PasswordHash: "$2a$10$hash"},
		"private":  {OwnerID: owner, Private: true},
		"private+password": {
			OwnerID: owner, Private: true, PasswordHash: "$2a$10$hash",
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, room.IsAuthorized(owner))
		})
	}
}

func TestRoom_IsAuthorized_PrivateMembership(t *testing.T) {
	owner := uuid.New()
	super := uuid.New()
	participant := uuid.New()
	stranger := uuid.New()

	room := &Room{
		OwnerID:      owner,
		Private:      true,
		Superusers:   refs(super),
		Participants: refs(participant),
	}

	assert.True(t, room.IsAuthorized(super))
	assert.True(t, room.IsAuthorized(participant))
	assert.False(t, room.IsAuthorized(stranger))
}

func TestRoom_IsAuthorized_PasswordRoomExcludesNonMembers(t *testing.T) {
	// A password room is not private, but the password gate means it is not
	// open either: only owner and persisted members are authorized.
	room := &Room{
		OwnerID:      uuid.New(),
		PasswordHash: "$2a$10$hash",
		Participants: refs(uuid.New()),
	}

	assert.True(t, room.IsAuthorized(room.Participants[0].ID))
	assert.False(t, room.IsAuthorized(uuid.New()))
}

func TestRoom_IsAuthorized_ResolvedRecordRepresentation(t *testing.T) {
	member := &PublicUser{ID: uuid.New(), Username: "carol"}
	room := &Room{
		OwnerID:      uuid.New(),
		Private:      true,
		Participants: []MemberRef{MemberRecord(member)},
	}

	assert.True(t, room.IsAuthorized(member.ID))
}

func TestRoom_AccessList_SuperusersFirst(t *testing.T) {
	s, p := uuid.New(), uuid.New()
	room := &Room{Superusers: refs(s), Participants: refs(p)}

	assert.Equal(t, refs(s, p), room.AccessList())
}

func TestRoom_View_HidesMembershipFromStrangers(t *testing.T) {
	owner := uuid.New()
	member := &PublicUser{ID: uuid.New(), Username: "dave"}
	room := &Room{
		ID:         uuid.New(),
		Slug:       "ops",
		Name:       "Ops",
		OwnerID:    owner,
		Private:    true,
		Superusers: []MemberRef{MemberRecord(member)},
	}

	stranger := room.View(uuid.New())
	assert.Empty(t, stranger.Superusers)
	assert.Empty(t, stranger.Participants)

	insider := room.View(owner)
	assert.Equal(t, []string{"dave"}, insider.Superusers)
}

func TestMemberRef_EqualityByID(t *testing.T) {
	id := uuid.New()
	bare := MemberID(id)
	resolved := MemberRecord(&PublicUser{ID: id, Username: "erin"})

	assert.True(t, bare.Is(resolved.ID))
	assert.True(t, resolved.Is(bare.ID))
	assert.Equal(t, []uuid.UUID{id}, MemberIDs([]MemberRef{resolved}))
}
