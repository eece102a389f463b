package rooms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lunarhall/parley/internal/domain"
)

// fakeRepo is an in-memory Repository that also records the order of
// persistence calls, so tests can assert migration-before-persistence.
type fakeRepo struct {
	mu       sync.Mutex
	rooms    map[uuid.UUID]*domain.Room
	messages []*domain.Message
	calls    []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rooms: make(map[uuid.UUID]*domain.Room)}
}

func (f *fakeRepo) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRepo) Create(_ context.Context, room *domain.Room) error {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *room
	f.rooms[room.ID] = &clone
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	clone := *room
	return &clone, nil
}

func (f *fakeRepo) GetBySlug(_ context.Context, slug string) (*domain.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.rooms {
		if room.Slug == slug {
			clone := *room
			return &clone, nil
		}
	}
	return nil, domain.ErrRoomNotFound
}

func (f *fakeRepo) Update(_ context.Context, room *domain.Room) error {
	f.record("update")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rooms[room.ID]; !ok {
		return domain.ErrRoomNotFound
	}
	clone := *room
	f.rooms[room.ID] = &clone
	return nil
}

func (f *fakeRepo) Archive(_ context.Context, id uuid.UUID) error {
	f.record("archive")
	f.mu.Lock()
	defer f.mu.Unlock()
	room, ok := f.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Archived = true
	return nil
}

func (f *fakeRepo) List(_ context.Context, _ uuid.UUID) ([]*domain.Room, error) {
	return nil, nil
}

func (f *fakeRepo) RoomsForMember(_ context.Context, _ uuid.UUID) ([]*domain.Room, error) {
	return nil, nil
}

func (f *fakeRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, room := range f.rooms {
		if room.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) AddParticipant(_ context.Context, roomID, userID uuid.UUID) error {
	f.record("add_participant")
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.rooms[roomID]
	for _, m := range room.Participants {
		if m.ID == userID {
			return nil
		}
	}
	room.Participants = append(room.Participants, domain.MemberID(userID))
	return nil
}

func (f *fakeRepo) AddEnabledMember(_ context.Context, roomID, userID uuid.UUID) error {
	f.record("add_enabled")
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.rooms[roomID]
	for _, m := range room.EnabledMembers {
		if m.ID == userID {
			return nil
		}
	}
	room.EnabledMembers = append(room.EnabledMembers, domain.MemberID(userID))
	return nil
}

func (f *fakeRepo) RemoveEnabledMember(_ context.Context, roomID, userID uuid.UUID) error {
	f.record("remove_enabled")
	f.mu.Lock()
	defer f.mu.Unlock()
	room := f.rooms[roomID]
	kept := room.EnabledMembers[:0]
	for _, m := range room.EnabledMembers {
		if m.ID != userID {
			kept = append(kept, m)
		}
	}
	room.EnabledMembers = kept
	return nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, msg *domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeRepo) GetMessages(_ context.Context, roomID uuid.UUID, _ *time.Time, _ int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Message
	for _, m := range f.messages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	return out, nil
}

// fakePresence records reconcile and broadcast calls in order.
type fakePresence struct {
	repo *fakeRepo // shared call log for ordering assertions

	mu         sync.Mutex
	reconciled []reconcileCall
	broadcasts []string
}

type reconcileCall struct {
	revoked []uuid.UUID
	granted []uuid.UUID
}

func (p *fakePresence) Reconcile(_ *domain.Room, unauthorized, newlyAuthorized []domain.MemberRef) {
	if p.repo != nil {
		p.repo.record("reconcile")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reconciled = append(p.reconciled, reconcileCall{
		revoked: domain.MemberIDs(unauthorized),
		granted: domain.MemberIDs(newlyAuthorized),
	})
}

func (p *fakePresence) BroadcastRoomEvent(_ *domain.Room, event string, _ any) {
	if p.repo != nil {
		p.repo.record("broadcast:" + event)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, event)
}

func (p *fakePresence) UsersForRoom(uuid.UUID) []*domain.PublicUser { return nil }
func (p *fakePresence) UserCountForRoom(uuid.UUID) int              { return 0 }

func newTestService(t *testing.T) (*Service, *fakeRepo, *fakePresence) {
	t.Helper()
	repo := newFakeRepo()
	presence := &fakePresence{repo: repo}
	return NewService(repo, presence, nil), repo, presence
}

func TestCreate_CleansRoleLists(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	super := uuid.New()
	part := uuid.New()

	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug:    "den",
		Name:    "The Den",
		Private: true,
		// Owner sneaks into both lists, and the superuser into participants.
		Superusers:   []uuid.UUID{owner, super},
		Participants: []uuid.UUID{owner, super, part},
	})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{super}, domain.MemberIDs(room.Superusers))
	assert.Equal(t, []uuid.UUID{part}, domain.MemberIDs(room.Participants))
	assert.ElementsMatch(t, []uuid.UUID{super, part}, domain.MemberIDs(room.EnabledMembers))
}

func TestCreate_DuplicateSlugRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()

	_, err := svc.Create(context.Background(), owner, CreateInput{Slug: "den", Name: "The Den"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), owner, CreateInput{Slug: "den", Name: "Other Den"})
	assert.ErrorIs(t, err, domain.ErrSlugTaken)
}

func TestCreate_BroadcastsCreation(t *testing.T) {
	svc, _, presence := newTestService(t)

	_, err := svc.Create(context.Background(), uuid.New(), CreateInput{Slug: "den", Name: "The Den"})
	require.NoError(t, err)

	assert.Equal(t, []string{EventRoomCreated}, presence.broadcasts)
}

func TestUpdate_RequiresOwnerOrSuperuser(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{Slug: "den", Name: "The Den", Private: true})
	require.NoError(t, err)

	name := "Renamed"
	_, err = svc.Update(context.Background(), uuid.New(), room.ID, UpdateInput{Name: &name})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestUpdate_SuperuserListIsOwnerOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	super := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Superusers: []uuid.UUID{super},
	})
	require.NoError(t, err)

	// A superuser may rename the room...
	name := "Renamed"
	_, err = svc.Update(context.Background(), super, room.ID, UpdateInput{Name: &name})
	require.NoError(t, err)

	// ...but not reshape the superuser list.
	supers := []uuid.UUID{super, uuid.New()}
	_, err = svc.Update(context.Background(), super, room.ID, UpdateInput{Superusers: &supers})
	assert.ErrorIs(t, err, domain.ErrSuperuserEdit)
}

func TestUpdate_AddingSuperuserGrantsAccess(t *testing.T) {
	svc, _, presence := newTestService(t)
	owner := uuid.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Superusers:   []uuid.UUID{a},
		Participants: []uuid.UUID{b},
	})
	require.NoError(t, err)

	supers := []uuid.UUID{a, c}
	parts := []uuid.UUID{b}
	updated, err := svc.Update(context.Background(), owner, room.ID, UpdateInput{
		Superusers:   &supers,
		Participants: &parts,
	})
	require.NoError(t, err)

	last := presence.reconciled[len(presence.reconciled)-1]
	assert.Empty(t, last.revoked)
	assert.Equal(t, []uuid.UUID{c}, last.granted)
	assert.ElementsMatch(t, []uuid.UUID{a, b, c}, domain.MemberIDs(updated.EnabledMembers))
}

func TestUpdate_RemovingParticipantRevokesAccess(t *testing.T) {
	svc, _, presence := newTestService(t)
	owner := uuid.New()
	a, b := uuid.New(), uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Participants: []uuid.UUID{a, b},
	})
	require.NoError(t, err)

	parts := []uuid.UUID{a}
	updated, err := svc.Update(context.Background(), owner, room.ID, UpdateInput{Participants: &parts})
	require.NoError(t, err)

	last := presence.reconciled[len(presence.reconciled)-1]
	assert.Equal(t, []uuid.UUID{b}, last.revoked)
	assert.Empty(t, last.granted)
	assert.Equal(t, []uuid.UUID{a}, domain.MemberIDs(updated.EnabledMembers))
}

func TestUpdate_RoleChangeKeepsAccess(t *testing.T) {
	svc, _, presence := newTestService(t)
	owner := uuid.New()
	a := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Participants: []uuid.UUID{a},
	})
	require.NoError(t, err)

	// Promote a from participant to superuser in one update.
	supers := []uuid.UUID{a}
	parts := []uuid.UUID{}
	updated, err := svc.Update(context.Background(), owner, room.ID, UpdateInput{
		Superusers:   &supers,
		Participants: &parts,
	})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{a}, domain.MemberIDs(updated.EnabledMembers),
		"a role change is not an access change")
	last := presence.reconciled[len(presence.reconciled)-1]
	assert.Empty(t, last.revoked)
	assert.Empty(t, last.granted)
}

func TestUpdate_MigratesSessionsBeforePersisting(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	a := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Participants: []uuid.UUID{a},
	})
	require.NoError(t, err)

	parts := []uuid.UUID{}
	_, err = svc.Update(context.Background(), owner, room.ID, UpdateInput{Participants: &parts})
	require.NoError(t, err)

	var reconcileAt, updateAt int
	for i, call := range repo.calls {
		switch call {
		case "reconcile":
			reconcileAt = i
		case "update":
			updateAt = i
		}
	}
	assert.Less(t, reconcileAt, updateAt, "live sessions migrate before the store write")
}

func TestUpdate_PreservesPasswordJoinedMembers(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	joiner := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true, Password: "Secret99x",
	})
	require.NoError(t, err)

	// joiner gets in with the password and is persisted.
	_, err = svc.Join(context.Background(), joiner, room.ID, "Secret99x")
	require.NoError(t, err)

	// An unrelated list edit must not disturb the password-joined member.
	stored, err := repo.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	newcomer := uuid.New()
	parts := append(domain.MemberIDs(stored.Participants), newcomer)
	updated, err := svc.Update(context.Background(), owner, room.ID, UpdateInput{Participants: &parts})
	require.NoError(t, err)

	assert.Contains(t, domain.MemberIDs(updated.EnabledMembers), joiner)
	assert.Contains(t, domain.MemberIDs(updated.EnabledMembers), newcomer)
}

func TestArchive_OwnerOnly(t *testing.T) {
	svc, _, presence := newTestService(t)
	owner := uuid.New()
	super := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den",
		Superusers: []uuid.UUID{super},
	})
	require.NoError(t, err)

	err = svc.Archive(context.Background(), super, room.ID)
	assert.ErrorIs(t, err, domain.ErrOwnerOnly)

	require.NoError(t, svc.Archive(context.Background(), owner, room.ID))
	assert.Contains(t, presence.broadcasts, EventRoomArchived)

	_, err = svc.Join(context.Background(), uuid.New(), room.ID, "")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestCanJoin_AuthorizedMemberNeedsNoPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	member := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true, Password: "Secret99x",
		Participants: []uuid.UUID{member},
	})
	require.NoError(t, err)

	assert.NoError(t, svc.CanJoin(context.Background(), room, member, "", false))
	assert.NoError(t, svc.CanJoin(context.Background(), room, owner, "", false))
}

func TestCanJoin_WrongPasswordDenied(t *testing.T) {
	svc, _, _ := newTestService(t)
	room, err := svc.Create(context.Background(), uuid.New(), CreateInput{
		Slug: "den", Name: "The Den", Password: "Secret99x",
	})
	require.NoError(t, err)

	err = svc.CanJoin(context.Background(), room, uuid.New(), "wrong", false)
	assert.ErrorIs(t, err, domain.ErrPasswordNeeded)
}

func TestCanJoin_PrivateWithoutPasswordDenied(t *testing.T) {
	svc, _, _ := newTestService(t)
	room, err := svc.Create(context.Background(), uuid.New(), CreateInput{
		Slug: "den", Name: "The Den", Private: true,
	})
	require.NoError(t, err)

	err = svc.CanJoin(context.Background(), room, uuid.New(), "anything", false)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)
}

func TestJoin_PasswordMatchPersistsMembershipOnce(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	joiner := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Password: "Secret99x",
	})
	require.NoError(t, err)

	// Two joins, one membership row.
	_, err = svc.Join(context.Background(), joiner, room.ID, "Secret99x")
	require.NoError(t, err)
	_, err = svc.Join(context.Background(), joiner, room.ID, "Secret99x")
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{joiner}, domain.MemberIDs(stored.Participants))
	assert.Equal(t, []uuid.UUID{joiner}, domain.MemberIDs(stored.EnabledMembers))
}

func TestJoin_PasswordHashNeverPlaintext(t *testing.T) {
	svc, repo, _ := newTestService(t)
	room, err := svc.Create(context.Background(), uuid.New(), CreateInput{
		Slug: "den", Name: "The Den", Password: "Secret99x",
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Secret99x", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Secret99x")))
}

func TestSendMessage_RequiresAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	member := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
		Participants: []uuid.UUID{member},
	})
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), uuid.New(), room.ID, "hi")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	msg, err := svc.SendMessage(context.Background(), member, room.ID, "hi")
	require.NoError(t, err)
	assert.Equal(t, member, msg.SenderID)
	assert.Equal(t, room.ID, msg.RoomID)
}

func TestMessages_RequiresAuthorization(t *testing.T) {
	svc, _, _ := newTestService(t)
	owner := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den", Private: true,
	})
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), owner, room.ID, "hello")
	require.NoError(t, err)

	_, err = svc.Messages(context.Background(), uuid.New(), room.ID, nil, 50)
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	msgs, err := svc.Messages(context.Background(), owner, room.ID, nil, 50)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestJoin_RecordsEnabledMember(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	member := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den",
	})
	require.NoError(t, err)

	_, err = svc.Join(context.Background(), member, room.ID, "")
	require.NoError(t, err)

	stored, err := repo.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Contains(t, domain.MemberIDs(stored.EnabledMembers), member)
}

func TestLeave_RemovesEnabledMember(t *testing.T) {
	svc, repo, _ := newTestService(t)
	owner := uuid.New()
	member := uuid.New()
	room, err := svc.Create(context.Background(), owner, CreateInput{
		Slug: "den", Name: "The Den",
	})
	require.NoError(t, err)

	_, err = svc.Join(context.Background(), member, room.ID, "")
	require.NoError(t, err)
	require.NoError(t, svc.Leave(context.Background(), member, room.ID))

	stored, err := repo.GetByID(context.Background(), room.ID)
	require.NoError(t, err)
	assert.NotContains(t, domain.MemberIDs(stored.EnabledMembers), member)

	// Leaving again is a no-op, not an error.
	assert.NoError(t, svc.Leave(context.Background(), member, room.ID))
}
