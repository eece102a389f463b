package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunarhall/parley/internal/domain"
	"github.com/lunarhall/parley/internal/presence"
	"github.com/lunarhall/parley/internal/pubsub"
)

type staticDirectory map[uuid.UUID]*domain.User

func (d staticDirectory) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, errors.New("unknown user")
}

func newTestHub(dir presence.Directory) (*Hub, *presence.Manager, *pubsub.MemoryPubSub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := pubsub.NewMemoryPubSub()
	h := NewHub(nil, bus, logger)
	pm := presence.NewManager(dir, nil, presence.NopNotifier{}, logger)
	h.Attach(pm, nil)
	return h, pm, bus
}

func TestHub_SendAfterUnregisterDoesNotPanic(t *testing.T) {
	h, _, _ := newTestHub(staticDirectory{})

	client := newTestClient()
	client.hub = h
	ctx, cancel := context.WithCancel(context.Background())
	client.SetCancelFunc(cancel)

	h.handleUnregister(client)

	// A reconcile or broadcast that snapshotted the registry before the
	// disconnect can call Send after unregister completes.
	require.NotPanics(t, func() {
		client.Send("room.revoked", map[string]string{"room_id": uuid.NewString()})
	})

	select {
	case <-ctx.Done():
	default:
		t.Fatal("unregister did not stop the pumps")
	}
}

func TestHub_RoomTopicLifecycle(t *testing.T) {
	userID := uuid.New()
	dir := staticDirectory{userID: {ID: userID, Username: "alice"}}
	h, pm, bus := newTestHub(dir)

	client := newTestClient()
	client.hub = h
	client.SetUser(userID, "alice")

	pc := presence.NewConnection(presence.TransportWebSocket, userID, client)
	require.NoError(t, pm.Connect(context.Background(), pc))

	room := &domain.Room{ID: uuid.New(), Slug: "general", Name: "General"}
	pm.Join(room, pc, true)
	client.Subscribe(room.ID)

	topic := pubsub.Topics.Room(room.ID.String())
	require.Equal(t, 1, bus.SubscriberCount(topic))

	// While the room has a local connection the topic stays subscribed.
	h.releaseRoomTopic(room.ID)
	assert.Equal(t, 1, bus.SubscriberCount(topic))

	pm.Leave(room.ID, pc, true)
	client.Unsubscribe(room.ID)
	h.releaseRoomTopic(room.ID)

	assert.Equal(t, 0, bus.SubscriberCount(topic))
	h.mu.RLock()
	assert.Empty(t, h.roomSubs)
	h.mu.RUnlock()
}

func TestHub_RoomTopicReleasedOnDisconnect(t *testing.T) {
	userID := uuid.New()
	dir := staticDirectory{userID: {ID: userID, Username: "bob"}}
	h, pm, bus := newTestHub(dir)

	client := newTestClient()
	client.hub = h
	client.SetUser(userID, "bob")
	_, cancel := context.WithCancel(context.Background())
	client.SetCancelFunc(cancel)

	pc := presence.NewConnection(presence.TransportWebSocket, userID, client)
	require.NoError(t, pm.Connect(context.Background(), pc))
	client.setConnection(pc)

	room := &domain.Room{ID: uuid.New(), Slug: "lobby", Name: "Lobby"}
	pm.Join(room, pc, true)
	client.Subscribe(room.ID)

	topic := pubsub.Topics.Room(room.ID.String())
	require.Equal(t, 1, bus.SubscriberCount(topic))

	h.handleUnregister(client)

	assert.Equal(t, 0, bus.SubscriberCount(topic))
}
