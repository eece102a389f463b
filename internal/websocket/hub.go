package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/auth"
	"github.com/lunarhall/parley/internal/domain"
	"github.com/lunarhall/parley/internal/presence"
	"github.com/lunarhall/parley/internal/pubsub"
)

// RoomService is the slice of the rooms service the hub drives.
type RoomService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	Join(ctx context.Context, userID, roomID uuid.UUID, password string) (*domain.Room, error)
	Leave(ctx context.Context, userID, roomID uuid.UUID) error
	SendMessage(ctx context.Context, senderID, roomID uuid.UUID, text string) (*domain.Message, error)
}

// Hub maintains the set of active clients, dispatches their events, and fans
// presence notifications out to room broadcast groups. It implements
// presence.Notifier: join/leave/disconnect notifications raised by the
// presence index come back here to be pushed to the right connections.
type Hub struct {
	authService *auth.Service
	presence    *presence.Manager
	rooms       RoomService
	bus         pubsub.PubSub
	logger      *slog.Logger

	mu       sync.RWMutex
	clients  map[*Client]bool
	roomSubs map[uuid.UUID]pubsub.Subscription

	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub. The presence manager and room service are attached
// afterwards via Attach because the manager needs the hub as its notifier.
func NewHub(authService *auth.Service, bus pubsub.PubSub, logger *slog.Logger) *Hub {
	return &Hub{
		authService: authService,
		bus:         bus,
		logger:      logger,
		clients:     make(map[*Client]bool),
		roomSubs:    make(map[uuid.UUID]pubsub.Subscription),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
	}
}

// Attach wires the presence manager and room service. Must be called before
// Run.
func (h *Hub) Attach(pm *presence.Manager, rs RoomService) {
	h.presence = pm
	h.rooms = rs
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.handleRegister(client)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	h.logger.Debug("client connected", "remote_addr", client.conn.RemoteAddr())
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	rooms := client.Rooms()
	if pc := client.Connection(); pc != nil {
		h.presence.Disconnect(pc)
	}
	// Stop the pumps without closing the send channel: presence fan-out that
	// snapshotted the registry before this disconnect may still call Send.
	client.shutdown()
	for _, roomID := range rooms {
		h.releaseRoomTopic(roomID)
	}
	h.logger.Debug("client disconnected", "user_id", client.UserID())
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case EventTypeAuth:
		h.handleAuth(client, msg.Payload)
	case EventTypeRoomJoin:
		h.handleRoomJoin(client, msg.Payload)
	case EventTypeRoomLeave:
		h.handleRoomLeave(client, msg.Payload)
	case EventTypeMessageSend:
		h.handleMessageSend(client, msg.Payload)
	default:
		client.sendError("unknown_event", "Unknown event type: "+msg.Type)
	}
}

func (h *Hub) handleAuth(client *Client, payload json.RawMessage) {
	var p AuthPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid auth payload")
		return
	}

	claims, err := h.authService.ValidateToken(p.Token)
	if err != nil {
		client.sendError("auth_failed", "Invalid or expired token")
		return
	}

	client.SetUser(claims.UserID, claims.Username)

	pc := presence.NewConnection(presence.TransportWebSocket, claims.UserID, client)
	if err := h.presence.Connect(context.Background(), pc); err != nil {
		client.sendError("auth_failed", "Unknown user")
		return
	}
	client.setConnection(pc)

	client.Send(EventTypeAuthSuccess, AuthSuccessPayload{
		UserID:   claims.UserID,
		Username: claims.Username,
	})

	h.logger.Info("client authenticated", "user_id", claims.UserID, "username", claims.Username)
}

func (h *Hub) handleRoomJoin(client *Client, payload json.RawMessage) {
	pc := client.Connection()
	if pc == nil {
		client.sendError("not_authenticated", "Must authenticate first")
		return
	}

	var p RoomJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid room join payload")
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		client.sendError("invalid_room", "Invalid room ID")
		return
	}

	room, err := h.rooms.Join(context.Background(), client.UserID(), roomID, p.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPasswordNeeded):
			client.sendError("password_required", "Wrong or missing room password")
		case errors.Is(err, domain.ErrNotAuthorized):
			client.sendError("not_authorized", "Not authorized for this room")
		case errors.Is(err, domain.ErrRoomNotFound):
			client.sendError("room_not_found", "Room does not exist")
		default:
			h.logger.Error("room join failed", "error", err, "room_id", roomID)
			client.sendError("join_failed", "Failed to join room")
		}
		return
	}

	h.presence.Join(room, pc, false)
	client.Subscribe(room.ID)

	client.Send(EventTypeRoomJoined, RoomJoinedPayload{
		Room:  room.View(client.UserID()),
		Users: h.presence.UsersForRoom(room.ID),
	})

	h.logger.Debug("client joined room", "user_id", client.UserID(), "room_id", room.ID)
}

func (h *Hub) handleRoomLeave(client *Client, payload json.RawMessage) {
	pc := client.Connection()
	if pc == nil {
		return
	}

	var p RoomLeavePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		return
	}

	h.presence.Leave(roomID, pc, false)
	client.Unsubscribe(roomID)
	h.releaseRoomTopic(roomID)

	if err := h.rooms.Leave(context.Background(), client.UserID(), roomID); err != nil {
		h.logger.Warn("failed to record room leave", "error", err, "room_id", roomID)
	}
}

func (h *Hub) handleMessageSend(client *Client, payload json.RawMessage) {
	if client.Connection() == nil {
		client.sendError("not_authenticated", "Must authenticate first")
		return
	}

	var p MessageSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		client.sendError("invalid_payload", "Invalid message payload")
		return
	}
	roomID, err := uuid.Parse(p.RoomID)
	if err != nil {
		client.sendError("invalid_room", "Invalid room ID")
		return
	}
	if p.Text == "" {
		client.sendError("empty_message", "Message cannot be empty")
		return
	}
	if len(p.Text) > 10000 {
		client.sendError("message_too_long", "Message exceeds 10000 characters")
		return
	}

	ctx := context.Background()
	msg, err := h.rooms.SendMessage(ctx, client.UserID(), roomID, p.Text)
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			client.sendError("not_authorized", "Not authorized for this room")
			return
		}
		h.logger.Error("failed to store message", "error", err)
		client.sendError("send_failed", "Failed to send message")
		return
	}

	// Delivery goes through the room topic so every instance, including this
	// one, fans out to its local connections through the same path.
	h.publishToRoom(ctx, roomID, EventTypeMessageNew, MessageNewPayload{
		ID:             msg.ID,
		RoomID:         msg.RoomID,
		SenderID:       msg.SenderID,
		SenderUsername: client.Username(),
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
		TempID:         p.TempID,
	})
}

// publishToRoom publishes an event on a room's pub/sub topic.
func (h *Hub) publishToRoom(ctx context.Context, roomID uuid.UUID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to encode room event", "error", err)
		return
	}
	topic := pubsub.Topics.Room(roomID.String())
	err = h.bus.Publish(ctx, topic, &pubsub.Message{
		Topic:   topic,
		Type:    eventType,
		Payload: data,
	})
	if err != nil {
		h.logger.Error("failed to publish room event", "error", err, "room_id", roomID)
	}
}

// ensureRoomTopic lazily subscribes the hub to a room's pub/sub topic the
// first time a local connection enters the room.
func (h *Hub) ensureRoomTopic(roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.roomSubs[roomID]; ok {
		return
	}
	sub, err := h.bus.Subscribe(context.Background(), pubsub.Topics.Room(roomID.String()), func(ctx context.Context, msg *pubsub.Message) {
		h.deliverToRoom(roomID, msg)
	})
	if err != nil {
		h.logger.Error("failed to subscribe to room topic", "error", err, "room_id", roomID)
		return
	}
	h.roomSubs[roomID] = sub
}

// releaseRoomTopic drops the room's pub/sub subscription once no local
// connection remains in the room. A no-op while the room still has local
// presence.
func (h *Hub) releaseRoomTopic(roomID uuid.UUID) {
	if len(h.presence.ConnectionsForRoom(roomID)) > 0 {
		return
	}
	h.mu.Lock()
	sub, ok := h.roomSubs[roomID]
	if ok {
		delete(h.roomSubs, roomID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		h.logger.Warn("failed to unsubscribe room topic", "room_id", roomID, "error", err)
	}
}

// deliverToRoom forwards a room-topic message to the local connections
// subscribed to that room.
func (h *Hub) deliverToRoom(roomID uuid.UUID, msg *pubsub.Message) {
	var payload any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		h.logger.Error("failed to decode room event", "error", err, "room_id", roomID)
		return
	}
	for _, pc := range h.presence.ConnectionsForRoom(roomID) {
		pc.Channel.Send(msg.Type, payload)
	}
}

// ============================================================================
// presence.Notifier
// ============================================================================

// UserJoined fans a voluntary join out as a users.join notification.
func (h *Hub) UserJoined(ev presence.RoomEvent) {
	h.fanOutPresence(EventTypeUserJoined, ev)
}

// UserLeft fans a voluntary leave out as a users.leave notification.
func (h *Hub) UserLeft(ev presence.RoomEvent) {
	h.fanOutPresence(EventTypeUserLeft, ev)
}

// UserDisconnected fans a transport loss out as a users.disconnected
// notification.
func (h *Hub) UserDisconnected(ev presence.RoomEvent) {
	h.fanOutPresence(EventTypeUserDisconnected, ev)
}

// fanOutPresence routes one presence notification: password rooms announce
// only to the room's own connections; all other rooms go through the
// broadcast-routing predicate, which sends system-wide for public rooms and
// filters to authorized connections for private ones.
func (h *Hub) fanOutPresence(event string, ev presence.RoomEvent) {
	ctx := context.Background()
	user, err := h.presence.Users().Lookup(ctx, ev.UserID)
	if err != nil {
		h.logger.Warn("presence fan-out for unknown user", "user_id", ev.UserID, "error", err)
		return
	}
	payload := UserEventPayload{RoomID: ev.RoomID, User: user}

	if ev.RoomHasPassword {
		for _, pc := range h.presence.ConnectionsForRoom(ev.RoomID) {
			pc.Channel.Send(event, payload)
		}
		return
	}

	room, err := h.rooms.Get(ctx, ev.RoomID)
	if err != nil {
		h.logger.Warn("presence fan-out for unknown room", "room_id", ev.RoomID, "error", err)
		return
	}
	h.presence.BroadcastRoomEvent(room, event, payload)
}

// Close tears down the hub's pub/sub subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID, sub := range h.roomSubs {
		if err := sub.Unsubscribe(); err != nil {
			h.logger.Warn("failed to unsubscribe room topic", "room_id", roomID, "error", err)
		}
	}
	h.roomSubs = make(map[uuid.UUID]pubsub.Subscription)
}
