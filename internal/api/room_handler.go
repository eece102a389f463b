package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lunarhall/parley/internal/auth"
	"github.com/lunarhall/parley/internal/domain"
	"github.com/lunarhall/parley/internal/rooms"
)

// RoomHandler handles room endpoints
type RoomHandler struct {
	rooms  *rooms.Service
	logger *slog.Logger
}

func NewRoomHandler(roomService *rooms.Service, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:  roomService,
		logger: logger,
	}
}

// List handles GET /rooms - rooms visible to the viewer, newest activity first
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.GetUserID(r.Context())

	list, err := h.rooms.List(r.Context(), viewerID)
	if err != nil {
		h.logger.Error("list rooms failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	views := make([]domain.RoomView, len(list))
	for i, room := range list {
		views[i] = room.View(viewerID)
		views[i].UserCount = h.rooms.UserCount(room.ID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": views,
		"count": len(views),
	})
}

// Mine handles GET /rooms/mine - rooms the user owns or is enabled in
func (h *RoomHandler) Mine(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.rooms.RoomsForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list member rooms failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list rooms")
		return
	}

	views := make([]domain.RoomView, len(list))
	for i, room := range list {
		views[i] = room.View(userID)
		views[i].UserCount = h.rooms.UserCount(room.ID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rooms": views,
		"count": len(views),
	})
}

// Create handles POST /rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var input rooms.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.rooms.Create(r.Context(), userID, input)
	if err != nil {
		h.handleRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, room.View(userID))
}

// Get handles GET /rooms/{id}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}
	viewerID, _ := auth.GetUserID(r.Context())

	room, err := h.rooms.Get(r.Context(), roomID)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	view := room.View(viewerID)
	view.UserCount = h.rooms.UserCount(room.ID)
	writeJSON(w, http.StatusOK, view)
}

// GetBySlug handles GET /rooms/slug/{slug}
func (h *RoomHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		writeError(w, http.StatusBadRequest, "slug required")
		return
	}
	viewerID, _ := auth.GetUserID(r.Context())

	room, err := h.rooms.GetBySlug(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	view := room.View(viewerID)
	view.UserCount = h.rooms.UserCount(room.ID)
	writeJSON(w, http.StatusOK, view)
}

// Update handles PUT /rooms/{id}
func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var input rooms.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.rooms.Update(r.Context(), userID, roomID, input)
	if err != nil {
		h.handleRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, room.View(userID))
}

// Archive handles DELETE /rooms/{id}
func (h *RoomHandler) Archive(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	if err := h.rooms.Archive(r.Context(), userID, roomID); err != nil {
		h.handleRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// Join handles POST /rooms/{id}/join - the HTTP admission check. Password
// joins persist membership here the same way the WebSocket path does.
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var input struct {
		Password string `json:"password"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&input)
	}

	room, err := h.rooms.Join(r.Context(), userID, roomID, input.Password)
	if err != nil {
		h.handleRoomError(w, err)
		return
	}

	view := room.View(userID)
	view.Users = h.rooms.UsersInRoom(room.ID)
	writeJSON(w, http.StatusOK, view)
}

// Users handles GET /rooms/{id}/users - distinct users currently present
func (h *RoomHandler) Users(w http.ResponseWriter, r *http.Request) {
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	users := h.rooms.UsersInRoom(roomID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// Messages handles GET /rooms/{id}/messages?before=...&limit=...
func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	roomID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid room ID")
		return
	}

	var before *time.Time
	if s := r.URL.Query().Get("before"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be RFC 3339")
			return
		}
		before = &t
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	messages, err := h.rooms.Messages(r.Context(), userID, roomID, before, limit)
	if err != nil {
		h.handleRoomError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *RoomHandler) handleRoomError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, domain.ErrSlugTaken):
		writeError(w, http.StatusConflict, "room slug already taken")
	case errors.Is(err, domain.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not authorized for this room")
	case errors.Is(err, domain.ErrOwnerOnly):
		writeError(w, http.StatusForbidden, "only the owner may do this")
	case errors.Is(err, domain.ErrSuperuserEdit):
		writeError(w, http.StatusForbidden, "only the owner may edit superusers")
	case errors.Is(err, domain.ErrPasswordNeeded):
		writeError(w, http.StatusForbidden, "wrong or missing room password")
	default:
		h.logger.Error("room error", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	}
}
