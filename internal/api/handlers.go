// Package api exposes the room catalog and hub statistics over REST, for a
// lobby page listing joinable rooms.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pairpad/hub/internal/catalog"
	"github.com/pairpad/hub/internal/httpserver"
	"github.com/pairpad/hub/internal/hub"
)

type Handler struct {
	log     *slog.Logger
	hub     *hub.Hub
	catalog *catalog.Store
}

func New(logger *slog.Logger, h *hub.Hub, store *catalog.Store) *Handler {
	return &Handler{log: logger, hub: h, catalog: store}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/rooms", h.listRooms)
	mux.HandleFunc("GET /api/rooms/{id}", h.getRoom)
	mux.HandleFunc("GET /api/stats", h.stats)
}

type roomResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	ActiveUsers int       `json:"activeUsers"`
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rooms, err := h.catalog.List(r.Context(), limit, offset)
	if err != nil {
		h.log.Error("list rooms", "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list rooms"})
		return
	}

	resp := make([]roomResponse, 0, len(rooms))
	for _, room := range rooms {
		active := 0
		if live, ok := h.hub.Registry().Get(room.ID); ok {
			active = len(live.Participants())
		}
		resp = append(resp, roomResponse{
			ID:          room.ID,
			Name:        room.Name,
			CreatedBy:   room.CreatedBy,
			CreatedAt:   room.CreatedAt,
			ActiveUsers: active,
		})
	}

	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"rooms": resp})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	id := hub.NormalizeRoomID(r.PathValue("id"))

	room, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			httpserver.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "room not found"})
			return
		}
		h.log.Error("get room", "room_id", id, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load room"})
		return
	}

	active := 0
	if live, ok := h.hub.Registry().Get(room.ID); ok {
		active = len(live.Participants())
	}

	httpserver.WriteJSON(w, http.StatusOK, roomResponse{
		ID:          room.ID,
		Name:        room.Name,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   room.CreatedAt,
		ActiveUsers: active,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"activeRooms":       h.hub.Registry().Len(),
		"activeConnections": h.hub.ConnCount(),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	}

	if total, err := h.catalog.Count(r.Context()); err == nil {
		stats["totalRooms"] = total
	}

	httpserver.WriteJSON(w, http.StatusOK, stats)
}
