// Package hub implements the room and signaling core: the registry of live
// rooms, the join/create gateway, the broadcast router for document, chat and
// presence events, and the point-to-point WebRTC signaling relay.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pairpad/hub/internal/metrics"
	"github.com/pairpad/hub/internal/protocol"
)

// Counter names recorded in the metrics registry.
const (
	MetricRoomsCreated    = "rooms_created"
	MetricJoins           = "joins"
	MetricJoinErrors      = "join_errors"
	MetricCodeUpdates     = "code_updates"
	MetricLanguageUpdates = "language_updates"
	MetricChatMessages    = "chat_messages"
	MetricRunOutputs      = "run_outputs"
	MetricCallJoins       = "call_joins"
	MetricCallLeaves      = "call_leaves"
	MetricSignalsRelayed  = "signals_relayed"
	MetricSignalsDropped  = "signals_dropped"
	MetricDisconnects     = "disconnects"
	MetricSendsDropped    = "sends_dropped"
	MetricCatalogErrors   = "catalog_errors"
	MetricRateLimited     = "rate_limited"
)

// catalogWriteTimeout bounds the best-effort room-catalog insert so a slow
// catalog can never stall room creation.
const catalogWriteTimeout = 3 * time.Second

// Sender delivers one encoded event to a connection. Send must not block; it
// reports whether the event was accepted (a slow consumer may drop).
type Sender interface {
	Send(data []byte) bool
}

// Catalog records room metadata durably. Failures are surfaced as warnings,
// never as failures of the in-memory flow.
type Catalog interface {
	CreateRoom(ctx context.Context, id, name, createdBy string) error
}

// Options configures a Hub. Log is required; everything else has a default.
type Options struct {
	Log          *slog.Logger
	Catalog      Catalog
	Metrics      *metrics.Metrics
	RoomIDLength int
	Now          func() time.Time
	NewMessageID func() string
}

// Hub owns all live hub state. Room mutations are serialized per room by the
// room's own mutex; the hub's mutex only guards the connection tables, so
// unrelated rooms proceed fully in parallel.
//
// Lock order: a room mutex may be held while taking h.mu, never the reverse.
type Hub struct {
	log          *slog.Logger
	registry     *Registry
	catalog      Catalog
	metrics      *metrics.Metrics
	roomIDLen    int
	now          func() time.Time
	newMessageID func() string

	mu         sync.Mutex
	conns      map[string]Sender
	roomByConn map[string]string
}

func New(opts Options) *Hub {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	idLen := opts.RoomIDLength
	if idLen <= 0 {
		idLen = RoomIDLength
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newMessageID := opts.NewMessageID
	if newMessageID == nil {
		newMessageID = newUUID
	}
	return &Hub{
		log:          log,
		registry:     NewRegistry(),
		catalog:      opts.Catalog,
		metrics:      m,
		roomIDLen:    idLen,
		now:          now,
		newMessageID: newMessageID,
		conns:        make(map[string]Sender),
		roomByConn:   make(map[string]string),
	}
}

// Registry exposes the room store for read-only surfaces (REST listing).
func (h *Hub) Registry() *Registry { return h.registry }

// Metrics exposes the hub's counter registry.
func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// Register makes a connection reachable for broadcasts. It must be called
// before any event for the connection is dispatched.
func (h *Hub) Register(connID string, s Sender) {
	h.mu.Lock()
	h.conns[connID] = s
	h.mu.Unlock()
}

// ConnCount reports the number of registered connections.
func (h *Hub) ConnCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Disconnect tears down everything a connection was part of: its sender, its
// room membership and its call participation. It is idempotent; reconciling a
// connection already absent everywhere is a no-op.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	_, known := h.conns[connID]
	delete(h.conns, connID)
	h.mu.Unlock()

	h.leaveRoom(connID)

	if known {
		h.metrics.Inc(MetricDisconnects)
		h.log.Debug("connection disconnected", "conn_id", connID)
	}
}

// CreateRoom generates a fresh room id, records metadata in the catalog
// (best-effort), inserts the room into the registry and adds the caller as
// its first participant. The caller receives room-created with the membership
// snapshot; validation failures are answered with join-error.
func (h *Hub) CreateRoom(ctx context.Context, connID, roomName, userName, avatar string) (string, error) {
	roomName = strings.TrimSpace(roomName)
	userName = strings.TrimSpace(userName)
	if roomName == "" {
		h.rejectJoin(connID, "room name must not be empty")
		return "", fmt.Errorf("empty room name: %w", ErrValidation)
	}
	if userName == "" {
		h.rejectJoin(connID, "display name must not be empty")
		return "", fmt.Errorf("empty display name: %w", ErrValidation)
	}

	// A connection is a member of at most one room at a time.
	h.leaveRoom(connID)

	var room *Room
	for {
		id, err := generateRoomID(h.roomIDLen)
		if err != nil {
			h.rejectJoin(connID, "could not create room")
			return "", err
		}
		room, err = h.registry.Create(id, roomName, userName)
		if err == nil {
			break
		}
		// Collision: regenerate. Negligibly rare with 36^8 ids.
	}

	// The catalog write happens outside any room lock and must not fail the
	// in-memory flow: the room stays usable even if metadata persistence
	// failed.
	if h.catalog != nil {
		cctx, cancel := context.WithTimeout(ctx, catalogWriteTimeout)
		err := h.catalog.CreateRoom(cctx, room.ID, roomName, userName)
		cancel()
		if err != nil {
			h.metrics.Inc(MetricCatalogErrors)
			h.log.Warn("room catalog write failed", "room_id", room.ID, "err", err)
		}
	}

	room.mu.Lock()
	room.addUserLocked(protocol.Participant{ConnectionID: connID, UserName: userName, Avatar: avatar})
	users := room.participantsLocked()
	h.setRoom(connID, room.ID)
	h.sendTo(connID, protocol.NewRoomCreated(room.ID, users))
	room.mu.Unlock()

	h.metrics.Inc(MetricRoomsCreated)
	h.log.Info("room created", "room_id", room.ID, "name", roomName, "created_by", userName)
	return room.ID, nil
}

// JoinRoom adds the connection to an existing room and broadcasts the updated
// presence list to the whole room. Joining an unknown id yields join-error and
// never mutates the registry. Rejoining with the same connection id is
// idempotent.
func (h *Hub) JoinRoom(connID, roomID, userName, avatar string) ([]protocol.Participant, error) {
	userName = strings.TrimSpace(userName)
	if userName == "" {
		h.rejectJoin(connID, "display name must not be empty")
		return nil, fmt.Errorf("empty display name: %w", ErrValidation)
	}

	room, ok := h.registry.Get(roomID)
	if !ok {
		h.rejectJoin(connID, fmt.Sprintf("room %s not found", NormalizeRoomID(roomID)))
		return nil, fmt.Errorf("room %s: %w", NormalizeRoomID(roomID), ErrRoomNotFound)
	}

	if cur := h.roomFor(connID); cur != "" && cur != room.ID {
		h.leaveRoom(connID)
	}

	room.mu.Lock()
	room.addUserLocked(protocol.Participant{ConnectionID: connID, UserName: userName, Avatar: avatar})
	users := room.participantsLocked()
	h.setRoom(connID, room.ID)
	h.broadcast(room.memberIDsLocked(), protocol.NewUsersUpdate(room.ID, users))
	h.sendTo(connID, protocol.NewJoinSuccess(room.ID, users, room.code, room.language))
	room.mu.Unlock()

	h.metrics.Inc(MetricJoins)
	h.log.Info("user joined room", "room_id", room.ID, "conn_id", connID, "user", userName)
	return users, nil
}

// leaveRoom removes the connection from its current room, if any: drops it
// from the call (notifying remaining peers), removes it from the member list
// and broadcasts the updated presence list. Safe to call repeatedly.
func (h *Hub) leaveRoom(connID string) {
	h.mu.Lock()
	roomID := h.roomByConn[connID]
	delete(h.roomByConn, connID)
	h.mu.Unlock()
	if roomID == "" {
		return
	}

	room, ok := h.registry.Get(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	removed, wasInCall := room.removeUserLocked(connID)
	if !removed {
		room.mu.Unlock()
		return
	}
	if wasInCall {
		h.broadcast(room.callPeerIDsLocked(), protocol.NewUserLeftCall(room.ID, connID))
		h.metrics.Inc(MetricCallLeaves)
	}
	h.broadcast(room.memberIDsLocked(), protocol.NewUsersUpdate(room.ID, room.participantsLocked()))
	room.mu.Unlock()

	h.log.Debug("user left room", "room_id", roomID, "conn_id", connID, "was_in_call", wasInCall)
}

// memberRoom resolves a room and checks the connection is a member of it.
func (h *Hub) memberRoom(connID, roomID string) (*Room, error) {
	room, ok := h.registry.Get(roomID)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", NormalizeRoomID(roomID), ErrRoomNotFound)
	}
	room.mu.Lock()
	_, member := room.users[connID]
	room.mu.Unlock()
	if !member {
		return nil, fmt.Errorf("conn %s in room %s: %w", connID, room.ID, ErrNotInRoom)
	}
	return room, nil
}

func (h *Hub) rejectJoin(connID, message string) {
	h.metrics.Inc(MetricJoinErrors)
	h.sendTo(connID, protocol.NewJoinError(message))
}

func (h *Hub) setRoom(connID, roomID string) {
	h.mu.Lock()
	h.roomByConn[connID] = roomID
	h.mu.Unlock()
}

func (h *Hub) roomFor(connID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomByConn[connID]
}

// sendTo encodes and queues one event for a single connection.
func (h *Hub) sendTo(connID string, ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", "err", err)
		return
	}
	h.deliver(connID, data)
}

// broadcast encodes an event once and queues it for every listed connection.
// Delivery is fire-and-forget: a slow consumer drops the event rather than
// blocking the room.
func (h *Hub) broadcast(connIDs []string, ev any) {
	if len(connIDs) == 0 {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("encode event", "err", err)
		return
	}
	for _, id := range connIDs {
		h.deliver(id, data)
	}
}

func (h *Hub) deliver(connID string, data []byte) {
	h.mu.Lock()
	s := h.conns[connID]
	h.mu.Unlock()
	if s == nil {
		return
	}
	if !s.Send(data) {
		h.metrics.Inc(MetricSendsDropped)
		h.log.Warn("dropped event for slow consumer", "conn_id", connID)
	}
}
