package hub

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pairpad/hub/internal/protocol"
)

func newUUID() string { return uuid.NewString() }

// CodeChange replaces the room's document with the payload (last write wins,
// no merging) and fans the new text out to every member except the sender, so
// the editing side never re-applies its own edit.
func (h *Hub) CodeChange(connID, roomID, code string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	room.code = code
	h.broadcast(room.memberIDsExceptLocked(connID), protocol.NewCodeUpdate(room.ID, code, connID))
	room.mu.Unlock()

	h.metrics.Inc(MetricCodeUpdates)
	return nil
}

// LanguageChange updates the room's language tag and fans it out to every
// member, sender included; the sender already holds the value locally so the
// echo is harmless and keeps all members converged.
func (h *Hub) LanguageChange(connID, roomID, language string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	room.language = language
	h.broadcast(room.memberIDsLocked(), protocol.NewLanguageUpdate(room.ID, language))
	room.mu.Unlock()

	h.metrics.Inc(MetricLanguageUpdates)
	return nil
}

// ChatMessage stamps the message with a unique id, the server receive time
// and the sender's stored identity, and fans it out to every member including
// the sender, who relies on the echo to render its own message consistently
// with everyone else. The display name and avatar come from the Participant
// recorded at join, never from the payload, so a member cannot speak under
// another member's identity. The hub keeps no message log.
func (h *Hub) ChatMessage(connID, roomID, message string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	ev := protocol.NewMessage{
		Type:      protocol.EventNewMessage,
		RoomID:    room.ID,
		ID:        h.newMessageID(),
		Message:   message,
		From:      connID,
		Timestamp: h.now().UnixMilli(),
	}

	room.mu.Lock()
	sender, ok := room.users[connID]
	if !ok {
		room.mu.Unlock()
		return fmt.Errorf("conn %s in room %s: %w", connID, room.ID, ErrNotInRoom)
	}
	ev.UserName = sender.UserName
	ev.Avatar = sender.Avatar
	h.broadcast(room.memberIDsLocked(), ev)
	room.mu.Unlock()

	h.metrics.Inc(MetricChatMessages)
	return nil
}

// RunOutput relays an execution result, already computed by the external
// execution service, verbatim to every member so the room-wide state reflects
// the last Run action.
func (h *Hub) RunOutput(connID, roomID, output, language string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	h.broadcast(room.memberIDsLocked(), protocol.NewRunOutput(room.ID, output, language))
	room.mu.Unlock()

	h.metrics.Inc(MetricRunOutputs)
	return nil
}
