package hub

import (
	"github.com/pairpad/hub/internal/protocol"
)

// JoinCall adds the connection to the room's call-peer set and announces it
// to the peers that were already in the call. The newly joined side learns of
// existing peers via CallPeers; the two triggers together tolerate arbitrary
// arrival order of "new member" versus "who's here", so every unordered pair
// of peers attempts negotiation exactly once, initiated by whichever side
// discovers the other first. Joining twice is a no-op at the peer-set level;
// the negotiating clients suppress duplicate offers themselves.
func (h *Hub) JoinCall(connID, roomID string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	existing := room.callPeerIDsLocked()
	room.callPeers[connID] = struct{}{}
	h.broadcast(existing, protocol.NewUserJoinedCall(room.ID, connID))
	room.mu.Unlock()

	h.metrics.Inc(MetricCallJoins)
	h.log.Debug("joined call", "room_id", room.ID, "conn_id", connID)
	return nil
}

// CallPeers answers the requester, and only the requester, with the current
// call-peer list, excluding itself.
func (h *Hub) CallPeers(connID, roomID string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	peers := make([]string, 0)
	for _, id := range room.callPeerIDsLocked() {
		if id != connID {
			peers = append(peers, id)
		}
	}
	h.sendTo(connID, protocol.NewCallPeersList(room.ID, peers))
	room.mu.Unlock()
	return nil
}

// RelaySignal forwards an offer, answer or ICE candidate to exactly one other
// member of the room. If the target has already left, the signal is dropped
// silently: the peer went away mid-negotiation and the sender will learn via
// user-left-call.
func (h *Hub) RelaySignal(connID string, ev protocol.ClientEvent) error {
	room, err := h.memberRoom(connID, ev.RoomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	_, targetPresent := room.users[ev.To]
	if targetPresent {
		h.sendTo(ev.To, protocol.NewSignalForward(ev.Type, room.ID, connID, ev.SDP, ev.Candidate))
	}
	room.mu.Unlock()

	if !targetPresent {
		h.metrics.Inc(MetricSignalsDropped)
		h.log.Debug("signal target gone", "room_id", room.ID, "from", connID, "to", ev.To, "kind", ev.Type)
		return nil
	}
	h.metrics.Inc(MetricSignalsRelayed)
	return nil
}

// LeaveCall removes the connection from the call-peer set and notifies the
// remaining peers so each can tear down its corresponding peer connection and
// release remote media. Leaving a call it was never in is a no-op.
func (h *Hub) LeaveCall(connID, roomID string) error {
	room, err := h.memberRoom(connID, roomID)
	if err != nil {
		return err
	}

	room.mu.Lock()
	_, inCall := room.callPeers[connID]
	if inCall {
		delete(room.callPeers, connID)
		h.broadcast(room.callPeerIDsLocked(), protocol.NewUserLeftCall(room.ID, connID))
	}
	room.mu.Unlock()

	if inCall {
		h.metrics.Inc(MetricCallLeaves)
		h.log.Debug("left call", "room_id", room.ID, "conn_id", connID)
	}
	return nil
}
