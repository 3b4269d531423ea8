package hub

import (
	"sync"

	"github.com/pairpad/hub/internal/protocol"
)

// DefaultLanguage is the syntax-highlighting tag a room starts with.
const DefaultLanguage = "javascript"

// Room is one collaboration session: a shared document, a language tag, an
// insertion-ordered member set and the subset of members currently in a call.
//
// ID, Name and CreatedBy are immutable after creation. Everything else is
// guarded by mu; each inbound event for a room runs to completion under mu so
// partial updates never interleave. Sends to members are queued while mu is
// held (sends never block), which keeps per-room delivery in arrival order.
type Room struct {
	ID        string
	Name      string
	CreatedBy string

	mu        sync.Mutex
	code      string
	language  string
	order     []string
	users     map[string]protocol.Participant
	callPeers map[string]struct{}
}

func newRoom(id, name, createdBy string) *Room {
	return &Room{
		ID:        id,
		Name:      name,
		CreatedBy: createdBy,
		language:  DefaultLanguage,
		users:     make(map[string]protocol.Participant),
		callPeers: make(map[string]struct{}),
	}
}

// Code returns the current document text.
func (r *Room) Code() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.code
}

// Language returns the current language tag.
func (r *Room) Language() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.language
}

// Participants returns the members in join order.
func (r *Room) Participants() []protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked()
}

func (r *Room) participantsLocked() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.users[id])
	}
	return out
}

// addUserLocked inserts or overwrites a participant. A rejoin with the same
// connection id keeps its original position in the presence list.
func (r *Room) addUserLocked(p protocol.Participant) {
	if _, ok := r.users[p.ConnectionID]; !ok {
		r.order = append(r.order, p.ConnectionID)
	}
	r.users[p.ConnectionID] = p
}

// removeUserLocked removes a participant and, if it was in the call, drops it
// from the peer set too. Reports whether the user was present and whether it
// was a call peer.
func (r *Room) removeUserLocked(connID string) (removed, wasInCall bool) {
	if _, ok := r.users[connID]; !ok {
		return false, false
	}
	delete(r.users, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if _, ok := r.callPeers[connID]; ok {
		delete(r.callPeers, connID)
		wasInCall = true
	}
	return true, wasInCall
}

func (r *Room) memberIDsLocked() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Room) memberIDsExceptLocked(connID string) []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != connID {
			out = append(out, id)
		}
	}
	return out
}

// callPeerIDsLocked returns call peers in join order.
func (r *Room) callPeerIDsLocked() []string {
	out := make([]string, 0, len(r.callPeers))
	for _, id := range r.order {
		if _, ok := r.callPeers[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
