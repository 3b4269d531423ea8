package hub

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
)

// RoomIDLength is the default length of generated room identifiers.
const RoomIDLength = 8

const roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Registry is the owned store of all live rooms, keyed by normalized room id.
// Rooms live from Create until an explicit Delete; the registry never evicts a
// room just because its last member left.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// NormalizeRoomID maps client-supplied identifiers onto the registry's key
// space. Comparison is case-insensitive, so malformed casing can never create
// a shadow room.
func NormalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[NormalizeRoomID(id)]
	return r, ok
}

// Create inserts a new room. It fails with ErrRoomExists if the id is taken;
// callers generate a fresh id and retry.
func (reg *Registry) Create(id, name, createdBy string) (*Room, error) {
	key := NormalizeRoomID(id)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, ok := reg.rooms[key]; ok {
		return nil, fmt.Errorf("room %s: %w", key, ErrRoomExists)
	}
	r := newRoom(key, name, createdBy)
	reg.rooms[key] = r
	return r, nil
}

// Delete removes a room. Administrative only; no normal flow calls it.
func (reg *Registry) Delete(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, NormalizeRoomID(id))
}

// All returns a snapshot of every live room.
func (reg *Registry) All() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

func (reg *Registry) Len() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// generateRoomID returns a random uppercase base-36 token of length n.
func generateRoomID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate room id: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(out), nil
}
