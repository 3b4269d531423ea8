package hub

import "errors"

var (
	// ErrRoomNotFound is returned for a join against an unknown room id. The
	// registry is never mutated by a failed join.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomExists is returned by Registry.Create on an id collision.
	ErrRoomExists = errors.New("room already exists")

	// ErrValidation is returned when a request is missing a required field,
	// such as an empty display name or room name.
	ErrValidation = errors.New("invalid request")

	// ErrNotInRoom is returned when a connection addresses a room it is not a
	// member of.
	ErrNotInRoom = errors.New("connection not in room")
)
