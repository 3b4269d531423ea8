package protocol

// Outbound messages. Each event kind gets its own struct so the wire shape is
// fixed at compile time; constructors fill in the type tag.

type RoomCreated struct {
	Type   EventType     `json:"type"`
	RoomID string        `json:"roomId"`
	Users  []Participant `json:"users"`
}

func NewRoomCreated(roomID string, users []Participant) RoomCreated {
	return RoomCreated{Type: EventRoomCreated, RoomID: roomID, Users: users}
}

type JoinSuccess struct {
	Type     EventType     `json:"type"`
	RoomID   string        `json:"roomId"`
	Users    []Participant `json:"users"`
	Code     string        `json:"code"`
	Language string        `json:"language"`
}

func NewJoinSuccess(roomID string, users []Participant, code, language string) JoinSuccess {
	return JoinSuccess{Type: EventJoinSuccess, RoomID: roomID, Users: users, Code: code, Language: language}
}

type JoinError struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewJoinError(message string) JoinError {
	return JoinError{Type: EventJoinError, Message: message}
}

// ErrorEvent reports a rejected request that is not a join/create attempt.
// The connection stays open; only the offending request is refused.
type ErrorEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

func NewError(message string) ErrorEvent {
	return ErrorEvent{Type: EventError, Message: message}
}

type UsersUpdate struct {
	Type   EventType     `json:"type"`
	RoomID string        `json:"roomId"`
	Users  []Participant `json:"users"`
}

func NewUsersUpdate(roomID string, users []Participant) UsersUpdate {
	return UsersUpdate{Type: EventUsersUpdate, RoomID: roomID, Users: users}
}

type CodeUpdate struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
	Code   string    `json:"code"`
	UserID string    `json:"userId"`
}

func NewCodeUpdate(roomID, code, userID string) CodeUpdate {
	return CodeUpdate{Type: EventCodeUpdate, RoomID: roomID, Code: code, UserID: userID}
}

type LanguageUpdate struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	Language string    `json:"language"`
}

func NewLanguageUpdate(roomID, language string) LanguageUpdate {
	return LanguageUpdate{Type: EventLanguageUpdate, RoomID: roomID, Language: language}
}

// NewMessage is one chat message fanned out to every member of a room,
// including the sender. The ID, timestamp and sender identity are stamped by
// the hub from its own state, never copied from the inbound payload.
type NewMessage struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"roomId"`
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	UserName  string    `json:"userName"`
	Avatar    string    `json:"avatar"`
	From      string    `json:"senderConnectionId"`
	Timestamp int64     `json:"timestamp"`
}

type UserJoinedCall struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
	PeerID string    `json:"peerId"`
}

func NewUserJoinedCall(roomID, peerID string) UserJoinedCall {
	return UserJoinedCall{Type: EventUserJoinedCall, RoomID: roomID, PeerID: peerID}
}

type CallPeersList struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
	Peers  []string  `json:"peers"`
}

func NewCallPeersList(roomID string, peers []string) CallPeersList {
	if peers == nil {
		peers = []string{}
	}
	return CallPeersList{Type: EventCallPeersList, RoomID: roomID, Peers: peers}
}

type UserLeftCall struct {
	Type   EventType `json:"type"`
	RoomID string    `json:"roomId"`
	PeerID string    `json:"peerId"`
}

func NewUserLeftCall(roomID, peerID string) UserLeftCall {
	return UserLeftCall{Type: EventUserLeftCall, RoomID: roomID, PeerID: peerID}
}

// SignalForward carries an offer, answer or ICE candidate from one peer to
// exactly one other peer. The hub forwards the payload verbatim.
type SignalForward struct {
	Type      EventType  `json:"type"`
	RoomID    string     `json:"roomId"`
	From      string     `json:"from"`
	SDP       *SDP       `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

func NewSignalForward(kind EventType, roomID, from string, sdp *SDP, cand *Candidate) SignalForward {
	return SignalForward{Type: kind, RoomID: roomID, From: from, SDP: sdp, Candidate: cand}
}

type RunOutput struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	Output   string    `json:"output"`
	Language string    `json:"language"`
}

func NewRunOutput(roomID, output, language string) RunOutput {
	return RunOutput{Type: EventRunOutput, RoomID: roomID, Output: output, Language: language}
}
