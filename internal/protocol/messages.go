// Package protocol defines the closed set of wire messages exchanged between
// clients and the hub over the signaling WebSocket.
//
// Inbound messages are parsed into a single tagged union (ClientEvent) and
// validated field-by-field before they reach any room-mutating logic. Outbound
// messages are distinct typed structs constructed via the New* helpers.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

type EventType string

// Inbound event kinds (client -> hub).
const (
	EventCreateRoom      EventType = "create-room"
	EventJoinRoom        EventType = "join-room"
	EventCodeChange      EventType = "code-change"
	EventLanguageChange  EventType = "language-change"
	EventChatMessage     EventType = "chat-message"
	EventJoinCall        EventType = "join-call"
	EventGetCallPeers    EventType = "get-call-peers"
	EventWebRTCOffer     EventType = "webrtc-offer"
	EventWebRTCAnswer    EventType = "webrtc-answer"
	EventWebRTCCandidate EventType = "webrtc-ice-candidate"
	EventLeaveCall       EventType = "leave-call"
	EventRunOutput       EventType = "run-output"
)

// Outbound event kinds (hub -> client).
const (
	EventRoomCreated    EventType = "room-created"
	EventJoinSuccess    EventType = "join-success"
	EventJoinError      EventType = "join-error"
	EventError          EventType = "error"
	EventUsersUpdate    EventType = "users-update"
	EventCodeUpdate     EventType = "code-update"
	EventLanguageUpdate EventType = "language-update"
	EventNewMessage     EventType = "new-message"
	EventUserJoinedCall EventType = "user-joined-call"
	EventCallPeersList  EventType = "call-peers-list"
	EventUserLeftCall   EventType = "user-left-call"
)

// Participant is the wire representation of one member of a room.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	UserName     string `json:"userName"`
	Avatar       string `json:"avatar"`
}

// SDP mirrors the browser's RTCSessionDescriptionInit shape.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

// Candidate mirrors the browser's RTCIceCandidateInit shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// ClientEvent is the tagged union of all inbound messages.
type ClientEvent struct {
	Type EventType `json:"type"`

	RoomID   string `json:"roomId,omitempty"`
	RoomName string `json:"roomName,omitempty"`
	UserName string `json:"userName,omitempty"`
	Avatar   string `json:"avatar,omitempty"`

	Code string `json:"code,omitempty"`

	// UserID is accepted for wire compatibility with clients that echo their
	// own id on code-change. The hub ignores it and attributes the change to
	// the connection the message arrived on.
	UserID   string `json:"userId,omitempty"`
	Language string `json:"language,omitempty"`
	Message  string `json:"message,omitempty"`
	Output   string `json:"output,omitempty"`

	To        string     `json:"to,omitempty"`
	SDP       *SDP       `json:"sdp,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}

// ParseClientEvent decodes and validates one inbound message. Unknown fields
// and trailing data are rejected so malformed payloads never reach the hub.
func ParseClientEvent(data []byte) (ClientEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ev ClientEvent
	if err := dec.Decode(&ev); err != nil {
		return ClientEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return ClientEvent{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientEvent{}, fmt.Errorf("unexpected trailing data")
	}
	return ev, nil
}

func (e ClientEvent) Validate() error {
	switch e.Type {
	case EventCreateRoom:
		if e.RoomName == "" {
			return fmt.Errorf("create-room message missing roomName")
		}
		if e.UserName == "" {
			return fmt.Errorf("create-room message missing userName")
		}
		if e.RoomID != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("create-room message has unexpected fields")
		}
	case EventJoinRoom:
		if e.RoomID == "" {
			return fmt.Errorf("join-room message missing roomId")
		}
		if e.UserName == "" {
			return fmt.Errorf("join-room message missing userName")
		}
		if e.RoomName != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("join-room message has unexpected fields")
		}
	case EventCodeChange:
		if e.RoomID == "" {
			return fmt.Errorf("code-change message missing roomId")
		}
		if e.To != "" || e.SDP != nil || e.Candidate != nil || e.Message != "" {
			return fmt.Errorf("code-change message has unexpected fields")
		}
	case EventLanguageChange:
		if e.RoomID == "" {
			return fmt.Errorf("language-change message missing roomId")
		}
		if e.Language == "" {
			return fmt.Errorf("language-change message missing language")
		}
		if e.Code != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("language-change message has unexpected fields")
		}
	case EventChatMessage:
		if e.RoomID == "" {
			return fmt.Errorf("chat-message message missing roomId")
		}
		if e.Message == "" {
			return fmt.Errorf("chat-message message missing message")
		}
		if e.Code != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("chat-message message has unexpected fields")
		}
	case EventJoinCall, EventGetCallPeers, EventLeaveCall:
		if e.RoomID == "" {
			return fmt.Errorf("%s message missing roomId", e.Type)
		}
		if e.Code != "" || e.Message != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", e.Type)
		}
	case EventWebRTCOffer:
		if err := e.validateSDPPayload(webrtc.SDPTypeOffer); err != nil {
			return err
		}
	case EventWebRTCAnswer:
		if err := e.validateSDPPayload(webrtc.SDPTypeAnswer); err != nil {
			return err
		}
	case EventWebRTCCandidate:
		if err := e.validateSignal(); err != nil {
			return err
		}
		if e.Candidate == nil {
			return fmt.Errorf("webrtc-ice-candidate message missing candidate")
		}
		if e.SDP != nil {
			return fmt.Errorf("webrtc-ice-candidate message has unexpected sdp")
		}
	case EventRunOutput:
		if e.RoomID == "" {
			return fmt.Errorf("run-output message missing roomId")
		}
		if e.Code != "" || e.Message != "" || e.To != "" || e.SDP != nil || e.Candidate != nil {
			return fmt.Errorf("run-output message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", e.Type)
	}
	return nil
}

// validateSDPPayload checks a webrtc-offer/webrtc-answer payload by converting
// the session description through pion; the conversion rejects SDP types the
// hub does not relay, and the typed result must match the message kind.
func (e ClientEvent) validateSDPPayload(want webrtc.SDPType) error {
	if err := e.validateSignal(); err != nil {
		return err
	}
	if e.SDP == nil {
		return fmt.Errorf("%s message missing sdp", e.Type)
	}
	desc, err := e.SDP.ToPion()
	if err != nil {
		return fmt.Errorf("%s message: %w", e.Type, err)
	}
	if desc.Type != want {
		return fmt.Errorf("%s message has sdp.type=%q", e.Type, e.SDP.Type)
	}
	if e.Candidate != nil {
		return fmt.Errorf("%s message has unexpected candidate", e.Type)
	}
	return nil
}

func (e ClientEvent) validateSignal() error {
	if e.RoomID == "" {
		return fmt.Errorf("%s message missing roomId", e.Type)
	}
	if e.To == "" {
		return fmt.Errorf("%s message missing to", e.Type)
	}
	if e.Code != "" || e.Message != "" || e.UserName != "" || e.Avatar != "" {
		return fmt.Errorf("%s message has unexpected fields", e.Type)
	}
	return nil
}
