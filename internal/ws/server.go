// Package ws terminates the per-participant WebSocket connections and
// dispatches validated events into the hub.
package ws

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pairpad/hub/internal/config"
	"github.com/pairpad/hub/internal/hub"
	"github.com/pairpad/hub/internal/protocol"
	"github.com/pairpad/hub/internal/ratelimit"
)

type handlerFunc func(c *Client, ev protocol.ClientEvent)

// Server upgrades HTTP requests to hub connections. Each inbound event kind
// maps to exactly one handler through a dispatch table built at startup;
// unknown kinds are rejected at the protocol boundary before dispatch.
type Server struct {
	log      *slog.Logger
	cfg      config.Config
	hub      *hub.Hub
	clock    ratelimit.Clock
	upgrader websocket.Upgrader
	handlers map[protocol.EventType]handlerFunc
}

func NewServer(cfg config.Config, logger *slog.Logger, h *hub.Hub) *Server {
	s := &Server{
		log:   logger,
		cfg:   cfg,
		hub:   h,
		clock: ratelimit.RealClock{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	}
	s.handlers = s.dispatchTable()
	return s
}

func (s *Server) dispatchTable() map[protocol.EventType]handlerFunc {
	return map[protocol.EventType]handlerFunc{
		// Gateway operations answer the caller themselves (room-created,
		// join-success or join-error), so dispatch ignores their errors.
		protocol.EventCreateRoom: func(c *Client, ev protocol.ClientEvent) {
			_, _ = s.hub.CreateRoom(context.Background(), c.id, ev.RoomName, ev.UserName, ev.Avatar)
		},
		protocol.EventJoinRoom: func(c *Client, ev protocol.ClientEvent) {
			_, _ = s.hub.JoinRoom(c.id, ev.RoomID, ev.UserName, ev.Avatar)
		},

		protocol.EventCodeChange: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.CodeChange(c.id, ev.RoomID, ev.Code))
		},
		protocol.EventLanguageChange: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.LanguageChange(c.id, ev.RoomID, ev.Language))
		},
		protocol.EventChatMessage: func(c *Client, ev protocol.ClientEvent) {
			// Identity is resolved from the stored Participant; the payload's
			// userName/avatar are accepted for wire compatibility and ignored.
			c.reportErr(s.hub.ChatMessage(c.id, ev.RoomID, ev.Message))
		},
		protocol.EventRunOutput: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.RunOutput(c.id, ev.RoomID, ev.Output, ev.Language))
		},

		protocol.EventJoinCall: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.JoinCall(c.id, ev.RoomID))
		},
		protocol.EventGetCallPeers: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.CallPeers(c.id, ev.RoomID))
		},
		protocol.EventLeaveCall: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.LeaveCall(c.id, ev.RoomID))
		},
		protocol.EventWebRTCOffer: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.RelaySignal(c.id, ev))
		},
		protocol.EventWebRTCAnswer: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.RelaySignal(c.id, ev))
		},
		protocol.EventWebRTCCandidate: func(c *Client, ev protocol.ClientEvent) {
			c.reportErr(s.hub.RelaySignal(c.id, ev))
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	c := &Client{
		id:      uuid.NewString(),
		server:  s,
		conn:    conn,
		send:    make(chan []byte, s.cfg.WSSendQueueLen),
		closed:  make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(s.clock, int64(s.cfg.MaxMessagesPerSecond), int64(s.cfg.MaxMessagesPerSecond)),
	}

	s.hub.Register(c.id, c)
	s.log.Debug("connection established", "conn_id", c.id, "remote_addr", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}
