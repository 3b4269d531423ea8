package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pairpad/hub/internal/hub"
	"github.com/pairpad/hub/internal/protocol"
	"github.com/pairpad/hub/internal/ratelimit"
)

const writeWait = 10 * time.Second

// Client is one live connection: a read pump feeding the dispatch table and a
// write pump draining the buffered send queue. The queue never blocks the
// hub; events for a consumer that stopped reading are dropped.
type Client struct {
	id     string
	server *Server
	conn   *websocket.Conn

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	limiter *ratelimit.TokenBucket
}

// Send queues one encoded event. It implements hub.Sender and never blocks.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.server.hub.Disconnect(c.id)
		c.close()
	}()

	cfg := c.server.cfg
	c.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))
	})

	rateLimitWarnings := 0

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Debug("websocket read failed", "conn_id", c.id, "err", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.WSIdleTimeout))

		// Over-rate messages are dropped, not fatal: a request is rejected,
		// the connection survives.
		if !c.limiter.Allow(1) {
			c.server.hub.Metrics().Inc(hub.MetricRateLimited)
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				c.server.log.Warn("rate limit exceeded", "conn_id", c.id, "warnings", rateLimitWarnings)
			}
			continue
		}

		ev, err := protocol.ParseClientEvent(data)
		if err != nil {
			c.sendEvent(protocol.NewError("invalid message: " + err.Error()))
			continue
		}

		handler, ok := c.server.handlers[ev.Type]
		if !ok {
			// Validate accepts only inbound kinds, so this is unreachable
			// unless the tables drift.
			c.sendEvent(protocol.NewError("unsupported message type"))
			continue
		}
		handler(c, ev)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}

// reportErr relays a rejected request back to the client. The hub's gateway
// operations answer with join-error themselves; this covers everything else.
func (c *Client) reportErr(err error) {
	if err == nil {
		return
	}
	c.sendEvent(protocol.NewError(err.Error()))
}

func (c *Client) sendEvent(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.server.log.Error("encode event", "err", err)
		return
	}
	c.Send(data)
}
