package server

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solostream/coordinator/internals/auth"
	"github.com/solostream/coordinator/internals/config"
	"github.com/solostream/coordinator/internals/notify"
)

// ClientMessage is the inbound event frame: ping, webrtc:offer, webrtc:answer
// or webrtc:ice.
type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one websocket transport session. It implements notify.Session so
// the hub can deliver coordinator events to it.
type Client struct {
	id       string
	identity auth.Identity

	// streamerID is the connect target for viewers; zero for streamers and
	// lobby watchers.
	streamerID int64
	lobby      bool

	conn    *websocket.Conn
	send    chan notify.Message
	limiter *rate.Limiter
	cfg     config.TransportConfig
	logger  *zap.Logger

	// sendMu serializes sends on the send channel with its close: Deliver
	// and Kick run on different goroutines.
	sendMu sync.Mutex
	closed bool

	// kickReason is set before the connection is force-closed by the hub.
	kickReason atomic.Value

	onMessage    func(*Client, ClientMessage)
	onDisconnect func(*Client)
}

func newClient(id string, identity auth.Identity, conn *websocket.Conn, cfg config.TransportConfig, logger *zap.Logger) *Client {
	return &Client{
		id:       id,
		identity: identity,
		conn:     conn,
		send:     make(chan notify.Message, 256),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		cfg:      cfg,
		logger:   logger,
	}
}

func (c *Client) ID() string { return c.id }

// Deliver buffers a message for the write pump. Never blocks: a client that
// cannot drain its buffer loses messages rather than stalling the notifier.
func (c *Client) Deliver(msg notify.Message) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("Client send buffer full, dropping message",
			zap.String("sessionID", c.id),
			zap.String("event", string(msg.Event)),
		)
	}
}

// Kick force-closes the connection, used for second-connect eviction and
// coordinator-driven disconnects.
func (c *Client) Kick(reason string) {
	c.kickReason.Store(reason)
	c.closeSend()
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		if c.onDisconnect != nil {
			c.onDisconnect(c)
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.WSReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.WSPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.WSPongTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error",
					zap.String("sessionID", c.id),
					zap.Error(err),
				)
			}
			return
		}

		if !c.limiter.Allow() {
			c.logger.Warn("Rate limit exceeded, dropping message",
				zap.String("sessionID", c.id),
				zap.String("event", msg.Event),
			)
			continue
		}

		if c.onMessage != nil {
			c.onMessage(c, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WSWriteTimeout))
			if !ok {
				reason, _ := c.kickReason.Load().(string)
				data := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
				c.conn.WriteMessage(websocket.CloseMessage, data)
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error("Failed to write message",
					zap.String("sessionID", c.id),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WSWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
