package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

// Conn is one display connection: a read goroutine dispatching inbound
// messages and a write goroutine draining send
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	send chan []byte
	log  *logger.Logger

	mu   sync.Mutex
	info ConnInfo
}

// ID returns the connection id
func (c *Conn) ID() string {
	return c.id
}

// Info returns a copy of the connection bookkeeping
func (c *Conn) Info() ConnInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

func (c *Conn) touch(action string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.info.LastActivity = c.hub.now()
	if action != "" {
		c.info.LastAction = action
	}
}

// readPump reads inbound messages until the peer goes away or misses the
// keep-alive window
func (c *Conn) readPump() {
	defer c.hub.unregister(c)

	cfg := c.hub.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.touch("")
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var msg models.InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Warn("malformed inbound message", "error", err)
			c.hub.fail(c, "", models.ErrValidation, "malformed message", "")
			continue
		}
		c.hub.handleInbound(c, &msg)
	}
}

// writePump writes queued events and keep-alive pings
func (c *Conn) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				// unregistered by the hub
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one event per frame so displays can parse each one
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("websocket write failed", "error", err)
				c.hub.unregister(c)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.hub.unregister(c)
				return
			}
		}
	}
}
