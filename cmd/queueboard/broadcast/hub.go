// Package broadcast fans typed queue events out to every connected display
// and carries display-originated admin actions back to the mutation API.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lyzr/queueboard/common/config"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/queue"
)

// Dispatcher executes inbound requests on behalf of a connection
type Dispatcher interface {
	// Dispatch runs one admin action. Its effects reach every display,
	// the originator included, through the event bus.
	Dispatch(ctx context.Context, action *models.AdminAction) error

	// Resync returns the events that bring a display up to date for date
	Resync(ctx context.Context, date string) ([]models.Event, error)
}

// Hub owns the connection registry and the bus subscription
type Hub struct {
	cfg        config.BroadcastConfig
	registry   *Registry
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	log        *logger.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time

	onConnect    []func(ConnInfo)
	onDisconnect []func(ConnInfo)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a hub. m may be nil.
func NewHub(cfg config.BroadcastConfig, dispatcher Dispatcher, m *metrics.Metrics, log *logger.Logger) *Hub {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 120 * time.Second
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		registry:   NewRegistry(),
		dispatcher: dispatcher,
		metrics:    m,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// displays are served from other hosts on the ward network
				return true
			},
		},
		ctx:    ctx,
		cancel: cancel,
	}

	h.OnConnect(func(ConnInfo) { h.publishClientCount() })
	h.OnDisconnect(func(ConnInfo) { h.publishClientCount() })
	return h
}

// OnConnect registers fn to run after a connection is registered
func (h *Hub) OnConnect(fn func(ConnInfo)) {
	h.onConnect = append(h.onConnect, fn)
}

// OnDisconnect registers fn to run after a connection is removed
func (h *Hub) OnDisconnect(fn func(ConnInfo)) {
	h.onDisconnect = append(h.onDisconnect, fn)
}

// Registry exposes the connection registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	return h.registry.Count()
}

// Attach subscribes the hub to topic. Delivery stops when ctx is done.
func (h *Hub) Attach(ctx context.Context, q queue.Queue, topic string) error {
	err := q.Subscribe(ctx, topic, func(ctx context.Context, key string, value []byte) error {
		h.Broadcast(value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	h.log.Info("broadcast hub attached", "topic", topic)
	return nil
}

// Run attaches to topic and blocks until ctx is done
func (h *Hub) Run(ctx context.Context, q queue.Queue, topic string) error {
	if err := h.Attach(ctx, q, topic); err != nil {
		return err
	}
	<-ctx.Done()
	h.log.Info("broadcast hub stopping")
	return nil
}

// Broadcast queues an encoded event on every connection. A connection whose
// buffer is full is dropped; it resyncs when it reconnects.
func (h *Hub) Broadcast(msg []byte) {
	for _, c := range h.registry.broadcast(msg) {
		c.log.Warn("send buffer full, dropping connection")
		if h.metrics != nil {
			h.metrics.EventsDropped.Inc()
		}
		h.unregister(c)
	}
}

// sendEvent queues one event on a single connection
func (h *Hub) sendEvent(c *Conn, ev models.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		c.log.Error("failed to encode event", "type", ev.Type, "error", err)
		return
	}
	if !h.registry.send(c, raw) {
		if h.metrics != nil {
			h.metrics.EventsDropped.Inc()
		}
		h.unregister(c)
	}
}

// ServeWS upgrades the request and serves the connection until it closes
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, username string) error {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	now := h.now()
	id := uuid.NewString()
	c := &Conn{
		id:   id,
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.cfg.SendBuffer),
		log:  h.log.WithConn(id),
		info: ConnInfo{
			ID:           id,
			Username:     username,
			ConnectedAt:  now,
			LastActivity: now,
			UserAgent:    r.UserAgent(),
			RemoteAddr:   r.RemoteAddr,
		},
	}

	count := h.registry.add(c)
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(count))
	}
	c.log.Info("display connected", "remote_addr", r.RemoteAddr, "connections", count)

	go c.writePump()

	h.resync(c, r.URL.Query().Get("date"))
	for _, fn := range h.onConnect {
		fn(c.Info())
	}

	c.readPump()
	return nil
}

func (h *Hub) unregister(c *Conn) {
	removed, count := h.registry.remove(c)
	if !removed {
		return
	}
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(count))
	}
	c.log.Info("display disconnected", "connections", count)

	info := c.Info()
	for _, fn := range h.onDisconnect {
		fn(info)
	}
}

// Close drops every connection. Registered with the HTTP server's shutdown.
func (h *Hub) Close() {
	h.cancel()
	for _, c := range h.registry.all() {
		h.unregister(c)
	}
}

func (h *Hub) publishClientCount() {
	ev, err := models.NewEvent(models.EventClientCountUpdated, "", models.ClientCount{Count: h.registry.Count()})
	if err != nil {
		h.log.Error("failed to build client count event", "error", err)
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode client count event", "error", err)
		return
	}
	h.Broadcast(raw)
}

func (h *Hub) handleInbound(c *Conn, msg *models.InboundMessage) {
	switch msg.Type {
	case models.MessageAdminAction:
		if msg.Action == nil {
			h.fail(c, "", models.ErrValidation, "admin_action without action", "")
			return
		}
		c.touch(string(msg.Action.Type))
		h.dispatch(c, msg.Action)

	case models.MessageRequestSnapshot:
		c.touch("")
		h.resync(c, msg.QueueDate)

	case models.MessageClientActivity:
		c.touch("")

	default:
		c.log.Warn("unknown inbound message type", "type", msg.Type)
		h.fail(c, "", models.ErrValidation, fmt.Sprintf("unknown message type %q", msg.Type), "")
	}
}

func (h *Hub) dispatch(c *Conn, action *models.AdminAction) {
	ctx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	err := h.dispatcher.Dispatch(ctx, action)
	if err == nil {
		c.log.Debug("admin action applied", "action", action.Type)
		return
	}

	var token struct {
		ClientToken string `json:"client_token"`
	}
	_ = json.Unmarshal(action.Payload, &token)

	c.log.Warn("admin action failed", "action", action.Type, "error", err)
	h.fail(c, action.Type, err, err.Error(), token.ClientToken)
}

func (h *Hub) resync(c *Conn, date string) {
	ctx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	events, err := h.dispatcher.Resync(ctx, date)
	if err != nil {
		c.log.Warn("resync failed", "queue_date", date, "error", err)
		h.fail(c, "", err, err.Error(), "")
		return
	}
	for _, ev := range events {
		h.sendEvent(c, ev)
	}
}

// fail reports an error to the originating connection only
func (h *Hub) fail(c *Conn, action models.ActionType, err error, message, clientToken string) {
	kind := models.ErrorKind(err)
	if kind == models.KindInternal {
		message = "internal error"
	}
	ev, buildErr := models.NewEvent(models.EventActionFailed, "", models.ActionFailed{
		Action:      action,
		Kind:        kind,
		Message:     message,
		ClientToken: clientToken,
	})
	if buildErr != nil {
		c.log.Error("failed to build action_failed event", "error", buildErr)
		return
	}
	h.sendEvent(c, ev)
}
