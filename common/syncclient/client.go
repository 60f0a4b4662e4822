// Package syncclient keeps a mirror.Mirror converged with the queue server:
// it follows the event socket, resyncs over HTTP on every connect and on a
// fixed interval, and reconnects with exponential backoff.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/mirror"
	"github.com/lyzr/queueboard/common/models"
)

// API is the part of the HTTP mutation API the client drives
type API interface {
	ListPatients(ctx context.Context, date string) (*models.PatientsSnapshot, error)
	CreatePatient(ctx context.Context, draft *models.PatientDraft) (*models.Patient, error)
	UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string) (*models.Patient, error)
	UpdateField(ctx context.Context, id int64, field models.PatientField, value string) (*models.Patient, error)
	DeletePatient(ctx context.Context, id int64) error
	Reorder(ctx context.Context, room, date string, ids []int64) error
}

// Config holds the client settings
type Config struct {
	// Socket endpoint, e.g. ws://board.local:8080/ws
	URL   string
	Token string

	ResyncInterval time.Duration

	// A connection that sees no frame or ping for this long is dropped
	PongWait  time.Duration
	WriteWait time.Duration

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) defaults() {
	if c.ResyncInterval <= 0 {
		c.ResyncInterval = 60 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 120 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Client follows the queue for the mirror's active date
type Client struct {
	cfg    Config
	mirror *mirror.Mirror
	api    API
	dialer *websocket.Dialer
	log    *logger.Logger

	onEvent []func(models.Event)

	mu        sync.Mutex
	ws        *websocket.Conn
	connected atomic.Bool
	resyncs   atomic.Int64
}

// New creates a client feeding m
func New(cfg Config, m *mirror.Mirror, api API, log *logger.Logger) *Client {
	cfg.defaults()
	return &Client{
		cfg:    cfg,
		mirror: m,
		api:    api,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

// OnEvent registers fn to run for every event after the mirror applied it
func (c *Client) OnEvent(fn func(models.Event)) {
	c.onEvent = append(c.onEvent, fn)
}

// Mirror returns the mirror the client feeds
func (c *Client) Mirror() *mirror.Mirror {
	return c.mirror
}

// Connected reports whether the socket is currently up
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Resyncs returns how many full snapshots have been applied
func (c *Client) Resyncs() int64 {
	return c.resyncs.Load()
}

// Run connects and follows the socket until ctx is done
func (c *Client) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff

	for {
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			b.Reset()
		}

		wait := b.NextBackOff()
		c.log.Warn("socket lost, reconnecting", "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection. It reports whether the dial succeeded.
func (c *Client) session(ctx context.Context) (bool, error) {
	target, err := c.socketURL()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	ws, _, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		return false, fmt.Errorf("failed to dial %s: %w", c.cfg.URL, err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.connected.Store(true)
	defer func() {
		c.connected.Store(false)
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		ws.Close()
	}()

	c.log.Info("socket connected", "queue_date", c.mirror.Date())

	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	if err := c.Resync(sessionCtx); err != nil {
		c.log.Warn("resync after connect failed", "error", err)
	}
	go c.resyncLoop(sessionCtx)
	go func() {
		<-sessionCtx.Done()
		ws.Close()
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var ev models.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.log.Warn("malformed event", "error", err)
			continue
		}
		if err := c.mirror.Apply(ev); err != nil {
			c.log.Warn("failed to apply event", "type", ev.Type, "error", err)
		}
		for _, fn := range c.onEvent {
			fn(ev)
		}
	}
}

func (c *Client) socketURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid socket url %q: %w", c.cfg.URL, err)
	}
	q := u.Query()
	q.Set("date", c.mirror.Date())
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) resyncLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ResyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Resync(ctx); err != nil && ctx.Err() == nil {
				c.log.Warn("periodic resync failed", "error", err)
			}
		}
	}
}

// Resync replaces the mirror's active list with the server's
func (c *Client) Resync(ctx context.Context) error {
	date := c.mirror.Date()
	snap, err := c.api.ListPatients(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to fetch snapshot for %s: %w", date, err)
	}
	if snap.QueueDate == "" {
		snap.QueueDate = date
	}
	c.mirror.ApplySnapshot(snap.QueueDate, snap.Patients)
	c.resyncs.Add(1)
	return nil
}

// SetDate switches the mirror to date and fetches its list
func (c *Client) SetDate(ctx context.Context, date string) error {
	c.mirror.SetDate(date)
	return c.Resync(ctx)
}

// Send writes one inbound message on the socket
func (c *Client) Send(msg *models.InboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ws == nil {
		return fmt.Errorf("%w: socket not connected", models.ErrTransport)
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	return nil
}

// CreatePatient adds draft to the mirror at once and confirms it over HTTP.
// The temporary entry is replaced when patient_added arrives.
func (c *Client) CreatePatient(ctx context.Context, draft *models.PatientDraft) (*models.Patient, error) {
	if draft.QueueDate == "" {
		draft.QueueDate = c.mirror.Date()
	}
	temp, undo := c.mirror.AddOptimistic(draft)
	if _, err := c.api.CreatePatient(ctx, draft); err != nil {
		return temp, c.mirror.SettleCreate(draft.ClientToken, err, undo)
	}
	return temp, nil
}

// UpdateStatus changes a status locally and on the server. The server
// writes the procedure label as sent, so an empty label keeps the one the
// mirror shows.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string) error {
	if procedure == "" {
		if cur, ok := c.mirror.Get(id); ok {
			procedure = cur.Procedure
		}
	}
	undo, err := c.mirror.UpdateStatus(id, status, procedure)
	if err != nil {
		return err
	}
	_, err = c.api.UpdateStatus(ctx, id, status, procedure)
	return c.mirror.Settle(err, undo)
}

// UpdateField changes one field locally and on the server
func (c *Client) UpdateField(ctx context.Context, id int64, field models.PatientField, value string) error {
	undo, err := c.mirror.UpdateField(id, field, value)
	if err != nil {
		return err
	}
	_, err = c.api.UpdateField(ctx, id, field, value)
	return c.mirror.Settle(err, undo)
}

// DeletePatient removes a patient locally and on the server
func (c *Client) DeletePatient(ctx context.Context, id int64) error {
	undo, err := c.mirror.Delete(id)
	if err != nil {
		return err
	}
	return c.mirror.Settle(c.api.DeletePatient(ctx, id), undo)
}

// Reorder renumbers a room locally and on the server
func (c *Client) Reorder(ctx context.Context, room string, ids []int64) error {
	undo, err := c.mirror.Reorder(room, ids)
	if err != nil {
		return err
	}
	return c.mirror.Settle(c.api.Reorder(ctx, room, c.mirror.Date(), ids), undo)
}
