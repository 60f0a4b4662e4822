// Package clients talks to the queue server's HTTP API
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/lyzr/queueboard/common/models"
)

// Logger interface for client logging
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

// Config holds queue client settings
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	RetryCount int
}

// QueueClient calls the mutation API. Error bodies come back as the same
// sentinels the server uses (models.ErrValidation and friends); a request
// whose outcome is unknown fails with models.ErrTransport.
type QueueClient struct {
	http   *resty.Client
	logger Logger

	mu    sync.RWMutex
	token string
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewQueueClient creates a new queue client
func NewQueueClient(cfg Config, logger Logger) *QueueClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &QueueClient{
		http:   client,
		logger: logger,
		token:  cfg.Token,
	}
}

// SetToken replaces the bearer token
func (c *QueueClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token
func (c *QueueClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *QueueClient) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx).SetError(&errorBody{})
	if token := c.Token(); token != "" {
		req.SetAuthToken(token)
	}
	if id, ok := GetRequestID(ctx); ok {
		req.SetHeader("X-Request-ID", id)
	}
	return req
}

// check turns a resty outcome into a sentinel-wrapped error
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %s: %v", models.ErrTransport, op, err)
	}
	if !resp.IsError() {
		return nil
	}

	body, _ := resp.Error().(*errorBody)
	if body != nil && body.Error != "" {
		if sentinel := models.ErrorForKind(body.Error); sentinel != nil {
			return fmt.Errorf("%w: %s", sentinel, body.Message)
		}
	}

	switch resp.StatusCode() {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s rejected", models.ErrValidation, op)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", models.ErrUnauthorized, op)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, op)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", models.ErrDuplicateRegistration, op)
	}
	// the server may or may not have applied it
	return fmt.Errorf("%w: %s: status %d", models.ErrTransport, op, resp.StatusCode())
}

// Login exchanges credentials for a token and keeps it for later calls
func (c *QueueClient) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.request(ctx).
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/login")
	if err := check("login", resp, err); err != nil {
		return "", err
	}

	c.SetToken(out.Token)
	c.logger.Info("logged in", "username", username)
	return out.Token, nil
}

// ListPatients fetches the queue of a date, today when blank
func (c *QueueClient) ListPatients(ctx context.Context, date string) (*models.PatientsSnapshot, error) {
	var out models.PatientsSnapshot
	req := c.request(ctx).SetResult(&out)
	if date != "" {
		req.SetQueryParam("date", date)
	}
	resp, err := req.Get("/api/patients")
	if err := check("list patients", resp, err); err != nil {
		return nil, err
	}
	if out.Patients == nil {
		out.Patients = []*models.Patient{}
	}
	return &out, nil
}

// CreatePatient adds a patient. A draft without a client token gets one so
// retries of the same call are idempotent.
func (c *QueueClient) CreatePatient(ctx context.Context, draft *models.PatientDraft) (*models.Patient, error) {
	if draft.ClientToken == "" {
		draft.ClientToken = uuid.NewString()
	}

	var out models.Patient
	resp, err := c.request(ctx).SetBody(draft).SetResult(&out).Post("/api/patients")
	if err := check("create patient", resp, err); err != nil {
		return nil, err
	}
	c.logger.Debug("created patient", "patient_id", out.ID, "client_token", draft.ClientToken)
	return &out, nil
}

// UpdateStatus changes a patient's status
func (c *QueueClient) UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string) (*models.Patient, error) {
	var out models.Patient
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(map[string]any{"status": status, "procedure": procedure}).
		SetResult(&out).
		Patch("/api/patients/{id}/status")
	if err := check("update status", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateField changes one column
func (c *QueueClient) UpdateField(ctx context.Context, id int64, field models.PatientField, value string) (*models.Patient, error) {
	var out models.Patient
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		SetBody(map[string]any{"field": field, "value": value}).
		SetResult(&out).
		Patch("/api/patients/{id}/field")
	if err := check("update field", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePatient removes a patient
func (c *QueueClient) DeletePatient(ctx context.Context, id int64) error {
	resp, err := c.request(ctx).
		SetPathParam("id", strconv.FormatInt(id, 10)).
		Delete("/api/patients/{id}")
	return check("delete patient", resp, err)
}

// Reorder sets the order of a room
func (c *QueueClient) Reorder(ctx context.Context, room, date string, ids []int64) error {
	resp, err := c.request(ctx).
		SetPathParam("room", room).
		SetBody(models.ReorderRequest{QueueDate: date, IDs: ids}).
		Post("/api/rooms/{room}/reorder")
	return check("reorder", resp, err)
}

// Stats fetches the counts of a date
func (c *QueueClient) Stats(ctx context.Context, date string) (*models.Stats, error) {
	var out models.Stats
	req := c.request(ctx).SetResult(&out)
	if date != "" {
		req.SetQueryParam("date", date)
	}
	resp, err := req.Get("/api/stats")
	if err := check("stats", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListDoctors fetches every room/doctor
func (c *QueueClient) ListDoctors(ctx context.Context) ([]*models.Doctor, error) {
	var out []*models.Doctor
	resp, err := c.request(ctx).SetResult(&out).Get("/api/doctors")
	if err := check("list doctors", resp, err); err != nil {
		return nil, err
	}
	return out, nil
}
