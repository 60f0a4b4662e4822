package service

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
)

// ConnectionCounter reports the number of open display connections
type ConnectionCounter interface {
	Count() int
}

// ServerStatus is the payload of the server-status endpoint
type ServerStatus struct {
	Service     string                `json:"service"`
	Environment string                `json:"environment"`
	Store       string                `json:"store"`
	EventBus    string                `json:"event_bus"`
	Connections int                   `json:"connections"`
	Healthy     bool                  `json:"healthy"`
	HealthError string                `json:"health_error,omitempty"`
	Runtime     metrics.RuntimeStatus `json:"runtime"`
	System      *metrics.SystemInfo   `json:"system"`
}

// AdminService serves backups and process status
type AdminService struct {
	store     repository.Store
	conns     ConnectionCounter
	health    func(ctx context.Context) error
	startedAt time.Time
	status    ServerStatus
	log       *logger.Logger
}

// NewAdminService creates a new admin service. base carries the static
// fields of every status report; health may be nil.
func NewAdminService(store repository.Store, conns ConnectionCounter, health func(ctx context.Context) error, base ServerStatus, log *logger.Logger) *AdminService {
	return &AdminService{
		store:     store,
		conns:     conns,
		health:    health,
		startedAt: time.Now(),
		status:    base,
		log:       log,
	}
}

// Backup dumps every table
func (s *AdminService) Backup(ctx context.Context) (*repository.Backup, error) {
	b, err := s.store.Dump(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to dump store: %w", err)
	}
	s.log.Info("backup generated",
		"patients", len(b.Patients),
		"doctors", len(b.Doctors),
		"schedule_slots", len(b.Schedule),
		"duty_dates", len(b.Duty),
	)
	return b, nil
}

// Status reports uptime, connections and host info
func (s *AdminService) Status(ctx context.Context) ServerStatus {
	st := s.status
	st.Connections = s.conns.Count()
	st.Runtime = metrics.CaptureRuntime(s.startedAt)
	st.System = metrics.GetSystemInfo()
	st.Healthy = true

	if s.health != nil {
		if err := s.health(ctx); err != nil {
			st.Healthy = false
			st.HealthError = err.Error()
		}
	}
	return st
}
