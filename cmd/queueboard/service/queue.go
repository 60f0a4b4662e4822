package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyzr/queueboard/cmd/queueboard/repository"
	"github.com/lyzr/queueboard/common/cache"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/metrics"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/ordering"
	"github.com/lyzr/queueboard/common/queuedate"
	"github.com/lyzr/queueboard/common/validation"
)

// Clock returns the current instant. Every timestamp the service writes
// and every elapsed computation reads the same clock.
type Clock func() time.Time

// DefaultSnapshotTTL bounds how stale a cached snapshot may be
const DefaultSnapshotTTL = 2 * time.Second

// QueueService is the mutation API over patient queues
type QueueService struct {
	store       repository.PatientStore
	pub         *Publisher
	validator   *validation.Validator
	cache       cache.Cache
	snapshotTTL time.Duration
	metrics     *metrics.Metrics
	now         Clock
	loc         *time.Location
	log         *logger.Logger
}

// Option configures a QueueService
type Option func(*QueueService)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *QueueService) { s.now = c }
}

// WithLocation sets the zone "today" is computed in
func WithLocation(loc *time.Location) Option {
	return func(s *QueueService) { s.loc = loc }
}

// WithSnapshotCache caches list reads for ttl. Any mutation invalidates.
func WithSnapshotCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *QueueService) {
		s.cache = c
		s.snapshotTTL = ttl
	}
}

// WithMetrics records mutation counts and latency
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *QueueService) { s.metrics = m }
}

// NewQueueService creates a new queue service
func NewQueueService(store repository.PatientStore, pub *Publisher, log *logger.Logger, opts ...Option) *QueueService {
	s := &QueueService{
		store:       store,
		pub:         pub,
		validator:   validation.New(),
		snapshotTTL: DefaultSnapshotTTL,
		now:         time.Now,
		loc:         time.Local,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock in UTC, truncated to what timestamptz stores
func (s *QueueService) Now() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Today returns the current queue date
func (s *QueueService) Today() string {
	return queuedate.Today(s.now(), s.loc)
}

// NormalizeDate returns date, or today when blank
func (s *QueueService) NormalizeDate(date string) (string, error) {
	return queuedate.Normalize(date, s.now(), s.loc)
}

func (s *QueueService) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = models.ErrorKind(err)
	}
	s.metrics.Mutations.WithLabelValues(op, result).Inc()
	s.metrics.MutationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// CreatePatient validates a draft and appends it to its room.
// A draft whose client token was already committed returns the committed
// row and publishes nothing.
func (s *QueueService) CreatePatient(ctx context.Context, draft *models.PatientDraft) (p *models.Patient, err error) {
	start := time.Now()
	defer func() { s.observe("create", start, err) }()

	if err := s.validator.ValidateDraft(draft); err != nil {
		return nil, err
	}

	date, err := s.NormalizeDate(draft.QueueDate)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	addedAt := now
	if draft.AddedAt != nil && !draft.AddedAt.IsZero() {
		addedAt = draft.AddedAt.UTC()
	}
	priority := draft.Priority
	if priority == 0 {
		priority = 1
	}

	row := &models.Patient{
		RegistrationCode: strings.TrimSpace(draft.RegistrationCode),
		Name:             strings.TrimSpace(draft.Name),
		Room:             strings.TrimSpace(draft.Room),
		Procedure:        draft.Procedure,
		Staff:            draft.Staff,
		Note:             draft.Note,
		Demographic:      draft.Demographic,
		Ward:             draft.Ward,
		Status:           models.StatusWaiting,
		Priority:         priority,
		QueueDate:        date,
		CreatedAt:        now,
		UpdatedAt:        now,
		AddedAt:          addedAt,
		ClientToken:      draft.ClientToken,
	}

	created, isNew, err := s.store.CreatePatient(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}
	created.RefreshElapsed(now)

	if !isNew {
		s.log.Info("create replayed", "patient_id", created.ID, "client_token", draft.ClientToken)
		return created, nil
	}

	s.invalidate(ctx, date)
	s.pub.Publish(ctx, models.EventPatientAdded, date, created)
	s.publishStats(ctx, date)

	s.log.WithPatient(created.ID).Info("created patient",
		"room", created.Room,
		"queue_date", date,
		"display_order", created.DisplayOrder,
	)
	return created, nil
}

// UpdateStatus moves a patient between waiting, procedure and completed.
// The procedure label is written as supplied.
func (s *QueueService) UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string) (p *models.Patient, err error) {
	start := time.Now()
	defer func() { s.observe("status", start, err) }()

	if err := s.validator.ValidateStatus(status); err != nil {
		return nil, err
	}

	now := s.Now()
	var began *time.Time
	if status == models.StatusProcedure {
		began = &now
	}

	updated, err := s.store.UpdateStatus(ctx, id, status, procedure, began, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	updated.RefreshElapsed(now)

	s.invalidate(ctx, updated.QueueDate)
	s.pub.Publish(ctx, models.EventPatientUpdated, updated.QueueDate, updated)
	s.publishStats(ctx, updated.QueueDate)

	s.log.WithPatient(id).Info("updated status", "status", status, "queue_date", updated.QueueDate)
	return updated, nil
}

// UpdateField changes one column. Room and date changes also publish a
// snapshot of the date the patient left so its room renumbering reaches
// every display.
func (s *QueueService) UpdateField(ctx context.Context, id int64, field models.PatientField, value string) (p *models.Patient, err error) {
	start := time.Now()
	defer func() { s.observe("field", start, err) }()

	if field.Required() {
		value = strings.TrimSpace(value)
	}
	if err := s.validator.ValidateField(field, value); err != nil {
		return nil, err
	}

	var before *models.Patient
	if field == models.FieldRoom || field == models.FieldQueueDate {
		if before, err = s.store.GetPatient(ctx, id); err != nil {
			return nil, fmt.Errorf("failed to update field: %w", err)
		}
	}

	now := s.Now()
	updated, err := s.store.UpdateField(ctx, id, field, value, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update field: %w", err)
	}
	updated.RefreshElapsed(now)

	s.invalidate(ctx, updated.QueueDate)
	s.pub.Publish(ctx, models.EventPatientUpdated, updated.QueueDate, fieldPatch(updated, field))

	if before != nil && (before.Room != updated.Room || before.QueueDate != updated.QueueDate) {
		if before.QueueDate != updated.QueueDate {
			s.invalidate(ctx, before.QueueDate)
			s.publishStats(ctx, before.QueueDate)
			s.publishStats(ctx, updated.QueueDate)
		}
		s.PublishSnapshot(ctx, before.QueueDate)
	}

	s.log.WithPatient(id).Info("updated field", "field", field, "queue_date", updated.QueueDate)
	return updated, nil
}

// fieldPatch is the merge-patch document for one changed column
func fieldPatch(p *models.Patient, field models.PatientField) map[string]any {
	doc := map[string]any{
		"id":         p.ID,
		"updated_at": p.UpdatedAt,
		"queue_date": p.QueueDate,
	}
	switch field {
	case models.FieldName:
		doc["name"] = p.Name
	case models.FieldRegistrationCode:
		doc["registration_code"] = p.RegistrationCode
	case models.FieldProcedure:
		doc["procedure"] = p.Procedure
	case models.FieldStaff:
		doc["staff"] = p.Staff
	case models.FieldNote:
		doc["note"] = p.Note
	case models.FieldDemographic:
		doc["demographic"] = p.Demographic
	case models.FieldWard:
		doc["ward"] = p.Ward
	case models.FieldPriority:
		doc["priority"] = p.Priority
	case models.FieldRoom, models.FieldQueueDate:
		doc["room"] = p.Room
		doc["display_order"] = p.DisplayOrder
	}
	return doc
}

// DeletePatient removes a patient and closes the gap in its room
func (s *QueueService) DeletePatient(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { s.observe("delete", start, err) }()

	deleted, err := s.store.DeletePatient(ctx, id, s.Now())
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}

	s.invalidate(ctx, deleted.QueueDate)
	s.pub.Publish(ctx, models.EventPatientDeleted, deleted.QueueDate, models.PatientDeleted{
		ID:        deleted.ID,
		QueueDate: deleted.QueueDate,
	})
	s.publishStats(ctx, deleted.QueueDate)

	s.log.WithPatient(id).Info("deleted patient", "room", deleted.Room, "queue_date", deleted.QueueDate)
	return nil
}

// Reorder renumbers a room. Listed ids come first, the rest of the room
// keeps its relative order after them.
func (s *QueueService) Reorder(ctx context.Context, room, date string, ids []int64) (err error) {
	start := time.Now()
	defer func() { s.observe("reorder", start, err) }()

	if err := s.validator.ValidateReorder(room, ids); err != nil {
		return err
	}
	date, err = s.NormalizeDate(date)
	if err != nil {
		return err
	}

	if err := s.store.Reorder(ctx, room, date, ids, s.Now()); err != nil {
		return fmt.Errorf("failed to reorder room %s: %w", room, err)
	}

	s.invalidate(ctx, date)
	s.PublishSnapshot(ctx, date)

	s.log.Info("reordered room", "room", room, "queue_date", date, "count", len(ids))
	return nil
}

// ListPatients returns every patient of a date in display order.
// Elapsed minutes are derived from the service clock at read time.
func (s *QueueService) ListPatients(ctx context.Context, date string) ([]*models.Patient, error) {
	date, err := s.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	return s.Snapshot(ctx, date)
}

// Snapshot returns the ordered list for a normalized date, served from the
// snapshot cache when one is configured
func (s *QueueService) Snapshot(ctx context.Context, date string) ([]*models.Patient, error) {
	key := snapshotKey(date)

	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var cached []*models.Patient
			if err := json.Unmarshal(raw, &cached); err == nil {
				s.refresh(cached)
				return cached, nil
			}
		}
	}

	patients, err := s.store.ListPatients(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	s.refresh(patients)

	if s.cache != nil {
		if raw, err := json.Marshal(patients); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.snapshotTTL); err != nil {
				s.log.Warn("failed to cache snapshot", "queue_date", date, "error", err)
			}
		}
	}
	return patients, nil
}

func (s *QueueService) refresh(patients []*models.Patient) {
	now := s.now()
	for _, p := range patients {
		p.RefreshElapsed(now)
	}
	sortForDisplay(patients)
}

// sortForDisplay groups by room, procedure first within a room
func sortForDisplay(patients []*models.Patient) {
	rooms, groups := ordering.GroupByRoom(patients)
	i := 0
	for _, room := range rooms {
		for _, p := range groups[room] {
			patients[i] = p
			i++
		}
	}
}

// Stats returns the aggregate counts for a date
func (s *QueueService) Stats(ctx context.Context, date string) (*models.Stats, error) {
	date, err := s.NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	st, err := s.store.Stats(ctx, date, s.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}

// PublishSnapshot broadcasts the full list of a date
func (s *QueueService) PublishSnapshot(ctx context.Context, date string) {
	patients, err := s.Snapshot(ctx, date)
	if err != nil {
		s.log.Error("failed to build snapshot", "queue_date", date, "error", err)
		return
	}
	s.pub.Publish(ctx, models.EventPatientsSnapshot, date, models.PatientsSnapshot{
		QueueDate: date,
		Patients:  patients,
	})
}

func (s *QueueService) publishStats(ctx context.Context, date string) {
	st, err := s.store.Stats(ctx, date, s.Now())
	if err != nil {
		s.log.Error("failed to compute stats", "queue_date", date, "error", err)
		return
	}
	s.pub.Publish(ctx, models.EventStatsUpdated, date, st)
}

// PublishStats broadcasts the counts of a date
func (s *QueueService) PublishStats(ctx context.Context, date string) {
	s.publishStats(ctx, date)
}

// Invalidate drops the cached snapshot of each date
func (s *QueueService) Invalidate(ctx context.Context, dates ...string) {
	for _, d := range dates {
		s.invalidate(ctx, d)
	}
}

func (s *QueueService) invalidate(ctx context.Context, date string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotKey(date)); err != nil {
		s.log.Warn("failed to invalidate snapshot", "queue_date", date, "error", err)
	}
}

func snapshotKey(date string) string {
	return "snapshot:" + date
}
