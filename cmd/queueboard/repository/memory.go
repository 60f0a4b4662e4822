package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/ordering"
)

// MemoryStore keeps everything in process. Used for development
// (STORE_BACKEND=memory) and by the service tests.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	nextDoctorID int64
	patients     map[int64]*models.Patient
	doctors      map[int64]*models.Doctor
	schedule     []models.ScheduleSlot
	duty         map[string][]models.DutyAssignment
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients: make(map[int64]*models.Patient),
		doctors:  make(map[int64]*models.Doctor),
		duty:     make(map[string][]models.DutyAssignment),
	}
}

// AddDoctor registers a room/doctor and returns it with its id
func (s *MemoryStore) AddDoctor(name, room string) *models.Doctor {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDoctorID++
	d := &models.Doctor{
		ID:        s.nextDoctorID,
		Name:      name,
		Room:      room,
		Status:    models.DoctorAvailable,
		UpdatedAt: time.Now().UTC(),
	}
	s.doctors[d.ID] = d
	cp := *d
	return &cp
}

// roomMembers returns the live rows of (room, date) sorted by sequence
func (s *MemoryStore) roomMembers(room, date string) []*models.Patient {
	var out []*models.Patient
	for _, p := range s.patients {
		if p.Room == room && p.QueueDate == date {
			out = append(out, p)
		}
	}
	ordering.SortBySequence(out)
	return out
}

func (s *MemoryStore) nextOrder(room, date string) int {
	max := 0
	for _, p := range s.roomMembers(room, date) {
		if p.DisplayOrder > max {
			max = p.DisplayOrder
		}
	}
	return max + 1
}

// compact renumbers (room, date) to 1..N keeping the current sequence
func (s *MemoryStore) compact(room, date string, now time.Time) {
	for i, p := range s.roomMembers(room, date) {
		if p.DisplayOrder != i+1 {
			p.DisplayOrder = i + 1
			p.UpdatedAt = now
		}
	}
}

func (s *MemoryStore) codeTaken(code, date string, except int64) bool {
	for _, p := range s.patients {
		if p.ID != except && p.QueueDate == date && p.RegistrationCode == code {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreatePatient(ctx context.Context, p *models.Patient) (*models.Patient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ClientToken != "" {
		for _, existing := range s.patients {
			if existing.ClientToken == p.ClientToken {
				return existing.Clone(), false, nil
			}
		}
	}

	if s.codeTaken(p.RegistrationCode, p.QueueDate, 0) {
		return nil, false, fmt.Errorf("%w: %s on %s", models.ErrDuplicateRegistration, p.RegistrationCode, p.QueueDate)
	}

	s.nextID++
	row := p.Clone()
	row.ID = s.nextID
	row.DisplayOrder = s.nextOrder(row.Room, row.QueueDate)
	s.patients[row.ID] = row

	return row.Clone(), true, nil
}

func (s *MemoryStore) GetPatient(ctx context.Context, id int64) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPatients(ctx context.Context, date string) ([]*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Patient, 0)
	for _, p := range s.patients {
		if p.QueueDate == date {
			out = append(out, p.Clone())
		}
	}
	sortForList(out)
	return out, nil
}

func (s *MemoryStore) ListInProcedure(ctx context.Context) ([]*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Patient
	for _, p := range s.patients {
		if p.Status == models.StatusProcedure {
			out = append(out, p.Clone())
		}
	}
	sortForList(out)
	return out, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status models.PatientStatus, procedure string, start *time.Time, now time.Time) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}

	p.Status = status
	p.Procedure = procedure
	p.ProcedureStartTime = nil
	if start != nil {
		t := *start
		p.ProcedureStartTime = &t
	}
	p.ElapsedMinutes = 0
	p.UpdatedAt = now

	return p.Clone(), nil
}

func (s *MemoryStore) UpdateField(ctx context.Context, id int64, field models.PatientField, value string, now time.Time) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}

	switch field {
	case models.FieldName:
		p.Name = value
	case models.FieldProcedure:
		p.Procedure = value
	case models.FieldStaff:
		p.Staff = value
	case models.FieldNote:
		p.Note = value
	case models.FieldDemographic:
		p.Demographic = value
	case models.FieldWard:
		p.Ward = value
	case models.FieldPriority:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: priority must be an integer", models.ErrValidation)
		}
		p.Priority = n
	case models.FieldRegistrationCode:
		if s.codeTaken(value, p.QueueDate, p.ID) {
			return nil, fmt.Errorf("%w: %s on %s", models.ErrDuplicateRegistration, value, p.QueueDate)
		}
		p.RegistrationCode = value
	case models.FieldRoom:
		if value != p.Room {
			oldRoom := p.Room
			p.DisplayOrder = s.nextOrder(value, p.QueueDate)
			p.Room = value
			s.compact(oldRoom, p.QueueDate, now)
		}
	case models.FieldQueueDate:
		if value != p.QueueDate {
			if s.codeTaken(p.RegistrationCode, value, p.ID) {
				return nil, fmt.Errorf("%w: %s on %s", models.ErrDuplicateRegistration, p.RegistrationCode, value)
			}
			oldDate := p.QueueDate
			p.DisplayOrder = s.nextOrder(p.Room, value)
			p.QueueDate = value
			s.compact(p.Room, oldDate, now)
		}
	default:
		return nil, fmt.Errorf("%w: unknown field %q", models.ErrValidation, field)
	}
	p.UpdatedAt = now

	return p.Clone(), nil
}

func (s *MemoryStore) DeletePatient(ctx context.Context, id int64, now time.Time) (*models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	delete(s.patients, id)
	s.compact(p.Room, p.QueueDate, now)

	for _, d := range s.doctors {
		if d.CurrentPatient != nil && *d.CurrentPatient == id {
			d.CurrentPatient = nil
		}
	}
	return p, nil
}

func (s *MemoryStore) Reorder(ctx context.Context, room, date string, ids []int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.patients[id]; !ok {
			return fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
		}
	}

	members := s.roomMembers(room, date)
	full, err := ordering.Complete(ids, members)
	if err != nil {
		return err
	}

	for _, a := range ordering.Renumber(full) {
		p := s.patients[a.ID]
		if p.DisplayOrder != a.DisplayOrder {
			p.DisplayOrder = a.DisplayOrder
			p.UpdatedAt = now
		}
	}
	return nil
}

func (s *MemoryStore) SetElapsed(ctx context.Context, id int64, start time.Time, minutes int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok || p.Status != models.StatusProcedure || p.ProcedureStartTime == nil || !p.ProcedureStartTime.Equal(start) {
		return false, nil
	}
	if p.ElapsedMinutes != minutes {
		p.ElapsedMinutes = minutes
		p.UpdatedAt = now
	}
	return true, nil
}

func (s *MemoryStore) Stats(ctx context.Context, date string, now time.Time) (*models.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*models.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		all = append(all, p)
	}
	return models.ComputeStats(date, all, now), nil
}

func (s *MemoryStore) ListDoctors(ctx context.Context) ([]*models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Room < out[j].Room })
	return out, nil
}

func (s *MemoryStore) UpdateDoctorStatus(ctx context.Context, id int64, status models.DoctorStatus, current *int64, now time.Time) (*models.Doctor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.doctors[id]
	if !ok {
		return nil, fmt.Errorf("%w: doctor %d", models.ErrNotFound, id)
	}
	if current != nil {
		if _, ok := s.patients[*current]; !ok {
			return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, *current)
		}
	}
	d.Status = status
	d.CurrentPatient = current
	d.UpdatedAt = now

	cp := *d
	return &cp, nil
}

func (s *MemoryStore) GetSchedule(ctx context.Context) ([]models.ScheduleSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.ScheduleSlot(nil), s.schedule...), nil
}

func (s *MemoryStore) ReplaceSchedule(ctx context.Context, slots []models.ScheduleSlot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.schedule = append([]models.ScheduleSlot(nil), slots...)
	return nil
}

func (s *MemoryStore) GetDuty(ctx context.Context, date string) ([]models.DutyAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]models.DutyAssignment(nil), s.duty[date]...), nil
}

func (s *MemoryStore) ReplaceDuty(ctx context.Context, date string, assignments []models.DutyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(assignments) == 0 {
		delete(s.duty, date)
		return nil
	}
	s.duty[date] = append([]models.DutyAssignment(nil), assignments...)
	return nil
}

func (s *MemoryStore) Dump(ctx context.Context) (*Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := &Backup{GeneratedAt: time.Now().UTC()}
	for _, p := range s.patients {
		b.Patients = append(b.Patients, p.Clone())
	}
	sortForList(b.Patients)
	for _, d := range s.doctors {
		cp := *d
		b.Doctors = append(b.Doctors, &cp)
	}
	sort.Slice(b.Doctors, func(i, j int) bool { return b.Doctors[i].ID < b.Doctors[j].ID })
	b.Schedule = append(b.Schedule, s.schedule...)

	dates := make([]string, 0, len(s.duty))
	for d := range s.duty {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	for _, d := range dates {
		b.Duty = append(b.Duty, models.DutyRoster{Date: d, Assignments: append([]models.DutyAssignment(nil), s.duty[d]...)})
	}
	return b, nil
}

// sortForList is the storage order: date, room, display_order, id
func sortForList(ps []*models.Patient) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.QueueDate != b.QueueDate {
			return a.QueueDate < b.QueueDate
		}
		if a.Room != b.Room {
			return a.Room < b.Room
		}
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder < b.DisplayOrder
		}
		return a.ID < b.ID
	})
}
