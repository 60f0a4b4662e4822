// Package mirror keeps a display's local copy of the queue for one date and
// reconciles it against broadcast events. Local actions are applied first;
// events and periodic snapshots bring the copy back in line with the server.
package mirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/ordering"
)

// Undo reverts one optimistic change
type Undo func()

// MaxCachedDates bounds the side caches kept besides the active date
const MaxCachedDates = 7

// Mirror is the local patient list for the active date plus side caches for
// dates seen through events
type Mirror struct {
	mu sync.Mutex

	date     string
	patients []*models.Patient
	caches   map[string][]*models.Patient

	// side cache dates, least recently written first
	cacheOrder []string

	// in-progress values of open edit sessions, by patient id
	editing map[int64]map[models.PatientField]string

	// client tokens of creates still waiting for the server's answer. A
	// create that failed in transit leaves this set; its entry then lives
	// only until a snapshot confirms or drops it.
	pending map[string]bool

	lastTemp int64
	now      func() time.Time
	log      *logger.Logger

	onChange []func(date string)
}

// New creates an empty mirror showing date
func New(date string, log *logger.Logger) *Mirror {
	return &Mirror{
		date:    date,
		caches:  make(map[string][]*models.Patient),
		editing: make(map[int64]map[models.PatientField]string),
		pending: make(map[string]bool),
		now:     func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// OnChange registers fn to run after the active list changes
func (m *Mirror) OnChange(fn func(date string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

func (m *Mirror) changed() {
	m.mu.Lock()
	date := m.date
	fns := append([]func(string){}, m.onChange...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(date)
	}
}

// Date returns the active queue date
func (m *Mirror) Date() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.date
}

// SetDate switches the active date. The current list is parked in the side
// cache and the cache of date, if any, becomes the active list.
func (m *Mirror) SetDate(date string) {
	m.mu.Lock()
	if date == m.date {
		m.mu.Unlock()
		return
	}
	prevDate, parked := m.date, m.patients
	m.patients, m.date = m.caches[date], date
	m.dropCache(date)
	m.setList(prevDate, parked)
	m.mu.Unlock()

	m.changed()
}

// Patients returns a copy of the active list in mirror order
func (m *Mirror) Patients() []*models.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.patients)
}

// Cached returns a copy of the side cache for date
func (m *Mirror) Cached(date string) []*models.Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if date == m.date {
		return cloneAll(m.patients)
	}
	return cloneAll(m.caches[date])
}

// Rooms returns the active list grouped by room in rendering order
func (m *Mirror) Rooms() ([]string, map[string][]*models.Patient) {
	return ordering.GroupByRoom(m.Patients())
}

// Get returns a copy of the active entry with id
func (m *Mirror) Get(id int64) (*models.Patient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := indexByID(m.patients, id); i >= 0 {
		return m.patients[i].Clone(), true
	}
	return nil, false
}

// NextTempID returns a negative, time-based id lower than every id it
// returned before
func (m *Mirror) NextTempID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTempID()
}

func (m *Mirror) nextTempID() int64 {
	id := -m.now().UnixMilli()
	if id >= m.lastTemp {
		id = m.lastTemp - 1
	}
	m.lastTemp = id
	return id
}

// AddOptimistic appends a temporary entry for draft and fills in the
// draft's client token when it has none. The returned undo removes it.
func (m *Mirror) AddOptimistic(draft *models.PatientDraft) (*models.Patient, Undo) {
	m.mu.Lock()

	if draft.ClientToken == "" {
		draft.ClientToken = uuid.NewString()
	}
	date := draft.QueueDate
	if date == "" {
		date = m.date
	}
	now := m.now()
	addedAt := now
	if draft.AddedAt != nil {
		addedAt = draft.AddedAt.UTC()
	}

	p := &models.Patient{
		ID:               m.nextTempID(),
		RegistrationCode: draft.RegistrationCode,
		Name:             draft.Name,
		Room:             draft.Room,
		Procedure:        draft.Procedure,
		Staff:            draft.Staff,
		Note:             draft.Note,
		Demographic:      draft.Demographic,
		Ward:             draft.Ward,
		Status:           models.StatusWaiting,
		Priority:         draft.Priority,
		QueueDate:        date,
		CreatedAt:        now,
		UpdatedAt:        now,
		AddedAt:          addedAt,
		ClientToken:      draft.ClientToken,
	}

	list := m.listFor(date)
	p.DisplayOrder = nextOrder(list, p.Room)
	m.setList(date, append(list, p))
	m.pending[p.ClientToken] = true
	out := p.Clone()
	m.mu.Unlock()

	m.changed()

	token := p.ClientToken
	return out, func() {
		m.mu.Lock()
		delete(m.pending, token)
		removed := m.removeWhere(func(q *models.Patient) bool {
			return q.IsTemporary() && q.ClientToken == token
		})
		m.mu.Unlock()
		if removed {
			m.changed()
		}
	}
}

// UpdateStatus applies a status change to the active entry with id the way
// the server does: entering procedure restarts the clock and the label is
// written exactly as given. Callers keep a label by passing it back.
func (m *Mirror) UpdateStatus(id int64, status models.PatientStatus, procedure string) (Undo, error) {
	m.mu.Lock()
	i := indexByID(m.patients, id)
	if i < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	p := m.patients[i]
	prev := p.Clone()

	now := m.now()
	p.ProcedureStartTime = nil
	p.ElapsedMinutes = 0
	if status == models.StatusProcedure {
		p.ProcedureStartTime = &now
	}
	p.Procedure = procedure
	p.Status = status
	p.UpdatedAt = now
	m.mu.Unlock()

	m.changed()

	return m.revert(prev), nil
}

// UpdateField applies one field change to the active entry with id. A
// queue_date change moves the entry into the side cache of the new date.
// Room and date moves append to the destination room and close the gap in
// the room left behind.
func (m *Mirror) UpdateField(id int64, field models.PatientField, value string) (Undo, error) {
	if !field.Valid() {
		return nil, fmt.Errorf("%w: unknown field %q", models.ErrValidation, field)
	}

	m.mu.Lock()
	i := indexByID(m.patients, id)
	if i < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	p := m.patients[i]
	prev := p.Clone()

	next := p.Clone()
	if err := setField(next, field, value); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	date := m.date
	moved := next.Room != prev.Room || (next.QueueDate != "" && next.QueueDate != date)
	if moved {
		dest := next.QueueDate
		if dest == "" {
			dest = date
		}
		next.DisplayOrder = nextOrder(m.listFor(dest), next.Room)
	}
	next.UpdatedAt = m.now()
	m.place(date, i, next)

	var orders map[int64]int
	if moved {
		orders = m.compact(date, prev.Room)
	}
	m.mu.Unlock()

	m.changed()

	return func() {
		m.mu.Lock()
		if d, j := m.locate(prev.ID); j >= 0 {
			m.place(d, j, prev.Clone())
		}
		m.restoreOrders(date, prev.Room, orders)
		m.mu.Unlock()
		m.changed()
	}, nil
}

// Delete removes the active entry with id
func (m *Mirror) Delete(id int64) (Undo, error) {
	m.mu.Lock()
	i := indexByID(m.patients, id)
	if i < 0 {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: patient %d", models.ErrNotFound, id)
	}
	prev := m.patients[i]
	date := m.date
	m.patients = append(m.patients[:i:i], m.patients[i+1:]...)
	m.mu.Unlock()

	m.changed()

	return func() {
		m.mu.Lock()
		if _, j := m.locate(id); j >= 0 {
			m.mu.Unlock()
			return
		}
		list := m.listFor(date)
		at := min(i, len(list))
		list = append(list[:at:at], append([]*models.Patient{prev}, list[at:]...)...)
		m.setList(date, list)
		m.mu.Unlock()
		m.changed()
	}, nil
}

// Reorder renumbers room in the order of ids. Unlisted entries of the room
// follow in their current order.
func (m *Mirror) Reorder(room string, ids []int64) (Undo, error) {
	m.mu.Lock()
	var members []*models.Patient
	for _, p := range m.patients {
		if p.Room == room {
			members = append(members, p)
		}
	}
	ordering.SortBySequence(members)

	full, err := ordering.Complete(ids, members)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}

	prev := make(map[int64]int, len(members))
	for _, p := range members {
		prev[p.ID] = p.DisplayOrder
	}
	byID := make(map[int64]*models.Patient, len(members))
	for _, p := range members {
		byID[p.ID] = p
	}
	for _, a := range ordering.Renumber(full) {
		byID[a.ID].DisplayOrder = a.DisplayOrder
	}
	date := m.date
	m.mu.Unlock()

	m.changed()

	return func() {
		m.mu.Lock()
		m.restoreOrders(date, room, prev)
		m.mu.Unlock()
		m.changed()
	}, nil
}

// Settle reverts undo when err is a definitive rejection. Transport
// failures leave the optimistic state for the next resync to confirm.
func (m *Mirror) Settle(err error, undo Undo) error {
	if err == nil || undo == nil {
		return err
	}
	if Rejected(err) {
		undo()
	}
	return err
}

// SettleCreate is Settle for a create made with AddOptimistic. After any
// other failure the entry stays visible but is no longer in flight, so the
// next snapshot keeps it only if the server confirms token.
func (m *Mirror) SettleCreate(token string, err error, undo Undo) error {
	if err != nil && !Rejected(err) {
		m.mu.Lock()
		delete(m.pending, token)
		m.mu.Unlock()
	}
	return m.Settle(err, undo)
}

// Rejected reports whether err means the server refused the change
func Rejected(err error) bool {
	return errors.Is(err, models.ErrDuplicateRegistration) ||
		errors.Is(err, models.ErrValidation) ||
		errors.Is(err, models.ErrNotFound)
}

// BeginEdit opens an edit session on one field. Incoming changes to that
// field are ignored until EndEdit.
func (m *Mirror) BeginEdit(id int64, field models.PatientField) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.editing[id]
	if !ok {
		fields = make(map[models.PatientField]string)
		m.editing[id] = fields
	}
	value := ""
	if i := indexByID(m.patients, id); i >= 0 {
		value = fieldValue(m.patients[i], field)
	}
	fields[field] = value
}

// EditValue records the in-progress value of an open edit session
func (m *Mirror) EditValue(id int64, field models.PatientField, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.editing[id]
	if !ok {
		return
	}
	if _, open := fields[field]; !open {
		return
	}
	fields[field] = value
	if i := indexByID(m.patients, id); i >= 0 {
		_ = setField(m.patients[i], field, value)
	}
}

// EndEdit closes the edit session on one field
func (m *Mirror) EndEdit(id int64, field models.PatientField) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.editing[id]
	if !ok {
		return
	}
	delete(fields, field)
	if len(fields) == 0 {
		delete(m.editing, id)
	}
}

// Editing reports whether field of id has an open edit session
func (m *Mirror) Editing(id int64, field models.PatientField) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.editing[id][field]
	return ok
}

// Apply reconciles one broadcast event. Events this mirror does not track
// are ignored.
func (m *Mirror) Apply(ev models.Event) error {
	var err error
	switch ev.Type {
	case models.EventPatientAdded:
		var p models.Patient
		if err = json.Unmarshal(ev.Data, &p); err == nil {
			m.applyAdded(&p)
		}

	case models.EventPatientUpdated:
		err = m.applyUpdated(ev.Data)

	case models.EventPatientDeleted:
		var d models.PatientDeleted
		if err = json.Unmarshal(ev.Data, &d); err == nil {
			m.applyDeleted(d.ID)
		}

	case models.EventPatientsSnapshot:
		var snap models.PatientsSnapshot
		if err = json.Unmarshal(ev.Data, &snap); err == nil {
			if snap.QueueDate == "" {
				snap.QueueDate = ev.QueueDate
			}
			m.ApplySnapshot(snap.QueueDate, snap.Patients)
		}

	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to apply %s: %w", ev.Type, err)
	}
	return nil
}

func (m *Mirror) applyAdded(p *models.Patient) {
	m.mu.Lock()
	if p.QueueDate == "" {
		p.QueueDate = m.date
	}
	delete(m.pending, p.ClientToken)

	list := m.listFor(p.QueueDate)
	i := -1
	if p.ClientToken != "" {
		i = indexWhere(list, func(q *models.Patient) bool {
			return q.IsTemporary() && q.ClientToken == p.ClientToken
		})
	}
	if i < 0 {
		i = indexWhere(list, func(q *models.Patient) bool {
			return q.IsTemporary() && q.Name == p.Name && q.RegistrationCode == p.RegistrationCode
		})
	}
	if i < 0 {
		i = indexByID(list, p.ID)
	}

	cp := p.Clone()
	if i >= 0 {
		if old := list[i]; old.IsTemporary() {
			delete(m.pending, old.ClientToken)
		}
		list[i] = cp
	} else {
		list = append(list, cp)
	}
	m.setList(p.QueueDate, list)
	m.reapplyEdits(cp)
	m.mu.Unlock()

	m.changed()
}

func (m *Mirror) applyUpdated(raw json.RawMessage) error {
	var patch map[string]json.RawMessage
	if err := json.Unmarshal(raw, &patch); err != nil {
		return err
	}
	var id int64
	if err := json.Unmarshal(patch["id"], &id); err != nil {
		return fmt.Errorf("patient_updated without id: %w", err)
	}

	m.mu.Lock()
	date, i := m.locate(id)
	if i < 0 {
		m.mu.Unlock()
		m.log.Debug("update for unknown patient, waiting for snapshot", "patient_id", id)
		return nil
	}

	for field := range m.editing[id] {
		delete(patch, string(field))
	}

	cur := m.listFor(date)[i]
	doc, err := json.Marshal(cur)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	stripped, err := json.Marshal(patch)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	merged, err := jsonpatch.MergePatch(doc, stripped)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	var next models.Patient
	if err := json.Unmarshal(merged, &next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.place(date, i, &next)
	m.mu.Unlock()

	m.changed()
	return nil
}

func (m *Mirror) applyDeleted(id int64) {
	m.mu.Lock()
	removed := m.removeWhere(func(p *models.Patient) bool { return p.ID == id })
	delete(m.editing, id)
	m.mu.Unlock()

	if removed {
		m.changed()
	}
}

// ApplySnapshot replaces the list for date. Entries under edit keep their
// in-progress values and creates still in flight stay at the end, so
// applying the same snapshot twice leaves the mirror unchanged. Temporary
// entries whose create is no longer in flight are dropped unless the
// snapshot confirms them.
func (m *Mirror) ApplySnapshot(date string, patients []*models.Patient) {
	m.mu.Lock()
	old := m.listFor(date)

	next := make([]*models.Patient, 0, len(patients))
	confirmed := make(map[string]bool, len(patients))
	for _, p := range patients {
		if p.QueueDate != "" && p.QueueDate != date {
			continue
		}
		cp := p.Clone()
		m.reapplyEdits(cp)
		next = append(next, cp)
		if cp.ClientToken != "" {
			confirmed[cp.ClientToken] = true
		}
	}
	for _, p := range old {
		if !p.IsTemporary() {
			continue
		}
		if confirmed[p.ClientToken] {
			delete(m.pending, p.ClientToken)
			continue
		}
		if m.pending[p.ClientToken] {
			next = append(next, p)
		}
	}
	m.setList(date, next)
	active := date == m.date
	m.mu.Unlock()

	if active {
		m.changed()
	}
}

func (m *Mirror) reapplyEdits(p *models.Patient) {
	for field, value := range m.editing[p.ID] {
		_ = setField(p, field, value)
	}
}

// revert returns an undo that puts prev back wherever its entry lives now
func (m *Mirror) revert(prev *models.Patient) Undo {
	return func() {
		m.mu.Lock()
		date, i := m.locate(prev.ID)
		if i >= 0 {
			m.place(date, i, prev.Clone())
		}
		m.mu.Unlock()
		if i >= 0 {
			m.changed()
		}
	}
}

// place stores next at index i of the list for date, moving it to the list
// of its own queue date when that differs
func (m *Mirror) place(date string, i int, next *models.Patient) {
	list := m.listFor(date)
	if next.QueueDate == "" || next.QueueDate == date {
		list[i] = next
		return
	}
	m.setList(date, append(list[:i:i], list[i+1:]...))
	target := m.listFor(next.QueueDate)
	if j := indexByID(target, next.ID); j >= 0 {
		target[j] = next
	} else {
		target = append(target, next)
	}
	m.setList(next.QueueDate, target)
}

// locate finds id in the active list first, then in the side caches
func (m *Mirror) locate(id int64) (string, int) {
	if i := indexByID(m.patients, id); i >= 0 {
		return m.date, i
	}
	for date, list := range m.caches {
		if i := indexByID(list, id); i >= 0 {
			return date, i
		}
	}
	return "", -1
}

func (m *Mirror) removeWhere(match func(*models.Patient) bool) bool {
	removed := false
	filter := func(list []*models.Patient) []*models.Patient {
		out := list[:0]
		for _, p := range list {
			if match(p) {
				removed = true
				continue
			}
			out = append(out, p)
		}
		return out
	}
	m.patients = filter(m.patients)
	for date, list := range m.caches {
		m.caches[date] = filter(list)
	}
	return removed
}

func (m *Mirror) listFor(date string) []*models.Patient {
	if date == m.date {
		return m.patients
	}
	return m.caches[date]
}

func (m *Mirror) setList(date string, list []*models.Patient) {
	if date == m.date {
		m.patients = list
		return
	}
	m.caches[date] = list
	m.cacheOrder = append(slices.DeleteFunc(m.cacheOrder, func(d string) bool { return d == date }), date)
	for len(m.cacheOrder) > MaxCachedDates {
		m.dropCache(m.cacheOrder[0])
	}
}

func (m *Mirror) dropCache(date string) {
	delete(m.caches, date)
	m.cacheOrder = slices.DeleteFunc(m.cacheOrder, func(d string) bool { return d == date })
}

// compact renumbers room on date to 1..N in sequence order and returns the
// orders it replaced
func (m *Mirror) compact(date, room string) map[int64]int {
	var members []*models.Patient
	for _, p := range m.listFor(date) {
		if p.Room == room {
			members = append(members, p)
		}
	}
	ordering.SortBySequence(members)

	prev := make(map[int64]int, len(members))
	for i, p := range members {
		prev[p.ID] = p.DisplayOrder
		p.DisplayOrder = i + 1
	}
	return prev
}

func (m *Mirror) restoreOrders(date, room string, orders map[int64]int) {
	for _, p := range m.listFor(date) {
		if order, ok := orders[p.ID]; ok && p.Room == room {
			p.DisplayOrder = order
		}
	}
}

func nextOrder(list []*models.Patient, room string) int {
	highest := 0
	for _, p := range list {
		if p.Room == room && p.DisplayOrder > highest {
			highest = p.DisplayOrder
		}
	}
	return highest + 1
}

func indexByID(list []*models.Patient, id int64) int {
	return indexWhere(list, func(p *models.Patient) bool { return p.ID == id })
}

func indexWhere(list []*models.Patient, match func(*models.Patient) bool) int {
	for i, p := range list {
		if match(p) {
			return i
		}
	}
	return -1
}

func cloneAll(list []*models.Patient) []*models.Patient {
	out := make([]*models.Patient, len(list))
	for i, p := range list {
		out[i] = p.Clone()
	}
	return out
}

func fieldValue(p *models.Patient, field models.PatientField) string {
	switch field {
	case models.FieldName:
		return p.Name
	case models.FieldRegistrationCode:
		return p.RegistrationCode
	case models.FieldRoom:
		return p.Room
	case models.FieldProcedure:
		return p.Procedure
	case models.FieldStaff:
		return p.Staff
	case models.FieldNote:
		return p.Note
	case models.FieldDemographic:
		return p.Demographic
	case models.FieldWard:
		return p.Ward
	case models.FieldQueueDate:
		return p.QueueDate
	case models.FieldPriority:
		return strconv.Itoa(p.Priority)
	}
	return ""
}

func setField(p *models.Patient, field models.PatientField, value string) error {
	switch field {
	case models.FieldName:
		p.Name = value
	case models.FieldRegistrationCode:
		p.RegistrationCode = value
	case models.FieldRoom:
		p.Room = value
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
	case models.FieldQueueDate:
		p.QueueDate = value
	case models.FieldPriority:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: priority must be an integer", models.ErrValidation)
		}
		p.Priority = n
	default:
		return fmt.Errorf("%w: unknown field %q", models.ErrValidation, field)
	}
	return nil
}
