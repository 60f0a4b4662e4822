package mirror

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

const today = "2026-03-02"

func newMirror(t *testing.T) *Mirror {
	t.Helper()
	m := New(today, logger.Discard())
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	return m
}

func event(t *testing.T, typ models.EventType, date string, data any) models.Event {
	t.Helper()
	ev, err := models.NewEvent(typ, date, data)
	require.NoError(t, err)
	return ev
}

func server(id int64, name, code, room string, order int) *models.Patient {
	return &models.Patient{
		ID:               id,
		Name:             name,
		RegistrationCode: code,
		Room:             room,
		Status:           models.StatusWaiting,
		DisplayOrder:     order,
		QueueDate:        today,
	}
}

func ids(ps []*models.Patient) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func seed(t *testing.T, m *Mirror, patients ...*models.Patient) {
	t.Helper()
	require.NoError(t, m.Apply(event(t, models.EventPatientsSnapshot, today, models.PatientsSnapshot{
		QueueDate: today,
		Patients:  patients,
	})))
}

func TestTempIDsDecrease(t *testing.T) {
	m := newMirror(t)

	prev := int64(0)
	for range 5 {
		id := m.NextTempID()
		assert.Less(t, id, prev)
		prev = id
	}
}

func TestCreateRoundTripKeepsPosition(t *testing.T) {
	tests := []struct {
		name    string
		confirm func(temp *models.Patient) *models.Patient
	}{
		{
			name: "matched by client token",
			confirm: func(temp *models.Patient) *models.Patient {
				p := server(42, "Ana", "R-1", "CT", 2)
				p.ClientToken = temp.ClientToken
				return p
			},
		},
		{
			name: "matched by name and code",
			confirm: func(temp *models.Patient) *models.Patient {
				return server(42, "Ana", "R-1", "CT", 2)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMirror(t)
			seed(t, m, server(1, "Bo", "R-0", "CT", 1), server(2, "Cy", "R-2", "MR", 1))

			draft := &models.PatientDraft{Name: "Ana", RegistrationCode: "R-1", Room: "CT"}
			temp, _ := m.AddOptimistic(draft)
			assert.True(t, temp.IsTemporary())
			assert.NotEmpty(t, draft.ClientToken)

			// a second display adds its own patient before the confirmation
			require.NoError(t, m.Apply(event(t, models.EventPatientAdded, today, server(43, "Di", "R-3", "CT", 3))))

			require.NoError(t, m.Apply(event(t, models.EventPatientAdded, today, tt.confirm(temp))))

			assert.Equal(t, []int64{1, 2, 42, 43}, ids(m.Patients()))
		})
	}
}

func TestAddedForKnownIDMerges(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))

	again := server(1, "Bo", "R-0", "CT", 1)
	again.Note = "late"
	require.NoError(t, m.Apply(event(t, models.EventPatientAdded, today, again)))

	got := m.Patients()
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].Note)
}

func TestSnapshotIsIdempotent(t *testing.T) {
	m := newMirror(t)
	m.AddOptimistic(&models.PatientDraft{Name: "Ana", RegistrationCode: "R-1", Room: "CT"})

	snap := event(t, models.EventPatientsSnapshot, today, models.PatientsSnapshot{
		QueueDate: today,
		Patients:  []*models.Patient{server(1, "Bo", "R-0", "CT", 1), server(2, "Cy", "R-2", "MR", 1)},
	})

	require.NoError(t, m.Apply(snap))
	first := m.Patients()
	require.NoError(t, m.Apply(snap))

	assert.Equal(t, first, m.Patients())
	assert.Len(t, first, 3, "in-flight create survives the snapshot")
}

func TestSnapshotDropsConfirmedTemp(t *testing.T) {
	m := newMirror(t)
	draft := &models.PatientDraft{Name: "Ana", RegistrationCode: "R-1", Room: "CT"}
	m.AddOptimistic(draft)

	real := server(7, "Ana", "R-1", "CT", 1)
	real.ClientToken = draft.ClientToken
	seed(t, m, real)

	assert.Equal(t, []int64{7}, ids(m.Patients()))
}

func TestSnapshotDropsCreateLostInTransit(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))

	draft := &models.PatientDraft{Name: "Ana", RegistrationCode: "R-1", Room: "CT"}
	_, undo := m.AddOptimistic(draft)
	err := m.SettleCreate(draft.ClientToken, fmt.Errorf("create: %w", models.ErrTransport), undo)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Len(t, m.Patients(), 2, "entry stays until the next snapshot")

	for range 3 {
		seed(t, m, server(1, "Bo", "R-0", "CT", 1))
		assert.Equal(t, []int64{1}, ids(m.Patients()))
	}
}

func TestSettleCreateSuccessStaysInFlight(t *testing.T) {
	m := newMirror(t)
	draft := &models.PatientDraft{Name: "Ana", RegistrationCode: "R-1", Room: "CT"}
	temp, undo := m.AddOptimistic(draft)
	require.NoError(t, m.SettleCreate(draft.ClientToken, nil, undo))

	// snapshot taken before the insert committed
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))
	assert.Equal(t, []int64{1, temp.ID}, ids(m.Patients()))
}

func TestSideCachesAreBounded(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))

	start := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	var dates []string
	for i := range MaxCachedDates + 3 {
		date := start.AddDate(0, 0, i).Format("2006-01-02")
		dates = append(dates, date)
		p := server(int64(100+i), "Ed", "R-9", "CT", 1)
		p.QueueDate = date
		m.ApplySnapshot(date, []*models.Patient{p})
	}

	m.mu.Lock()
	assert.Len(t, m.caches, MaxCachedDates)
	assert.Len(t, m.cacheOrder, MaxCachedDates)
	m.mu.Unlock()

	assert.Empty(t, m.Cached(dates[0]), "oldest date evicted")
	assert.Equal(t, []int64{100 + int64(len(dates)-1)}, ids(m.Cached(dates[len(dates)-1])))
	assert.Equal(t, []int64{1}, ids(m.Patients()), "active date is never evicted")

	// switching dates parks the active list as the newest cache entry
	m.SetDate(dates[len(dates)-1])
	assert.Equal(t, []int64{1}, ids(m.Cached(today)))
	m.mu.Lock()
	assert.Len(t, m.caches, MaxCachedDates)
	m.mu.Unlock()
}

func TestRoomMoveCompactsSourceRoom(t *testing.T) {
	m := newMirror(t)
	seed(t, m,
		server(1, "Bo", "R-0", "CT", 1),
		server(2, "Cy", "R-2", "CT", 2),
		server(3, "Di", "R-3", "CT", 3),
		server(4, "Ed", "R-4", "MR", 1),
	)
	before := m.Patients()

	undo, err := m.UpdateField(1, models.FieldRoom, "MR")
	require.NoError(t, err)

	orders := map[int64]int{}
	for _, p := range m.Patients() {
		orders[p.ID] = p.DisplayOrder
	}
	assert.Equal(t, map[int64]int{2: 1, 3: 2, 4: 1, 1: 2}, orders)

	undo()
	assert.Equal(t, before, m.Patients())
}

func TestDateMoveCompactsSourceRoom(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1), server(2, "Cy", "R-2", "CT", 2))

	_, err := m.UpdateField(1, models.FieldQueueDate, "2026-03-05")
	require.NoError(t, err)

	left := m.Patients()
	require.Len(t, left, 1)
	assert.Equal(t, 1, left[0].DisplayOrder)
	moved := m.Cached("2026-03-05")
	require.Len(t, moved, 1)
	assert.Equal(t, 1, moved[0].DisplayOrder)
}

func TestSnapshotForOtherDateFillsCache(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))

	other := server(9, "Ed", "R-9", "CT", 1)
	other.QueueDate = "2026-03-03"
	require.NoError(t, m.Apply(event(t, models.EventPatientsSnapshot, "2026-03-03", models.PatientsSnapshot{
		QueueDate: "2026-03-03",
		Patients:  []*models.Patient{other},
	})))

	assert.Equal(t, []int64{1}, ids(m.Patients()))
	assert.Equal(t, []int64{9}, ids(m.Cached("2026-03-03")))

	m.SetDate("2026-03-03")
	assert.Equal(t, []int64{9}, ids(m.Patients()))
	assert.Equal(t, []int64{1}, ids(m.Cached(today)))
}

func TestUpdateIsMergePatch(t *testing.T) {
	m := newMirror(t)
	p := server(1, "Bo", "R-0", "CT", 1)
	p.Note = "fasting"
	seed(t, m, p)

	start := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
	require.NoError(t, m.Apply(models.Event{
		Type: models.EventPatientUpdated,
		Data: json.RawMessage(fmt.Sprintf(`{"id":1,"status":"procedure","procedure_start_time":%q}`, start.Format(time.RFC3339))),
	}))

	got, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, models.StatusProcedure, got.Status)
	require.NotNil(t, got.ProcedureStartTime)
	assert.True(t, start.Equal(*got.ProcedureStartTime))
	assert.Equal(t, "fasting", got.Note, "unspecified fields are untouched")

	require.NoError(t, m.Apply(models.Event{
		Type: models.EventPatientUpdated,
		Data: json.RawMessage(`{"id":1,"status":"completed","procedure_start_time":null}`),
	}))
	got, _ = m.Get(1)
	assert.Nil(t, got.ProcedureStartTime)
}

func TestEditSessionSuppressesField(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1))

	m.BeginEdit(1, models.FieldNote)
	m.EditValue(1, models.FieldNote, "typing")
	assert.True(t, m.Editing(1, models.FieldNote))

	require.NoError(t, m.Apply(models.Event{
		Type: models.EventPatientUpdated,
		Data: json.RawMessage(`{"id":1,"note":"remote","ward":"W3"}`),
	}))
	got, _ := m.Get(1)
	assert.Equal(t, "typing", got.Note)
	assert.Equal(t, "W3", got.Ward, "other fields still reconcile")

	// snapshots keep the in-progress value too
	remote := server(1, "Bo", "R-0", "CT", 1)
	remote.Note = "remote"
	seed(t, m, remote)
	got, _ = m.Get(1)
	assert.Equal(t, "typing", got.Note)

	m.EndEdit(1, models.FieldNote)
	assert.False(t, m.Editing(1, models.FieldNote))
	seed(t, m, remote)
	got, _ = m.Get(1)
	assert.Equal(t, "remote", got.Note)
}

func TestQueueDateChangeMovesEntry(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1), server(2, "Cy", "R-2", "CT", 2))

	require.NoError(t, m.Apply(models.Event{
		Type: models.EventPatientUpdated,
		Data: json.RawMessage(`{"id":2,"queue_date":"2026-03-05","display_order":1}`),
	}))

	assert.Equal(t, []int64{1}, ids(m.Patients()))
	moved := m.Cached("2026-03-05")
	require.Len(t, moved, 1)
	assert.Equal(t, "2026-03-05", moved[0].QueueDate)

	// and back again through the optimistic path
	m.SetDate("2026-03-05")
	undo, err := m.UpdateField(2, models.FieldQueueDate, today)
	require.NoError(t, err)
	assert.Empty(t, m.Patients())
	assert.ElementsMatch(t, []int64{1, 2}, ids(m.Cached(today)))

	undo()
	assert.Equal(t, []int64{2}, ids(m.Patients()))
}

func TestDeletedRemovesByID(t *testing.T) {
	m := newMirror(t)
	seed(t, m, server(1, "Bo", "R-0", "CT", 1), server(2, "Cy", "R-2", "CT", 2))

	require.NoError(t, m.Apply(event(t, models.EventPatientDeleted, today, models.PatientDeleted{ID: 1, QueueDate: today})))
	assert.Equal(t, []int64{2}, ids(m.Patients()))

	// unknown ids are harmless
	require.NoError(t, m.Apply(event(t, models.EventPatientDeleted, today, models.PatientDeleted{ID: 99, QueueDate: today})))
	assert.Equal(t, []int64{2}, ids(m.Patients()))
}

func TestSettleRollsBackRejections(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rollback bool
	}{
		{"duplicate", fmt.Errorf("create: %w", models.ErrDuplicateRegistration), true},
		{"validation", models.ErrValidation, true},
		{"not found", models.ErrNotFound, true},
		{"transport", models.ErrTransport, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMirror(t)
			seed(t, m, server(1, "Bo", "R-0", "CT", 1))

			_, undo := m.AddOptimistic(&models.PatientDraft{Name: "Ana", RegistrationCode: "R-0", Room: "CT"})
			err := m.Settle(tt.err, undo)
			assert.ErrorIs(t, err, tt.err)

			if tt.rollback {
				assert.Equal(t, []int64{1}, ids(m.Patients()))
			} else {
				assert.Len(t, m.Patients(), 2)
			}
		})
	}
}

func TestOptimisticHelpersUndo(t *testing.T) {
	m := newMirror(t)
	seed(t, m,
		server(1, "Bo", "R-0", "CT", 1),
		server(2, "Cy", "R-2", "CT", 2),
		server(3, "Di", "R-3", "CT", 3),
	)
	before := m.Patients()

	undo, err := m.UpdateStatus(2, models.StatusProcedure, "CT chest")
	require.NoError(t, err)
	got, _ := m.Get(2)
	assert.Equal(t, models.StatusProcedure, got.Status)
	assert.NotNil(t, got.ProcedureStartTime)
	undo()
	assert.Equal(t, before, m.Patients())

	undo, err = m.UpdateField(1, models.FieldPriority, "3")
	require.NoError(t, err)
	got, _ = m.Get(1)
	assert.Equal(t, 3, got.Priority)
	undo()
	assert.Equal(t, before, m.Patients())

	_, err = m.UpdateField(1, models.FieldPriority, "high")
	assert.ErrorIs(t, err, models.ErrValidation)

	undo, err = m.Delete(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids(m.Patients()))
	undo()
	assert.Equal(t, before, m.Patients())

	undo, err = m.Reorder("CT", []int64{3})
	require.NoError(t, err)
	orders := map[int64]int{}
	for _, p := range m.Patients() {
		orders[p.ID] = p.DisplayOrder
	}
	assert.Equal(t, map[int64]int{3: 1, 1: 2, 2: 3}, orders)
	undo()
	assert.Equal(t, before, m.Patients())

	_, err = m.Reorder("CT", []int64{3, 3})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = m.Delete(99)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOnChangeFires(t *testing.T) {
	m := newMirror(t)
	var dates []string
	m.OnChange(func(date string) { dates = append(dates, date) })

	seed(t, m, server(1, "Bo", "R-0", "CT", 1))
	m.SetDate("2026-03-03")

	assert.Equal(t, []string{today, "2026-03-03"}, dates)
}

func TestIgnoresUntrackedEvents(t *testing.T) {
	m := newMirror(t)
	assert.NoError(t, m.Apply(event(t, models.EventClientCountUpdated, "", models.ClientCount{Count: 3})))
	assert.Error(t, m.Apply(models.Event{Type: models.EventPatientUpdated, Data: json.RawMessage(`{"note":"x"}`)}))
}
