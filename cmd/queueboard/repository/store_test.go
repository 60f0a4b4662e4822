package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/ordering"
)

const (
	day1 = "2026-03-02"
	day2 = "2026-03-03"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func newPatient(code, name, room, date string) *models.Patient {
	return &models.Patient{
		RegistrationCode: code,
		Name:             name,
		Room:             room,
		QueueDate:        date,
		Status:           models.StatusWaiting,
		CreatedAt:        t0,
		UpdatedAt:        t0,
		AddedAt:          t0,
	}
}

func mustCreate(t *testing.T, s Store, p *models.Patient) *models.Patient {
	t.Helper()
	created, isNew, err := s.CreatePatient(context.Background(), p)
	require.NoError(t, err)
	require.True(t, isNew)
	return created
}

func roomOrder(t *testing.T, s Store, room, date string) ([]int64, []int) {
	t.Helper()
	all, err := s.ListPatients(context.Background(), date)
	require.NoError(t, err)

	var members []*models.Patient
	for _, p := range all {
		if p.Room == room {
			members = append(members, p)
		}
	}
	ordering.SortBySequence(members)

	ids := make([]int64, len(members))
	orders := make([]int, len(members))
	for i, p := range members {
		ids[i] = p.ID
		orders[i] = p.DisplayOrder
	}
	return ids, orders
}

// storeSuite runs the behaviour every Store implementation must share.
// fresh returns an empty store for each subtest.
func storeSuite(t *testing.T, fresh func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create appends to room", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		b := mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		c := mustCreate(t, s, newPatient("R3", "Cy", "2R", day1))

		assert.Equal(t, 1, a.DisplayOrder)
		assert.Equal(t, 2, b.DisplayOrder)
		assert.Equal(t, 1, c.DisplayOrder)
		assert.Positive(t, a.ID)
	})

	t.Run("duplicate registration per date", func(t *testing.T) {
		s := fresh(t)
		mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))

		_, _, err := s.CreatePatient(ctx, newPatient("R1", "Other", "2R", day1))
		assert.ErrorIs(t, err, models.ErrDuplicateRegistration)

		// same code on another date is fine
		mustCreate(t, s, newPatient("R1", "Ana", "1R", day2))
	})

	t.Run("client token replay returns existing row", func(t *testing.T) {
		s := fresh(t)
		p := newPatient("R1", "Ana", "1R", day1)
		p.ClientToken = "8f1d8a51-5d0c-4b8e-9a53-1b1f0fb0e001"
		first := mustCreate(t, s, p)

		again, isNew, err := s.CreatePatient(ctx, p)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, first.ID, again.ID)

		all, err := s.ListPatients(ctx, day1)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("get unknown patient", func(t *testing.T) {
		s := fresh(t)
		_, err := s.GetPatient(ctx, 4242)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("status carries start time", func(t *testing.T) {
		s := fresh(t)
		p := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))

		start := t0.Add(time.Minute)
		got, err := s.UpdateStatus(ctx, p.ID, models.StatusProcedure, "CT head", &start, start)
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcedure, got.Status)
		assert.Equal(t, "CT head", got.Procedure)
		require.NotNil(t, got.ProcedureStartTime)
		assert.True(t, start.Equal(*got.ProcedureStartTime))

		active, err := s.ListInProcedure(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, p.ID, active[0].ID)

		got, err = s.UpdateStatus(ctx, p.ID, models.StatusCompleted, "CT head", nil, start.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got.ProcedureStartTime)
		assert.Zero(t, got.ElapsedMinutes)

		_, err = s.UpdateStatus(ctx, 4242, models.StatusWaiting, "", nil, start)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("set elapsed is guarded by start time", func(t *testing.T) {
		s := fresh(t)
		p := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		start := t0.Add(time.Minute)
		_, err := s.UpdateStatus(ctx, p.ID, models.StatusProcedure, "", &start, start)
		require.NoError(t, err)

		ok, err := s.SetElapsed(ctx, p.ID, start, 3, start.Add(3*time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetPatient(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.ElapsedMinutes)

		// a stale tick for an older start must not write
		ok, err = s.SetElapsed(ctx, p.ID, start.Add(-time.Hour), 60, start.Add(3*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.UpdateStatus(ctx, p.ID, models.StatusCompleted, "", nil, start.Add(4*time.Minute))
		require.NoError(t, err)
		ok, err = s.SetElapsed(ctx, p.ID, start, 5, start.Add(5*time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("update field", func(t *testing.T) {
		s := fresh(t)
		p := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))

		got, err := s.UpdateField(ctx, p.ID, models.FieldNote, "fasting", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "fasting", got.Note)

		got, err = s.UpdateField(ctx, p.ID, models.FieldPriority, "2", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, got.Priority)

		_, err = s.UpdateField(ctx, p.ID, models.FieldPriority, "high", t0)
		assert.ErrorIs(t, err, models.ErrValidation)

		_, err = s.UpdateField(ctx, p.ID, models.FieldRegistrationCode, "R2", t0)
		assert.ErrorIs(t, err, models.ErrDuplicateRegistration)

		_, err = s.UpdateField(ctx, 4242, models.FieldName, "x", t0)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("room move keeps both rooms dense", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		mustCreate(t, s, newPatient("R3", "Cy", "1R", day1))
		mustCreate(t, s, newPatient("R4", "Di", "2R", day1))

		moved, err := s.UpdateField(ctx, a.ID, models.FieldRoom, "2R", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "2R", moved.Room)
		assert.Equal(t, 2, moved.DisplayOrder)

		_, orders := roomOrder(t, s, "1R", day1)
		assert.Equal(t, []int{1, 2}, orders)
		ids, orders := roomOrder(t, s, "2R", day1)
		assert.Equal(t, []int{1, 2}, orders)
		assert.Equal(t, a.ID, ids[1])
	})

	t.Run("date move", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		mustCreate(t, s, newPatient("R2", "Bo", "1R", day2))

		_, err := s.UpdateField(ctx, a.ID, models.FieldQueueDate, day2, t0)
		require.NoError(t, err)

		one, err := s.ListPatients(ctx, day1)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, 1, one[0].DisplayOrder)

		two, err := s.ListPatients(ctx, day2)
		require.NoError(t, err)
		assert.Len(t, two, 2)

		// moving Bo to day2 collides with the registration already there
		_, err = s.UpdateField(ctx, one[0].ID, models.FieldQueueDate, day2, t0)
		assert.ErrorIs(t, err, models.ErrDuplicateRegistration)
	})

	t.Run("delete compacts room", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		b := mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		c := mustCreate(t, s, newPatient("R3", "Cy", "1R", day1))

		deleted, err := s.DeletePatient(ctx, b.ID, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, b.ID, deleted.ID)
		assert.Equal(t, day1, deleted.QueueDate)

		ids, orders := roomOrder(t, s, "1R", day1)
		assert.Equal(t, []int64{a.ID, c.ID}, ids)
		assert.Equal(t, []int{1, 2}, orders)

		_, err = s.DeletePatient(ctx, b.ID, t0)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("concurrent moves deletes and reorders", func(t *testing.T) {
		s := fresh(t)
		var created []*models.Patient
		for i := range 6 {
			created = append(created, mustCreate(t, s, newPatient(fmt.Sprintf("R%d", i), fmt.Sprintf("P%d", i), "1R", day1)))
		}
		mustCreate(t, s, newPatient("R9", "Zed", "2R", day1))

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		run := func(fn func() error) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- fn()
			}()
		}
		for _, p := range created[3:] {
			run(func() error {
				_, err := s.UpdateField(ctx, p.ID, models.FieldRoom, "2R", t0)
				return err
			})
		}
		for _, p := range created[:2] {
			run(func() error {
				_, err := s.DeletePatient(ctx, p.ID, t0)
				return err
			})
		}
		run(func() error {
			return s.Reorder(ctx, "1R", day1, []int64{created[2].ID}, t0)
		})
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		ids, orders := roomOrder(t, s, "1R", day1)
		assert.Equal(t, []int64{created[2].ID}, ids)
		assert.Equal(t, []int{1}, orders)
		_, orders = roomOrder(t, s, "2R", day1)
		assert.Equal(t, []int{1, 2, 3, 4}, orders)
	})

	t.Run("reorder last to first", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		b := mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		c := mustCreate(t, s, newPatient("R3", "Cy", "1R", day1))

		require.NoError(t, s.Reorder(ctx, "1R", day1, []int64{c.ID}, t0.Add(time.Minute)))

		ids, orders := roomOrder(t, s, "1R", day1)
		assert.Equal(t, []int64{c.ID, a.ID, b.ID}, ids)
		assert.Equal(t, []int{1, 2, 3}, orders)
	})

	t.Run("reorder rejects foreign and unknown ids", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		other := mustCreate(t, s, newPatient("R2", "Bo", "2R", day1))

		err := s.Reorder(ctx, "1R", day1, []int64{other.ID, a.ID}, t0)
		assert.ErrorIs(t, err, models.ErrValidation)

		err = s.Reorder(ctx, "1R", day1, []int64{a.ID, 4242}, t0)
		assert.ErrorIs(t, err, models.ErrNotFound)

		err = s.Reorder(ctx, "1R", day1, []int64{a.ID, a.ID}, t0)
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("repeated reorders stay dense", func(t *testing.T) {
		s := fresh(t)
		for _, code := range []string{"R1", "R2", "R3", "R4", "R5"} {
			mustCreate(t, s, newPatient(code, "P"+code, "CT", day1))
		}

		for i := 0; i < 10; i++ {
			current, _ := roomOrder(t, s, "CT", day1)
			next, err := ordering.Move(current, current[len(current)-1], i%len(current))
			require.NoError(t, err)
			require.NoError(t, s.Reorder(ctx, "CT", day1, next, t0))

			got, orders := roomOrder(t, s, "CT", day1)
			assert.Equal(t, next, got)
			assert.True(t, ordering.IsDense(orders))
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := fresh(t)
		a := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		b := mustCreate(t, s, newPatient("R2", "Bo", "1R", day1))
		mustCreate(t, s, newPatient("R3", "Cy", "1R", day1))
		mustCreate(t, s, newPatient("R4", "Di", "1R", day2))

		start := t0
		_, err := s.UpdateStatus(ctx, a.ID, models.StatusProcedure, "", &start, t0)
		require.NoError(t, err)
		_, err = s.UpdateStatus(ctx, b.ID, models.StatusCompleted, "", nil, t0)
		require.NoError(t, err)

		st, err := s.Stats(ctx, day1, t0)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Total)
		assert.Equal(t, 1, st.Waiting)
		assert.Equal(t, 1, st.InProcedure)
		assert.Equal(t, 1, st.CompletedToday)
	})

	t.Run("schedule and duty replace", func(t *testing.T) {
		s := fresh(t)
		slots := []models.ScheduleSlot{
			{DayOfWeek: "mon", Session: models.SessionMorning, Position: 0, StaffName: "Dr. Lee"},
			{DayOfWeek: "mon", Session: models.SessionAfternoon, Position: 0, StaffName: "Dr. Kim"},
		}
		require.NoError(t, s.ReplaceSchedule(ctx, slots))
		got, err := s.GetSchedule(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, slots, got)

		require.NoError(t, s.ReplaceSchedule(ctx, nil))
		got, err = s.GetSchedule(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)

		duty := []models.DutyAssignment{{Role: "radiologist", Position: 0, StaffName: "Dr. Lee"}}
		require.NoError(t, s.ReplaceDuty(ctx, day1, duty))
		roster, err := s.GetDuty(ctx, day1)
		require.NoError(t, err)
		assert.Equal(t, duty, roster)

		roster, err = s.GetDuty(ctx, day2)
		require.NoError(t, err)
		assert.Empty(t, roster)
	})

	t.Run("dump", func(t *testing.T) {
		s := fresh(t)
		mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
		mustCreate(t, s, newPatient("R1", "Ana", "1R", day2))
		require.NoError(t, s.ReplaceDuty(ctx, day1, []models.DutyAssignment{{Role: "nurse", StaffName: "Mia"}}))

		b, err := s.Dump(ctx)
		require.NoError(t, err)
		assert.Len(t, b.Patients, 2)
		require.Len(t, b.Duty, 1)
		assert.Equal(t, day1, b.Duty[0].Date)
	})
}
