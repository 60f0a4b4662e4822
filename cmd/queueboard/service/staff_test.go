package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/config"
	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/models"
)

func TestUpdateDoctorStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.store.AddDoctor("Dr. Lee", "CT")
	p := f.create(t, draft("R1", "Ana", "CT"))
	f.bus.take()

	got, err := f.staff.UpdateDoctorStatus(ctx, d.ID, models.DoctorBusy, &p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DoctorBusy, got.Status)
	require.NotNil(t, got.CurrentPatient)
	assert.Equal(t, p.ID, *got.CurrentPatient)

	events := f.bus.take()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDoctorUpdated, events[0].Type)

	_, err = f.staff.UpdateDoctorStatus(ctx, d.ID, "asleep", nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.staff.UpdateDoctorStatus(ctx, 404, models.DoctorBreak, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	doctors, err := f.staff.ListDoctors(ctx)
	require.NoError(t, err)
	assert.Len(t, doctors, 1)
}

func TestReplaceSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := models.Schedule{
		"mon": {models.SessionMorning: {"Dr. Lee", "Dr. Kim"}},
		"fri": {models.SessionAfternoon: {"", "Dr. Park"}},
	}
	saved, err := f.staff.ReplaceSchedule(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, saved)

	events := f.bus.take()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventScheduleUpdated, events[0].Type)

	got, err := f.staff.GetSchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	_, err = f.staff.ReplaceSchedule(ctx, models.Schedule{"sun": {models.SessionMorning: {"x"}}})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.staff.ReplaceSchedule(ctx, models.Schedule{"mon": {"night": {"x"}}})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestReplaceDuty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	roster, err := f.staff.GetDuty(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, today, roster.Date)
	assert.NotNil(t, roster.Assignments)
	assert.Empty(t, roster.Assignments)

	assignments := []models.DutyAssignment{
		{Role: "radiologist", Position: 0, StaffName: "Dr. Lee"},
		{Role: "nurse", Position: 0, StaffName: "Mia"},
	}
	saved, err := f.staff.ReplaceDuty(ctx, "2026-03-04", assignments)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", saved.Date)

	events := f.bus.take()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDutyUpdated, events[0].Type)
	assert.Equal(t, "2026-03-04", events[0].QueueDate)

	var payload models.DutyRoster
	require.NoError(t, json.Unmarshal(events[0].Data, &payload))
	assert.Equal(t, assignments, payload.Assignments)

	_, err = f.staff.ReplaceDuty(ctx, today, []models.DutyAssignment{{Role: "nurse"}, {Role: "nurse"}})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.staff.ReplaceDuty(ctx, "not-a-date", nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func TestAdminStatusAndBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, draft("R1", "Ana", "CT"))
	f.store.AddDoctor("Dr. Lee", "CT")

	admin := NewAdminService(f.store, fixedCount(3), nil, ServerStatus{Service: "queueboard", Store: "memory"}, logger.Discard())

	st := admin.Status(ctx)
	assert.Equal(t, 3, st.Connections)
	assert.Equal(t, "memory", st.Store)
	assert.True(t, st.Healthy)
	assert.NotNil(t, st.System)
	assert.Positive(t, st.Runtime.Goroutines)

	b, err := admin.Backup(ctx)
	require.NoError(t, err)
	assert.Len(t, b.Patients, 1)
	assert.Len(t, b.Doctors, 1)
}

func TestAuthLoginAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	auth := NewAuthService(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users:     map[string]string{"desk": hash},
	}, logger.Discard())

	token, expires, err := auth.Login("desk", "s3cret")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expires.After(time.Now()))

	claims, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "desk", claims.Username)
	assert.Equal(t, "desk", claims.Subject)

	_, _, err = auth.Login("desk", "wrong")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, _, err = auth.Login("nobody", "s3cret")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = auth.Verify(token + "x")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	_, err = auth.Verify("")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	auth.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}
