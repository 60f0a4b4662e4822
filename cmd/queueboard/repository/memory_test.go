package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/models"
)

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreDeleteClearsDoctor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	d := s.AddDoctor("Dr. Lee", "CT")
	p := mustCreate(t, s, newPatient("R1", "Ana", "CT", day1))

	_, err := s.UpdateDoctorStatus(ctx, d.ID, models.DoctorBusy, &p.ID, t0)
	require.NoError(t, err)

	_, err = s.DeletePatient(ctx, p.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	doctors, err := s.ListDoctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Nil(t, doctors[0].CurrentPatient)
	assert.Equal(t, models.DoctorBusy, doctors[0].Status)
}

func TestMemoryStoreDoctorUnknownPatient(t *testing.T) {
	s := NewMemoryStore()
	d := s.AddDoctor("Dr. Lee", "CT")
	missing := int64(99)

	_, err := s.UpdateDoctorStatus(context.Background(), d.ID, models.DoctorBusy, &missing, t0)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = s.UpdateDoctorStatus(context.Background(), 42, models.DoctorBusy, nil, t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	p := mustCreate(t, s, newPatient("R1", "Ana", "1R", day1))
	p.Name = "mutated"

	got, err := s.GetPatient(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
}
