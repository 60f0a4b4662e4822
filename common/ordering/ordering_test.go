package ordering

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/models"
)

func patient(id int64, order int, status models.PatientStatus) *models.Patient {
	return &models.Patient{ID: id, Room: "1R", DisplayOrder: order, Status: status}
}

func ids(ps []*models.Patient) []int64 {
	out := make([]int64, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestSortProcedureFirst(t *testing.T) {
	ps := []*models.Patient{
		patient(1, 1, models.StatusWaiting),
		patient(2, 2, models.StatusWaiting),
		patient(3, 3, models.StatusProcedure),
		patient(4, 0, models.StatusWaiting), // legacy row, never reordered
		patient(5, 0, models.StatusWaiting),
	}
	Sort(ps)
	assert.Equal(t, []int64{3, 4, 5, 1, 2}, ids(ps))
}

func TestMoveLastToFirst(t *testing.T) {
	out, err := Move([]int64{10, 11, 12, 13, 14}, 14, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{14, 10, 11, 12, 13}, out)

	got := Renumber(out)
	assert.Equal(t, []Assignment{{14, 1}, {10, 2}, {11, 3}, {12, 4}, {13, 5}}, got)
}

func TestMoveClampsAndRejectsUnknown(t *testing.T) {
	out, err := Move([]int64{1, 2, 3}, 1, 99)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, out)

	_, err = Move([]int64{1, 2, 3}, 7, 0)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCompleteAppendsUnlisted(t *testing.T) {
	room := []*models.Patient{
		patient(1, 1, models.StatusWaiting),
		patient(2, 2, models.StatusWaiting),
		patient(3, 3, models.StatusWaiting),
		patient(4, 4, models.StatusWaiting),
	}
	out, err := Complete([]int64{3, 1}, room)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2, 4}, out)

	_, err = Complete([]int64{3, 3}, room)
	assert.True(t, errors.Is(err, models.ErrValidation))

	_, err = Complete([]int64{9}, room)
	assert.True(t, errors.Is(err, models.ErrValidation))
}

func TestIsDense(t *testing.T) {
	assert.True(t, IsDense(nil))
	assert.True(t, IsDense([]int{2, 1, 3}))
	assert.False(t, IsDense([]int{1, 1, 2}))
	assert.False(t, IsDense([]int{1, 3}))
	assert.False(t, IsDense([]int{0, 1}))
}

func TestRepeatedReordersStayDense(t *testing.T) {
	order := []int64{1, 2, 3, 4, 5, 6}
	moves := []struct {
		id int64
		to int
	}{{6, 0}, {1, 5}, {3, 2}, {6, 5}, {2, 0}}

	for _, m := range moves {
		var err error
		order, err = Move(order, m.id, m.to)
		require.NoError(t, err)

		var orders []int
		for _, a := range Renumber(order) {
			orders = append(orders, a.DisplayOrder)
		}
		assert.True(t, IsDense(orders))
		assert.Len(t, order, 6)
	}
}

func TestGroupByRoom(t *testing.T) {
	ps := []*models.Patient{
		{ID: 1, Room: "2R", DisplayOrder: 1},
		{ID: 2, Room: "1R", DisplayOrder: 2},
		{ID: 3, Room: "1R", DisplayOrder: 1},
	}
	rooms, groups := GroupByRoom(ps)
	assert.Equal(t, []string{"1R", "2R"}, rooms)
	assert.Equal(t, []int64{3, 2}, ids(groups["1R"]))
}
