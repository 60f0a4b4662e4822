package sheets

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lyzr/queueboard/common/models"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return &buf
}

func TestReadDrafts(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Patient Name", "Registration Code", "Room", "Doctor", "Priority", "Date", "Unknown"},
		{"Ana", "R-1", "CT", "Kim", 2, "", "ignored"},
		{"", "", "", "", "", "", ""},
		{"Bo", "R-2", "MR", "", "", "2026-03-05", ""},
		{"Cy", "", "CT", "", "", "", ""},
		{"Di", "R-4", "CT", "", "high", "", ""},
	})

	rows, bad, err := ReadDrafts(buf, "2026-03-02")
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, &models.PatientDraft{
		Name:             "Ana",
		RegistrationCode: "R-1",
		Room:             "CT",
		Staff:            "Kim",
		Priority:         2,
		QueueDate:        "2026-03-02",
	}, rows[0].Draft)
	assert.Equal(t, 4, rows[1].Line)
	assert.Equal(t, "2026-03-05", rows[1].Draft.QueueDate)

	require.Len(t, bad, 2)
	assert.Equal(t, 5, bad[0].Line)
	assert.ErrorIs(t, bad[0], models.ErrValidation)
	assert.Equal(t, 6, bad[1].Line)
	assert.Contains(t, bad[1].Error(), "row 6")
}

func TestReadDraftsNeedsRequiredColumns(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Name", "Room"},
		{"Ana", "CT"},
	})

	_, _, err := ReadDrafts(buf, "2026-03-02")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestReadDraftsRejectsGarbage(t *testing.T) {
	_, _, err := ReadDrafts(bytes.NewBufferString("not a workbook"), "2026-03-02")
	assert.Error(t, err)
}

func TestExportRoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	stats := []*models.Stats{
		{QueueDate: "2026-03-02", Total: 2, Waiting: 1, InProcedure: 1},
		{QueueDate: "2026-03-03"},
	}
	patients := []*models.Patient{
		{ID: 1, QueueDate: "2026-03-02", RegistrationCode: "R-1", Name: "Ana", Room: "CT", Status: models.StatusProcedure, ProcedureStartTime: &start, ElapsedMinutes: 12},
		{ID: 2, QueueDate: "2026-03-02", RegistrationCode: "R-2", Name: "Bo", Room: "MR", Status: models.StatusWaiting, Note: "fasting"},
	}

	raw, err := ExportBytes(stats, patients)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{StatsSheet, PatientsSheet}, f.GetSheetList())

	statRows, err := f.GetRows(StatsSheet)
	require.NoError(t, err)
	require.Len(t, statRows, 3)
	assert.Equal(t, StatsHeader, statRows[0])
	assert.Equal(t, []string{"2026-03-02", "2", "1", "1", "0"}, statRows[1])

	patientRows, err := f.GetRows(PatientsSheet)
	require.NoError(t, err)
	require.Len(t, patientRows, 3)
	assert.Equal(t, PatientHeader, patientRows[0])
	assert.Equal(t, "Ana", patientRows[1][3])
	assert.Equal(t, "2026-03-02 09:15:00", patientRows[1][12])
	assert.Equal(t, "12", patientRows[1][13])

	// an export is itself importable
	rows, bad, err := ReadDrafts(bytes.NewReader(raw), "2026-03-09")
	require.NoError(t, err)
	assert.Empty(t, bad)
	require.Len(t, rows, 2)
	assert.Equal(t, "fasting", rows[1].Draft.Note)
	assert.Equal(t, "2026-03-02", rows[1].Draft.QueueDate)
}
