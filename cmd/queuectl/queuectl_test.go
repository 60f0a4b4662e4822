package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/lyzr/queueboard/common/logger"
	"github.com/lyzr/queueboard/common/mirror"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/sheets"
)

type fakeServer struct {
	created []*models.PatientDraft
	errs    map[string]error
}

func (f *fakeServer) CreatePatient(ctx context.Context, draft *models.PatientDraft) (*models.Patient, error) {
	if err := f.errs[draft.RegistrationCode]; err != nil {
		return nil, err
	}
	f.created = append(f.created, draft)
	return &models.Patient{ID: int64(len(f.created)), Name: draft.Name, RegistrationCode: draft.RegistrationCode, QueueDate: "2026-03-02"}, nil
}

func (f *fakeServer) ListPatients(ctx context.Context, date string) (*models.PatientsSnapshot, error) {
	return &models.PatientsSnapshot{QueueDate: date, Patients: []*models.Patient{
		{ID: 1, Name: "Ana " + date, RegistrationCode: "R-" + date, Room: "CT", QueueDate: date, Status: models.StatusWaiting},
	}}, nil
}

func (f *fakeServer) Stats(ctx context.Context, date string) (*models.Stats, error) {
	return &models.Stats{QueueDate: date, Total: 1, Waiting: 1}, nil
}

func rows(codes ...string) []sheets.Row {
	out := make([]sheets.Row, len(codes))
	for i, code := range codes {
		out[i] = sheets.Row{Line: i + 2, Draft: &models.PatientDraft{Name: "P" + code, RegistrationCode: code, Room: "CT"}}
	}
	return out
}

func TestRunImport(t *testing.T) {
	tests := []struct {
		name string
		errs map[string]error
		want importSummary
		line string
	}{
		{
			name: "all created",
			want: importSummary{Created: 3},
			line: "ok    row 4: PC (C) -> #3",
		},
		{
			name: "duplicates skipped",
			errs: map[string]error{"B": fmt.Errorf("create: %w", models.ErrDuplicateRegistration)},
			want: importSummary{Created: 2, Duplicates: 1},
			line: "dup   row 3: B already registered",
		},
		{
			name: "validation failure continues",
			errs: map[string]error{"A": models.ErrValidation},
			want: importSummary{Created: 2, Failed: 1},
			line: "fail  row 2",
		},
		{
			name: "transport failure stops",
			errs: map[string]error{"B": models.ErrTransport},
			want: importSummary{Created: 1, Failed: 2},
			line: "stopping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got := runImport(context.Background(), &fakeServer{errs: tt.errs}, rows("A", "B", "C"), &out)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), tt.line)
		})
	}
}

func TestRunExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, runExport(context.Background(), &fakeServer{}, []string{"2026-03-02", "2026-03-03"}, &buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	stats, err := f.GetRows(sheets.StatsSheet)
	require.NoError(t, err)
	assert.Len(t, stats, 3)

	patients, err := f.GetRows(sheets.PatientsSheet)
	require.NoError(t, err)
	require.Len(t, patients, 3)
	assert.Equal(t, "2026-03-03", patients[2][1])
}

func TestRenderBoard(t *testing.T) {
	m := mirror.New("2026-03-02", logger.Discard())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m.ApplySnapshot("2026-03-02", []*models.Patient{
		{ID: 1, Name: "Ana", RegistrationCode: "R-1", Room: "MR", Status: models.StatusWaiting, DisplayOrder: 1, QueueDate: "2026-03-02"},
		{ID: 2, Name: "Bo", RegistrationCode: "R-2", Room: "CT", Status: models.StatusWaiting, DisplayOrder: 1, QueueDate: "2026-03-02"},
		{ID: 3, Name: "Cy", RegistrationCode: "R-3", Room: "CT", Status: models.StatusProcedure, DisplayOrder: 2, QueueDate: "2026-03-02",
			ProcedureStartTime: &start, ElapsedMinutes: 7, Procedure: "CT chest"},
	})

	var out bytes.Buffer
	renderBoard(&out, m, start)
	text := out.String()

	assert.True(t, strings.HasPrefix(text, "== 2026-03-02  (09:00:00) =="))
	ct := strings.Index(text, "[CT]")
	mr := strings.Index(text, "[MR]")
	require.True(t, ct >= 0 && mr > ct, "rooms sorted")

	// procedure entries lead their room
	cy := strings.Index(text, "Cy")
	bo := strings.Index(text, "Bo")
	assert.Less(t, cy, bo)
	assert.Contains(t, text, "IN PROCEDURE 7m  CT chest")

	out.Reset()
	renderBoard(&out, mirror.New("2026-03-04", logger.Discard()), start)
	assert.Contains(t, out.String(), "no patients")
}

func TestSocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":      "ws://localhost:8080/ws",
		"https://board.example.org/": "wss://board.example.org/ws",
		"http://gateway/queue":       "ws://gateway/queue/ws",
	}
	for in, want := range tests {
		got, err := socketURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}
