// Package sheets reads patient drafts from spreadsheets and writes queue
// exports for the statistics desk.
package sheets

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/validation"
)

const (
	PatientsSheet = "Patients"
	StatsSheet    = "Stats"

	timeLayout = "2006-01-02 15:04:05"
)

// PatientHeader is the column set of the patients sheet. Imports accept any
// subset in any order.
var PatientHeader = []string{
	"#",
	"Date",
	"Registration Code",
	"Name",
	"Room",
	"Procedure",
	"Staff",
	"Ward",
	"Note",
	"Demographic",
	"Priority",
	"Status",
	"Procedure Start",
	"Elapsed Minutes",
}

// StatsHeader is the column set of the stats sheet
var StatsHeader = []string{"Date", "Total", "Waiting", "In Procedure", "Completed"}

var columnWidths = map[string]float64{
	"#":                 6,
	"Date":              12,
	"Registration Code": 20,
	"Name":              20,
	"Room":              10,
	"Procedure":         24,
	"Staff":             15,
	"Ward":              10,
	"Note":              30,
	"Demographic":       15,
	"Status":            12,
	"Procedure Start":   20,
	"Elapsed Minutes":   16,
}

// header aliases accepted on import, keyed by lower-cased header text
var importColumns = map[string]models.PatientField{
	"date":              models.FieldQueueDate,
	"queue_date":        models.FieldQueueDate,
	"registration code": models.FieldRegistrationCode,
	"registration_code": models.FieldRegistrationCode,
	"patient id":        models.FieldRegistrationCode,
	"name":              models.FieldName,
	"patient name":      models.FieldName,
	"room":              models.FieldRoom,
	"procedure":         models.FieldProcedure,
	"staff":             models.FieldStaff,
	"doctor":            models.FieldStaff,
	"ward":              models.FieldWard,
	"note":              models.FieldNote,
	"notes":             models.FieldNote,
	"demographic":       models.FieldDemographic,
	"priority":          models.FieldPriority,
}

// Row is one importable line. Line is the 1-based sheet row.
type Row struct {
	Line  int
	Draft *models.PatientDraft
}

// RowError reports a line that could not become a draft
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ReadDrafts parses the patients sheet of an xlsx document, or its first
// sheet when there is none. The header row names the columns. Rows without a
// date get date. Blank rows are skipped; rows failing validation are
// returned as RowErrors.
func ReadDrafts(r io.Reader, date string) ([]Row, []*RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse spreadsheet: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if idx, err := f.GetSheetIndex(PatientsSheet); err == nil && idx >= 0 {
		sheet = PatientsSheet
	}
	if sheet == "" {
		return nil, nil, fmt.Errorf("%w: spreadsheet has no sheets", models.ErrValidation)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	columns := make(map[int]models.PatientField)
	for i, h := range rows[0] {
		if field, ok := importColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			columns[i] = field
		}
	}
	for _, required := range []models.PatientField{models.FieldName, models.FieldRegistrationCode, models.FieldRoom} {
		if !hasField(columns, required) {
			return nil, nil, fmt.Errorf("%w: header has no %s column", models.ErrValidation, required)
		}
	}

	v := validation.New()
	var out []Row
	var bad []*RowError
	for i := 1; i < len(rows); i++ {
		line := i + 1
		draft, empty, err := parseRow(rows[i], columns, date)
		if empty {
			continue
		}
		if err == nil {
			err = v.ValidateDraft(draft)
		}
		if err != nil {
			bad = append(bad, &RowError{Line: line, Err: err})
			continue
		}
		out = append(out, Row{Line: line, Draft: draft})
	}
	return out, bad, nil
}

func hasField(columns map[int]models.PatientField, field models.PatientField) bool {
	for _, f := range columns {
		if f == field {
			return true
		}
	}
	return false
}

func parseRow(cells []string, columns map[int]models.PatientField, date string) (*models.PatientDraft, bool, error) {
	d := &models.PatientDraft{QueueDate: date}
	empty := true
	for i, raw := range cells {
		field, ok := columns[i]
		if !ok {
			continue
		}
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		empty = false

		switch field {
		case models.FieldQueueDate:
			d.QueueDate = value
		case models.FieldRegistrationCode:
			d.RegistrationCode = value
		case models.FieldName:
			d.Name = value
		case models.FieldRoom:
			d.Room = value
		case models.FieldProcedure:
			d.Procedure = value
		case models.FieldStaff:
			d.Staff = value
		case models.FieldWard:
			d.Ward = value
		case models.FieldNote:
			d.Note = value
		case models.FieldDemographic:
			d.Demographic = value
		case models.FieldPriority:
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, false, fmt.Errorf("%w: priority %q is not an integer", models.ErrValidation, value)
			}
			d.Priority = n
		}
	}
	return d, empty, nil
}

// WriteExport writes a workbook with a stats sheet and a patients sheet
func WriteExport(w io.Writer, stats []*models.Stats, patients []*models.Patient) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeStats(f, stats); err != nil {
		return err
	}
	if err := writePatients(f, patients); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(StatsSheet); err == nil {
		f.SetActiveSheet(idx)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// ExportBytes is WriteExport into memory
func ExportBytes(stats []*models.Stats, patients []*models.Patient) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteExport(&buf, stats, patients); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeStats(f *excelize.File, stats []*models.Stats) error {
	if err := newSheet(f, StatsSheet, StatsHeader); err != nil {
		return err
	}
	for i, s := range stats {
		values := []any{s.QueueDate, s.Total, s.Waiting, s.InProcedure, s.CompletedToday}
		if err := setRow(f, StatsSheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

func writePatients(f *excelize.File, patients []*models.Patient) error {
	if err := newSheet(f, PatientsSheet, PatientHeader); err != nil {
		return err
	}
	for i, p := range patients {
		start := ""
		if p.ProcedureStartTime != nil {
			start = p.ProcedureStartTime.UTC().Format(timeLayout)
		}
		values := []any{
			i + 1,
			p.QueueDate,
			p.RegistrationCode,
			p.Name,
			p.Room,
			p.Procedure,
			p.Staff,
			p.Ward,
			p.Note,
			p.Demographic,
			p.Priority,
			string(p.Status),
			start,
			p.ElapsedMinutes,
		}
		if err := setRow(f, PatientsSheet, i+2, values); err != nil {
			return err
		}
	}
	return nil
}

// newSheet creates sheet with a styled, frozen header row
func newSheet(f *excelize.File, sheet string, header []string) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
	}

	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if width, ok := columnWidths[h]; ok {
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				return err
			}
			if err := f.SetColWidth(sheet, col, col, width); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}

	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}
