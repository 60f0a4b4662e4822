package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/queuedate"
	"github.com/lyzr/queueboard/common/sheets"
)

type creator interface {
	CreatePatient(ctx context.Context, draft *models.PatientDraft) (*models.Patient, error)
}

type reader interface {
	ListPatients(ctx context.Context, date string) (*models.PatientsSnapshot, error)
	Stats(ctx context.Context, date string) (*models.Stats, error)
}

// importSummary counts the outcome of an import
type importSummary struct {
	Created    int
	Duplicates int
	Invalid    int
	Failed     int
}

func importCmd(load func() options) *cobra.Command {
	var file, date string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create one patient per spreadsheet row",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			rows, bad, err := sheets.ReadDrafts(f, date)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range bad {
				fmt.Fprintf(out, "skip  %v\n", e)
			}
			if dryRun {
				fmt.Fprintf(out, "%d rows valid, %d invalid\n", len(rows), len(bad))
				return nil
			}

			api, _, err := connect(cmd.Context(), load())
			if err != nil {
				return err
			}
			summary := runImport(cmd.Context(), api, rows, out)
			summary.Invalid = len(bad)
			fmt.Fprintf(out, "created %d, duplicates %d, invalid %d, failed %d\n",
				summary.Created, summary.Duplicates, summary.Invalid, summary.Failed)
			if summary.Failed > 0 {
				return fmt.Errorf("%d rows failed", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "xlsx file to import")
	cmd.Flags().StringVar(&date, "date", "", "queue date for rows without one (default: server today)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only validate the file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// runImport creates every row in order. Duplicates are reported and skipped;
// a transport failure stops the run since its outcome is unknown.
func runImport(ctx context.Context, api creator, rows []sheets.Row, out io.Writer) importSummary {
	var s importSummary
	for i, row := range rows {
		p, err := api.CreatePatient(ctx, row.Draft)
		switch {
		case err == nil:
			s.Created++
			fmt.Fprintf(out, "ok    row %d: %s (%s) -> #%d %s\n", row.Line, p.Name, p.RegistrationCode, p.ID, p.QueueDate)
		case errors.Is(err, models.ErrDuplicateRegistration):
			s.Duplicates++
			fmt.Fprintf(out, "dup   row %d: %s already registered\n", row.Line, row.Draft.RegistrationCode)
		case errors.Is(err, models.ErrTransport), errors.Is(err, models.ErrUnauthorized), ctx.Err() != nil:
			s.Failed += len(rows) - i
			fmt.Fprintf(out, "fail  row %d: %v; stopping\n", row.Line, err)
			return s
		default:
			s.Failed++
			fmt.Fprintf(out, "fail  row %d: %v\n", row.Line, err)
		}
	}
	return s
}

func exportCmd(load func() options) *cobra.Command {
	var from, to, path string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write stats and patients for a date range to xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				to = from
			}
			dates, err := queuedate.Range(from, to)
			if err != nil {
				return err
			}
			api, _, err := connect(cmd.Context(), load())
			if err != nil {
				return err
			}

			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := runExport(cmd.Context(), api, dates, f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d days)\n", path, len(dates))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first queue date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last queue date (default: --from)")
	cmd.Flags().StringVar(&path, "out", "queue-export.xlsx", "output file")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func runExport(ctx context.Context, api reader, dates []string, w io.Writer) error {
	var stats []*models.Stats
	var patients []*models.Patient
	for _, date := range dates {
		s, err := api.Stats(ctx, date)
		if err != nil {
			return fmt.Errorf("stats for %s: %w", date, err)
		}
		snap, err := api.ListPatients(ctx, date)
		if err != nil {
			return fmt.Errorf("patients for %s: %w", date, err)
		}
		stats = append(stats, s)
		patients = append(patients, snap.Patients...)
	}
	return sheets.WriteExport(w, stats, patients)
}

func statsCmd(load func() options) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print queue counts per date",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, _, err := connect(cmd.Context(), load())
			if err != nil {
				return err
			}

			// an empty date asks the server for its today
			dates := []string{from}
			if from != "" {
				if to == "" {
					to = from
				}
				if dates, err = queuedate.Range(from, to); err != nil {
					return err
				}
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tTOTAL\tWAITING\tIN PROCEDURE\tCOMPLETED")
			for _, date := range dates {
				s, err := api.Stats(cmd.Context(), date)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.QueueDate, s.Total, s.Waiting, s.InProcedure, s.CompletedToday)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first queue date (default: server today)")
	cmd.Flags().StringVar(&to, "to", "", "last queue date (default: --from)")
	return cmd
}
