package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyzr/queueboard/common/mirror"
	"github.com/lyzr/queueboard/common/models"
	"github.com/lyzr/queueboard/common/syncclient"
)

func watchCmd(load func() options) *cobra.Command {
	var date string
	var resync time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the live board for a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := load()
			api, log, err := connect(ctx, opts)
			if err != nil {
				return err
			}

			// let the server resolve an empty date to its today
			snap, err := api.ListPatients(ctx, date)
			if err != nil {
				return err
			}

			socket, err := socketURL(opts.server)
			if err != nil {
				return err
			}

			m := mirror.New(snap.QueueDate, log)
			m.ApplySnapshot(snap.QueueDate, snap.Patients)

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			m.OnChange(func(string) {
				mu.Lock()
				defer mu.Unlock()
				renderBoard(out, m, time.Now())
			})
			renderBoard(out, m, time.Now())

			client := syncclient.New(syncclient.Config{
				URL:            socket,
				Token:          api.Token(),
				ResyncInterval: resync,
			}, m, api, log)

			err = client.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "queue date (default: server today)")
	cmd.Flags().DurationVar(&resync, "resync", time.Minute, "full snapshot interval")
	return cmd
}

// socketURL maps the API base URL onto the /ws endpoint
func socketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url %q: %w", server, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

var statusLabel = map[models.PatientStatus]string{
	models.StatusWaiting:   "waiting",
	models.StatusProcedure: "IN PROCEDURE",
	models.StatusCompleted: "done",
}

// renderBoard prints the mirror grouped by room in display order
func renderBoard(w io.Writer, m *mirror.Mirror, now time.Time) {
	rooms, groups := m.Rooms()

	fmt.Fprintf(w, "== %s  (%s) ==\n", m.Date(), now.Format("15:04:05"))
	if len(rooms) == 0 {
		fmt.Fprintln(w, "  no patients")
	}
	for _, room := range rooms {
		fmt.Fprintf(w, "[%s]\n", room)
		for i, p := range groups[room] {
			line := fmt.Sprintf("  %2d. %-20s %-12s %s", i+1, p.Name, p.RegistrationCode, statusLabel[p.Status])
			if p.Status == models.StatusProcedure {
				line += fmt.Sprintf(" %dm", p.ElapsedMinutes)
			}
			if p.Procedure != "" {
				line += "  " + p.Procedure
			}
			if p.IsTemporary() {
				line += "  (pending)"
			}
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)
}
