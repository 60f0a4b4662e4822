// Package queuedate handles the logical calendar day a queue entry belongs to.
// Dates travel as YYYY-MM-DD strings; "today" is computed in one configured location.
package queuedate

import (
	"fmt"
	"time"

	"github.com/lyzr/queueboard/common/models"
)

// Layout of a queue date
const Layout = "2006-01-02"

// Today returns the calendar day of now in loc
func Today(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(Layout)
}

// Parse validates a queue date string
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid queue date %q", models.ErrValidation, s)
	}
	return t, nil
}

// Normalize returns date if it is valid, today if it is empty
func Normalize(date string, now time.Time, loc *time.Location) (string, error) {
	if date == "" {
		return Today(now, loc), nil
	}
	t, err := Parse(date)
	if err != nil {
		return "", err
	}
	return t.Format(Layout), nil
}

// Range lists every date from..to inclusive
func Range(from, to string) ([]string, error) {
	start, err := Parse(from)
	if err != nil {
		return nil, err
	}
	end, err := Parse(to)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: range end %s before start %s", models.ErrValidation, to, from)
	}

	var out []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(Layout))
	}
	return out, nil
}

// Location loads a zone name; empty means server local
func Location(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", name, err)
	}
	return loc, nil
}
