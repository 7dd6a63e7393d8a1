package crm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

const clockLayout = "15:04"

// Settings is a clinic's outreach window. ExcludedDays holds weekday names
// ("Sunday" or "Sun"), ExcludedDates holds YYYY-MM-DD dates.
type Settings struct {
	ID              string    `db:"id" json:"id,omitempty"`
	ClinicID        string    `db:"clinic_id" json:"clinic_id,omitempty"`
	StartTime       string    `db:"start_time" json:"start_time"`
	EndTime         string    `db:"end_time" json:"end_time"`
	ExcludedDays    []string  `db:"excluded_days" json:"excluded_days"`
	ExcludedDates   []string  `db:"excluded_dates" json:"excluded_dates"`
	ContactInterval int       `db:"contact_interval" json:"contact_interval"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at,omitzero"`
}

func DefaultSettings() Settings {
	return Settings{StartTime: "09:00", EndTime: "18:00", ContactInterval: 60}
}

func (s Settings) Validate() error {
	start, err := time.Parse(clockLayout, s.StartTime)
	if err != nil {
		return fmt.Errorf("invalid start time %q", s.StartTime)
	}
	end, err := time.Parse(clockLayout, s.EndTime)
	if err != nil {
		return fmt.Errorf("invalid end time %q", s.EndTime)
	}
	if !start.Before(end) {
		return errors.New("start time must be before end time")
	}
	if s.ContactInterval <= 0 {
		return errors.New("contact interval must be positive")
	}
	for _, d := range s.ExcludedDays {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("invalid excluded day %q", d)
		}
	}
	for _, d := range s.ExcludedDates {
		if _, err := time.Parse(time.DateOnly, strings.TrimSpace(d)); err != nil {
			return fmt.Errorf("invalid excluded date %q", d)
		}
	}
	return nil
}

// Allows reports whether t falls inside the outreach window on a day that
// is not excluded. The window is read in t's location; end is exclusive.
func (s Settings) Allows(t time.Time) bool {
	start, err1 := time.Parse(clockLayout, s.StartTime)
	end, err2 := time.Parse(clockLayout, s.EndTime)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	if minute < start.Hour()*60+start.Minute() || minute >= end.Hour()*60+end.Minute() {
		return false
	}
	if lo.ContainsBy(s.ExcludedDays, func(d string) bool {
		wd, ok := parseWeekday(d)
		return ok && wd == t.Weekday()
	}) {
		return false
	}
	day := t.Format(time.DateOnly)
	return !lo.ContainsBy(s.ExcludedDates, func(d string) bool { return strings.TrimSpace(d) == day })
}

func parseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, true
		}
	}
	return 0, false
}
