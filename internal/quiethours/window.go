// Package quiethours implements hour-granular "do not disturb" windows
// of the form "HH-HH" in local time. A window may wrap midnight.
package quiethours

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/notifyhub/stock-alerts/internal/domain"
)

var windowPattern = regexp.MustCompile(`^(\d{2})-(\d{2})$`)

// Window is a [StartHour, EndHour) range of hours. StartHour == EndHour
// is a disabled window.
type Window struct {
	StartHour int
	EndHour   int
}

// Parse parses "HH-HH". Both hours must be two digits in 00-23.
func Parse(spec string) (Window, error) {
	m := windowPattern.FindStringSubmatch(spec)
	if m == nil {
		return Window{}, fmt.Errorf("%w: %q", domain.ErrInvalidQuietHours, spec)
	}
	start, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	if start > 23 || end > 23 {
		return Window{}, fmt.Errorf("%w: %q", domain.ErrInvalidQuietHours, spec)
	}
	return Window{StartHour: start, EndHour: end}, nil
}

func (w Window) String() string {
	return fmt.Sprintf("%02d-%02d", w.StartHour, w.EndHour)
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.StartHour > w.EndHour
}

// Contains reports whether t's hour, in t's own location, falls inside w.
func (w Window) Contains(t time.Time) bool {
	h := t.Hour()
	switch {
	case w.StartHour == w.EndHour:
		return false
	case w.StartHour < w.EndHour:
		return h >= w.StartHour && h < w.EndHour
	default:
		return h >= w.StartHour || h < w.EndHour
	}
}

// NextExit returns the first instant at EndHour:00:00 strictly after t when
// t is inside the window, and t unchanged otherwise.
func (w Window) NextExit(t time.Time) time.Time {
	if !w.Contains(t) {
		return t
	}
	exit := time.Date(t.Year(), t.Month(), t.Day(), w.EndHour, 0, 0, 0, t.Location())
	if !exit.After(t) {
		exit = exit.AddDate(0, 0, 1)
	}
	return exit
}
