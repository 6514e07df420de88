// Package maintain runs the recurring maintenance pass: a time-window gated,
// priority-ordered, strictly sequential batch of commands with per-command
// outcome accounting and an append-only history ledger.
package maintain

import (
	"fmt"
	"time"

	"github.com/ledgerpart/ledgerpart/internal/config"
)

// Window is a wall-clock maintenance window expressed in minutes since
// midnight in the reference timezone. End before Start means the window
// crosses midnight.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses "HH:MM" start/end strings into a Window. Malformed
// times are a configuration error: the caller must abort before doing any
// work.
func ParseWindow(start, end string) (Window, error) {
	s, err := config.ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := config.ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether now falls inside the window. Membership is a
// pure function of the injected time, so tests never wait for a real
// window. A window with Start == End is empty.
func (w Window) Contains(now time.Time) bool {
	t := now.In(config.ReferenceLocation)
	minutes := t.Hour()*60 + t.Minute()

	if w.Start == w.End {
		return false
	}
	if w.Start > w.End {
		// Crosses midnight: e.g. 22:00-02:00 contains 23:30 and 01:00.
		return minutes >= w.Start || minutes < w.End
	}
	return minutes >= w.Start && minutes < w.End
}
