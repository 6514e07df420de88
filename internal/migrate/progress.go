package migrate

import (
	"fmt"
	"time"
)

// Progress tracks a batched copy and extrapolates completion time from the
// rows copied so far. Reported after every committed batch.
type Progress struct {
	Total     int64
	Copied    int64
	StartedAt time.Time
}

// NewProgress starts tracking a copy of total rows.
func NewProgress(total int64, startedAt time.Time) *Progress {
	return &Progress{Total: total, StartedAt: startedAt}
}

// Update adds n copied rows.
func (p *Progress) Update(n int64) {
	p.Copied += n
}

// Percent returns completion as a percentage in [0, 100].
func (p *Progress) Percent() float64 {
	if p.Total <= 0 {
		return 100
	}
	return float64(p.Copied) / float64(p.Total) * 100
}

// ETA extrapolates the remaining duration from elapsed time and the
// copied/total ratio. Returns 0 until at least one row has been copied.
func (p *Progress) ETA(now time.Time) time.Duration {
	if p.Copied <= 0 || p.Total <= 0 {
		return 0
	}
	elapsed := now.Sub(p.StartedAt)
	projected := time.Duration(float64(elapsed) * float64(p.Total) / float64(p.Copied))
	remaining := projected - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Report formats one progress line for the log stream.
func (p *Progress) Report(now time.Time) string {
	return fmt.Sprintf("copied %d/%d rows (%.1f%%), elapsed %s, eta %s",
		p.Copied, p.Total, p.Percent(),
		now.Sub(p.StartedAt).Round(time.Second), p.ETA(now).Round(time.Second))
}
