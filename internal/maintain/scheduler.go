package maintain

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/ledgerpart/ledgerpart/internal/observability"
)

// RunStatus is the terminal state of one scheduler invocation.
type RunStatus string

const (
	// StatusSkipped means the invocation fell outside the maintenance
	// window. Not an error: the process exits 0.
	StatusSkipped RunStatus = "skipped"

	// StatusCompleted means the command set was executed (possibly with
	// individual failures).
	StatusCompleted RunStatus = "completed"
)

// RunResult aggregates one invocation. The aggregator is the only place
// that decides overall run status: Failed > 0 means the process must exit
// non-zero.
type RunResult struct {
	Status   RunStatus
	Total    int
	Failed   int
	Duration time.Duration
}

// Succeeded returns the number of commands that succeeded.
func (r *RunResult) Succeeded() int {
	return r.Total - r.Failed
}

// OK reports whether the run as a whole succeeded. A skipped run is OK.
func (r *RunResult) OK() bool {
	return r.Failed == 0
}

// Scheduler gates execution to the maintenance window and drives the
// command set strictly sequentially. Commands may contend for the same
// resources, and ordering matters: partition upkeep runs before analyze.
type Scheduler struct {
	window  Window
	source  CommandSource
	exec    Executor
	history HistoryStore
	stats   *observability.CommandStats

	// now is injected so window membership is testable without waiting
	// for a real window.
	now func() time.Time
}

// NewScheduler creates a scheduler.
func NewScheduler(window Window, source CommandSource, exec Executor, history HistoryStore) *Scheduler {
	return &Scheduler{
		window:  window,
		source:  source,
		exec:    exec,
		history: history,
		stats:   observability.NewCommandStats(),
		now:     time.Now,
	}
}

// Stats exposes the per-kind execution statistics accumulated so far.
func (s *Scheduler) Stats() *observability.CommandStats {
	return s.stats
}

// Run performs one invocation: window check, sequential execution with
// outcome capture, history recording, and aggregation. A single command's
// failure is recorded and counted but never aborts the run.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	start := s.now()

	if !s.window.Contains(start) {
		log.Printf("maintain: outside maintenance window, skipping run")
		return &RunResult{Status: StatusSkipped}, nil
	}

	cmds, err := s.source.ListCommands(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cmds, func(i, j int) bool {
		return cmds[i].Priority < cmds[j].Priority
	})

	result := &RunResult{Status: StatusCompleted, Total: len(cmds)}

	for _, cmd := range cmds {
		cmdStart := s.now()
		output, execErr := s.exec.Execute(ctx, cmd)
		duration := s.now().Sub(cmdStart)
		s.stats.Record(cmd.Kind, duration, execErr == nil)

		if execErr != nil {
			result.Failed++
			log.Printf("maintain: FAILED %q after %s: %v", cmd.Text, duration.Round(time.Millisecond), execErr)
		} else {
			log.Printf("maintain: ok %q in %s: %s", cmd.Text, duration.Round(time.Millisecond), output)
		}

		if cmd.Target != "" {
			detail := ""
			if execErr != nil {
				detail = execErr.Error()
			}
			if herr := s.history.Record(ctx, cmd.Target, cmd.Kind, execErr == nil, detail); herr != nil {
				log.Printf("maintain: failed to record history for %s: %v", cmd.Target, herr)
			}
		}
	}

	result.Duration = s.now().Sub(start)
	for _, line := range s.stats.Summary() {
		log.Printf("maintain: %s", line)
	}
	log.Printf("maintain: %d/%d commands succeeded in %s",
		result.Succeeded(), result.Total, result.Duration.Round(time.Millisecond))

	return result, nil
}
