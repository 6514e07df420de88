// Package observability tracks per-kind execution statistics for
// maintenance commands.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// CommandStats aggregates maintenance command executions by operation
// kind. Windows are long-lived relative to one scheduler invocation, so
// the tracker survives across runs when embedded in a daemon and is
// simply discarded at process exit in batch mode.
type CommandStats struct {
	mu    sync.RWMutex
	kinds map[string]*KindStats
}

// KindStats holds aggregate statistics for one operation kind.
type KindStats struct {
	Kind     string
	Count    int64
	Failures int64
	Total    time.Duration
	Max      time.Duration
	LastRun  time.Time
}

// NewCommandStats creates an empty tracker.
func NewCommandStats() *CommandStats {
	return &CommandStats{kinds: make(map[string]*KindStats)}
}

// Record adds one execution outcome. Thread-safe.
func (c *CommandStats) Record(kind string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.kinds[kind]
	if !exists {
		stats = &KindStats{Kind: kind}
		c.kinds[kind] = stats
	}

	stats.Count++
	if !success {
		stats.Failures++
	}
	stats.Total += duration
	if duration > stats.Max {
		stats.Max = duration
	}
	stats.LastRun = time.Now()
}

// ByTotalDuration returns a copy of all kind statistics sorted by total
// time spent, descending. The most expensive kinds come first.
func (c *CommandStats) ByTotalDuration() []KindStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]KindStats, 0, len(c.kinds))
	for _, s := range c.kinds {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Total > stats[j].Total
	})
	return stats
}

// Summary renders one line per kind for the run log.
func (c *CommandStats) Summary() []string {
	stats := c.ByTotalDuration()
	lines := make([]string, 0, len(stats))
	for _, s := range stats {
		lines = append(lines, fmt.Sprintf("%s: %d run(s), %d failed, total %s, max %s",
			s.Kind, s.Count, s.Failures,
			s.Total.Round(time.Millisecond), s.Max.Round(time.Millisecond)))
	}
	return lines
}
