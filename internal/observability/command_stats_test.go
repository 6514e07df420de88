package observability

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordAggregatesByKind(t *testing.T) {
	cs := NewCommandStats()
	cs.Record("analyze", 2*time.Second, true)
	cs.Record("analyze", 4*time.Second, false)
	cs.Record("vacuum", 10*time.Second, true)

	stats := cs.ByTotalDuration()
	if len(stats) != 2 {
		t.Fatalf("expected 2 kinds, got %d", len(stats))
	}
	if stats[0].Kind != "vacuum" {
		t.Errorf("expected most expensive kind first, got %s", stats[0].Kind)
	}

	var analyze KindStats
	for _, s := range stats {
		if s.Kind == "analyze" {
			analyze = s
		}
	}
	if analyze.Count != 2 || analyze.Failures != 1 {
		t.Errorf("analyze count=%d failures=%d, want 2/1", analyze.Count, analyze.Failures)
	}
	if analyze.Total != 6*time.Second || analyze.Max != 4*time.Second {
		t.Errorf("analyze total=%s max=%s", analyze.Total, analyze.Max)
	}
}

func TestSummaryRendersOneLinePerKind(t *testing.T) {
	cs := NewCommandStats()
	cs.Record("refresh", 500*time.Millisecond, true)

	lines := cs.Summary()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "refresh: 1 run(s), 0 failed") {
		t.Errorf("unexpected summary line: %s", lines[0])
	}
}

func TestRecordConcurrent(t *testing.T) {
	cs := NewCommandStats()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cs.Record("vacuum", time.Millisecond, true)
			}
		}()
	}
	wg.Wait()

	stats := cs.ByTotalDuration()
	if len(stats) != 1 || stats[0].Count != 1000 {
		t.Fatalf("expected 1000 recordings, got %+v", stats)
	}
}
