package ranges

import (
	"testing"
)

func TestBoundsFor(t *testing.T) {
	tests := []struct {
		name      string
		height    int64
		width     int64
		wantStart int64
		wantEnd   int64
	}{
		{"genesis", 0, 50000, 0, 50000},
		{"first range interior", 12345, 50000, 0, 50000},
		{"last height of first range", 49999, 50000, 0, 50000},
		{"exact boundary starts new range", 50000, 50000, 50000, 100000},
		{"third range", 149999, 50000, 100000, 150000},
		{"small width", 7, 10, 0, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := BoundsFor(tt.height, tt.width)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("BoundsFor(%d, %d) = [%d, %d), want [%d, %d)",
					tt.height, tt.width, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestPartitionName(t *testing.T) {
	if got := PartitionName("utxos", 0); got != "utxos_p0" {
		t.Errorf("expected utxos_p0, got %s", got)
	}
	if got := PartitionName("utxos", 150000); got != "utxos_p150000" {
		t.Errorf("expected utxos_p150000, got %s", got)
	}
}

func TestPartitionNameCollisionFree(t *testing.T) {
	seen := make(map[string]int64)
	for s := int64(0); s <= 500000; s += 50000 {
		name := PartitionName("utxos", s)
		if prev, ok := seen[name]; ok {
			t.Fatalf("name %s produced for both start %d and %d", name, prev, s)
		}
		seen[name] = s
	}
}

func TestSpannedStarts(t *testing.T) {
	got := SpannedStarts(0, 149999, 50000)
	want := []int64{0, 50000, 100000}
	if len(got) != len(want) {
		t.Fatalf("expected %d starts, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("starts[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSpannedStartsSingleRange(t *testing.T) {
	got := SpannedStarts(100, 200, 50000)
	if len(got) != 1 || got[0] != 0 {
		t.Errorf("expected [0], got %v", got)
	}
}

func TestSpannedStartsEmptyWhenInverted(t *testing.T) {
	if got := SpannedStarts(200, 100, 50000); got != nil {
		t.Errorf("expected nil for inverted range, got %v", got)
	}
}

func TestLookaheadMargin(t *testing.T) {
	if got := LookaheadMargin(50000, 0.20); got != 10000 {
		t.Errorf("expected margin 10000, got %d", got)
	}
}

func TestNeedsLookahead(t *testing.T) {
	tests := []struct {
		name       string
		currentMax int64
		margin     int64
		want       bool
	}{
		// 139999 + 10000 >= 150000: the next range must be provisioned.
		{"inside margin of range end", 139999, 10000, true},
		{"exactly at threshold", 140000, 10000, true},
		{"well before threshold", 120000, 10000, false},
		{"just below threshold", 139999, 10000, true},
		{"far from boundary", 100001, 10000, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsLookahead(tt.currentMax, 50000, tt.margin); got != tt.want {
				t.Errorf("NeedsLookahead(%d, 50000, %d) = %v, want %v",
					tt.currentMax, tt.margin, got, tt.want)
			}
		})
	}
}
