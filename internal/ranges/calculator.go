// Package ranges maps ledger heights to their owning partition ranges.
// All functions are pure; the partition width is fixed by configuration
// and must be positive.
package ranges

import "fmt"

// BoundsFor returns the half-open [start, end) range owning the given
// height. start is always a multiple of width and start <= height < end.
func BoundsFor(height, width int64) (start, end int64) {
	start = (height / width) * width
	return start, start + width
}

// PartitionName derives the physical partition name for a range starting
// at start. The mapping is deterministic and collision-free: every other
// component refers to a partition through this name.
func PartitionName(parent string, start int64) string {
	return fmt.Sprintf("%s_p%d", parent, start)
}

// SpannedStarts returns the start of every range touched by heights in
// [lo, hi], in ascending order. Returns nil if hi < lo.
func SpannedStarts(lo, hi, width int64) []int64 {
	if hi < lo {
		return nil
	}
	first, _ := BoundsFor(lo, width)
	last, _ := BoundsFor(hi, width)

	starts := make([]int64, 0, (last-first)/width+1)
	for s := first; s <= last; s += width {
		starts = append(starts, s)
	}
	return starts
}

// LookaheadMargin converts the configured lookahead fraction into a height
// margin. A fraction of 0.20 with width 50000 yields 10000.
func LookaheadMargin(width int64, fraction float64) int64 {
	return int64(float64(width) * fraction)
}

// NeedsLookahead reports whether the next range beyond the one owning
// currentMax should be provisioned now: true once currentMax is within
// margin heights of the active range's end.
func NeedsLookahead(currentMax, width, margin int64) bool {
	_, end := BoundsFor(currentMax, width)
	return currentMax+margin >= end
}
