package types

import "time"

// Partition describes one range partition of the ledger table.
// Bounds are half-open: a partition owns heights in [Start, End).
type Partition struct {
	// Name is the physical table name, derived deterministically from Start.
	Name string `json:"name"`

	// Start is the inclusive lower bound. Always a multiple of the
	// configured partition width.
	Start int64 `json:"start"`

	// End is the exclusive upper bound (Start + width).
	End int64 `json:"end"`

	// RowCount is the number of rows currently in the partition.
	RowCount int64 `json:"row_count"`

	// SizeBytes is the total on-disk size, including indexes.
	SizeBytes int64 `json:"size_bytes"`

	// LastAnalyzed is when statistics were last refreshed for this
	// partition. Nil if the partition has never been analyzed.
	LastAnalyzed *time.Time `json:"last_analyzed,omitempty"`
}

// Contains reports whether the given height falls inside this partition.
func (p Partition) Contains(height int64) bool {
	return height >= p.Start && height < p.End
}

// Width returns the span of the partition in heights.
func (p Partition) Width() int64 {
	return p.End - p.Start
}
