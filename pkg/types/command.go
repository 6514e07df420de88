package types

import "time"

// MaintenanceCommand is one maintenance operation in the scheduler's
// prioritized command set. Commands execute in ascending Priority order.
type MaintenanceCommand struct {
	// Text is the SQL statement (or internal command name) to execute.
	Text string `json:"text"`

	// Priority orders execution; lower runs first.
	Priority int `json:"priority"`

	// Target names the resource the command maintains (e.g. a table).
	// Commands with a Target get a history entry per execution.
	// Empty for commands that are not tracked per-resource.
	Target string `json:"target,omitempty"`

	// Kind classifies the operation for the history ledger
	// (e.g. "vacuum", "analyze", "refresh", "partition_upkeep").
	Kind string `json:"kind,omitempty"`

	// ReadOnly marks pure diagnostics. Read-only commands are listed for
	// operators but filtered out of the executable set.
	ReadOnly bool `json:"read_only,omitempty"`
}

// HistoryEntry is one record in the append-only maintenance history ledger.
type HistoryEntry struct {
	Target      string    `json:"target"`
	Kind        string    `json:"kind"`
	Success     bool      `json:"success"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// BackupInfo describes one backup artifact tracked by the backup manifest.
type BackupInfo struct {
	// ID uniquely identifies the backup.
	ID string `json:"id"`

	// Path is the artifact's location on the local filesystem.
	Path string `json:"path"`

	// SizeBytes is the artifact size after verification.
	SizeBytes int64 `json:"size_bytes"`

	// Checksum is the content fingerprint recorded at creation time.
	Checksum string `json:"checksum"`

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time `json:"created_at"`
}
