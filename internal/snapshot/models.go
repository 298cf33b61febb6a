// internal/snapshot/models.go
package snapshot

import "time"

// FileEntry is one manifest row, referencing a stored object by hash
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Mode uint32 `json:"mode"`
	Size int64  `json:"size"`
}

// RestorePoint is an immutable snapshot of a set of project files, linked
// to the transcript moment that produced it
type RestorePoint struct {
	ID                string      `json:"id"`
	SessionID         string      `json:"session_id"`
	Description       string      `json:"description"`
	Timestamp         time.Time   `json:"timestamp"`
	Files             []FileEntry `json:"files"`
	TranscriptEntryID string      `json:"transcript_entry_id,omitempty"`
	TotalSize         int64       `json:"total_size"`
	FileCount         int         `json:"file_count"`
}

// FileContent is an input file for restore point creation
type FileContent struct {
	Path    string
	Content []byte
	Mode    uint32 // zero means 0644
}

// Diff is the path-level difference between two restore points
type Diff struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// RestoreOptions controls a restore operation
type RestoreOptions struct {
	// Files restricts the restore to these manifest paths; empty means all
	Files []string
	// Backup captures the current on-disk contents before overwriting
	Backup bool
	// DryRun resolves and reports intended effects without writing
	DryRun bool
}

// SkippedFile records one per-file failure during restore
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// RestoreResult reports the outcome of a restore operation. Per-file
// failures are collected in SkippedFiles; the operation itself still
// succeeds.
type RestoreResult struct {
	RestoredFiles []string      `json:"restored_files"`
	SkippedFiles  []SkippedFile `json:"skipped_files"`
	BackupID      string        `json:"backup_id,omitempty"`
}

// GCResult reports what a garbage collection sweep removed
type GCResult struct {
	Removed    int   `json:"removed"`
	FreedBytes int64 `json:"freed_bytes"`
}
