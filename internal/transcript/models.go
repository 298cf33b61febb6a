// internal/transcript/models.go
package transcript

import "time"

// Kind classifies a transcript entry
type Kind string

const (
	KindUserInput       Kind = "user_input"
	KindAssistantOutput Kind = "assistant_output"
	KindToolCall        Kind = "tool_call"
	KindFileEdit        Kind = "file_edit"
	KindCompactMarker   Kind = "compact_marker"
)

// FileEditPayload carries the file-operation details of a file_edit entry
type FileEditPayload struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
	Additions int    `json:"additions,omitempty"`
	Deletions int    `json:"deletions,omitempty"`
}

// Entry is a single record in a session's transcript log
type Entry struct {
	ID             string           `json:"id"`
	SessionID      string           `json:"session_id"`
	Kind           Kind             `json:"kind"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	RestorePointID string           `json:"restore_point_id,omitempty"`
	PlanItemID     string           `json:"plan_item_id,omitempty"`
	FileEdit       *FileEditPayload `json:"file_edit,omitempty"`
	IsCompacted    bool             `json:"is_compacted,omitempty"`
}
