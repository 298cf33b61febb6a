package eventhub

import (
	"context"

	"codetrail/internal/parser"
	"codetrail/internal/snapshot"
	"codetrail/internal/transcript"
)

// Broadcaster delivers events to whatever transport the embedder wires in.
// The hub itself owns no transport; delivery is a collaborator concern.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub is the single dispatch point for everything the core produces
type EventHub struct {
	ctx         context.Context
	broadcaster Broadcaster
}

// New creates an EventHub
func New(ctx context.Context) *EventHub {
	return &EventHub{ctx: ctx}
}

// SetBroadcaster wires in the delivery mechanism
func (h *EventHub) SetBroadcaster(b Broadcaster) {
	h.broadcaster = b
}

func (h *EventHub) emit(eventName string, payload interface{}) {
	if h.broadcaster != nil {
		h.broadcaster.BroadcastEvent(eventName, payload)
	}
}

// Emit is the generic event dispatch method
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// SessionChangedEvent reports a session status transition
type SessionChangedEvent struct {
	ID          string `json:"id"`
	ProjectPath string `json:"project_path"`
	Status      string `json:"status"`
}

func (h *EventHub) EmitSessionChanged(event SessionChangedEvent) {
	h.emit("session:changed", event)
}

// EmitOutput forwards a parsed output event for a session
func (h *EventHub) EmitOutput(sessionID string, output parser.ParsedOutput) {
	h.emit("session:output", map[string]interface{}{
		"session_id": sessionID,
		"output":     output,
	})
}

// EmitTranscriptEntry reports an entry appended to a session transcript
func (h *EventHub) EmitTranscriptEntry(entry *transcript.Entry) {
	h.emit("transcript:entry", entry)
}

// EmitPromptDetected reports an input request detected in the output stream
func (h *EventHub) EmitPromptDetected(sessionID string, prompt *parser.Prompt) {
	h.emit("prompt:detected", map[string]interface{}{
		"session_id": sessionID,
		"prompt":     prompt,
	})
}

// EmitRestorePointCreated reports a new restore point
func (h *EventHub) EmitRestorePointCreated(rp *snapshot.RestorePoint) {
	h.emit("restorepoint:created", rp)
}

// EmitCompacted reports that a session's transcript was compaction-marked
func (h *EventHub) EmitCompacted(sessionID string) {
	h.emit("transcript:compacted", map[string]interface{}{
		"session_id": sessionID,
	})
}

// EmitSessionError reports a non-fatal error inside a session pipeline
func (h *EventHub) EmitSessionError(sessionID string, err string) {
	h.emit("session:error", map[string]interface{}{
		"session_id": sessionID,
		"error":      err,
	})
}
