// internal/session/models.go
package session

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusPaused       Status = "paused"
	// StatusStopped is terminal; a stopped session has no outgoing transitions
	StatusStopped Status = "stopped"
)

var (
	// ErrSessionNotFound is returned when no session exists for an id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStopped is returned for operations on a stopped session
	ErrSessionStopped = errors.New("session is stopped")
	// ErrInvalidTransition is returned for a disallowed state change
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotWaitingForInput is returned when an answer arrives without a prompt
	ErrNotWaitingForInput = errors.New("session is not waiting for input")
)

// Session is the metadata document of one assistant session
type Session struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path"`
	Status      Status    `json:"status"`
	GitBranch   string    `json:"git_branch,omitempty"`
	GitHead     string    `json:"git_head,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// validTransitions maps each state to the states it may move to
var validTransitions = map[Status][]Status{
	StatusRunning:      {StatusWaitingInput, StatusPaused, StatusStopped},
	StatusWaitingInput: {StatusRunning, StatusPaused, StatusStopped},
	StatusPaused:       {StatusRunning, StatusStopped},
	StatusStopped:      {},
}

// canTransition reports whether moving from one status to another is allowed
func canTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
