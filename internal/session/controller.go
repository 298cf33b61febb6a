// internal/session/controller.go
package session

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codetrail/internal/archive"
	"codetrail/internal/config"
	"codetrail/internal/eventhub"
	"codetrail/internal/gitinfo"
	"codetrail/internal/index"
	"codetrail/internal/parser"
	"codetrail/internal/snapshot"
	"codetrail/internal/transcript"
	"codetrail/internal/watcher"
)

// Controller orchestrates the session lifecycle: it feeds raw output
// through the parser, persists the resulting events in the transcript,
// drives state transitions, and triggers restore-point capture on file
// edits. One active stream drives exactly one parser and one state
// machine per session; sessions share only the object store and the
// manifest directory.
type Controller struct {
	settings    config.Settings
	sessions    *Store
	transcripts *transcript.Store
	snapshots   *snapshot.Manager
	idx         *index.Index
	archiver    *archive.Archiver
	hub         *eventhub.EventHub

	mu     sync.Mutex
	active map[string]*activeSession
}

// activeSession is the in-memory state of a session being driven
type activeSession struct {
	session *Session
	parser  *parser.Parser
	tracker *watcher.Tracker

	// id of the assistant_output entry still being streamed into, so
	// text arriving in later chunks amends it instead of fragmenting
	openTextEntry string

	// prompt currently awaiting an answer
	pendingPrompt *parser.Prompt

	// suppressed while waiting_input: observers stop getting streaming
	// signals until the prompt is answered
	streaming bool

	captures sync.WaitGroup
}

// NewController wires the controller to its collaborators. idx, archiver
// and hub may be nil; the corresponding side effects are skipped.
func NewController(settings config.Settings, sessions *Store, transcripts *transcript.Store, snapshots *snapshot.Manager, idx *index.Index, archiver *archive.Archiver, hub *eventhub.EventHub) *Controller {
	return &Controller{
		settings:    settings,
		sessions:    sessions,
		transcripts: transcripts,
		snapshots:   snapshots,
		idx:         idx,
		archiver:    archiver,
		hub:         hub,
		active:      make(map[string]*activeSession),
	}
}

// Start creates a new session for a project and puts it in running state
func (c *Controller) Start(projectPath string) (*Session, error) {
	now := time.Now()
	sess := &Session{
		ID:          uuid.New().String(),
		ProjectPath: projectPath,
		Status:      StatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Best effort: a project outside git is a normal condition
	if info, err := gitinfo.Lookup(projectPath); err == nil {
		sess.GitBranch = info.Branch
		sess.GitHead = info.ShortHead
	}

	if err := c.sessions.Save(sess); err != nil {
		return nil, err
	}
	c.indexSession(sess)

	act := &activeSession{
		session:   sess,
		parser:    parser.New(),
		streaming: false,
	}

	if tracker, err := watcher.New(projectPath, time.Duration(c.settings.WatcherDebounceMs)*time.Millisecond); err == nil {
		if err := tracker.Start(); err == nil {
			act.tracker = tracker
		} else {
			tracker.Close()
		}
	} else {
		log.Printf("[Controller] No modification tracking for %s: %v", projectPath, err)
	}

	c.mu.Lock()
	c.active[sess.ID] = act
	c.mu.Unlock()

	c.emitChanged(sess)
	return sess, nil
}

// lookup returns the active session state for an id. A session persisted
// by an earlier process is adopted on first use with a fresh parser and no
// modification tracker, so lifecycle commands work against any live
// session document, not just sessions started in this process.
func (c *Controller) lookup(sessionID string) (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if act, ok := c.active[sessionID]; ok {
		return act, nil
	}

	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	act := &activeSession{
		session: sess,
		parser:  parser.New(),
	}
	c.active[sessionID] = act
	return act, nil
}

// Feed pushes a raw output chunk into a session's parser and applies the
// resulting events: transcript appends, state transitions, restore-point
// capture. Parsing cost is proportional to the chunk, never to history.
func (c *Controller) Feed(sessionID, chunk string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if act.session.Status == StatusStopped {
		return ErrSessionStopped
	}

	act.streaming = act.session.Status == StatusRunning

	for _, ev := range act.parser.Parse(chunk) {
		c.apply(act, ev)
	}
	return nil
}

// EndOfStream flushes the parser at the end of the external process's
// output and applies whatever was still buffered
func (c *Controller) EndOfStream(sessionID string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	for _, ev := range act.parser.Flush() {
		c.apply(act, ev)
	}
	act.streaming = false
	return nil
}

// apply routes one parsed event into persistence and state transitions
func (c *Controller) apply(act *activeSession, ev parser.ParsedOutput) {
	sess := act.session

	if c.hub != nil {
		c.hub.EmitOutput(sess.ID, ev)
	}

	switch ev.Kind {
	case parser.KindText:
		c.applyText(act, ev.Content)

	case parser.KindToolEnd:
		act.openTextEntry = ""
		entry := &transcript.Entry{
			Kind:    transcript.KindToolCall,
			Content: fmt.Sprintf("%s (%s)", ev.Tool.Name, ev.Tool.Status),
		}
		c.append(sess.ID, entry)

	case parser.KindFileEdit:
		act.openTextEntry = ""
		entry := &transcript.Entry{
			Kind:    transcript.KindFileEdit,
			Content: ev.Content,
			FileEdit: &transcript.FileEditPayload{
				Operation: string(ev.FileEdit.Operation),
				Path:      ev.FileEdit.Path,
				Additions: ev.FileEdit.Additions,
				Deletions: ev.FileEdit.Deletions,
			},
		}
		c.append(sess.ID, entry)
		if c.settings.AutoCapture {
			c.captureAsync(act, entry.ID, ev.FileEdit)
		}

	case parser.KindCompactNotice:
		act.openTextEntry = ""
		if err := c.transcripts.MarkCompacted(sess.ID); err != nil {
			log.Printf("[Controller] Compaction marking failed for %s: %v", sess.ID, err)
		}
		c.append(sess.ID, &transcript.Entry{
			Kind:    transcript.KindCompactMarker,
			Content: ev.Content,
		})
		if c.hub != nil {
			c.hub.EmitCompacted(sess.ID)
		}

	case parser.KindPrompt:
		act.openTextEntry = ""
		act.pendingPrompt = ev.Prompt
		if err := c.transition(act, StatusWaitingInput); err == nil {
			if c.hub != nil {
				c.hub.EmitPromptDetected(sess.ID, ev.Prompt)
			}
		}
	}
}

// applyText appends or extends the current streaming assistant entry
func (c *Controller) applyText(act *activeSession, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}

	sess := act.session
	if act.openTextEntry != "" {
		entries, err := c.transcripts.Entries(sess.ID)
		if err == nil {
			for i := len(entries) - 1; i >= 0; i-- {
				if entries[i].ID == act.openTextEntry {
					amended := entries[i].Content + "\n" + content
					if c.transcripts.AmendContent(sess.ID, act.openTextEntry, amended) == nil {
						return
					}
					break
				}
			}
		}
	}

	entry := &transcript.Entry{
		Kind:    transcript.KindAssistantOutput,
		Content: content,
	}
	c.append(sess.ID, entry)
	act.openTextEntry = entry.ID
}

// append persists a transcript entry and emits it
func (c *Controller) append(sessionID string, entry *transcript.Entry) {
	if err := c.transcripts.Append(sessionID, entry); err != nil {
		log.Printf("[Controller] Append failed for %s: %v", sessionID, err)
		if c.hub != nil {
			c.hub.EmitSessionError(sessionID, err.Error())
		}
		return
	}
	if c.hub != nil {
		c.hub.EmitTranscriptEntry(entry)
	}
}

// captureAsync snapshots the edited files relative to the conversational
// turn without blocking the feed path, then links the restore point back
// into the transcript entry that triggered it.
func (c *Controller) captureAsync(act *activeSession, entryID string, edit *parser.FileEdit) {
	sess := act.session

	paths := []string{edit.Path}
	if act.tracker != nil {
		for _, path := range act.tracker.Drain() {
			if path != edit.Path {
				paths = append(paths, path)
			}
		}
	}
	description := fmt.Sprintf("After %s %s", edit.Operation, edit.Path)

	act.captures.Add(1)
	go func() {
		defer act.captures.Done()

		rp, err := c.snapshots.CreateFromDisk(sess.ID, description, paths, sess.ProjectPath, entryID)
		if err != nil {
			log.Printf("[Controller] Capture failed for %s: %v", sess.ID, err)
			if c.hub != nil {
				c.hub.EmitSessionError(sess.ID, err.Error())
			}
			return
		}

		if err := c.transcripts.LinkRestorePoint(sess.ID, entryID, rp.ID); err != nil {
			log.Printf("[Controller] Link failed for entry %s: %v", entryID, err)
		}
		c.indexRestorePoint(rp)
		if c.hub != nil {
			c.hub.EmitRestorePointCreated(rp)
		}
	}()
}

// Drain waits for in-flight restore-point captures of a session. Mainly
// useful for callers that need capture results to be visible, such as
// shutdown paths.
func (c *Controller) Drain(sessionID string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	act.captures.Wait()
	return nil
}

// Answer supplies the user's response to a pending prompt and returns the
// session to running. The answer is recorded as a user_input entry and
// the parser state is reset.
func (c *Controller) Answer(sessionID, text string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if act.session.Status != StatusWaitingInput {
		return ErrNotWaitingForInput
	}

	c.append(sessionID, &transcript.Entry{
		Kind:    transcript.KindUserInput,
		Content: text,
	})

	act.pendingPrompt = nil
	act.parser.Reset()
	return c.transition(act, StatusRunning)
}

// PendingPrompt returns the prompt a session is waiting on, or nil
func (c *Controller) PendingPrompt(sessionID string) (*parser.Prompt, error) {
	act, err := c.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return act.pendingPrompt, nil
}

// IsStreaming reports whether observers should show live streaming for a
// session. Entering waiting_input suppresses it until answered.
func (c *Controller) IsStreaming(sessionID string) bool {
	act, err := c.lookup(sessionID)
	if err != nil {
		return false
	}
	return act.streaming && act.session.Status == StatusRunning
}

// Pause moves a running or waiting session to paused
func (c *Controller) Pause(sessionID string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	return c.transition(act, StatusPaused)
}

// Resume moves a paused session back to running
func (c *Controller) Resume(sessionID string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	return c.transition(act, StatusRunning)
}

// Stop moves a session to its terminal state and releases its resources
func (c *Controller) Stop(sessionID string) error {
	act, err := c.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := c.transition(act, StatusStopped); err != nil {
		return err
	}

	act.streaming = false
	if act.tracker != nil {
		act.tracker.Close()
		act.tracker = nil
	}
	return nil
}

// transition validates and applies a state change, persisting it and
// notifying observers
func (c *Controller) transition(act *activeSession, to Status) error {
	sess := act.session
	if sess.Status == to {
		return nil
	}
	if sess.Status == StatusStopped {
		return ErrSessionStopped
	}
	if !canTransition(sess.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sess.Status, to)
	}

	sess.Status = to
	sess.UpdatedAt = time.Now()
	if to != StatusRunning {
		act.streaming = false
	}

	if err := c.sessions.Save(sess); err != nil {
		return err
	}
	c.indexSession(sess)
	c.emitChanged(sess)
	return nil
}

// Get loads a session's metadata
func (c *Controller) Get(sessionID string) (*Session, error) {
	return c.sessions.Get(sessionID)
}

// List returns all known sessions
func (c *Controller) List() ([]*Session, error) {
	return c.sessions.List()
}

// RestoreFiles materializes a restore point into the session's project
// root and records an optional transcript marker. With Backup set, the
// backup restore point is linked to that marker entry.
func (c *Controller) RestoreFiles(sessionID, restorePointID string, opts snapshot.RestoreOptions) (*snapshot.RestoreResult, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := c.snapshots.Restore(restorePointID, sess.ProjectPath, opts)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		marker := &transcript.Entry{
			Kind:    transcript.KindUserInput,
			Content: fmt.Sprintf("Restored %d file(s) from restore point %s", len(result.RestoredFiles), restorePointID),
		}
		c.append(sessionID, marker)

		if result.BackupID != "" {
			if backup, err := c.snapshots.Get(result.BackupID); err == nil {
				backup.TranscriptEntryID = marker.ID
				// Link direction is stored on the transcript side; the
				// manifest itself stays immutable
				if err := c.transcripts.LinkRestorePoint(sessionID, marker.ID, result.BackupID); err != nil {
					log.Printf("[Controller] Backup link failed: %v", err)
				}
				c.indexRestorePoint(backup)
			}
		}
	}
	return result, nil
}

// Delete removes a session's entire storage: metadata, transcript and
// restore point manifests. Freed objects become reclaimable on the next
// GC. With ArchiveOnDelete set, a compressed bundle is exported first.
func (c *Controller) Delete(sessionID string) error {
	if _, err := c.sessions.Get(sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	if act, ok := c.active[sessionID]; ok {
		if act.tracker != nil {
			act.tracker.Close()
		}
		delete(c.active, sessionID)
	}
	c.mu.Unlock()

	if c.settings.ArchiveOnDelete && c.archiver != nil {
		doc, derr := c.sessions.Raw(sessionID)
		logData, lerr := c.transcripts.Raw(sessionID)
		if derr == nil && lerr == nil {
			if _, err := c.archiver.Export(sessionID, doc, logData); err != nil {
				log.Printf("[Controller] Archive before delete failed for %s: %v", sessionID, err)
			}
		}
	}

	points, err := c.snapshots.List(sessionID)
	if err == nil {
		for _, rp := range points {
			if err := c.snapshots.Delete(rp.ID); err != nil {
				log.Printf("[Controller] Manifest delete failed for %s: %v", rp.ID, err)
			}
		}
	}

	if err := c.transcripts.Delete(sessionID); err != nil {
		return err
	}
	if err := c.sessions.Delete(sessionID); err != nil {
		return err
	}
	if c.idx != nil {
		if err := c.idx.DeleteSession(sessionID); err != nil {
			log.Printf("[Controller] Index delete failed for %s: %v", sessionID, err)
		}
	}
	return nil
}

// emitChanged notifies observers of a status change
func (c *Controller) emitChanged(sess *Session) {
	if c.hub == nil {
		return
	}
	c.hub.EmitSessionChanged(eventhub.SessionChangedEvent{
		ID:          sess.ID,
		ProjectPath: sess.ProjectPath,
		Status:      string(sess.Status),
	})
}

// indexSession mirrors a session document into the registry
func (c *Controller) indexSession(sess *Session) {
	if c.idx == nil {
		return
	}
	err := c.idx.UpsertSession(&index.SessionRow{
		ID:          sess.ID,
		ProjectPath: sess.ProjectPath,
		Status:      string(sess.Status),
		GitBranch:   sess.GitBranch,
		CreatedAt:   sess.CreatedAt,
		UpdatedAt:   sess.UpdatedAt,
	})
	if err != nil {
		log.Printf("[Controller] Index update failed for %s: %v", sess.ID, err)
	}
}

// indexRestorePoint mirrors a restore point into the registry
func (c *Controller) indexRestorePoint(rp *snapshot.RestorePoint) {
	if c.idx == nil {
		return
	}
	err := c.idx.UpsertRestorePoint(&index.RestorePointRow{
		ID:                rp.ID,
		SessionID:         rp.SessionID,
		Description:       rp.Description,
		TranscriptEntryID: rp.TranscriptEntryID,
		FileCount:         rp.FileCount,
		TotalSize:         rp.TotalSize,
		CreatedAt:         rp.Timestamp,
	})
	if err != nil {
		log.Printf("[Controller] Index update failed for restore point %s: %v", rp.ID, err)
	}
}
