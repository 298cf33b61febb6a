package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"codetrail/internal/archive"
	"codetrail/internal/config"
	"codetrail/internal/eventhub"
	"codetrail/internal/objectstore"
	"codetrail/internal/snapshot"
	"codetrail/internal/transcript"
)

// recordingBroadcaster captures emitted events for assertions
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *recordingBroadcaster) has(eventType string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type testEnv struct {
	controller  *Controller
	sessions    *Store
	transcripts *transcript.Store
	snapshots   *snapshot.Manager
	archiver    *archive.Archiver
	broadcaster *recordingBroadcaster
	projectDir  string
}

func newTestEnv(t *testing.T, settings config.Settings) *testEnv {
	t.Helper()
	root := t.TempDir()

	sessions, err := NewStore(filepath.Join(root, "sessions"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	transcripts, err := transcript.NewStore(filepath.Join(root, "transcripts"))
	if err != nil {
		t.Fatalf("transcript.NewStore failed: %v", err)
	}
	objects, err := objectstore.New(filepath.Join(root, "objects"))
	if err != nil {
		t.Fatalf("objectstore.New failed: %v", err)
	}
	snapshots, err := snapshot.NewManager(objects, filepath.Join(root, "manifests"))
	if err != nil {
		t.Fatalf("snapshot.NewManager failed: %v", err)
	}
	archiver, err := archive.New(filepath.Join(root, "archive"), 3)
	if err != nil {
		t.Fatalf("archive.New failed: %v", err)
	}

	broadcaster := &recordingBroadcaster{}
	hub := eventhub.New(context.Background())
	hub.SetBroadcaster(broadcaster)

	projectDir := filepath.Join(root, "project")
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatal(err)
	}

	return &testEnv{
		controller:  NewController(settings, sessions, transcripts, snapshots, nil, archiver, hub),
		sessions:    sessions,
		transcripts: transcripts,
		snapshots:   snapshots,
		archiver:    archiver,
		broadcaster: broadcaster,
		projectDir:  projectDir,
	}
}

func TestController_StartCreatesRunningSession(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())

	sess, err := env.controller.Start(env.projectDir)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess.Status != StatusRunning {
		t.Errorf("Expected running, got %s", sess.Status)
	}
	if sess.ProjectPath != env.projectDir {
		t.Errorf("Expected project path %s, got %s", env.projectDir, sess.ProjectPath)
	}

	persisted, err := env.sessions.Get(sess.ID)
	if err != nil {
		t.Fatalf("Session not persisted: %v", err)
	}
	if persisted.Status != StatusRunning {
		t.Errorf("Persisted status = %s", persisted.Status)
	}
	if !env.broadcaster.has("session:changed") {
		t.Error("Expected session:changed event")
	}
}

func TestController_FeedAppendsAssistantOutput(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	if err := env.controller.Feed(sess.ID, "Hello there\n"); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	entries, err := env.transcripts.Entries(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Kind != transcript.KindAssistantOutput || entries[0].Content != "Hello there" {
		t.Errorf("Unexpected entry: %+v", entries[0])
	}
}

func TestController_ContiguousTextAmendsOneEntry(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	env.controller.Feed(sess.ID, "First line\n")
	env.controller.Feed(sess.ID, "Second line\n")

	entries, _ := env.transcripts.Entries(sess.ID)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 merged entry, got %d", len(entries))
	}
	if entries[0].Content != "First line\nSecond line" {
		t.Errorf("Unexpected merged content: %q", entries[0].Content)
	}
}

func TestController_ToolCallBreaksTextRun(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	env.controller.Feed(sess.ID, "Before\n")
	env.controller.Feed(sess.ID, "Running tool: search\n")
	env.controller.Feed(sess.ID, "Tool completed found 3 results\n")
	env.controller.Feed(sess.ID, "After\n")

	entries, _ := env.transcripts.Entries(sess.ID)
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[1].Kind != transcript.KindToolCall {
		t.Errorf("Expected tool_call, got %s", entries[1].Kind)
	}
	if entries[2].Kind != transcript.KindAssistantOutput || entries[2].Content != "After" {
		t.Errorf("Text after tool call should start a fresh entry: %+v", entries[2])
	}
}

func TestController_FileEditTriggersCapture(t *testing.T) {
	settings := config.DefaultSettings()
	settings.WatcherDebounceMs = 10
	env := newTestEnv(t, settings)

	if err := os.WriteFile(filepath.Join(env.projectDir, "app.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sess, _ := env.controller.Start(env.projectDir)
	if err := env.controller.Feed(sess.ID, "Modified app.go [+2 -0]\n"); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	if err := env.controller.Drain(sess.ID); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}

	points, err := env.snapshots.List(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 {
		t.Fatalf("Expected 1 restore point, got %d", len(points))
	}
	if points[0].FileCount != 1 || points[0].Files[0].Path != "app.go" {
		t.Errorf("Unexpected restore point contents: %+v", points[0].Files)
	}

	entries, _ := env.transcripts.Entries(sess.ID)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Kind != transcript.KindFileEdit {
		t.Errorf("Expected file_edit entry, got %s", entries[0].Kind)
	}
	if entries[0].RestorePointID != points[0].ID {
		t.Errorf("Entry not linked to restore point: %q vs %q", entries[0].RestorePointID, points[0].ID)
	}
	if points[0].TranscriptEntryID != entries[0].ID {
		t.Errorf("Restore point not linked back to entry")
	}
	if !env.broadcaster.has("restorepoint:created") {
		t.Error("Expected restorepoint:created event")
	}
}

func TestController_AutoCaptureDisabled(t *testing.T) {
	settings := config.DefaultSettings()
	settings.AutoCapture = false
	env := newTestEnv(t, settings)

	if err := os.WriteFile(filepath.Join(env.projectDir, "app.go"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Feed(sess.ID, "Modified app.go\n")
	env.controller.Drain(sess.ID)

	points, _ := env.snapshots.List(sess.ID)
	if len(points) != 0 {
		t.Errorf("Expected no restore points with auto capture off, got %d", len(points))
	}
}

func TestController_PromptMovesToWaitingInput(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	if err := env.controller.Feed(sess.ID, "Apply these changes? [y/n] "); err != nil {
		t.Fatalf("Feed failed: %v", err)
	}

	got, _ := env.controller.Get(sess.ID)
	if got.Status != StatusWaitingInput {
		t.Fatalf("Expected waiting_input, got %s", got.Status)
	}
	prompt, err := env.controller.PendingPrompt(sess.ID)
	if err != nil || prompt == nil {
		t.Fatalf("Expected pending prompt, got %v (%v)", prompt, err)
	}
	if !env.broadcaster.has("prompt:detected") {
		t.Error("Expected prompt:detected event")
	}
	if env.controller.IsStreaming(sess.ID) {
		t.Error("Streaming should be suppressed while waiting for input")
	}
}

func TestController_AnswerReturnsToRunning(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	env.controller.Feed(sess.ID, "Continue? ")
	if err := env.controller.Answer(sess.ID, "yes"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	got, _ := env.controller.Get(sess.ID)
	if got.Status != StatusRunning {
		t.Errorf("Expected running after answer, got %s", got.Status)
	}
	prompt, _ := env.controller.PendingPrompt(sess.ID)
	if prompt != nil {
		t.Error("Pending prompt should be cleared")
	}

	entries, _ := env.transcripts.Entries(sess.ID)
	last := entries[len(entries)-1]
	if last.Kind != transcript.KindUserInput || last.Content != "yes" {
		t.Errorf("Expected user_input entry with answer, got %+v", last)
	}
}

func TestController_AnswerWithoutPrompt(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	if err := env.controller.Answer(sess.ID, "yes"); !errors.Is(err, ErrNotWaitingForInput) {
		t.Errorf("Expected ErrNotWaitingForInput, got %v", err)
	}
}

func TestController_NumberedPromptFlushedAtEndOfStream(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	env.controller.Feed(sess.ID, "1. Keep both\n2. Overwrite\n3. Cancel\n")
	if err := env.controller.EndOfStream(sess.ID); err != nil {
		t.Fatalf("EndOfStream failed: %v", err)
	}

	prompt, _ := env.controller.PendingPrompt(sess.ID)
	if prompt == nil {
		t.Fatal("Expected pending numbered prompt")
	}
	if len(prompt.Options) != 3 {
		t.Errorf("Expected 3 options, got %d", len(prompt.Options))
	}
}

func TestController_PauseResumeStop(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	if err := env.controller.Pause(sess.ID); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if got, _ := env.controller.Get(sess.ID); got.Status != StatusPaused {
		t.Errorf("Expected paused, got %s", got.Status)
	}

	if err := env.controller.Resume(sess.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got, _ := env.controller.Get(sess.ID); got.Status != StatusRunning {
		t.Errorf("Expected running, got %s", got.Status)
	}

	if err := env.controller.Stop(sess.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got, _ := env.controller.Get(sess.ID); got.Status != StatusStopped {
		t.Errorf("Expected stopped, got %s", got.Status)
	}
}

func TestController_StoppedIsTerminal(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Stop(sess.ID)

	if err := env.controller.Resume(sess.ID); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped on resume, got %v", err)
	}
	if err := env.controller.Feed(sess.ID, "more output\n"); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped on feed, got %v", err)
	}
}

func TestController_UnknownSession(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	if err := env.controller.Feed("nope", "text\n"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestController_CompactNoticeMarksTranscript(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	env.controller.Feed(sess.ID, "Some earlier output\n")
	env.controller.Feed(sess.ID, "Context compacted to save space\n")

	entries, _ := env.transcripts.Entries(sess.ID)
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if !entries[0].IsCompacted {
		t.Error("Pre-compaction entry should be marked compacted")
	}
	if entries[1].Kind != transcript.KindCompactMarker {
		t.Errorf("Expected compact_marker, got %s", entries[1].Kind)
	}
	if !env.broadcaster.has("transcript:compacted") {
		t.Error("Expected transcript:compacted event")
	}
}

func TestController_RestoreFilesWritesMarkerAndLinksBackup(t *testing.T) {
	settings := config.DefaultSettings()
	settings.WatcherDebounceMs = 10
	env := newTestEnv(t, settings)

	target := filepath.Join(env.projectDir, "main.go")
	if err := os.WriteFile(target, []byte("old content"), 0644); err != nil {
		t.Fatal(err)
	}

	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Feed(sess.ID, "Modified main.go\n")
	env.controller.Drain(sess.ID)

	points, _ := env.snapshots.List(sess.ID)
	if len(points) != 1 {
		t.Fatalf("Expected 1 restore point, got %d", len(points))
	}

	if err := os.WriteFile(target, []byte("new content"), 0644); err != nil {
		t.Fatal(err)
	}

	result, err := env.controller.RestoreFiles(sess.ID, points[0].ID, snapshot.RestoreOptions{Backup: true})
	if err != nil {
		t.Fatalf("RestoreFiles failed: %v", err)
	}
	if len(result.RestoredFiles) != 1 {
		t.Fatalf("Expected 1 restored file, got %d", len(result.RestoredFiles))
	}

	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "old content" {
		t.Errorf("Expected restored content, got %q", data)
	}

	// The pre-restore state survives through the backup restore point
	if result.BackupID == "" {
		t.Fatal("Expected a backup restore point")
	}
	backed, err := env.snapshots.FileAt(result.BackupID, "main.go")
	if err != nil {
		t.Fatalf("FileAt backup failed: %v", err)
	}
	if string(backed) != "new content" {
		t.Errorf("Expected backup of pre-restore content, got %q", backed)
	}

	// A marker entry records the restore and carries the backup link
	entries, _ := env.transcripts.Entries(sess.ID)
	last := entries[len(entries)-1]
	if last.Kind != transcript.KindUserInput {
		t.Errorf("Expected restore marker entry, got %s", last.Kind)
	}
	if last.RestorePointID != result.BackupID {
		t.Errorf("Marker entry should link the backup: %q vs %q", last.RestorePointID, result.BackupID)
	}
}

func TestController_RestoreDryRunLeavesDiskUntouched(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())

	target := filepath.Join(env.projectDir, "main.go")
	os.WriteFile(target, []byte("v1"), 0644)

	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Feed(sess.ID, "Modified main.go\n")
	env.controller.Drain(sess.ID)
	points, _ := env.snapshots.List(sess.ID)

	os.WriteFile(target, []byte("v2"), 0644)
	before, _ := env.transcripts.Entries(sess.ID)

	result, err := env.controller.RestoreFiles(sess.ID, points[0].ID, snapshot.RestoreOptions{DryRun: true})
	if err != nil {
		t.Fatalf("RestoreFiles failed: %v", err)
	}
	if len(result.RestoredFiles) != 1 {
		t.Errorf("Dry run should report restorable files, got %d", len(result.RestoredFiles))
	}

	data, _ := os.ReadFile(target)
	if string(data) != "v2" {
		t.Errorf("Dry run must not touch disk, got %q", data)
	}
	after, _ := env.transcripts.Entries(sess.ID)
	if len(after) != len(before) {
		t.Error("Dry run must not append a marker entry")
	}
}

func TestController_DeleteRemovesAllStorage(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())

	os.WriteFile(filepath.Join(env.projectDir, "a.txt"), []byte("a"), 0644)
	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Feed(sess.ID, "Modified a.txt\n")
	env.controller.Drain(sess.ID)

	if err := env.controller.Delete(sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := env.sessions.Get(sess.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Session doc should be gone, got %v", err)
	}
	entries, err := env.transcripts.Entries(sess.ID)
	if err != nil || len(entries) != 0 {
		t.Errorf("Transcript should be gone, got %d entries (%v)", len(entries), err)
	}
	points, _ := env.snapshots.List(sess.ID)
	if len(points) != 0 {
		t.Errorf("Manifests should be gone, got %d", len(points))
	}
}

func TestController_DeleteArchivesWhenConfigured(t *testing.T) {
	settings := config.DefaultSettings()
	settings.ArchiveOnDelete = true
	env := newTestEnv(t, settings)

	sess, _ := env.controller.Start(env.projectDir)
	env.controller.Feed(sess.ID, "Some output worth keeping\n")

	if err := env.controller.Delete(sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !env.archiver.Has(sess.ID) {
		t.Error("Expected an archive bundle after delete")
	}

	bundle, err := env.archiver.Import(sess.ID)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if bundle.SessionID != sess.ID {
		t.Errorf("Bundle session id = %q", bundle.SessionID)
	}
	if len(bundle.Transcript) == 0 {
		t.Error("Expected transcript bytes in bundle")
	}
}

func TestController_AdoptsPersistedSession(t *testing.T) {
	env := newTestEnv(t, config.DefaultSettings())
	sess, _ := env.controller.Start(env.projectDir)

	// A fresh controller over the same storage, as a separate process
	// would construct
	hub := eventhub.New(context.Background())
	other := NewController(config.DefaultSettings(), env.sessions, env.transcripts, env.snapshots, nil, env.archiver, hub)

	if err := other.Pause(sess.ID); err != nil {
		t.Fatalf("Pause through fresh controller failed: %v", err)
	}
	got, err := env.sessions.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPaused {
		t.Errorf("Expected paused, got %s", got.Status)
	}

	if err := other.Resume(sess.ID); err != nil {
		t.Fatalf("Resume through fresh controller failed: %v", err)
	}
	if err := other.Feed(sess.ID, "picked up output\n"); err != nil {
		t.Fatalf("Feed through fresh controller failed: %v", err)
	}
	entries, _ := env.transcripts.Entries(sess.ID)
	if len(entries) == 0 || entries[len(entries)-1].Content != "picked up output" {
		t.Errorf("Expected appended entry from adopted session, got %+v", entries)
	}

	if err := other.Stop(sess.ID); err != nil {
		t.Fatalf("Stop through fresh controller failed: %v", err)
	}
	third := NewController(config.DefaultSettings(), env.sessions, env.transcripts, env.snapshots, nil, env.archiver, hub)
	if err := third.Feed(sess.ID, "late output\n"); !errors.Is(err, ErrSessionStopped) {
		t.Errorf("Expected ErrSessionStopped for adopted stopped session, got %v", err)
	}
}
