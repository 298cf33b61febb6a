// internal/transcript/store.go
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound is returned by rewrite operations targeting an id that
// is not in the session's log.
var ErrEntryNotFound = errors.New("transcript entry not found")

// Store is a durable, mostly-append log of session events. Each session
// owns one newline-delimited JSON file; entries are normally appended, and
// a small set of operations (linking, compaction marking, streaming
// amendment) rewrite the whole log for that session.
//
// Appends for different sessions may interleave freely. For one session,
// rewrites are exclusive with each other and with appends.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store writing per-session logs under dir
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// sessionLock returns the per-session mutex, creating it on first use
func (s *Store) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

// logPath returns the JSONL file for a session
func (s *Store) logPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append adds an entry to the end of a session's log. A missing id or
// timestamp is filled in.
func (s *Store) Append(sessionID string, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.SessionID = sessionID

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(s.logPath(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

// Entries returns all entries for a session in append order. A session
// with no log yet yields an empty slice, not an error.
func (s *Store) Entries(sessionID string) ([]Entry, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	return s.readAll(sessionID)
}

// EntriesRange returns entries with 1-based positions in [start, end]
func (s *Store) EntriesRange(sessionID string, start, end int) ([]Entry, error) {
	if start < 1 {
		start = 1
	}
	entries, err := s.Entries(sessionID)
	if err != nil {
		return nil, err
	}
	if start > len(entries) || end < start {
		return []Entry{}, nil
	}
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start-1 : end], nil
}

// readAll reads the log without locking; callers hold the session lock
func (s *Store) readAll(sessionID string) ([]Entry, error) {
	f, err := os.Open(s.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(f)

	// Increase buffer size for potentially large lines
	const maxCapacity = 1024 * 1024 // 1MB
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			// Skip malformed lines but continue processing
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return entries, nil
}

// rewrite loads the session's log, applies mutate, and writes the whole
// log back via temp file + rename. mutate reports whether anything
// changed; an unchanged log is not rewritten.
func (s *Store) rewrite(sessionID string, mutate func(entries []Entry) (bool, error)) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	entries, err := s.readAll(sessionID)
	if err != nil {
		return err
	}

	changed, err := mutate(entries)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	tmp, err := os.CreateTemp(s.dir, "."+sessionID+"-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp transcript: %w", err)
	}
	tmpName := tmp.Name()

	w := bufio.NewWriter(tmp)
	for i := range entries {
		line, err := json.Marshal(&entries[i])
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return fmt.Errorf("marshal entry: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("flush transcript: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close transcript: %w", err)
	}
	if err := os.Rename(tmpName, s.logPath(sessionID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace transcript: %w", err)
	}
	return nil
}

// LinkRestorePoint records the restore point created for an entry
func (s *Store) LinkRestorePoint(sessionID, entryID, restorePointID string) error {
	return s.rewrite(sessionID, func(entries []Entry) (bool, error) {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].RestorePointID = restorePointID
				return true, nil
			}
		}
		return false, ErrEntryNotFound
	})
}

// LinkPlanItem records the plan item an entry belongs to
func (s *Store) LinkPlanItem(sessionID, entryID, planItemID string) error {
	return s.rewrite(sessionID, func(entries []Entry) (bool, error) {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].PlanItemID = planItemID
				return true, nil
			}
		}
		return false, ErrEntryNotFound
	})
}

// AmendContent replaces the content of an entry, used while an assistant
// message is still streaming
func (s *Store) AmendContent(sessionID, entryID, content string) error {
	return s.rewrite(sessionID, func(entries []Entry) (bool, error) {
		for i := range entries {
			if entries[i].ID == entryID {
				entries[i].Content = content
				return true, nil
			}
		}
		return false, ErrEntryNotFound
	})
}

// MarkCompacted flags every current entry of the session as compacted.
// Entries are never physically removed here; compaction only marks them
// as summarized.
func (s *Store) MarkCompacted(sessionID string) error {
	return s.rewrite(sessionID, func(entries []Entry) (bool, error) {
		changed := false
		for i := range entries {
			if !entries[i].IsCompacted {
				entries[i].IsCompacted = true
				changed = true
			}
		}
		return changed, nil
	})
}

// Delete removes a session's entire log. Individual entries are only ever
// removed this way, as part of whole-session deletion.
func (s *Store) Delete(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.logPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Raw returns the raw JSONL bytes of a session's log, used for export
func (s *Store) Raw(sessionID string) ([]byte, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.logPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
