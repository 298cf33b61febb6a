// internal/snapshot/manager.go
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codetrail/internal/objectstore"
)

// ErrRestorePointNotFound is returned when no manifest exists for an id
var ErrRestorePointNotFound = errors.New("restore point not found")

// ErrFileNotInRestorePoint is returned by FileAt for a path outside the manifest
var ErrFileNotInRestorePoint = errors.New("file not in restore point")

// Manager builds and reads restore point manifests over the object store.
// Objects are shared across all sessions; manifests are one JSON document
// per restore point, named by id.
type Manager struct {
	objects      *objectstore.Store
	manifestsDir string
	mu           sync.RWMutex
}

// NewManager creates a Manager persisting manifests under manifestsDir
func NewManager(objects *objectstore.Store, manifestsDir string) (*Manager, error) {
	if err := os.MkdirAll(manifestsDir, 0755); err != nil {
		return nil, fmt.Errorf("create manifests dir: %w", err)
	}
	return &Manager{objects: objects, manifestsDir: manifestsDir}, nil
}

func (m *Manager) manifestPath(id string) string {
	return filepath.Join(m.manifestsDir, id+".json")
}

// Create stores every file's bytes and persists a manifest. All-or-nothing:
// a storage failure for any file aborts the whole operation and leaves no
// manifest behind. Objects written before the failure stay in the store
// until the next GC.
//
// The object writes and the manifest write form one critical section: a GC
// running between them would sweep the just-stored objects as unreferenced
// and leave the manifest pointing at nothing.
func (m *Manager) Create(sessionID, description string, files []FileContent, transcriptEntryID string) (*RestorePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp := &RestorePoint{
		ID:                uuid.New().String(),
		SessionID:         sessionID,
		Description:       description,
		Timestamp:         time.Now(),
		Files:             make([]FileEntry, 0, len(files)),
		TranscriptEntryID: transcriptEntryID,
	}

	for _, file := range files {
		hash, err := m.objects.Store(file.Content)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", file.Path, err)
		}
		mode := file.Mode
		if mode == 0 {
			mode = 0644
		}
		size := int64(len(file.Content))
		rp.Files = append(rp.Files, FileEntry{
			Path: file.Path,
			Hash: hash,
			Mode: mode,
			Size: size,
		})
		rp.TotalSize += size
	}
	rp.FileCount = len(rp.Files)

	if err := m.writeManifest(rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// writeManifest persists a manifest atomically via temp file + rename.
// Callers hold m.mu.
func (m *Manager) writeManifest(rp *RestorePoint) error {
	data, err := json.MarshalIndent(rp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tmp, err := os.CreateTemp(m.manifestsDir, ".tmp-"+rp.ID+"-*")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpName, m.manifestPath(rp.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize manifest: %w", err)
	}
	return nil
}

// CreateFromDisk reads current file bytes for each path under projectRoot
// and delegates to Create. A path that cannot be read is silently skipped;
// it never aborts capture of the remaining files.
func (m *Manager) CreateFromDisk(sessionID, description string, paths []string, projectRoot, transcriptEntryID string) (*RestorePoint, error) {
	var files []FileContent
	for _, path := range paths {
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(projectRoot, path)
		}
		info, err := os.Stat(full)
		if err != nil || info.IsDir() {
			continue
		}
		content, err := os.ReadFile(full)
		if err != nil {
			log.Printf("[Snapshot] Skipping unreadable file %s: %v", full, err)
			continue
		}
		rel := path
		if filepath.IsAbs(path) {
			if r, err := filepath.Rel(projectRoot, path); err == nil && !strings.HasPrefix(r, "..") {
				rel = r
			}
		}
		files = append(files, FileContent{
			Path:    rel,
			Content: content,
			Mode:    uint32(info.Mode().Perm()),
		})
	}
	return m.Create(sessionID, description, files, transcriptEntryID)
}

// Get loads a restore point manifest by id
func (m *Manager) Get(id string) (*RestorePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readManifest(id)
}

// readManifest loads a manifest without locking
func (m *Manager) readManifest(id string) (*RestorePoint, error) {
	data, err := os.ReadFile(m.manifestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRestorePointNotFound
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var rp RestorePoint
	if err := json.Unmarshal(data, &rp); err != nil {
		return nil, fmt.Errorf("unmarshal manifest %s: %w", id, err)
	}
	return &rp, nil
}

// List returns restore points, newest first, optionally scoped to one
// session (empty sessionID means all). Unreadable manifests are skipped.
func (m *Manager) List(sessionID string) ([]*RestorePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, err := m.manifestIDs()
	if err != nil {
		return nil, err
	}

	var points []*RestorePoint
	for _, id := range ids {
		rp, err := m.readManifest(id)
		if err != nil {
			log.Printf("[Snapshot] Skipping manifest %s: %v", id, err)
			continue
		}
		if sessionID != "" && rp.SessionID != sessionID {
			continue
		}
		points = append(points, rp)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.After(points[j].Timestamp)
	})
	return points, nil
}

// manifestIDs lists all manifest ids on disk without locking
func (m *Manager) manifestIDs() ([]string, error) {
	entries, err := os.ReadDir(m.manifestsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// Restore materializes a restore point's files into targetDir, preserving
// the stored mode. A missing object or write failure for one file is
// recorded in SkippedFiles and does not abort the rest.
func (m *Manager) Restore(id, targetDir string, opts RestoreOptions) (*RestoreResult, error) {
	rp, err := m.Get(id)
	if err != nil {
		return nil, err
	}

	var filter map[string]bool
	if len(opts.Files) > 0 {
		filter = make(map[string]bool, len(opts.Files))
		for _, path := range opts.Files {
			filter[path] = true
		}
	}

	result := &RestoreResult{}

	// Capture the current on-disk contents of the files about to be
	// overwritten. Files that do not exist yet are skipped silently.
	if opts.Backup && !opts.DryRun {
		var paths []string
		for _, file := range rp.Files {
			if filter != nil && !filter[file.Path] {
				continue
			}
			paths = append(paths, file.Path)
		}
		backup, err := m.CreateFromDisk(rp.SessionID, fmt.Sprintf("Backup before restoring %q", rp.Description), paths, targetDir, "")
		if err != nil {
			return nil, fmt.Errorf("create backup: %w", err)
		}
		result.BackupID = backup.ID
	}

	for _, file := range rp.Files {
		if filter != nil && !filter[file.Path] {
			continue
		}

		content, err := m.objects.Get(file.Hash)
		if err != nil {
			result.SkippedFiles = append(result.SkippedFiles, SkippedFile{
				Path:   file.Path,
				Reason: err.Error(),
			})
			continue
		}

		if opts.DryRun {
			result.RestoredFiles = append(result.RestoredFiles, file.Path)
			continue
		}

		dest := filepath.Join(targetDir, file.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			result.SkippedFiles = append(result.SkippedFiles, SkippedFile{
				Path:   file.Path,
				Reason: err.Error(),
			})
			continue
		}
		if err := os.WriteFile(dest, content, os.FileMode(file.Mode)); err != nil {
			result.SkippedFiles = append(result.SkippedFiles, SkippedFile{
				Path:   file.Path,
				Reason: err.Error(),
			})
			continue
		}
		result.RestoredFiles = append(result.RestoredFiles, file.Path)
	}

	return result, nil
}

// Compare set-differences the manifests of two restore points. Modified
// means the same path with a different hash. Comparing a restore point
// with itself yields an all-empty diff.
func (m *Manager) Compare(a, b string) (*Diff, error) {
	rpA, err := m.Get(a)
	if err != nil {
		return nil, err
	}
	rpB, err := m.Get(b)
	if err != nil {
		return nil, err
	}

	filesA := make(map[string]string, len(rpA.Files))
	for _, f := range rpA.Files {
		filesA[f.Path] = f.Hash
	}
	filesB := make(map[string]string, len(rpB.Files))
	for _, f := range rpB.Files {
		filesB[f.Path] = f.Hash
	}

	diff := &Diff{Added: []string{}, Removed: []string{}, Modified: []string{}}
	for path, hashB := range filesB {
		hashA, ok := filesA[path]
		switch {
		case !ok:
			diff.Added = append(diff.Added, path)
		case hashA != hashB:
			diff.Modified = append(diff.Modified, path)
		}
	}
	for path := range filesA {
		if _, ok := filesB[path]; !ok {
			diff.Removed = append(diff.Removed, path)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)
	return diff, nil
}

// FileAt returns one file's bytes through a manifest without a full restore
func (m *Manager) FileAt(id, path string) ([]byte, error) {
	rp, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	for _, file := range rp.Files {
		if file.Path == path {
			return m.objects.Get(file.Hash)
		}
	}
	return nil, ErrFileNotInRestorePoint
}

// Delete removes a restore point manifest. The objects it referenced only
// become eligible for removal on a subsequent GC.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := os.Remove(m.manifestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrRestorePointNotFound
		}
		return err
	}
	return nil
}

// DeleteOlderThan removes manifests older than the cutoff, optionally
// scoped to one session. Objects are not touched; run GC afterwards to
// reclaim them.
func (m *Manager) DeleteOlderThan(cutoff time.Time, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.manifestIDs()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		rp, err := m.readManifest(id)
		if err != nil {
			log.Printf("[Snapshot] Skipping manifest %s: %v", id, err)
			continue
		}
		if sessionID != "" && rp.SessionID != sessionID {
			continue
		}
		if !rp.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.Remove(m.manifestPath(id)); err != nil {
			log.Printf("[Snapshot] Failed to delete manifest %s: %v", id, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// GC unions the hashes referenced by every manifest system-wide and
// removes any stored object outside that union. Objects are shared across
// sessions, so the sweep always scans all manifests.
func (m *Manager) GC() (*GCResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids, err := m.manifestIDs()
	if err != nil {
		return nil, err
	}

	referenced := make(map[string]bool)
	for _, id := range ids {
		rp, err := m.readManifest(id)
		if err != nil {
			log.Printf("[Snapshot] GC skipping manifest %s: %v", id, err)
			continue
		}
		for _, file := range rp.Files {
			referenced[file.Hash] = true
		}
	}

	hashes, err := m.objects.List()
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	result := &GCResult{}
	for _, hash := range hashes {
		if referenced[hash] {
			continue
		}
		size, err := m.objects.Size(hash)
		if err != nil {
			size = 0
		}
		if err := m.objects.Remove(hash); err != nil {
			log.Printf("[Snapshot] GC failed to remove %s: %v", hash, err)
			continue
		}
		result.Removed++
		result.FreedBytes += size
	}
	return result, nil
}
