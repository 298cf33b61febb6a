// internal/index/index.go
package index

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Index is a queryable SQLite registry over sessions and restore points.
// The JSON documents on disk remain the source of truth; the index exists
// for fast listing and can be rebuilt from them at any time.
type Index struct {
	db *sql.DB
}

// SessionRow is a session record in the index
type SessionRow struct {
	ID          string    `json:"id"`
	ProjectPath string    `json:"project_path"`
	Status      string    `json:"status"`
	GitBranch   string    `json:"git_branch,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RestorePointRow is a restore point record in the index
type RestorePointRow struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Description       string    `json:"description"`
	TranscriptEntryID string    `json:"transcript_entry_id,omitempty"`
	FileCount         int       `json:"file_count"`
	TotalSize         int64     `json:"total_size"`
	CreatedAt         time.Time `json:"created_at"`
}

// Open creates or opens the index database at the given path
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	idx := &Index{db: db}
	if err := idx.init(); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// init creates the schema
func (i *Index) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		status TEXT NOT NULL,
		git_branch TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS restore_points (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		description TEXT,
		transcript_entry_id TEXT,
		file_count INTEGER NOT NULL DEFAULT 0,
		total_size INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	CREATE INDEX IF NOT EXISTS idx_restore_points_session ON restore_points(session_id);
	`
	_, err := i.db.Exec(schema)
	return err
}

// Close closes the database connection
func (i *Index) Close() error {
	return i.db.Close()
}

// UpsertSession inserts or updates a session record
func (i *Index) UpsertSession(row *SessionRow) error {
	_, err := i.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, project_path, status, git_branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		row.ID, row.ProjectPath, row.Status, row.GitBranch,
		row.CreatedAt.Unix(), row.UpdatedAt.Unix())
	return err
}

// GetSession retrieves a session record, or nil when absent
func (i *Index) GetSession(id string) (*SessionRow, error) {
	row := i.db.QueryRow(`
		SELECT id, project_path, status, git_branch, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListSessions retrieves all sessions, optionally filtered by status
func (i *Index) ListSessions(status string) ([]*SessionRow, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = i.db.Query(`
			SELECT id, project_path, status, git_branch, created_at, updated_at
			FROM sessions WHERE status = ? ORDER BY updated_at DESC`, status)
	} else {
		rows, err = i.db.Query(`
			SELECT id, project_path, status, git_branch, created_at, updated_at
			FROM sessions ORDER BY updated_at DESC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*SessionRow
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session record and its restore point records
func (i *Index) DeleteSession(id string) error {
	if _, err := i.db.Exec("DELETE FROM restore_points WHERE session_id = ?", id); err != nil {
		return err
	}
	_, err := i.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	return err
}

// UpsertRestorePoint inserts or updates a restore point record
func (i *Index) UpsertRestorePoint(row *RestorePointRow) error {
	_, err := i.db.Exec(`
		INSERT OR REPLACE INTO restore_points
		(id, session_id, description, transcript_entry_id, file_count, total_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.SessionID, row.Description, row.TranscriptEntryID,
		row.FileCount, row.TotalSize, row.CreatedAt.Unix())
	return err
}

// ListRestorePoints retrieves restore point records, newest first,
// optionally scoped to one session
func (i *Index) ListRestorePoints(sessionID string, limit int) ([]*RestorePointRow, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if sessionID != "" {
		rows, err = i.db.Query(`
			SELECT id, session_id, description, transcript_entry_id, file_count, total_size, created_at
			FROM restore_points WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`, sessionID, limit)
	} else {
		rows, err = i.db.Query(`
			SELECT id, session_id, description, transcript_entry_id, file_count, total_size, created_at
			FROM restore_points ORDER BY created_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*RestorePointRow
	for rows.Next() {
		rp := &RestorePointRow{}
		var createdAt int64
		err := rows.Scan(&rp.ID, &rp.SessionID, &rp.Description, &rp.TranscriptEntryID,
			&rp.FileCount, &rp.TotalSize, &createdAt)
		if err != nil {
			return nil, err
		}
		rp.CreatedAt = time.Unix(createdAt, 0)
		points = append(points, rp)
	}
	return points, rows.Err()
}

// DeleteRestorePoint removes a restore point record
func (i *Index) DeleteRestorePoint(id string) error {
	_, err := i.db.Exec("DELETE FROM restore_points WHERE id = ?", id)
	return err
}

// Rebuild replaces the entire index with the given records, inside one
// transaction. Callers load the records from the on-disk documents, which
// are the source of truth; a stale or corrupt index is repaired this way.
func (i *Index) Rebuild(sessions []*SessionRow, points []*RestorePointRow) error {
	tx, err := i.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM restore_points"); err != nil {
		return err
	}

	for _, row := range sessions {
		_, err := tx.Exec(`
			INSERT INTO sessions (id, project_path, status, git_branch, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			row.ID, row.ProjectPath, row.Status, row.GitBranch,
			row.CreatedAt.Unix(), row.UpdatedAt.Unix())
		if err != nil {
			return err
		}
	}
	for _, row := range points {
		_, err := tx.Exec(`
			INSERT INTO restore_points
			(id, session_id, description, transcript_entry_id, file_count, total_size, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.SessionID, row.Description, row.TranscriptEntryID,
			row.FileCount, row.TotalSize, row.CreatedAt.Unix())
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func scanSession(scan func(dest ...interface{}) error) (*SessionRow, error) {
	s := &SessionRow{}
	var branch sql.NullString
	var createdAt, updatedAt int64

	err := scan(&s.ID, &s.ProjectPath, &s.Status, &branch, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if branch.Valid {
		s.GitBranch = branch.String
	}
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return s, nil
}
