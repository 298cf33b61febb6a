// app.go
package main

import (
	"context"
	"fmt"
	"log"

	"codetrail/internal/archive"
	"codetrail/internal/config"
	"codetrail/internal/eventhub"
	"codetrail/internal/index"
	"codetrail/internal/objectstore"
	"codetrail/internal/session"
	"codetrail/internal/snapshot"
	"codetrail/internal/transcript"
)

// App wires the storage layers and the session controller together
type App struct {
	ctx    context.Context
	config *config.Config

	objects     *objectstore.Store
	snapshots   *snapshot.Manager
	transcripts *transcript.Store
	sessions    *session.Store
	idx         *index.Index
	archiver    *archive.Archiver
	eventHub    *eventhub.EventHub
	controller  *session.Controller
}

// NewApp creates an App rooted at the default config location
func NewApp() *App {
	return &App{}
}

// Startup loads configuration and initializes every layer
func (a *App) Startup(ctx context.Context) error {
	a.ctx = ctx

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return a.startupWith(ctx, cfg)
}

// StartupAt initializes against an explicit storage root, used by tests
// and the --root flag
func (a *App) StartupAt(ctx context.Context, root string) error {
	cfg, err := config.LoadAt(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return a.startupWith(ctx, cfg)
}

func (a *App) startupWith(ctx context.Context, cfg *config.Config) error {
	a.config = cfg

	objects, err := objectstore.New(cfg.ObjectsDir)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}
	a.objects = objects

	snapshots, err := snapshot.NewManager(objects, cfg.ManifestsDir)
	if err != nil {
		return fmt.Errorf("init snapshot manager: %w", err)
	}
	a.snapshots = snapshots

	transcripts, err := transcript.NewStore(cfg.TranscriptDir)
	if err != nil {
		return fmt.Errorf("init transcript store: %w", err)
	}
	a.transcripts = transcripts

	sessions, err := session.NewStore(cfg.SessionsDir)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	a.sessions = sessions

	// The registry is an acceleration structure; losing it degrades
	// listings, not data
	idx, err := index.Open(cfg.IndexPath)
	if err != nil {
		log.Printf("[App] Index unavailable, continuing without: %v", err)
	} else {
		a.idx = idx
	}

	archiver, err := archive.New(cfg.ArchiveDir, 3)
	if err != nil {
		return fmt.Errorf("init archiver: %w", err)
	}
	a.archiver = archiver

	a.eventHub = eventhub.New(ctx)
	a.controller = session.NewController(cfg.Settings, sessions, transcripts, snapshots, a.idx, archiver, a.eventHub)
	return nil
}

// SetBroadcaster wires an event transport into the hub
func (a *App) SetBroadcaster(b eventhub.Broadcaster) {
	if a.eventHub != nil {
		a.eventHub.SetBroadcaster(b)
	}
}

// Reindex rebuilds the registry from the on-disk session documents and
// restore point manifests
func (a *App) Reindex() error {
	if a.idx == nil {
		return fmt.Errorf("index unavailable")
	}

	sessions, err := a.sessions.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	points, err := a.snapshots.List("")
	if err != nil {
		return fmt.Errorf("list restore points: %w", err)
	}

	sessionRows := make([]*index.SessionRow, 0, len(sessions))
	for _, s := range sessions {
		sessionRows = append(sessionRows, &index.SessionRow{
			ID:          s.ID,
			ProjectPath: s.ProjectPath,
			Status:      string(s.Status),
			GitBranch:   s.GitBranch,
			CreatedAt:   s.CreatedAt,
			UpdatedAt:   s.UpdatedAt,
		})
	}
	pointRows := make([]*index.RestorePointRow, 0, len(points))
	for _, rp := range points {
		pointRows = append(pointRows, &index.RestorePointRow{
			ID:                rp.ID,
			SessionID:         rp.SessionID,
			Description:       rp.Description,
			TranscriptEntryID: rp.TranscriptEntryID,
			FileCount:         rp.FileCount,
			TotalSize:         rp.TotalSize,
			CreatedAt:         rp.Timestamp,
		})
	}

	return a.idx.Rebuild(sessionRows, pointRows)
}

// Shutdown releases held resources
func (a *App) Shutdown(ctx context.Context) {
	if a.idx != nil {
		a.idx.Close()
	}
}
