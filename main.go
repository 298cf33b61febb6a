// main.go
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codetrail/internal/snapshot"
	"codetrail/internal/websocket"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: codetrail [flags] <command> [args]

Commands:
  run <project-path>                  start a session, feed stdin through it
  sessions                            list sessions
  answer <session> <text>             answer a pending prompt
  pause <session>                     pause a session
  resume <session>                    resume a paused session
  stop <session>                      stop a session
  delete <session>                    delete a session and its storage
  points <session>                    list restore points
  restore <session> <point> [paths]   restore files from a restore point
  compare <point-a> <point-b>         diff two restore points
  cat <point> <path>                  print one file from a restore point
  prune <days> [session]              delete restore points older than N days
  gc                                  remove unreferenced objects
  reindex                             rebuild the registry from disk
  log <session>                       print the session transcript

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	root := flag.String("root", "", "storage root (default ~/.codetrail)")
	wsPort := flag.Int("ws", 0, "serve events over websocket on this port during run (0 disables)")
	backup := flag.Bool("backup", false, "capture current state before restoring")
	dryRun := flag.Bool("dry-run", false, "report what restore would do without writing")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := NewApp()
	var err error
	if *root != "" {
		err = app.StartupAt(ctx, *root)
	} else {
		err = app.Startup(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "codetrail: %v\n", err)
		os.Exit(1)
	}
	defer app.Shutdown(ctx)

	args := flag.Args()
	if err := dispatch(ctx, app, args[0], args[1:], *wsPort, *backup, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "codetrail: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, app *App, cmd string, args []string, wsPort int, backup, dryRun bool) error {
	switch cmd {
	case "run":
		if len(args) != 1 {
			return fmt.Errorf("run requires a project path")
		}
		return runSession(ctx, app, args[0], wsPort)

	case "sessions":
		sessions, err := app.controller.List()
		if err != nil {
			return err
		}
		for _, s := range sessions {
			branch := s.GitBranch
			if branch == "" {
				branch = "-"
			}
			fmt.Printf("%s  %-13s %-20s %s\n", s.ID, s.Status, branch, s.ProjectPath)
		}
		return nil

	case "answer":
		if len(args) < 2 {
			return fmt.Errorf("answer requires a session id and text")
		}
		return app.controller.Answer(args[0], strings.Join(args[1:], " "))

	case "pause":
		return withSessionArg(args, app.controller.Pause)
	case "resume":
		return withSessionArg(args, app.controller.Resume)
	case "stop":
		return withSessionArg(args, app.controller.Stop)
	case "delete":
		return withSessionArg(args, app.controller.Delete)

	case "points":
		if len(args) != 1 {
			return fmt.Errorf("points requires a session id")
		}
		points, err := app.snapshots.List(args[0])
		if err != nil {
			return err
		}
		for _, rp := range points {
			fmt.Printf("%s  %s  %3d files  %8d bytes  %s\n",
				rp.ID, rp.Timestamp.Format(time.RFC3339), rp.FileCount, rp.TotalSize, rp.Description)
		}
		return nil

	case "restore":
		if len(args) < 2 {
			return fmt.Errorf("restore requires a session id and a restore point id")
		}
		opts := snapshot.RestoreOptions{Files: args[2:], Backup: backup, DryRun: dryRun}
		result, err := app.controller.RestoreFiles(args[0], args[1], opts)
		if err != nil {
			return err
		}
		for _, path := range result.RestoredFiles {
			fmt.Printf("restored %s\n", path)
		}
		for _, skipped := range result.SkippedFiles {
			fmt.Printf("skipped %s: %s\n", skipped.Path, skipped.Reason)
		}
		if result.BackupID != "" {
			fmt.Printf("backup %s\n", result.BackupID)
		}
		return nil

	case "compare":
		if len(args) != 2 {
			return fmt.Errorf("compare requires two restore point ids")
		}
		diff, err := app.snapshots.Compare(args[0], args[1])
		if err != nil {
			return err
		}
		for _, path := range diff.Added {
			fmt.Printf("A %s\n", path)
		}
		for _, path := range diff.Removed {
			fmt.Printf("D %s\n", path)
		}
		for _, path := range diff.Modified {
			fmt.Printf("M %s\n", path)
		}
		return nil

	case "cat":
		if len(args) != 2 {
			return fmt.Errorf("cat requires a restore point id and a path")
		}
		content, err := app.snapshots.FileAt(args[0], args[1])
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(content)
		return err

	case "prune":
		if len(args) < 1 {
			return fmt.Errorf("prune requires a day count")
		}
		var days int
		if _, err := fmt.Sscanf(args[0], "%d", &days); err != nil {
			return fmt.Errorf("invalid day count %q", args[0])
		}
		sessionID := ""
		if len(args) > 1 {
			sessionID = args[1]
		}
		cutoff := time.Now().AddDate(0, 0, -days)
		deleted, err := app.snapshots.DeleteOlderThan(cutoff, sessionID)
		if err != nil {
			return err
		}
		fmt.Printf("deleted %d restore point(s)\n", deleted)
		return nil

	case "gc":
		result, err := app.snapshots.GC()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d object(s), freed %d bytes\n", result.Removed, result.FreedBytes)
		return nil

	case "reindex":
		return app.Reindex()

	case "log":
		if len(args) != 1 {
			return fmt.Errorf("log requires a session id")
		}
		entries, err := app.transcripts.Entries(args[0])
		if err != nil {
			return err
		}
		for _, entry := range entries {
			marker := " "
			if entry.IsCompacted {
				marker = "~"
			}
			fmt.Printf("%s %s [%-16s] %s\n", marker, entry.Timestamp.Format("15:04:05"), entry.Kind, entry.Content)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func withSessionArg(args []string, fn func(string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("command requires a session id")
	}
	return fn(args[0])
}

// runSession drives one session from stdin until EOF or a signal. Parsed
// events are printed to stdout as JSON lines; with --ws they are also
// pushed to websocket subscribers.
func runSession(ctx context.Context, app *App, projectPath string, wsPort int) error {
	encoder := json.NewEncoder(os.Stdout)
	app.SetBroadcaster(&stdoutBroadcaster{encoder: encoder})

	if wsPort != 0 {
		server := websocket.NewServer(wsPort)
		port, err := server.Start(ctx)
		if err != nil {
			return fmt.Errorf("start event server: %w", err)
		}
		fmt.Fprintf(os.Stderr, "events on ws://127.0.0.1:%d/events\n", port)
		defer server.Stop(ctx)
		app.SetBroadcaster(&fanoutBroadcaster{targets: []interface {
			BroadcastEvent(string, interface{})
		}{&stdoutBroadcaster{encoder: encoder}, server}})
	}

	sess, err := app.controller.Start(projectPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "session %s\n", sess.ID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		os.Stdin.Close()
	}()

	reader := bufio.NewReader(os.Stdin)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if err := app.controller.Feed(sess.ID, string(buf[:n])); err != nil {
				return err
			}
		}
		if readErr != nil {
			break
		}
	}

	if err := app.controller.EndOfStream(sess.ID); err != nil {
		return err
	}
	if err := app.controller.Drain(sess.ID); err != nil {
		return err
	}
	return app.controller.Stop(sess.ID)
}

// stdoutBroadcaster prints hub events as JSON lines
type stdoutBroadcaster struct {
	encoder *json.Encoder
}

func (b *stdoutBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	b.encoder.Encode(map[string]interface{}{
		"event":   eventType,
		"payload": payload,
	})
}

// fanoutBroadcaster duplicates events to multiple transports
type fanoutBroadcaster struct {
	targets []interface {
		BroadcastEvent(string, interface{})
	}
}

func (b *fanoutBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	for _, target := range b.targets {
		target.BroadcastEvent(eventType, payload)
	}
}
