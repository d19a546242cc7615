// Package main is the entry point for sessionview, an operator forensic tool
// for inspecting session event trees directly from the embedded store.
//
// Grounded on cmd/replay/main.go's manual flag parsing and interactive
// pager, rewired to read from internal/eventstore's SQLite store instead of
// a JSONL session file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/kilnlabs/sessiond/internal/blobstore"
	"github.com/kilnlabs/sessiond/internal/config"
	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	args := os.Args[1:]

	verbose := false
	noPager := false
	follow := false
	dbPath := ""
	configPath := ""
	var sessionID string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-v" || args[i] == "--verbose":
			verbose = true
		case args[i] == "--no-pager":
			noPager = true
		case args[i] == "-f" || args[i] == "--follow":
			follow = true
		case args[i] == "--db":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "error: --db requires a path")
				os.Exit(1)
			}
			i++
			dbPath = args[i]
		case args[i] == "-c" || args[i] == "--config":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "error: --config requires a path")
				os.Exit(1)
			}
			i++
			configPath = args[i]
		case args[i] == "-h" || args[i] == "--help":
			printUsage()
			os.Exit(0)
		case args[i] == "--version":
			fmt.Printf("sessionview version %s (commit: %s)\n", version, commit)
			os.Exit(0)
		case !strings.HasPrefix(args[i], "-"):
			sessionID = args[i]
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
	}

	if follow && sessionID == "" {
		fmt.Fprintln(os.Stderr, "error: --follow requires a session id")
		os.Exit(1)
	}

	cfg, err := resolveConfig(configPath, dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := obslog.New(obslog.Test)
	db, err := eventstore.OpenAndMigrate(config.ExpandPath(cfg.Database.Path), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: opening store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store := eventstore.New(db, blobstore.New(db, log), log)
	viewer := NewViewer(store, verbose)
	ctx := context.Background()

	if sessionID == "" {
		if err := viewer.ListSessions(ctx, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	content, err := viewer.Render(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if noPager || !isTerminal(os.Stdout) {
		fmt.Print(content)
		return
	}

	renderFunc := func() (string, error) { return viewer.Render(ctx, sessionID) }
	title := fmt.Sprintf("Session: %s", sessionID)
	if err := runPager(title, content, follow, renderFunc); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveConfig(configPath, dbPathOverride string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if dbPathOverride != "" {
		cfg.Database.Path = dbPathOverride
	}
	return cfg, nil
}

func printUsage() {
	fmt.Println(`sessionview - forensic inspector for session event trees

Usage:
  sessionview [options]               # list all sessions
  sessionview [options] <session-id>  # replay one session's timeline

Options:
  --db PATH         Override the database path
  -c, --config PATH Config file to load (for database path)
  -v, --verbose     Show full message/tool content, thinking blocks
  -f, --follow      Poll the store for new events (requires a session id)
  --no-pager        Disable interactive pager (for piping)
  --version         Show version
  -h, --help        Show this help

Navigation (interactive mode):
  ↑/↓, j/k          Scroll line by line
  PgUp/PgDn         Scroll by page
  g/G               Jump to top/bottom
  q, Esc            Quit`)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
