package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"contextcore/pkg/config"
	"contextcore/pkg/metrics"
	"contextcore/pkg/persistence"
	"contextcore/pkg/snapshot"
)

// runSnapshot dispatches "contextctl snapshot <subcommand>". Only "list" is
// implemented standalone — "create" and "rollback" need a live Active
// Context and are only meaningful as "chat" slash commands.
func runSnapshot(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("snapshot: expected a subcommand (list)")
	}
	switch args[0] {
	case "list":
		return snapshotList(args[1:])
	default:
		return fmt.Errorf("snapshot: unknown subcommand %q (want: list)", args[0])
	}
}

func snapshotList(args []string) error {
	fs := flag.NewFlagSet("snapshot list", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id (required)")
	root := fs.String("root", "", "storage root (default: config's storage_root)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("snapshot list: --session is required")
	}

	storageRoot, err := resolveStorageRoot(*root)
	if err != nil {
		return err
	}
	store, err := snapshot.NewFileStore(filepath.Join(storageRoot, "sessions"))
	if err != nil {
		return err
	}
	snaps, err := store.List(*sessionID)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots recorded for this session")
		return nil
	}

	width := terminalWidth()
	idWidth := 38
	if width < 70 {
		idWidth = 16
	}
	fmt.Printf("%-*s %-24s %-10s\n", idWidth, "ID", "CREATED_AT", "PURPOSE")
	for _, s := range snaps {
		id := s.ID
		if len(id) > idWidth {
			id = id[:idWidth-1] + "…"
		}
		fmt.Printf("%-*s %-24s %-10s\n", idWidth, id, s.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), s.Purpose)
	}
	return nil
}

// runContext dispatches "contextctl context <subcommand>". Only "stats" is
// implemented standalone — "compress" needs a live Active Context and is
// only meaningful as a "chat" slash command.
func runContext(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("context: expected a subcommand (stats)")
	}
	switch args[0] {
	case "stats":
		return contextStats(args[1:])
	default:
		return fmt.Errorf("context: unknown subcommand %q (want: stats)", args[0])
	}
}

func contextStats(args []string) error {
	fs := flag.NewFlagSet("context stats", flag.ContinueOnError)
	sessionID := fs.String("session", "", "session id (required)")
	root := fs.String("root", "", "storage root (default: config's storage_root)")
	indexPath := fs.String("index", "", "durable sqlite index path (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sessionID == "" {
		return fmt.Errorf("context stats: --session is required")
	}
	_ = root // --root is accepted but unused: stats come from the in-process recorder and the --index database

	var index *persistence.Store
	if *indexPath != "" {
		db, err := persistence.Open(*indexPath)
		if err != nil {
			return err
		}
		defer db.Close()
		index = persistence.NewStore(db)
	}

	q := metrics.NewQueryService(metrics.NewInternalRecorder(), index)
	snap, err := q.Snapshot(*sessionID)
	if err != nil {
		return err
	}

	fmt.Printf("session:              %s\n", snap.SessionID)
	fmt.Printf("compression runs:     %d (%d failed)\n", snap.CompressionRuns, snap.CompressionFailures)
	fmt.Printf("tokens in/out:        %d / %d\n", snap.InputTokens, snap.OutputTokens)
	fmt.Printf("tier transitions:     %d\n", snap.TierTransitions)
	fmt.Printf("emergency activations: %d\n", snap.EmergencyActivations)
	fmt.Printf("indexed checkpoints:  %d\n", snap.IndexedCheckpoints)
	fmt.Printf("indexed tokens saved: %d\n", snap.IndexedTokensSaved)
	if snap.LastCompressionAt != nil {
		fmt.Printf("last compression:     %s\n", snap.LastCompressionAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	fmt.Println("\n(live counters are zero for a standalone `context stats` call — they only accumulate within a running `chat` process; indexed figures come from the durable index, if one was given via --index)")
	return nil
}

func resolveStorageRoot(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	return cfg.StorageRoot, nil
}

func terminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 100
	}
	return w
}
