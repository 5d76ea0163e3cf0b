package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// runReset clears a puzzle's session checkpoint. Recorded coverage is kept:
// the next run starts at the range start and seeks past whatever is already
// covered. Takes the instance lock, so it refuses to run under a live daemon.
func runReset(cfg *config.Config, puzzleID int) error {
	sessions, err := session.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}
	lock, err := session.AcquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	st, err := sessions.Load(puzzleID)
	switch {
	case err != nil:
		// An unreadable checkpoint is the main reason to reset; clear it
		// rather than refuse.
		slog.Warn("Session state unreadable, clearing it anyway",
			"puzzle", puzzleID, "error", err)
	case st == nil:
		fmt.Printf("No session recorded for puzzle %d\n", puzzleID)
		return nil
	}

	if err := sessions.Remove(puzzleID); err != nil {
		return err
	}

	detail := "cleared unreadable session state"
	if st != nil {
		detail = fmt.Sprintf("cleared at cursor %X after %d keys", st.Cursor, st.KeysChecked)
	}
	db, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.AppendEvent(context.Background(), puzzleID, store.EventSessionReset, detail); err != nil {
		slog.Warn("Failed to append audit event", "error", err)
	}

	slog.Info("Session cleared", "puzzle", puzzleID, "detail", detail)
	return nil
}
