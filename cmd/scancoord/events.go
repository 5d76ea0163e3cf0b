package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// runEvents prints the newest audit rows for one puzzle, oldest first so the
// output reads top to bottom like a log.
func runEvents(cfg *config.Config, puzzleID, limit int) error {
	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	events, err := st.EventsByPuzzle(context.Background(), puzzleID, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No events recorded for puzzle %d\n", puzzleID)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tDETAIL")
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		fmt.Fprintf(w, "%s\t%s\t%s\n",
			ev.CreatedAt.Format(time.RFC3339), ev.Kind, ev.Detail)
	}
	return w.Flush()
}
