package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/session"
	"git.home.luguber.info/inful/scancoord/internal/store"
	"git.home.luguber.info/inful/scancoord/internal/util/sets"
)

// runStatus prints a per-puzzle summary straight from the data directory.
// It never takes the instance lock, so it works while a daemon scans.
func runStatus(cfg *config.Config) error {
	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	sessions, err := session.NewManager(cfg.DataDir)
	if err != nil {
		return err
	}

	reg, err := puzzle.FromConfig(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	ids, err := st.PuzzleIDs(ctx)
	if err != nil {
		return err
	}
	seen := sets.New(ids...)
	for _, id := range reg.IDs() {
		if !seen.Has(id) {
			ids = append(ids, id)
			seen.Add(id)
		}
	}
	sort.Ints(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PUZZLE\tKEYS CHECKED\tCOVERAGE\tPOOL BLOCKS\tLOCAL BLOCKS\tCURSOR")

	for _, id := range ids {
		stats, err := st.Stats(ctx, id)
		if err != nil {
			return err
		}

		// Rows can outlive the config selection; fall back to the preset
		// catalog so deselected puzzles still show their coverage.
		p, known := reg.Get(id)
		if !known {
			p, known = puzzle.Preset(id)
		}
		coverage := "-"
		if known {
			covered, err := st.Coverage(ctx, id)
			if err != nil {
				return err
			}
			coverage = coveragePercent(covered, p)
		}

		cursor := "-"
		keysChecked := stats.KeysChecked
		if sess, err := sessions.Load(id); err == nil && sess != nil {
			cursor = fmt.Sprintf("%X", sess.Cursor)
			keysChecked = sess.KeysChecked
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			id,
			humanize.Comma(keysChecked),
			coverage,
			humanize.Comma(stats.PoolIntervals),
			humanize.Comma(stats.LocalIntervals),
			cursor)
	}
	return w.Flush()
}

// coveragePercent sums the covered spans clamped to the puzzle range and
// renders the scanned fraction.
func coveragePercent(covered []interval.Span, p puzzle.Puzzle) string {
	total := p.KeyspaceSize()
	if total.Sign() <= 0 {
		return "-"
	}
	sum := new(big.Int)
	for _, s := range covered {
		if c, ok := interval.Clamp(s, p.Range); ok {
			sum.Add(sum, c.Length())
		}
	}
	ratio, _ := new(big.Float).Quo(new(big.Float).SetInt(sum), new(big.Float).SetInt(total)).Float64()
	return fmt.Sprintf("%s / %s (%.4f%%)",
		humanize.BigComma(sum), humanize.BigComma(total), ratio*100)
}
