package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/interval"
	"git.home.luguber.info/inful/scancoord/internal/puzzle"
	"git.home.luguber.info/inful/scancoord/internal/store"
)

// runImport records externally scanned ranges from a file. Lines are
// start:end in hex; blank lines and # comments are skipped. Ranges outside
// the puzzle's keyspace are clamped, fully external ones dropped.
func runImport(cfg *config.Config, puzzleID int, sourceRaw, path string) error {
	source, err := store.ParseSource(sourceRaw)
	if err != nil {
		return err
	}

	reg, err := puzzle.FromConfig(cfg)
	if err != nil {
		return err
	}
	p, ok := reg.Get(puzzleID)
	if !ok {
		return fmt.Errorf("puzzle %d is not configured", puzzleID)
	}

	spans, err := parseRangeFile(path)
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		slog.Info("No ranges in file", "file", path)
		return nil
	}

	ivs := make([]store.ScannedInterval, 0, len(spans))
	kept := make([]interval.Span, 0, len(spans))
	dropped := 0
	for _, s := range spans {
		clamped, ok := interval.Clamp(s, p.Range)
		if !ok {
			dropped++
			continue
		}
		iv := store.ScannedInterval{
			PuzzleID: p.ID,
			Span:     clamped,
			Source:   source,
		}
		if source == store.SourceLocal {
			if n := clamped.Length(); n.IsInt64() {
				iv.KeysChecked = n.Int64()
			}
		}
		ivs = append(ivs, iv)
		kept = append(kept, clamped)
	}
	if dropped > 0 {
		slog.Warn("Dropped ranges outside the puzzle keyspace",
			"puzzle", p.ID, "dropped", dropped)
	}
	if len(ivs) == 0 {
		return fmt.Errorf("no ranges intersect puzzle %d's keyspace", p.ID)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewSQLiteStore(filepath.Join(cfg.DataDir, daemon.DBFileName))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	if err := st.RecordBatch(ctx, ivs); err != nil {
		return err
	}
	detail := fmt.Sprintf("%d spans from %s as %s", len(ivs), filepath.Base(path), source)
	if err := st.AppendEvent(ctx, p.ID, store.EventImport, detail); err != nil {
		slog.Warn("Failed to append audit event", "error", err)
	}

	slog.Info("Ranges recorded", "puzzle", p.ID, "spans", len(ivs),
		"keys", humanize.BigComma(interval.Sum(kept)), "source", string(source))
	return nil
}

func parseRangeFile(path string) ([]interval.Span, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied import file
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var spans []interval.Span
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		startHex, endHex, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected start:end, got %q", path, lineNo, line)
		}
		s, err := interval.FromHex(strings.TrimSpace(startHex), strings.TrimSpace(endHex))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		spans = append(spans, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return spans, nil
}
