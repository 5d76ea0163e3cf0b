package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/daemon"
	"git.home.luguber.info/inful/scancoord/internal/version"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"scancoord.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Daemon struct{} `cmd:"" help:"Run the coordinator continuously for all configured puzzles"`

	Scan struct {
		Puzzle int `short:"p" required:"" help:"Puzzle number to scan"`
	} `cmd:"" help:"Scan a single puzzle in the foreground"`

	Status struct{} `cmd:"" help:"Print per-puzzle progress from the data directory"`

	Sync struct {
		Puzzle int `short:"p" required:"" help:"Puzzle number to sync"`
	} `cmd:"" help:"Fetch pool coverage once and record it"`

	Import struct {
		Puzzle int    `short:"p" required:"" help:"Puzzle number the ranges belong to"`
		Source string `short:"s" default:"local" enum:"local,pool" help:"Coverage source to record the ranges under"`
		File   string `arg:"" help:"File with one start:end hex range per line, # for comments"`
	} `cmd:"" help:"Record externally scanned ranges from a file"`

	Events struct {
		Puzzle int `short:"p" required:"" help:"Puzzle number to show events for"`
		Limit  int `short:"n" default:"20" help:"Maximum number of events to print"`
	} `cmd:"" help:"Print a puzzle's newest audit events"`

	Reset struct {
		Puzzle int `short:"p" required:"" help:"Puzzle number whose session to clear"`
	} `cmd:"" help:"Clear a puzzle's session checkpoint, keeping recorded coverage"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", CLI.Config)
		return
	case "version":
		fmt.Printf("scancoord %s (commit %s, built %s)\n",
			version.Version, version.GitCommit, version.BuildTime)
		return
	}

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging, CLI.Verbose)

	switch ctx.Command() {
	case "daemon":
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "scan":
		if err := runScan(cfg, CLI.Scan.Puzzle); err != nil {
			slog.Error("Scan failed", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := runStatus(cfg); err != nil {
			slog.Error("Status failed", "error", err)
			os.Exit(1)
		}
	case "sync":
		if err := runSync(cfg, CLI.Sync.Puzzle); err != nil {
			slog.Error("Sync failed", "error", err)
			os.Exit(1)
		}
	case "import <file>":
		if err := runImport(cfg, CLI.Import.Puzzle, CLI.Import.Source, CLI.Import.File); err != nil {
			slog.Error("Import failed", "error", err)
			os.Exit(1)
		}
	case "events":
		if err := runEvents(cfg, CLI.Events.Puzzle, CLI.Events.Limit); err != nil {
			slog.Error("Events failed", "error", err)
			os.Exit(1)
		}
	case "reset":
		if err := runReset(cfg, CLI.Reset.Puzzle); err != nil {
			slog.Error("Reset failed", "error", err)
			os.Exit(1)
		}
	}
}

// setupLogging applies the configured level and format; --verbose forces
// debug regardless of the file.
func setupLogging(cfg config.LoggingConfig, verbose bool) {
	level := slog.LevelInfo
	switch config.NormalizeLogLevel(cfg.Level) {
	case config.LogLevelDebug:
		level = slog.LevelDebug
	case config.LogLevelWarn:
		level = slog.LevelWarn
	case config.LogLevelError:
		level = slog.LevelError
	case config.LogLevelInfo:
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if config.NormalizeLogFormat(cfg.Format) == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runDaemon(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Starting scancoord daemon",
		"version", version.Version,
		"config", CLI.Config)

	d, err := daemon.New(cfg, CLI.Config)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	return d.Run(ctx)
}
