package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/scancoord/internal/config"
	"git.home.luguber.info/inful/scancoord/internal/logfields"
)

// configWatcher reloads the config file on change. Rapid editor save
// sequences are debounced; a config that fails to load or validate is
// rejected and the running one stays in effect.
type configWatcher struct {
	path     string
	daemon   *Daemon
	watcher  *fsnotify.Watcher
	debounce time.Duration
	changeCh chan struct{}
}

func newConfigWatcher(path string, d *Daemon) (*configWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	// Watch the directory; editors often replace the file, which drops a
	// watch set on the file itself.
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	return &configWatcher{
		path:     absPath,
		daemon:   d,
		watcher:  w,
		debounce: 2 * time.Second,
		changeCh: make(chan struct{}, 1),
	}, nil
}

func (cw *configWatcher) run(ctx context.Context) error {
	defer func() { _ = cw.watcher.Close() }()
	slog.Info("Watching configuration", slog.String("path", cw.path))

	go cw.reloadLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(cw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				cw.markChanged()
			}
			if event.Op&fsnotify.Remove != 0 {
				slog.Warn("Config file removed", slog.String("path", cw.path))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

func (cw *configWatcher) markChanged() {
	select {
	case cw.changeCh <- struct{}{}:
	default:
	}
}

func (cw *configWatcher) reloadLoop(ctx context.Context) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-cw.changeCh:
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(cw.debounce, func() {
				if err := cw.reload(); err != nil {
					slog.Error("Config reload rejected, keeping current configuration",
						logfields.Error(err))
				}
			})
		}
	}
}

// reload loads and validates the new file, refuses changes that need a full
// restart, and hands the rest to the supervisor.
func (cw *configWatcher) reload() error {
	slog.Info("Reloading configuration", slog.String("path", cw.path))

	next, err := config.Load(cw.path)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	current := cw.daemon.config()
	if next.DataDir != current.DataDir {
		return fmt.Errorf("data_dir change requires a restart")
	}
	if next.Daemon.HTTPAddr != current.Daemon.HTTPAddr {
		slog.Warn("http_addr changed; takes effect on next restart")
		next.Daemon.HTTPAddr = current.Daemon.HTTPAddr
	}
	if next.Daemon.NATS != current.Daemon.NATS {
		slog.Warn("nats settings changed; take effect on next restart")
		next.Daemon.NATS = current.Daemon.NATS
	}

	cw.daemon.requestReload(next)
	return nil
}
