package privacy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 100 * time.Millisecond

// ConfigTarget receives reloaded configurations. RegexFilter implements it.
type ConfigTarget interface {
	SetConfig(cfg *Config)
}

// Watcher reloads the config document when it changes on disk and pushes
// valid versions to a target. Invalid versions are logged and ignored.
type Watcher struct {
	store    *Store
	path     string
	target   ConfigTarget
	logger   *zap.Logger
	fsw      *fsnotify.Watcher
	debounce time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher watches the directory holding path, since editors often
// replace files by rename. The directory is created if missing.
func NewWatcher(store *Store, path string, target ConfigTarget, logger *zap.Logger) (*Watcher, error) {
	if store == nil {
		store = NewStore(nil, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	path = filepath.Clean(resolvePath(path))
	dir := filepath.Dir(path)
	if err := store.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, &ConfigIOError{Op: "mkdir", Path: dir, Err: err}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, &ConfigIOError{Op: "watch", Path: dir, Err: err}
	}
	return &Watcher{
		store:    store,
		path:     path,
		target:   target,
		logger:   logger.Named("config_watcher"),
		fsw:      fsw,
		debounce: defaultReloadDebounce,
		done:     make(chan struct{}),
	}, nil
}

// Run processes file events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Watching privacy config", zap.String("path", w.path))
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				fire = time.After(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.store.LoadStrict(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("Privacy config removed, keeping current", zap.String("path", w.path))
			return
		}
		w.logger.Error("Privacy config reload failed, keeping current",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.target.SetConfig(cfg)
	w.logger.Info("Reloaded privacy config",
		zap.String("path", w.path),
		zap.Int("global_patterns", len(cfg.GlobalPatterns)),
		zap.Int("domain_rules", len(cfg.DomainRules)),
	)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
