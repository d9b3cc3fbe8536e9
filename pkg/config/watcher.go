package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Reloader is anything that can atomically swap in fresh configuration.
// A failed reload must keep the previous configuration active.
type Reloader interface {
	Reload() error
}

// debounceWindow coalesces the event bursts editors and config-map
// mounts produce into a single reload.
const debounceWindow = 500 * time.Millisecond

// WatchDir reloads target whenever a YAML file under dir changes. Blocks
// until the context is cancelled.
func WatchDir(ctx context.Context, dir string, target Reloader, logger *zap.SugaredLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Infow("watching for rule changes", "dir", dir)

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isYAML(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := target.Reload(); err != nil {
				logger.Errorw("rule reload failed, keeping previous rule sets", "error", err)
				continue
			}
			logger.Info("rule sets reloaded")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("rule watcher error", "error", err)
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
