package plugins

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor produces on save.
const reloadDelay = 200 * time.Millisecond

// Watch calls reload whenever a plugin file in dir changes, until ctx is
// done. A missing directory is not watched.
func Watch(ctx context.Context, dir string, logger *slog.Logger, reload func()) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("plugin directory not found, not watching", slog.String("dir", dir))
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create plugin watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Debug("watching plugin directory", slog.String("dir", dir))

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPluginFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			fire = time.After(reloadDelay)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("plugin watcher error", slog.Any("error", err))
		case <-fire:
			fire = nil
			logger.Info("plugin directory changed, reloading", slog.String("dir", dir))
			reload()
		}
	}
}
