package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file on change and invokes onChange with the
// new config. A reload that fails to parse or validate keeps the old
// config and logs the problem. Watch returns once the watcher is
// installed; it stops when ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}

	logger.Info("watching config file for changes", slog.String("path", path))

	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				logger.Debug("config watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}

				logger.Info("config file changed, reloading", slog.String("path", event.Name))

				cfg, err := Load(path)
				if err != nil {
					logger.Error("failed to reload config",
						slog.String("error", err.Error()),
						slog.String("path", path))
					continue
				}
				onChange(cfg)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("config watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}
