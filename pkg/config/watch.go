package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the configuration whenever the file at path is written or
// replaced and passes each valid result to onReload. Invalid files are
// logged and ignored. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file itself so that
// editors and config-map mounts that swap the file by rename keep working.
func Watch(ctx context.Context, path string, logger logrus.FieldLogger, onReload func(*Config)) error {
	if path == "" {
		return fmt.Errorf("config file path is required")
	}
	target := filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.WithError(err).WithField("path", target).Warn("ignoring invalid config change")
				continue
			}
			logger.WithField("path", target).Info("config reloaded")
			onReload(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}
