package accounts

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the provider whenever the users file changes, until ctx is
// cancelled. The parent directory is watched rather than the file itself so
// atomic rename-into-place updates are seen.
func (p *Provider) Watch(ctx context.Context, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		return err
	}

	// Editors and atomic writers emit bursts of events; coalesce them.
	var reload <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			reload = time.After(200 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("users file watcher error", "error", err)

		case <-reload:
			reload = nil
			if err := p.Reload(); err != nil {
				log.Warn("users file reload failed, keeping previous list", "error", err)
				continue
			}
			log.Info("users file reloaded", "users", len(p.All()), "active", len(p.Active()))
		}
	}
}
