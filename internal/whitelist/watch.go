package whitelist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes until ctx is done. The directory is
// watched rather than the file so that replace-by-rename updates are seen.
// Failed reloads are logged and the previous whitelist is kept.
func (s *Store) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify.NewWatcher: %w", err)
	}
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watcher.Add: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				if err := s.LoadFile(path); err != nil {
					slog.Warn("Whitelist reload failed", slog.String("path", path), slog.Any("error", err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Whitelist watcher", slog.Any("error", err))
			}
		}
	}()
	return nil
}
