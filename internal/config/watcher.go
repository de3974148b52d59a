package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	log "github.com/minhvu-dev/subsweep/internal/logging"
)

// Watch observes a file for changes and invokes onChange after a short
// debounce. Editors replace files with rename+create, so the parent
// directory is watched and events filtered by name. Watch blocks until
// ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	path = ExpandHome(path)
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			log.Infof("config: %s changed, reloading", base)
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("config: watcher error: %v", err)
		}
	}
}
