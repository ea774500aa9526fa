package store

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch calls onChange after the store file is created or rewritten, collapsing bursts
// of events within debounce into one call. It returns once the watcher is running and
// stops when ctx is done.
func (d *DependencyContext) Watch(ctx context.Context, logger zerolog.Logger, debounce time.Duration, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create store watcher: %w", err)
	}

	target := filepath.Clean(d.Path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer w.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					timer.Reset(debounce)
				}
				fire = timer.C

			case <-fire:
				fire = nil
				logger.Debug().Str("path", target).Msg("analytical store changed")
				onChange()

			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Str("path", target).Msg("store watcher error")
			}
		}
	}()
	return nil
}
