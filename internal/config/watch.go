// Copyright (c) 2026 Roomware Labs
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roomware/stagehand/internal/log"
)

// debounce window for editors that write config files in several bursts.
const watchDebounce = 500 * time.Millisecond

// Watch observes the game config file on disk and invokes onChange when it
// is rewritten. Configuration is applied only at start, so the callback is
// used for operator feedback (a warnings-topic entry), not for reloads.
// Blocks until the context ends.
func Watch(ctx context.Context, path string, onChange func(path string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: editors replace files instead of writing in
	// place, which would silently drop a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := log.WithComponent("config")
	target := filepath.Clean(path)
	var last time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(last) < watchDebounce {
				continue
			}
			last = time.Now()
			logger.Warn().
				Str("event", "config.changed_on_disk").
				Str("path", path).
				Msg("game config changed on disk, effective after restart")
			if onChange != nil {
				onChange(path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Str("event", "config.watch_error").Msg("config watcher error")
		}
	}
}
