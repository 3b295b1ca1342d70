package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceInterval = 100 * time.Millisecond

// Watch reloads path whenever it changes and hands the result to apply: a
// valid config with a nil error, or a nil config with the load error. A
// config that fails to load or validate is skipped, so the last good config
// stays in force. Editors that replace the file (rename + create) are
// handled by watching the parent directory, and rapid event bursts are
// debounced. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger zerolog.Logger, apply func(*Root, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()
	fired := make(chan struct{}, 1)

	logger.Info().Str("path", path).Msg("watching config")

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(debounceInterval, func() {
				select {
				case fired <- struct{}{}:
				default:
				}
			})

		case <-fired:
			cfg, err := Load(path)
			if err != nil {
				logger.Error().Err(err).Msg("config reload rejected, keeping previous")
				apply(nil, err)
				continue
			}
			logger.Info().Str("path", path).Msg("config reloaded")
			apply(cfg, nil)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error().Err(err).Msg("config watcher error")
		}
	}
}
