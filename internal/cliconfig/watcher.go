package cliconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watchDebounce coalesces editor write bursts into one reload.
const watchDebounce = 100 * time.Millisecond

// Watch monitors a config file and calls onChange with the re-resolved
// configuration after each modification. It returns once the watcher is
// running; watching stops when ctx is cancelled. The parent directory is
// watched so atomic rename-style saves are observed too.
func Watch(ctx context.Context, path string, logger zerolog.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					reload(path, logger, onChange)
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}

func reload(path string, logger zerolog.Logger, onChange func(Config)) {
	cfg := DefaultConfig()
	if err := Resolve(&cfg, path, nil); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("config reload failed")
		return
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("config reload invalid")
		return
	}
	logger.Info().Str("path", path).Msg("configuration reloaded")
	onChange(cfg)
}
