package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors emit on save.
const watchDebounce = 250 * time.Millisecond

// Watch reloads the config file through LoadFile (plus env overlay) whenever it changes and
// hands the result to onChange. Invalid edits are logged and skipped.
// The directory is watched rather than the file so rename-on-save
// editors keep working. Watch blocks until ctx is done.
func Watch(ctx context.Context, path, envFile string, lg *slog.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			c, err := LoadFile(path)
			if err == nil {
				err = Overlay(&c, envFile)
			}
			if err != nil {
				lg.Warn("config reload failed", "path", path, "err", err)
				continue
			}
			lg.Info("config reloaded", "path", path)
			onChange(c)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			lg.Warn("config watch error", "err", err)
		}
	}
}
