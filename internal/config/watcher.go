package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reload waits briefly after the last write so editors that save in
// several steps (truncate, write, rename) trigger a single reload.
const reloadDebounce = 250 * time.Millisecond

// Watch reloads the configuration whenever config.json changes on disk
// and hands each successfully parsed Config to onChange. It blocks until
// ctx is cancelled. Parse failures are logged and the previous
// configuration stays in effect.
func (m *Manager) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: many editors replace the file
	// on save, which would silently drop a file-level watch.
	if err := watcher.Add(m.configDir); err != nil {
		return err
	}

	target := filepath.Base(m.GetConfigPath())
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
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			cfg, err := m.Load()
			if err != nil {
				log.Printf("⚠️  config reload failed, keeping previous settings: %v", err)
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("⚠️  config watcher error: %v", err)
		}
	}
}
