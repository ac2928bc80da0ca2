// Package configwatch implements component I: watching the configuration
// file for changes, debouncing, and re-publishing a validated snapshot to
// the Registry without ever taking down a good configuration (spec §4.I).
package configwatch

import (
	"context"
	"time"

	"github.com/accesspoint/gateway/internal/config"
	"github.com/accesspoint/gateway/internal/obslog"
	"github.com/accesspoint/gateway/internal/registry"
	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of writes (editors often truncate then
// rewrite) into a single reparse, per spec §4.I "debounces events (250 ms)".
const debounceDelay = 250 * time.Millisecond

// Watcher ties an fsnotify watch on one config file to a reparse-and-publish
// cycle against a Registry.
type Watcher struct {
	path string
	reg  *registry.Registry
	fsw  *fsnotify.Watcher
}

func New(path string, reg *registry.Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{path: path, reg: reg, fsw: fsw}, nil
}

// Run blocks, reloading on debounced file-change events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	log := obslog.FromContext(ctx)
	defer w.fsw.Close()

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error("config watcher error", "err", err)
		case <-reload:
			w.reloadOnce(ctx)
		}
	}
}

// reloadOnce parses the watched file and publishes it; on any failure the
// live snapshot is left untouched, per spec §4.I.
func (w *Watcher) reloadOnce(ctx context.Context) {
	log := obslog.FromContext(ctx)
	cfg, err := config.Initialize(ctx, nil, config.NewYAMLProvider(w.path))
	if err != nil {
		log.Error("config reload: parse failed, keeping current configuration", "path", w.path, "err", err)
		return
	}
	snap := cfg.ToSnapshot()
	if err := w.reg.LoadSnapshot(ctx, snap); err != nil {
		log.Error("config reload: validation failed, keeping current configuration", "path", w.path, "err", err)
		return
	}
	log.Info("config reload: published new snapshot", "path", w.path, "version", snap.Version)
}
