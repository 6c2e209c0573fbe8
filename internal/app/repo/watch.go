package repo

import (
	"context"

	"github.com/fsnotify/fsnotify"

	"horust/internal/app/bus"
	"horust/internal/config/logger"
)

// Watcher watches every loaded service file and publishes ReloadConfig
// whenever one changes on disk. Per spec.md §9(c) the event carries no
// reload semantics yet; C7 ignores it.
type Watcher struct {
	fsw *fsnotify.Watcher
	bus bus.Bus
	log logger.Logger
}

// NewWatcher creates a Watcher and registers every service path found
// in r with the underlying fsnotify watcher.
func NewWatcher(r *Repo, b bus.Bus, log logger.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, bus: b, log: log}

	for _, name := range r.Names() {
		h, ok := r.Handler(name)
		if !ok || h.Service.Path == "" {
			continue
		}

		if err := fsw.Add(h.Service.Path); err != nil {
			log.Warn().Str("path", h.Service.Path).Err(err).Msg("failed to watch service file")
		}
	}

	return w, nil
}

// Run drains fsnotify events until ctx is done, translating writes
// into bus.ReloadConfig events.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.bus.Publish(bus.ReloadConfig(event.Name))
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.log.Warn().Err(err).Msg("service file watch error")
		}
	}
}
