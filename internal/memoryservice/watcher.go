package memoryservice

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SyncCallback is called after a watcher-driven resync with the number
// of newly indexed entries.
type SyncCallback func(indexed int)

// Watch starts an fsnotify watcher on the state directory and resyncs
// the vector store when author files change, until ctx is cancelled.
//
// Reindexing stays proportional to changed content: a resync only
// embeds entries missing from the store. Events are debounced so one
// editor save (write + rename) triggers a single pass.
func (s *Service) Watch(ctx context.Context, stateDir string, cb SyncCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(stateDir); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("dir", stateDir))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			s.logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			result, err := s.Resync(ctx)
			if err != nil {
				s.logger.Warn("watcher: resync failed", slog.String("error", err.Error()))
				continue
			}
			s.logger.Debug("watcher: resynced", slog.Int("indexed", result.Indexed))
			if cb != nil {
				cb(result.Indexed)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleSync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
