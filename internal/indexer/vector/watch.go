package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events one session flush produces.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc is told which collections a watch-triggered reload published
// trees for.
type ReloadFunc func(ctx context.Context, collections []uint64)

// Watch reloads as tree files are created or replaced in the loader's
// directory, until ctx is done. Events arriving within debounce of each
// other trigger one reload. onReload may be nil.
func (l *Loader) Watch(ctx context.Context, debounce time.Duration, onReload ReloadFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("creating tree directory: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}
	l.logger.Info("watching tree directory", "dir", l.dir, "debounce", debounce)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if isTreeWrite(ev) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				timer.Reset(debounce)
				continue
			}
			l.logger.Error("tree watcher error", "error", err)
		case <-timer.C:
			loaded, collections, err := l.reload(ctx)
			if err != nil {
				l.logger.Error("watch-triggered reload failed", "error", err)
				continue
			}
			if loaded > 0 && onReload != nil {
				onReload(ctx, collections)
			}
		}
	}
}

func isTreeWrite(ev fsnotify.Event) bool {
	if !strings.HasSuffix(filepath.Base(ev.Name), FileExt) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}
