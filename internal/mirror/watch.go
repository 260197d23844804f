package mirror

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch runs SyncOnce on the interval and additionally whenever a mirrored
// file changes on disk. Filesystem events are debounced so editors that write
// in bursts trigger a single sync. Returns when the context is cancelled.
func (m *Mirror) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(m.localDir); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	sync := func() {
		if err := m.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			m.logf("sync failed: %v", err)
		}
	}
	sync()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sync()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !m.watchesFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(500 * time.Millisecond)
		case <-debounce.C:
			sync()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logf("watch error: %v", err)
		}
	}
}

func (m *Mirror) watchesFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, remotePath := range m.remote {
		if base == filepath.Base(remotePath) {
			return true
		}
	}
	return false
}
