package devices

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates the loaded indexes and the template cache whenever a
// file below the devices or priority directory changes. The next lookup
// then reloads from disk. Writes to the index files themselves are
// ignored. Watch blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrManagerClosed
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("devices: creating watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range []string{m.config.DevicesDir, m.config.PriorityDir} {
		if dir == "" {
			continue
		}
		if err := addRecursive(w, dir); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handleEvent(w, ev)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if m.log != nil {
				m.log.Warnf("device config watcher: %v", err)
			}
		}
	}
}

func (m *Manager) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if name == IndexFilename || name == FulltextIndexFilename {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	// temporary files of index writes end in random digits
	if !isDir && !strings.HasSuffix(name, ".json") {
		return
	}

	// new directories are not watched automatically
	if isDir && ev.Has(fsnotify.Create) {
		if err := addRecursive(w, ev.Name); err != nil && m.log != nil {
			m.log.Warnf("device config watcher: %v", err)
		}
	}

	if m.log != nil {
		m.log.Debugf("%s changed, invalidating device index", ev.Name)
	}
	m.Invalidate()
}

// addRecursive watches dir and every directory below it. Paths that are
// not directories are ignored.
func addRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				// removed again before it could be watched
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("devices: watching %s: %w", path, err)
		}
		return nil
	})
}
