package provider

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher watches a directory of custom-provider JSON files and
// keeps a Registry's loaded configs in sync with it.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	dir     string
	reg     *Registry
	done    chan struct{}

	// namesMu guards names, which tracks each watched file's path to the
	// config name it last loaded under. Registry.custom is keyed by that
	// declared name, not the file's basename, so eviction on a Remove
	// event must go through this map rather than re-deriving a key from
	// the path.
	namesMu sync.Mutex
	names   map[string]string
}

// WatchConfigDir loads every *.json file already in dir into reg, then
// starts watching dir for further create/write/remove events. Call Close
// to stop watching.
func WatchConfigDir(dir string, reg *Registry) (*ConfigWatcher, error) {
	cw := &ConfigWatcher{dir: dir, reg: reg, done: make(chan struct{}), names: make(map[string]string)}

	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, path := range entries {
		cw.load(path)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	cw.watcher = w

	go cw.loop()
	return cw, nil
}

// load reads and registers the config file at path, remembering the name
// it loaded under so a later Remove event can evict the right registry
// key.
func (cw *ConfigWatcher) load(path string) {
	name, err := cw.reg.LoadCustomConfigFile(path)
	if err != nil {
		slog.Warn("provider: skipping unreadable custom config", "path", path, "err", err)
		return
	}
	cw.namesMu.Lock()
	old, had := cw.names[path]
	cw.names[path] = name
	cw.namesMu.Unlock()
	if had && old != name {
		cw.reg.RemoveCustomConfig(old)
	}
}

func (cw *ConfigWatcher) loop() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				cw.load(ev.Name)
				slog.Info("provider: reloaded custom config", "path", ev.Name)
			case ev.Op&fsnotify.Remove != 0:
				cw.namesMu.Lock()
				name, ok := cw.names[ev.Name]
				delete(cw.names, ev.Name)
				cw.namesMu.Unlock()
				if !ok {
					slog.Warn("provider: remove event for untracked config file", "path", ev.Name)
					continue
				}
				cw.reg.RemoveCustomConfig(name)
				slog.Info("provider: removed custom config", "path", ev.Name, "name", name)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("provider: config watcher error", "err", err)
		case <-cw.done:
			return
		}
	}
}

// Close stops the watcher.
func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	return cw.watcher.Close()
}
