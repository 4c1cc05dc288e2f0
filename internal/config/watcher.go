package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands the
// fresh Config to the registered callback. Reload failures keep the last
// good config.
type Watcher struct {
	path   string
	onLoad func(Config)
}

func NewWatcher(path string, onLoad func(Config)) *Watcher {
	return &Watcher{path: path, onLoad: onLoad}
}

// Start watches the file until ctx is cancelled. If fsnotify cannot be
// set up (or the file does not exist yet) it falls back to slow polling.
func (w *Watcher) Start(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("[WARN] Config Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else if err := watcher.Add(w.path); err != nil {
		log.Printf("[WARN] Config Watcher: cannot watch %s (%v), falling back to polling", w.path, err)
		usePolling = true
		watcher.Close()
	}

	if usePolling {
		go w.pollLoop(ctx)
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
					// Editors often write in multiple syscalls; let the file settle.
					time.Sleep(100 * time.Millisecond)
					w.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[ERROR] Config Watcher: %v", err)
			}
		}
	}()
}

func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Printf("[ERROR] Config Watcher: reload failed, keeping previous config: %v", err)
		return
	}
	log.Printf("Config Watcher: reloaded %s", w.path)
	w.onLoad(cfg)
}
