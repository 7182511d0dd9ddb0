package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is invoked with the freshly loaded store after the
// config file changes on disk.
type ReloadCallback func(cfg *Config)

// Watcher monitors the config store so a running daemon picks up a
// token rotated by 'codelink setup' without a restart.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	onReload  ReloadCallback

	// Debouncing: editors and atomic renames fire several events per save
	debounce time.Duration
	timerMu  sync.Mutex
	timer    *time.Timer

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher over the config directory. Watching the
// directory rather than the file survives atomic replace-on-save.
func NewWatcher(onReload ReloadCallback) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsWatcher.Add(filepath.Dir(Path())); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		onReload:  onReload,
		debounce:  500 * time.Millisecond,
		stopChan:  make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// loop handles fsnotify events until Stop.
func (w *Watcher) loop() {
	defer w.wg.Done()

	configFile := filepath.Base(Path())

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  Config watcher error: %v", err)
		}
	}
}

// scheduleReload coalesces bursts of events into one reload.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load()
		if err != nil {
			log.Printf("⚠️  Failed to reload config: %v", err)
			return
		}
		log.Println("🔄 Config store changed on disk - reloaded")
		w.onReload(cfg)
	})
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.stopChan)
	w.fsWatcher.Close()
	w.wg.Wait()

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()
}
