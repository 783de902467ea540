package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// debounce collapses the burst of writes editors emit for a single save.
const debounce = 50 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk. A reload
// that fails to parse is logged and skipped; the last good config stays.
type Watcher struct {
	path     string
	onChange func(*Config)

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// Watch starts watching path and calls onChange from the watcher goroutine
// with every config that parses. The directory is watched rather than the
// file so that atomic-rename saves are seen too.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("config: Watch needs a callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		core.LogError("config: failed to create watcher: %s", err)
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		core.LogError("config: failed to watch %s: %s", filepath.Dir(abs), err)
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		onChange: onChange,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	core.LogDebug("watching %s for changes", abs)
	return w, nil
}

func (w *Watcher) start() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// Renamed away mid-save; the Create that follows reloads it.
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		core.LogWarn("keeping previous config: %s", err)
		return
	}
	core.LogInfo("config reloaded from %s", w.path)
	w.onChange(cfg)
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.fsnotify.Close()
	})
	return err
}
