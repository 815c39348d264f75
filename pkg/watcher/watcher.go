// Package watcher следит за каталогами схем и правил и дёргает перезагрузку
// снапшота при изменениях. События схлопываются с задержкой, чтобы серия
// записей дала одну перезагрузку.
package watcher

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"protomock/pkg/logger"
)

const debounceDelay = 500 * time.Millisecond

// Watcher наблюдатель каталогов
type Watcher struct {
	fs     *fsnotify.Watcher
	reload func() error
}

// New создаёт наблюдатель над перечисленными каталогами
func New(dirs []string, reload func() error) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := fs.Add(dir); err != nil {
			logger.Log.Warn("Failed to watch directory", "dir", dir, "error", err)
		}
	}

	return &Watcher{fs: fs, reload: reload}, nil
}

// Run обрабатывает события до отмены контекста
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Log.Debug("Asset change detected", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				timerC = timer.C
			} else {
				timer.Reset(debounceDelay)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Log.Warn("Watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if err := w.reload(); err != nil {
				logger.Log.Error("Reload after asset change failed", "error", err)
			}
		}
	}
}
