package detectors

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

var watchedModelFiles = map[string]struct{}{
	"model.onnx":           {},
	"model_quantized.onnx": {},
	"tokenizer.json":       {},
	"config.json":          {},
}

// StartWatcher reloads the model whenever a model file in the current
// directory is created, written or renamed. Bursts are coalesced by
// debounce. When ReloadModel switches to another directory the watch moves
// with it. The watcher stops when ctx is done and then closes the returned
// channel, which carries watcher errors.
func (mm *ModelManager) StartWatcher(ctx context.Context, debounce time.Duration) (<-chan error, error) {
	mm.mu.RLock()
	dir := mm.modelDirectory
	mm.mu.RUnlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	mm.logger.Info("[ModelManager] Watching model directory", "directory", dir)

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer func() { _ = w.Close() }()

		report := func(err error) {
			select {
			case errCh <- err:
			default:
			}
		}

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if _, watched := watchedModelFiles[filepath.Base(e.Name)]; !watched {
					continue
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(debounce)
				fire = timer.C
			case <-fire:
				fire = nil
				mm.mu.RLock()
				current := mm.modelDirectory
				mm.mu.RUnlock()
				// ReloadModel logs and records its own failures
				_ = mm.ReloadModel(current)
			case <-mm.dirChanged:
				mm.mu.RLock()
				current := mm.modelDirectory
				mm.mu.RUnlock()
				if current == dir {
					continue
				}
				if err := w.Add(current); err != nil {
					mm.logger.Error("[ModelManager] Failed to watch new model directory", "directory", current, "error", err)
					report(err)
					continue
				}
				if err := w.Remove(dir); err != nil {
					mm.logger.Warn("[ModelManager] Failed to stop watching old model directory", "directory", dir, "error", err)
				}
				mm.logger.Info("[ModelManager] Watching model directory", "directory", current)
				dir = current
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				mm.logger.Error("[ModelManager] Watcher error", "error", err)
				report(err)
			}
		}
	}()
	return errCh, nil
}
