package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 200 * time.Millisecond

// FileWatcher calls a handler when one file changes. The parent directory
// is watched so editors that replace the file by rename are seen too.
type FileWatcher struct {
	path     string
	onChange func(path string) error
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewFileWatcher prepares a watcher for path. Start begins delivery.
func NewFileWatcher(path string, onChange func(path string) error, logger *zap.Logger) (*FileWatcher, error) {
	if path == "" {
		return nil, &ConfigurationError{Key: "compliance.rules_file", Reason: "empty path"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &FileWatcher{
		path:     abs,
		onChange: onChange,
		debounce: defaultDebounce,
		watcher:  w,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches until ctx ends or Stop is called.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.started {
		return nil
	}
	if err := fw.watcher.Add(filepath.Dir(fw.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(fw.path), err)
	}
	fw.started = true
	go fw.watchLoop(ctx)
	fw.logger.Info("Watching configuration file", zap.String("path", fw.path))
	return nil
}

// Stop ends the watch loop and waits for it to exit.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.started {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.started = false
	close(fw.stopCh)
	fw.mu.Unlock()

	err := fw.watcher.Close()
	<-fw.doneCh
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.doneCh)
	defer func() {
		if r := recover(); r != nil {
			fw.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopCh:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := fw.onChange(fw.path); err != nil {
				fw.logger.Warn("Configuration reload failed", zap.String("path", fw.path), zap.Error(err))
			}
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error("File watcher error", zap.Error(err))
		}
	}
}
