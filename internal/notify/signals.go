package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names under .cadre/signals.
const (
	KillSignal  = "kill"
	PauseSignal = "pause"
)

// Controller is what a signal watcher drives. The orchestrator implements it.
type Controller interface {
	Pause()
	Resume()
	Stop()
}

// SignalWatcher turns signal files into Controller calls: creating
// signals/kill stops the run, creating signals/pause pauses it, and
// removing signals/pause resumes it.
type SignalWatcher struct {
	dir string

	mu      sync.RWMutex
	stopped bool
	paused  bool

	watcher *fsnotify.Watcher
}

// SignalsDir returns the signal directory under workDir.
func SignalsDir(workDir string) string {
	return filepath.Join(workDir, ".cadre", "signals")
}

// NewSignalWatcher creates the signal directory under workDir and starts a
// file watcher on it. Without a watcher it still answers ShouldStop and
// ShouldPause by polling the files.
func NewSignalWatcher(workDir string) (*SignalWatcher, error) {
	dir := SignalsDir(workDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create signals directory: %w", err)
	}

	sw := &SignalWatcher{dir: dir}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[notify] file watcher unavailable, falling back to polling: %v", err)
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Printf("[notify] cannot watch %s, falling back to polling: %v", dir, err)
		return sw, nil
	}
	sw.watcher = watcher
	return sw, nil
}

// Dir returns the watched directory.
func (sw *SignalWatcher) Dir() string {
	return sw.dir
}

// Run forwards signals to c until ctx is done or the watcher is closed.
// Signal files present at start are applied immediately.
func (sw *SignalWatcher) Run(ctx context.Context, c Controller) {
	if sw.ShouldStop() {
		c.Stop()
	} else if sw.ShouldPause() {
		c.Pause()
	}

	if sw.watcher == nil {
		sw.poll(ctx, c)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			sw.handle(event, c)
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[notify] watcher error: %v", err)
		}
	}
}

func (sw *SignalWatcher) handle(event fsnotify.Event, c Controller) {
	created := event.Op&(fsnotify.Create|fsnotify.Write) != 0
	removed := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0

	switch filepath.Base(event.Name) {
	case KillSignal:
		if created {
			sw.mu.Lock()
			sw.stopped = true
			sw.mu.Unlock()
			log.Printf("[notify] kill signal received")
			c.Stop()
		}
	case PauseSignal:
		sw.mu.Lock()
		wasPaused := sw.paused
		if created {
			sw.paused = true
		} else if removed {
			sw.paused = false
		}
		nowPaused := sw.paused
		sw.mu.Unlock()

		if nowPaused && !wasPaused {
			c.Pause()
		} else if !nowPaused && wasPaused {
			c.Resume()
		}
	}
}

// poll is the fallback when fsnotify is unavailable.
func (sw *SignalWatcher) poll(ctx context.Context, c Controller) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	wasPaused := sw.ShouldPause()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sw.ShouldStop() {
				c.Stop()
				return
			}
			paused := sw.fileExists(PauseSignal)
			sw.mu.Lock()
			sw.paused = paused
			sw.mu.Unlock()
			if paused && !wasPaused {
				c.Pause()
			} else if !paused && wasPaused {
				c.Resume()
			}
			wasPaused = paused
		}
	}
}

func (sw *SignalWatcher) fileExists(name string) bool {
	_, err := os.Stat(filepath.Join(sw.dir, name))
	return err == nil
}

// ShouldStop returns true if a kill signal was seen or the file exists.
func (sw *SignalWatcher) ShouldStop() bool {
	if sw.fileExists(KillSignal) {
		sw.mu.Lock()
		sw.stopped = true
		sw.mu.Unlock()
	}

	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.stopped
}

// ShouldPause returns true while the pause file exists.
func (sw *SignalWatcher) ShouldPause() bool {
	paused := sw.fileExists(PauseSignal)
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.paused = paused
	return paused
}

// ClearSignals removes all signal files and resets signal state.
func (sw *SignalWatcher) ClearSignals() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.stopped = false
	sw.paused = false
	os.Remove(filepath.Join(sw.dir, KillSignal))
	os.Remove(filepath.Join(sw.dir, PauseSignal))
}

// Close stops the file watcher.
func (sw *SignalWatcher) Close() error {
	if sw.watcher == nil {
		return nil
	}
	return sw.watcher.Close()
}

func writeSignal(dir, name string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signals directory: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0644); err != nil {
		return fmt.Errorf("write %s signal: %w", name, err)
	}
	return nil
}

// SendKill writes the kill signal for a run in workDir without starting a watcher.
func SendKill(workDir string) error {
	return writeSignal(SignalsDir(workDir), KillSignal)
}

// SendPause writes the pause signal for a run in workDir.
func SendPause(workDir string) error {
	return writeSignal(SignalsDir(workDir), PauseSignal)
}

// SendResume removes the pause signal for a run in workDir.
func SendResume(workDir string) error {
	err := os.Remove(filepath.Join(SignalsDir(workDir), PauseSignal))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pause signal: %w", err)
	}
	return nil
}
