// Package notify delivers run alerts and watches the file-based control
// signals (kill, pause) under a work directory's .cadre folder.
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
)

// Notifier delivers a message somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, message string) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, message string) error {
	return f(ctx, message)
}

// Send delivers message through n without ever failing the caller. Errors
// and panics from the sink are logged and dropped.
func Send(ctx context.Context, n Notifier, message string) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] notifier panicked: %v", r)
		}
	}()
	if err := n.Notify(ctx, message); err != nil {
		log.Printf("[notify] delivery failed: %v", err)
	}
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

// Notify logs the message.
func (LogNotifier) Notify(_ context.Context, message string) error {
	log.Printf("[notify] ALERT: %s", message)
	return nil
}

// AlertsPath returns the default alerts file under workDir.
func AlertsPath(workDir string) string {
	return filepath.Join(workDir, ".cadre", "alerts.md")
}

const alertsHeader = `# Alerts

Policy escalations raised by cadre runs.

`

// FileNotifier appends alerts to a markdown file.
type FileNotifier struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewFileNotifier creates a notifier appending to path.
func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path, now: time.Now}
}

// Path returns the alerts file path.
func (f *FileNotifier) Path() string {
	return f.path
}

// Notify appends one timestamped line, creating the file with a header.
func (f *FileNotifier) Notify(_ context.Context, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("create alerts directory: %w", err)
	}

	_, statErr := os.Stat(f.path)
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open alerts file: %w", err)
	}
	defer file.Close()

	if errors.Is(statErr, os.ErrNotExist) {
		if _, err := file.WriteString(alertsHeader); err != nil {
			return fmt.Errorf("write alerts header: %w", err)
		}
	}

	entry := "- " + f.now().Format("2006-01-02 15:04:05") + ": " + message + "\n"
	if _, err := file.WriteString(entry); err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	return nil
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

// Notify delivers to every notifier and joins their errors.
func (m Multi) Notify(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = LogNotifier{}
	_ Notifier = (*FileNotifier)(nil)
	_ Notifier = Multi(nil)
	_ Notifier = Func(nil)
)
