package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pkgLogger is the package-level debug logger, set for the duration of a run.
var (
	pkgLogger   *DebugLogger
	pkgLoggerMu sync.RWMutex
)

func setPackageLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

// debugLog writes through the package-level logger. Helpers such as the
// strategy runners use it instead of threading a logger through.
func debugLog(format string, args ...any) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()

	l.Log(format, args...)
}

// DebugLogger appends timestamped lines to a file. A zero DebugLogger (or a
// nil pointer) discards everything.
type DebugLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewDebugLogger creates a logger writing to logPath, creating parent
// directories. An empty path returns a no-op logger.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return &DebugLogger{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	logger := &DebugLogger{file: f}
	logger.Log("=== cadre run log opened at %s ===", time.Now().Format(time.RFC3339))
	return logger, nil
}

// DebugLogPath returns the default debug log location under workDir.
func DebugLogPath(workDir string) string {
	return filepath.Join(workDir, ".cadre", "logs", "orchestrator-debug.log")
}

// NewDebugLoggerForWorkdir creates a logger at DebugLogPath(workDir), or a
// no-op logger if the file cannot be opened.
func NewDebugLoggerForWorkdir(workDir string) *DebugLogger {
	logger, err := NewDebugLogger(DebugLogPath(workDir))
	if err != nil {
		return &DebugLogger{}
	}
	return logger
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes a timestamped line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	fmt.Fprintf(l.file, "[%s] %s\n", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
}

// Close closes the log file. Safe on a nil or no-op logger, and safe to
// call more than once.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
