package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const decisionsTemplate = `# Project Decisions

Shared conventions and constraints. Every stage reads this file as
external knowledge; retries append what they learned.

## Decisions
`

// DecisionBoard is the shared decisions file at .cadre/decisions.md. Its
// content is handed to stages as external knowledge.
type DecisionBoard struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

// NewDecisionBoard opens (creating if needed) the decisions file under workDir.
func NewDecisionBoard(workDir string) (*DecisionBoard, error) {
	path := filepath.Join(workDir, ".cadre", "decisions.md")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create decisions directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(decisionsTemplate), 0644); err != nil {
			return nil, fmt.Errorf("initialize decisions file: %w", err)
		}
	}
	return &DecisionBoard{path: path, now: time.Now}, nil
}

// Path returns the decisions file path.
func (b *DecisionBoard) Path() string {
	return b.path
}

// Read returns the current decisions, or "" if the file is unreadable.
func (b *DecisionBoard) Read() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	content, err := os.ReadFile(b.path)
	if err != nil {
		return ""
	}
	return string(content)
}

// Append adds a timestamped decision.
func (b *DecisionBoard) Append(decision string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("open decisions file: %w", err)
	}
	defer f.Close()

	entry := "- " + b.now().Format("2006-01-02 15:04") + ": " + decision + "\n"
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}
