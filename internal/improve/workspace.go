package improve

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrPathEscape is returned for targets that resolve outside the workspace root.
var ErrPathEscape = errors.New("path escapes workspace")

// Snapshot is the saved pre-apply state of one artifact.
type Snapshot struct {
	// Target is the workspace-relative artifact path.
	Target string
	// Existed is false when the artifact did not exist before the apply.
	Existed bool
	// Content is the artifact's full content at snapshot time.
	Content []byte
	// Path is where the backup copy lives on disk, if any.
	Path string
}

// Workspace holds the artifacts the engine may mutate. Writes always replace
// the full content of an artifact.
type Workspace interface {
	// Read returns the artifact content; os.ErrNotExist if absent.
	Read(target string) ([]byte, error)
	// Write replaces the artifact with content.
	Write(target string, content []byte) error
	// Backup snapshots the artifact before it is changed.
	Backup(target string) (*Snapshot, error)
	// Restore puts the artifact back exactly as snapshotted.
	Restore(s *Snapshot) error
	// Prune keeps the newest keep backups of target and deletes the rest.
	Prune(target string, keep int) error
}

// FileWorkspace is a Workspace rooted at a directory. Backups are written
// under <root>/.cadre/backups.
type FileWorkspace struct {
	root      string
	backupDir string
	now       func() time.Time
}

// NewFileWorkspace creates a workspace rooted at root.
func NewFileWorkspace(root string) (*FileWorkspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &FileWorkspace{
		root:      abs,
		backupDir: filepath.Join(abs, ".cadre", "backups"),
		now:       time.Now,
	}, nil
}

// Root returns the absolute workspace root.
func (w *FileWorkspace) Root() string {
	return w.root
}

// BackupDir returns the directory holding backups.
func (w *FileWorkspace) BackupDir() string {
	return w.backupDir
}

func (w *FileWorkspace) resolve(target string) (string, error) {
	if target == "" {
		return "", fmt.Errorf("empty target: %w", ErrPathEscape)
	}
	p := target
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", target, ErrPathEscape)
	}
	return p, nil
}

// Read returns the artifact content.
func (w *FileWorkspace) Read(target string) ([]byte, error) {
	p, err := w.resolve(target)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Write replaces the artifact, creating parent directories as needed. The
// content goes to a temp file first and is renamed into place.
func (w *FileWorkspace) Write(target string, content []byte) error {
	p, err := w.resolve(target)
	if err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(p); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", target, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".cadre-write-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", target, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", target, err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", target, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", target, err)
	}
	return nil
}

// backupPrefix flattens a target path into a backup file name prefix.
func backupPrefix(target string) string {
	flat := strings.ReplaceAll(filepath.ToSlash(filepath.Clean(target)), "/", "__")
	return flat + "."
}

// isBackupOf reports whether name is "<prefix><digits>.bak".
func isBackupOf(name, prefix string) bool {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".bak") {
		return false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".bak")
	if stamp == "" {
		return false
	}
	for _, r := range stamp {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Backup copies the artifact into the backup directory.
func (w *FileWorkspace) Backup(target string) (*Snapshot, error) {
	content, err := w.Read(target)
	if errors.Is(err, os.ErrNotExist) {
		return &Snapshot{Target: target}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s for backup: %w", target, err)
	}

	if err := os.MkdirAll(w.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	var path string
	for ts := w.now().UnixNano(); ; ts++ {
		path = filepath.Join(w.backupDir, fmt.Sprintf("%s%d.bak", backupPrefix(target), ts))
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create backup for %s: %w", target, err)
		}
		_, werr := f.Write(content)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			os.Remove(path)
			return nil, fmt.Errorf("write backup for %s: %w", target, werr)
		}
		break
	}

	return &Snapshot{Target: target, Existed: true, Content: content, Path: path}, nil
}

// Restore writes the snapshotted content back, or removes the artifact if
// it did not exist before.
func (w *FileWorkspace) Restore(s *Snapshot) error {
	if s == nil {
		return errors.New("restore: nil snapshot")
	}
	if !s.Existed {
		p, err := w.resolve(s.Target)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", s.Target, err)
		}
		return nil
	}
	if err := w.Write(s.Target, s.Content); err != nil {
		return fmt.Errorf("restore %s: %w", s.Target, err)
	}
	return nil
}

// Prune deletes all but the newest keep backups of target.
func (w *FileWorkspace) Prune(target string, keep int) error {
	entries, err := os.ReadDir(w.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list backups: %w", err)
	}

	prefix := backupPrefix(target)
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isBackupOf(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return nil
	}

	// Names embed a fixed-width nanosecond timestamp, so lexical order is age order.
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(w.backupDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove backup %s: %w", name, err)
		}
	}
	return nil
}

var _ Workspace = (*FileWorkspace)(nil)
