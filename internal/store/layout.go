package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the project-local directory holding all persisted state.
const DirName = ".kodo"

const (
	learningsDirName = "learnings"
	contextDirName   = "context"
	indexDirName     = "index"
	vectorsDirName   = "vectors"
	stateDBName      = "state.db"
	snapshotName     = "snapshot.json"
	configName       = "config.yaml"
	patternsName     = "patterns.toml"
)

// Layout resolves every path inside one store root. The root is the
// .kodo directory itself, not the project directory containing it.
type Layout struct {
	Root string
}

// NewLayout returns the layout rooted at the given .kodo directory.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// LearningsDir is the directory holding one file per learning category.
func (l Layout) LearningsDir() string {
	return filepath.Join(l.Root, learningsDirName)
}

// CategoryFile is the markdown file for one learning category.
func (l Layout) CategoryFile(c Category) string {
	return filepath.Join(l.LearningsDir(), string(c)+".md")
}

// ContextDir is the root of the domain/topic entry tree.
func (l Layout) ContextDir() string {
	return filepath.Join(l.Root, contextDirName)
}

// ContextFile is the markdown file for one domain/topic pair.
func (l Layout) ContextFile(domain, topic string) string {
	return filepath.Join(l.ContextDir(), sanitizePathComponent(domain), sanitizePathComponent(topic)+".md")
}

// StateDB is the SQLite database holding cursors, counters and the
// transition audit log.
func (l Layout) StateDB() string {
	return filepath.Join(l.Root, stateDBName)
}

// IndexDir holds the rebuildable index cache.
func (l Layout) IndexDir() string {
	return filepath.Join(l.Root, indexDirName)
}

// SnapshotFile is the JSON index snapshot.
func (l Layout) SnapshotFile() string {
	return filepath.Join(l.IndexDir(), snapshotName)
}

// VectorsDir holds the persistent embedding collection.
func (l Layout) VectorsDir() string {
	return filepath.Join(l.IndexDir(), vectorsDirName)
}

// ConfigFile is the project settings file.
func (l Layout) ConfigFile() string {
	return filepath.Join(l.Root, configName)
}

// PatternsFile is the optional custom extraction rules / allowlist file.
func (l Layout) PatternsFile() string {
	return filepath.Join(l.Root, patternsName)
}

// Find walks upward from dir looking for a .kodo directory, the same way
// git discovers its repository root. Returns the .kodo path itself.
func Find(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}
	for cur := abs; ; {
		candidate := filepath.Join(cur, DirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", &NotInitializedError{Dir: abs}
		}
		cur = parent
	}
}

// Init creates the store layout under dir. Safe to call on an existing
// store; it only creates what is missing.
func Init(dir string) (Layout, error) {
	root := filepath.Join(dir, DirName)
	l := NewLayout(root)
	dirs := []string{
		root,
		l.LearningsDir(),
		l.ContextDir(),
		l.IndexDir(),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return Layout{}, fmt.Errorf("creating %s: %w", d, err)
		}
	}
	for _, c := range Categories() {
		path := l.CategoryFile(c)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(categoryHeader(c)), 0o600); err != nil {
			return Layout{}, fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return l, nil
}

// sanitizePathComponent keeps domain/topic names safe as path segments.
// Separators and parent references are replaced, never interpreted.
func sanitizePathComponent(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '\\', ':', 0:
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	cleaned := string(out)
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "_"
	}
	return cleaned
}
