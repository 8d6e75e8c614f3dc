// Package archive preserves artifact content before it is overwritten.
// The store is append-only: entries are keyed by the artifact's
// original relative path plus a UTC timestamp, and nothing in the
// system ever mutates or deletes one.
package archive

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// timestampFormat keys entries to nanosecond precision. Successive
// archivals of the same path within the same nanosecond fall back to a
// numeric suffix.
const timestampFormat = "20060102T150405.000000000Z"

// Entry describes one archived artifact version.
type Entry struct {
	// OriginalPath is the artifact's path relative to the workspace.
	OriginalPath string `yaml:"original_path"`

	// Timestamp is when the content was archived.
	Timestamp time.Time `yaml:"timestamp"`

	// Series, Version, and PhaseID identify the phase that produced
	// the content being replaced, when known.
	Series  string `yaml:"series,omitempty"`
	Version string `yaml:"version,omitempty"`
	PhaseID string `yaml:"phase_id,omitempty"`

	// contentPath is the absolute path of the stored content file.
	contentPath string
}

// Key returns the entry's unique key within the store.
func (e Entry) Key() string {
	return filepath.ToSlash(filepath.Join(e.OriginalPath, e.Timestamp.UTC().Format(timestampFormat)))
}

// Store is a filesystem-backed archival store rooted at one directory.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Store{root: dir}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// Put archives one artifact version and returns the created entry.
// The entry directory mirrors the original relative path, so listing a
// path's history is a directory read.
func (s *Store) Put(originalPath, series, version, phaseID string, content []byte) (Entry, error) {
	rel := filepath.ToSlash(filepath.Clean(originalPath))
	if rel == "" || strings.HasPrefix(rel, "..") || filepath.IsAbs(originalPath) {
		return Entry{}, fmt.Errorf("archive path must be relative to the workspace, got %q", originalPath)
	}

	now := time.Now().UTC()
	entryDir := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(entryDir, 0755); err != nil {
		return Entry{}, fmt.Errorf("failed to create archive entry directory: %w", err)
	}

	base := now.Format(timestampFormat)
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(entryDir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d", base, i)
	}

	contentPath := filepath.Join(entryDir, name)
	if err := os.WriteFile(contentPath, content, 0644); err != nil {
		return Entry{}, fmt.Errorf("failed to write archive content: %w", err)
	}

	entry := Entry{
		OriginalPath: rel,
		Timestamp:    now,
		Series:       series,
		Version:      version,
		PhaseID:      phaseID,
		contentPath:  contentPath,
	}

	meta, err := yaml.Marshal(&entry)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode archive metadata: %w", err)
	}
	if err := os.WriteFile(contentPath+".meta.yaml", meta, 0644); err != nil {
		return Entry{}, fmt.Errorf("failed to write archive metadata: %w", err)
	}

	return entry, nil
}

// PutTree archives every regular file under dir, keyed beneath prefix.
// Used by the evolution engine to preserve a whole manifest directory
// before a new version is committed.
func (s *Store) PutTree(prefix, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		_, err = s.Put(filepath.Join(prefix, rel), "", "", "", content)
		return err
	})
}

// List returns the archived versions of one original path, ordered
// oldest first.
func (s *Store) List(originalPath string) ([]Entry, error) {
	entryDir := filepath.Join(s.root, filepath.FromSlash(filepath.ToSlash(filepath.Clean(originalPath))))
	dirEntries, err := os.ReadDir(entryDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".meta.yaml") {
			continue
		}
		entry, err := s.readMeta(filepath.Join(entryDir, de.Name()))
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// ListAll returns every entry in the store, ordered oldest first.
func (s *Store) ListAll() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".meta.yaml") {
			return nil
		}
		entry, err := s.readMeta(p)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Get returns the archived content of an entry.
func (s *Store) Get(entry Entry) ([]byte, error) {
	p := entry.contentPath
	if p == "" {
		p = filepath.Join(s.root, filepath.FromSlash(entry.OriginalPath),
			entry.Timestamp.UTC().Format(timestampFormat))
	}
	content, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive entry: %w", err)
	}
	return content, nil
}

// Latest returns the most recent entry for a path, if any.
func (s *Store) Latest(originalPath string) (Entry, bool, error) {
	entries, err := s.List(originalPath)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

func (s *Store) readMeta(metaPath string) (Entry, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read archive metadata: %w", err)
	}
	var entry Entry
	if err := yaml.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to parse archive metadata %s: %w", metaPath, err)
	}
	entry.contentPath = strings.TrimSuffix(metaPath, ".meta.yaml")
	return entry, nil
}
