// Package execlog records what every engine run did. Records are
// append-only YAML files under <root>/logs/<date>/, one per run, so
// history survives without a daemon and diffs cleanly in review.
package execlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Phase result statuses.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusSatisfied = "satisfied"
)

// PhaseRecord captures the outcome of one phase within a run.
type PhaseRecord struct {
	PhaseID  string            `yaml:"phase_id"`
	Type     string            `yaml:"type"`
	Status   string            `yaml:"status"`
	Inputs   map[string]string `yaml:"inputs,omitempty"`
	Created  []string          `yaml:"created,omitempty"`
	Modified []string          `yaml:"modified,omitempty"`
	Archived []string          `yaml:"archived,omitempty"`
	Build    *BuildRecord      `yaml:"build,omitempty"`
	Duration time.Duration     `yaml:"duration"`
	Error    string            `yaml:"error,omitempty"`
	Notes    []string          `yaml:"notes,omitempty"`
}

// BuildRecord captures a build validation result. Each phase that
// changed artifacts carries its own; the record-level one aggregates
// them for the run.
type BuildRecord struct {
	Ran         bool     `yaml:"ran"`
	Passed      bool     `yaml:"passed"`
	Diagnostics []string `yaml:"diagnostics,omitempty"`
}

// Record is one complete run of the engine.
type Record struct {
	ID        string        `yaml:"id"`
	Timestamp time.Time     `yaml:"timestamp"`
	Series    string        `yaml:"series"`
	Version   string        `yaml:"version"`
	Command   string        `yaml:"command"`
	Agent     string        `yaml:"agent,omitempty"`
	Phases    []PhaseRecord `yaml:"phases"`
	Build     BuildRecord   `yaml:"build"`
	Duration  time.Duration `yaml:"duration"`
	Warnings  []string      `yaml:"warnings,omitempty"`
	Error     string        `yaml:"error,omitempty"`
}

// NewRecord starts a record for a run, assigning its ID and timestamp.
func NewRecord(series, version, command, agent string) *Record {
	return &Record{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Series:    series,
		Version:   version,
		Command:   command,
		Agent:     agent,
	}
}

// Succeeded reports whether every phase either succeeded or was already
// satisfied, and the run itself recorded no error.
func (r *Record) Succeeded() bool {
	if r.Error != "" {
		return false
	}
	for _, p := range r.Phases {
		if p.Status == StatusFailed {
			return false
		}
	}
	return true
}

// Counts returns the number of phases per status.
func (r *Record) Counts() map[string]int {
	counts := make(map[string]int)
	for _, p := range r.Phases {
		counts[p.Status]++
	}
	return counts
}

// Log reads and writes run records beneath one root directory.
type Log struct {
	root string
}

// NewLog creates a log store rooted at dir.
func NewLog(dir string) (*Log, error) {
	if dir == "" {
		return nil, fmt.Errorf("log directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Log{root: dir}, nil
}

// Append writes one record. Records never replace each other; name
// collisions within the same second get a numeric suffix.
func (l *Log) Append(r *Record) (string, error) {
	day := r.Timestamp.Format("2006-01-02")
	dir := filepath.Join(l.root, day)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log day directory: %w", err)
	}

	base := fmt.Sprintf("%s-%s-%s", r.Timestamp.Format("150405"), r.Series, r.Command)
	name := base + ".yaml"
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s-%d.yaml", base, i)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode run record: %w", err)
	}

	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, ".tmp-log-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp log file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write run record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp log file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to commit run record: %w", err)
	}
	return path, nil
}

// List returns run records, newest first, optionally filtered by
// series. limit <= 0 means no limit.
func (l *Log) List(series string, limit int) ([]*Record, error) {
	var paths []string
	days, err := os.ReadDir(l.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}
	for _, day := range days {
		if !day.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(l.root, day.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read log day directory: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".yaml") {
				continue
			}
			paths = append(paths, filepath.Join(l.root, day.Name(), f.Name()))
		}
	}

	var records []*Record
	for _, p := range paths {
		r, err := l.read(p)
		if err != nil {
			return nil, err
		}
		if series != "" && r.Series != series {
			continue
		}
		records = append(records, r)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get returns the record with the given ID.
func (l *Log) Get(id string) (*Record, error) {
	records, err := l.List("", 0)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.ID == id || strings.HasPrefix(r.ID, id) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no run record with ID %s", id)
}

func (l *Log) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse run record %s: %w", path, err)
	}
	return &r, nil
}
