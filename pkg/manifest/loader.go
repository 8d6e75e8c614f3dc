package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	manifestFile = "manifest.yaml"
	phasesDir    = "phases"
)

// UnknownSeriesError reports a series with no manifest directory.
type UnknownSeriesError struct {
	Series string
	Known  []string
}

func (e *UnknownSeriesError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown series %q (no series found)", e.Series)
	}
	return fmt.Sprintf("unknown series %q (known series: %s)", e.Series, strings.Join(e.Known, ", "))
}

// UnknownVersionError reports a version with no manifest for a series.
type UnknownVersionError struct {
	Series  string
	Version string
	Known   []string
}

func (e *UnknownVersionError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("series %q has no version %q (no versions published)", e.Series, e.Version)
	}
	return fmt.Sprintf("series %q has no version %q (known versions: %s)",
		e.Series, e.Version, strings.Join(e.Known, ", "))
}

// Loader reads and writes manifests under a series root directory.
// Layout: <root>/<series>/<version>/manifest.yaml with instruction
// bodies in <root>/<series>/<version>/phases/<id>.md.
type Loader struct {
	root     string
	validate *validator.Validate
}

// NewLoader creates a loader rooted at the given directory.
func NewLoader(root string) *Loader {
	return &Loader{
		root:     root,
		validate: validator.New(),
	}
}

// Root returns the series root directory.
func (l *Loader) Root() string {
	return l.root
}

// Dir returns the directory holding one (series, version) manifest.
func (l *Loader) Dir(series, version string) string {
	return filepath.Join(l.root, series, version)
}

// KnownSeries lists the series directories under the root, sorted.
func (l *Loader) KnownSeries() []string {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out
}

// KnownVersions lists the published versions of a series, sorted by
// semantic version order.
func (l *Loader) KnownVersions(series string) []string {
	entries, err := os.ReadDir(filepath.Join(l.root, series))
	if err != nil {
		return nil
	}
	var versions []Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if v, err := ParseVersion(e.Name()); err == nil {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Compare(versions[j]) < 0
	})
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	return out
}

// LatestVersion returns the highest published version of a series.
func (l *Loader) LatestVersion(series string) (Version, error) {
	known := l.KnownVersions(series)
	if len(known) == 0 {
		return Version{}, &UnknownSeriesError{Series: series, Known: l.KnownSeries()}
	}
	return ParseVersion(known[len(known)-1])
}

// Load reads and validates the manifest for (series, version).
func (l *Loader) Load(series, version string) (*Manifest, error) {
	dir := l.Dir(series, version)
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
		if _, serr := os.Stat(filepath.Join(l.root, series)); serr != nil {
			return nil, &UnknownSeriesError{Series: series, Known: l.KnownSeries()}
		}
		return nil, &UnknownVersionError{Series: series, Version: version, Known: l.KnownVersions(series)}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest for %s/%s: %w", series, version, err)
	}

	if err := l.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest for %s/%s failed validation: %w", series, version, err)
	}

	// Instruction bodies live in sibling files; inline text wins when
	// both are present so hand-written fixtures stay simple.
	for i := range m.Phases {
		p := &m.Phases[i]
		if p.Instruction != "" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, phasesDir, p.ID+".md"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read instruction for phase %s: %w", p.ID, err)
		}
		_, text, err := SplitInstruction(string(body))
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.ID, err)
		}
		p.Instruction = text
	}

	return &m, nil
}

// LoadFile reads a standalone manifest file with inline instructions.
// Used for edited working copies that are not published under the
// series root yet.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest file %s: %w", path, err)
	}
	if err := validator.New().Struct(&m); err != nil {
		return nil, fmt.Errorf("manifest file %s failed validation: %w", path, err)
	}

	// Instruction bodies may live next to the file in a phases/
	// directory, mirroring the published layout.
	dir := filepath.Dir(path)
	for i := range m.Phases {
		p := &m.Phases[i]
		if p.Instruction != "" {
			continue
		}
		body, err := os.ReadFile(filepath.Join(dir, phasesDir, p.ID+".md"))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read instruction for phase %s: %w", p.ID, err)
		}
		_, text, err := SplitInstruction(string(body))
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", p.ID, err)
		}
		p.Instruction = text
	}

	return &m, nil
}

// Save writes the manifest and its instruction files under the root.
// Files are written to temporary names and renamed into place.
func (l *Loader) Save(m *Manifest) error {
	if err := l.validate.Struct(m); err != nil {
		return fmt.Errorf("manifest failed validation: %w", err)
	}

	dir := l.Dir(m.Series, m.Version.String())
	if err := os.MkdirAll(filepath.Join(dir, phasesDir), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	// The on-disk manifest carries metadata only; instruction bodies
	// are written to per-phase files.
	stored := *m
	stored.Phases = make([]PhaseDefinition, len(m.Phases))
	for i := range m.Phases {
		stored.Phases[i] = m.Phases[i]
		stored.Phases[i].Instruction = ""
	}

	data, err := yaml.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, manifestFile), data); err != nil {
		return err
	}

	for i := range m.Phases {
		p := &m.Phases[i]
		content, err := EncodeInstruction(p, m.Series, m.Version.String())
		if err != nil {
			return fmt.Errorf("failed to encode instruction for phase %s: %w", p.ID, err)
		}
		path := filepath.Join(dir, phasesDir, p.ID+".md")
		if err := writeFileAtomic(path, []byte(content)); err != nil {
			return err
		}
	}

	return nil
}

// instructionHeader is the YAML front-matter of an instruction file.
type instructionHeader struct {
	ID            string      `yaml:"id"`
	Series        string      `yaml:"series"`
	Version       string      `yaml:"version"`
	Type          PhaseType   `yaml:"type"`
	Inputs        []InputSpec `yaml:"inputs,omitempty"`
	DependsOn     []string    `yaml:"depends_on,omitempty"`
	Produces      []string    `yaml:"produces,omitempty"`
	ManualPattern string      `yaml:"manual_pattern,omitempty"`
	Source        string      `yaml:"source,omitempty"`
}

const frontMatterDelim = "---\n"

// EncodeInstruction renders a phase as an instruction file: YAML
// front-matter followed by the free-form instruction text.
func EncodeInstruction(p *PhaseDefinition, series, version string) (string, error) {
	hdr := instructionHeader{
		ID:            p.ID,
		Series:        series,
		Version:       version,
		Type:          p.Type,
		Inputs:        p.Inputs,
		DependsOn:     p.DependsOn,
		Produces:      p.Produces,
		ManualPattern: p.ManualPattern,
		Source:        p.Source,
	}
	meta, err := yaml.Marshal(&hdr)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(frontMatterDelim)
	sb.Write(meta)
	sb.WriteString(frontMatterDelim)
	sb.WriteString(p.Instruction)
	return sb.String(), nil
}

// SplitInstruction separates an instruction file into its front-matter
// header and the instruction body.
func SplitInstruction(content string) (*PhaseDefinition, string, error) {
	if !strings.HasPrefix(content, frontMatterDelim) {
		// No header: the whole file is instruction text.
		return nil, content, nil
	}

	rest := content[len(frontMatterDelim):]
	idx := strings.Index(rest, frontMatterDelim)
	if idx < 0 {
		return nil, "", fmt.Errorf("instruction front-matter is not terminated")
	}

	var hdr instructionHeader
	if err := yaml.Unmarshal([]byte(rest[:idx]), &hdr); err != nil {
		return nil, "", fmt.Errorf("failed to parse instruction front-matter: %w", err)
	}

	body := rest[idx+len(frontMatterDelim):]
	p := &PhaseDefinition{
		ID:            hdr.ID,
		Type:          hdr.Type,
		Inputs:        hdr.Inputs,
		DependsOn:     hdr.DependsOn,
		Produces:      hdr.Produces,
		ManualPattern: hdr.ManualPattern,
		Source:        hdr.Source,
		Instruction:   body,
	}
	return p, body, nil
}

// writeFileAtomic writes data to path via a temporary file and rename,
// so a partially written file is never observable.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
