// Package provenance encodes and decodes the metadata block embedded
// at the top of every machine-generated artifact. The block identifies
// which (series, version, phase) produced the file, which agent wrote
// it, and when. The field set and order are fixed; only the comment
// syntax varies with the target language.
package provenance

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// marker is the first payload line of every provenance header. Decode
// refuses anything that does not carry it.
const marker = "loom:generated"

// ErrNoHeader is returned by Decode when the content's leading lines
// do not form a provenance header.
var ErrNoHeader = errors.New("no provenance header present")

// Fields is the fixed provenance field set.
type Fields struct {
	// Series names the instruction series that produced the artifact.
	Series string

	// Version is the manifest version at generation time.
	Version string

	// PhaseID identifies the producing phase.
	PhaseID string

	// Agent names the backend that generated the content.
	Agent string

	// Timestamp is the generation time, stored in UTC.
	Timestamp time.Time

	// Source optionally references the requirement document.
	Source string
}

// Style describes the comment syntax of a target language.
type Style struct {
	// Prefix starts each header line ("// ", "# ", "-- ").
	Prefix string

	// Open and Close wrap the block for languages without line
	// comments ("<!--" / "-->"). Empty for line-comment styles.
	Open  string
	Close string
}

var (
	styleSlash = Style{Prefix: "// "}
	styleHash  = Style{Prefix: "# "}
	styleDash  = Style{Prefix: "-- "}
	styleHTML  = Style{Open: "<!--", Close: "-->"}
)

// stylesByExt maps file extensions to comment styles. Dispatch is a
// data table so supporting a new language means one more row.
var stylesByExt = map[string]Style{
	".go":     styleSlash,
	".ts":     styleSlash,
	".tsx":    styleSlash,
	".js":     styleSlash,
	".jsx":    styleSlash,
	".java":   styleSlash,
	".kt":     styleSlash,
	".c":      styleSlash,
	".h":      styleSlash,
	".cpp":    styleSlash,
	".cs":     styleSlash,
	".rs":     styleSlash,
	".swift":  styleSlash,
	".proto":  styleSlash,
	".py":     styleHash,
	".rb":     styleHash,
	".sh":     styleHash,
	".bash":   styleHash,
	".yaml":   styleHash,
	".yml":    styleHash,
	".toml":   styleHash,
	".tf":     styleHash,
	".sql":    styleDash,
	".lua":    styleDash,
	".hs":     styleDash,
	".html":   styleHTML,
	".xml":    styleHTML,
	".md":     styleHTML,
	".vue":    styleHTML,
	".svelte": styleHTML,
}

// StyleForPath returns the comment style for a file path, defaulting
// to hash comments for unknown extensions.
func StyleForPath(p string) Style {
	if s, ok := stylesByExt[strings.ToLower(path.Ext(p))]; ok {
		return s
	}
	return styleHash
}

// Encode renders the fields as a comment block in the given style. The
// block always ends with a blank line separating it from the content.
func Encode(f Fields, style Style) string {
	lines := []string{
		marker,
		"series: " + f.Series,
		"version: " + f.Version,
		"phase: " + f.PhaseID,
		"agent: " + f.Agent,
		"generated-at: " + f.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if f.Source != "" {
		lines = append(lines, "source: "+f.Source)
	}

	var sb strings.Builder
	if style.Open != "" {
		sb.WriteString(style.Open)
		sb.WriteString("\n")
		for _, l := range lines {
			sb.WriteString(l)
			sb.WriteString("\n")
		}
		sb.WriteString(style.Close)
		sb.WriteString("\n")
	} else {
		for _, l := range lines {
			sb.WriteString(strings.TrimRight(style.Prefix+l, " "))
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\n")
	return sb.String()
}

// EncodeForPath renders the fields using the style matching the file's
// extension.
func EncodeForPath(f Fields, p string) string {
	return Encode(f, StyleForPath(p))
}

// Decode recovers the field set from the leading lines of content. It
// is the exact inverse of Encode: any style produced by Encode decodes
// to the same fields. Content without a header returns ErrNoHeader.
func Decode(content string) (Fields, error) {
	lines, _, err := headerLines(content)
	if err != nil {
		return Fields{}, err
	}
	return parseFields(lines)
}

// Strip returns the content with its provenance header removed. If no
// header is present the content is returned unchanged.
func Strip(content string) string {
	_, rest, err := headerLines(content)
	if err != nil {
		return content
	}
	return rest
}

// Inject prepends a header for the given path, replacing any existing
// one so re-generation refreshes rather than stacks headers.
func Inject(content string, f Fields, p string) string {
	return EncodeForPath(f, p) + Strip(content)
}

// headerLines splits content into the header's payload lines and the
// remaining content.
func headerLines(content string) (payload []string, rest string, err error) {
	lines := strings.SplitAfter(content, "\n")
	if len(lines) == 0 {
		return nil, "", ErrNoHeader
	}

	first := strings.TrimRight(lines[0], "\n")
	consumed := 0

	if strings.TrimSpace(first) == styleHTML.Open {
		// Block style: bare lines until the closing delimiter.
		consumed = 1
		for consumed < len(lines) {
			line := strings.TrimRight(lines[consumed], "\n")
			consumed++
			if strings.TrimSpace(line) == styleHTML.Close {
				break
			}
			payload = append(payload, line)
		}
	} else {
		prefix := ""
		for _, s := range []Style{styleSlash, styleHash, styleDash} {
			p := strings.TrimRight(s.Prefix, " ")
			if strings.HasPrefix(first, p) {
				prefix = p
				break
			}
		}
		if prefix == "" {
			return nil, "", ErrNoHeader
		}
		for consumed < len(lines) {
			line := strings.TrimRight(lines[consumed], "\n")
			if !strings.HasPrefix(line, prefix) {
				break
			}
			payload = append(payload, strings.TrimPrefix(strings.TrimPrefix(line, prefix), " "))
			consumed++
		}
	}

	if len(payload) == 0 || strings.TrimSpace(payload[0]) != marker {
		return nil, "", ErrNoHeader
	}

	rest = strings.Join(lines[consumed:], "")
	// Drop the blank separator line Encode appends.
	rest = strings.TrimPrefix(rest, "\n")
	return payload, rest, nil
}

func parseFields(lines []string) (Fields, error) {
	f := Fields{}
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "series":
			f.Series = value
		case "version":
			f.Version = value
		case "phase":
			f.PhaseID = value
		case "agent":
			f.Agent = value
		case "generated-at":
			ts, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return Fields{}, fmt.Errorf("invalid generated-at timestamp %q: %w", value, err)
			}
			f.Timestamp = ts
		case "source":
			f.Source = value
		}
	}

	if f.Series == "" || f.Version == "" || f.PhaseID == "" {
		return Fields{}, fmt.Errorf("provenance header missing required fields (series=%q version=%q phase=%q)",
			f.Series, f.Version, f.PhaseID)
	}
	return f, nil
}
