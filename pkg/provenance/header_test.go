package provenance

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func sampleFields() Fields {
	return Fields{
		Series:    "api",
		Version:   "1.2.0",
		PhaseID:   "models",
		Agent:     "claude",
		Timestamp: time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC),
		Source:    "specs/api.md",
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	paths := []string{
		"src/models.go",
		"scripts/setup.py",
		"db/schema.sql",
		"docs/overview.md",
		"config.yaml",
	}

	for _, p := range paths {
		f := sampleFields()
		encoded := EncodeForPath(f, p)

		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("%s: expected no error, got: %v", p, err)
		}
		if got.Series != f.Series || got.Version != f.Version || got.PhaseID != f.PhaseID {
			t.Errorf("%s: identity fields not preserved: %+v", p, got)
		}
		if got.Agent != f.Agent || got.Source != f.Source {
			t.Errorf("%s: agent/source not preserved: %+v", p, got)
		}
		if !got.Timestamp.Equal(f.Timestamp) {
			t.Errorf("%s: timestamp %v != %v", p, got.Timestamp, f.Timestamp)
		}
	}
}

func TestEncodeDecode_RoundTripIndependentOfAgentAndTimestamp(t *testing.T) {
	f := sampleFields()
	f.Agent = "some-other-backend/2.1"
	f.Timestamp = time.Date(1999, 1, 1, 0, 0, 0, 123456789, time.UTC)
	f.Source = ""

	got, err := Decode(EncodeForPath(f, "main.go"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Agent != f.Agent {
		t.Errorf("Expected agent %q, got %q", f.Agent, got.Agent)
	}
	if !got.Timestamp.Equal(f.Timestamp) {
		t.Errorf("Expected timestamp %v, got %v", f.Timestamp, got.Timestamp)
	}
	if got.Source != "" {
		t.Errorf("Expected empty source, got %q", got.Source)
	}
}

func TestDecode_NoHeader(t *testing.T) {
	for _, content := range []string{
		"",
		"package main\n",
		"# just a comment, not provenance\n",
		"// some code comment\nfunc main() {}\n",
	} {
		if _, err := Decode(content); !errors.Is(err, ErrNoHeader) {
			t.Errorf("Expected ErrNoHeader for %q, got: %v", content, err)
		}
	}
}

func TestDecode_MissingRequiredFields(t *testing.T) {
	content := "// loom:generated\n// agent: claude\n\n"
	if _, err := Decode(content); err == nil || errors.Is(err, ErrNoHeader) {
		t.Fatalf("Expected a missing-fields error, got: %v", err)
	}
}

func TestStrip(t *testing.T) {
	body := "package main\n\nfunc main() {}\n"
	content := EncodeForPath(sampleFields(), "main.go") + body

	if got := Strip(content); got != body {
		t.Errorf("Expected body %q, got %q", body, got)
	}

	// Content without a header is returned unchanged.
	if got := Strip(body); got != body {
		t.Errorf("Expected unchanged content, got %q", got)
	}
}

func TestInject_ReplacesExistingHeader(t *testing.T) {
	body := "package main\n"
	old := sampleFields()
	updated := sampleFields()
	updated.Version = "1.3.0"

	content := Inject(body, old, "main.go")
	content = Inject(content, updated, "main.go")

	if strings.Count(content, marker) != 1 {
		t.Fatalf("Expected exactly one header, got:\n%s", content)
	}

	got, err := Decode(content)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Version != "1.3.0" {
		t.Errorf("Expected refreshed version 1.3.0, got %s", got.Version)
	}
	if !strings.HasSuffix(content, body) {
		t.Errorf("Expected body preserved, got:\n%s", content)
	}
}

func TestStyleForPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"a.go", "// "},
		{"a.py", "# "},
		{"a.sql", "-- "},
		{"a.unknownext", "# "},
	}
	for _, tc := range cases {
		if got := StyleForPath(tc.path); got.Prefix != tc.want {
			t.Errorf("StyleForPath(%s).Prefix = %q, want %q", tc.path, got.Prefix, tc.want)
		}
	}

	if got := StyleForPath("a.html"); got.Open != "<!--" {
		t.Errorf("Expected HTML block style, got %+v", got)
	}
}

func TestEncode_HTMLBlockStyle(t *testing.T) {
	content := EncodeForPath(sampleFields(), "readme.md")
	if !strings.HasPrefix(content, "<!--\n") {
		t.Errorf("Expected block open delimiter, got:\n%s", content)
	}
	if !strings.Contains(content, "\n-->\n") {
		t.Errorf("Expected block close delimiter, got:\n%s", content)
	}

	got, err := Decode(content)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.PhaseID != "models" {
		t.Errorf("Expected phase models, got %s", got.PhaseID)
	}
}
