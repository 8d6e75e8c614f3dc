package commands

import (
	"path/filepath"
	"testing"
)

func TestParseInputFlags(t *testing.T) {
	inputs, err := parseInputFlags([]string{"package=user", "style=terse", "empty="})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if inputs["package"] != "user" || inputs["style"] != "terse" || inputs["empty"] != "" {
		t.Errorf("Expected parsed inputs, got %v", inputs)
	}

	if _, err := parseInputFlags([]string{"novalue"}); err == nil {
		t.Error("Expected error for missing =")
	}
	if _, err := parseInputFlags([]string{"=value"}); err == nil {
		t.Error("Expected error for empty key")
	}
}

func TestSeriesOf(t *testing.T) {
	root := filepath.FromSlash("/work/.loom/series")

	tests := []struct {
		changed string
		want    string
	}{
		{"/work/.loom/series/api/1.0.0/manifest.yaml", "api"},
		{"/work/.loom/series/api", "api"},
		{"/work/.loom/series", ""},
		{"/work/elsewhere/file", ""},
	}
	for _, tt := range tests {
		if got := seriesOf(root, filepath.FromSlash(tt.changed)); got != tt.want {
			t.Errorf("seriesOf(%s): expected %q, got %q", tt.changed, tt.want, got)
		}
	}
}

func TestResolvePath(t *testing.T) {
	if got := resolvePath("/work", ".loom/archive"); got != filepath.FromSlash("/work/.loom/archive") {
		t.Errorf("Expected anchored path, got %s", got)
	}
	if got := resolvePath("/work", "/var/lib/loom"); got != "/var/lib/loom" {
		t.Errorf("Expected absolute path untouched, got %s", got)
	}
}
