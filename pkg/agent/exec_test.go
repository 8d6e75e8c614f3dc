package agent

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseOutput_FileBlocksAndNotes(t *testing.T) {
	output := strings.Join([]string{
		"thinking about the models",
		"--- loom-file: src/models.go",
		"package models",
		"",
		"type User struct{}",
		"--- loom-end",
		"done",
		"--- loom-file: src/user.go",
		"package models",
		"--- loom-end",
	}, "\n") + "\n"

	result, err := ParseOutput(output)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(result.Files))
	}
	want := "package models\n\ntype User struct{}\n"
	if got := string(result.Files["src/models.go"]); got != want {
		t.Errorf("Expected content %q, got %q", want, got)
	}
	if len(result.Notes) != 2 || result.Notes[0] != "thinking about the models" {
		t.Errorf("Expected notes collected, got %v", result.Notes)
	}
}

func TestParseOutput_UnterminatedBlock(t *testing.T) {
	_, err := ParseOutput("--- loom-file: src/models.go\npackage models\n")
	if err == nil || !strings.Contains(err.Error(), "unterminated") {
		t.Fatalf("Expected unterminated block error, got: %v", err)
	}
}

func TestParseOutput_EmptyPath(t *testing.T) {
	_, err := ParseOutput("--- loom-file: \n--- loom-end\n")
	if err == nil {
		t.Fatal("Expected error for empty file path")
	}
}

func TestExecRunner_Invoke(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test backend uses /bin/sh")
	}

	// A stand-in backend that echoes one file block built from its
	// stdin and an input variable.
	script := `read -r instruction; printf -- '--- loom-file: out.txt\n%s %s\n--- loom-end\n' "$instruction" "$LOOM_INPUT_NAME"`
	runner, err := NewExecRunner("fake", "/bin/sh", []string{"-c", script}, time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := runner.Invoke(context.Background(), &Request{
		Instruction: "generate",
		Inputs:      map[string]string{"name": "widgets"},
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := string(result.Files["out.txt"]); got != "generate widgets\n" {
		t.Errorf("Expected instruction and input passed through, got %q", got)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test backend uses /bin/sh")
	}

	runner, err := NewExecRunner("slow", "/bin/sh", []string{"-c", "sleep 5"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = runner.Invoke(context.Background(), &Request{Instruction: "generate"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Expected timeout error, got: %v", err)
	}
}

func TestExecRunner_FailureIncludesStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test backend uses /bin/sh")
	}

	runner, err := NewExecRunner("broken", "/bin/sh", []string{"-c", "echo boom >&2; exit 3"}, time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = runner.Invoke(context.Background(), &Request{Instruction: "generate"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Expected stderr in error, got: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	mock := NewMockRunner()

	if err := reg.Register(mock); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if err := reg.Register(mock); err == nil {
		t.Error("Expected duplicate registration error")
	}

	got, err := reg.Get("mock")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got.Name() != "mock" {
		t.Errorf("Expected mock runner, got %s", got.Name())
	}

	if _, err := reg.Get("nope"); err == nil {
		t.Error("Expected error for unknown agent")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("Expected names [mock], got %v", names)
	}
}
