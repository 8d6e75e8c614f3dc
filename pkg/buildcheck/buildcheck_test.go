package buildcheck

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestCommandValidator_Pass(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("validator uses /bin/sh")
	}

	v, err := NewCommandValidator("true", time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report, err := v.Check(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !report.Passed {
		t.Error("Expected validation to pass")
	}
}

func TestCommandValidator_FailCollectsDiagnostics(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("validator uses /bin/sh")
	}

	v, err := NewCommandValidator("echo 'models.go:4: undefined symbol'; exit 1", time.Minute)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	report, err := v.Check(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if report.Passed {
		t.Fatal("Expected validation to fail")
	}
	if len(report.Diagnostics) != 1 || !strings.Contains(report.Diagnostics[0], "undefined symbol") {
		t.Errorf("Expected diagnostics captured, got %v", report.Diagnostics)
	}
}

func TestCommandValidator_Timeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("validator uses /bin/sh")
	}

	v, err := NewCommandValidator("sleep 5", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := v.Check(context.Background(), t.TempDir()); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestNopValidator(t *testing.T) {
	report, err := NopValidator{}.Check(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !report.Passed {
		t.Error("Expected nop validator to pass")
	}
}
