package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSafeCommandCapturesBothStreams(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}

	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo out; echo err 1>&2; exit 3")
	err := cmd.Run()
	if err == nil {
		t.Fatal("Expected non-zero exit error")
	}

	if got := cmd.Stdout.String(); got != "out\n" {
		t.Errorf("Stdout = %q, want %q", got, "out\n")
	}
	if got := cmd.Stderr.String(); got != "err\n" {
		t.Errorf("Stderr = %q, want %q", got, "err\n")
	}
	if got := string(cmd.Combined()); got != "out\nerr\n" {
		t.Errorf("Combined = %q", got)
	}
	if cmd.ExitStatus() != 3 {
		t.Errorf("ExitStatus = %d, want 3", cmd.ExitStatus())
	}
}

func TestSafeCommandExitStatusBeforeRun(t *testing.T) {
	cmd := NewSafeCommand(context.Background(), "does-not-matter")
	if cmd.ExitStatus() != -1 {
		t.Errorf("ExitStatus before run = %d, want -1", cmd.ExitStatus())
	}
}

func TestGenerateImageID(t *testing.T) {
	id := GenerateImageID([]byte("fake png content"))
	if len(id) != 64 {
		t.Errorf("Expected 64 hex chars, got %d", len(id))
	}

	// Verify Determinism
	if id2 := GenerateImageID([]byte("fake png content")); id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	if id3 := GenerateImageID([]byte("fake png content!")); id == id3 {
		t.Error("Hash did not change after content modification")
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "requirements.txt")
	if err := os.WriteFile(path, []byte("tensorflow==2.15.0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	sum, err := HashFile(path)
	if err != nil {
		t.Fatalf("HashFile failed: %v", err)
	}
	if sum != GenerateImageID([]byte("tensorflow==2.15.0\n")) {
		t.Error("HashFile disagrees with in-memory hash")
	}

	if _, err := HashFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}
