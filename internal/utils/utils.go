package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// --- 1. Process Safety & Command Wrapping ---

// waitDelay bounds how long Wait blocks on pipes after the process is killed.
// Python can leave grandchildren holding stdout open.
const waitDelay = 2 * time.Second

// SafeCommand wraps a standard exec.Cmd with buffers to catch Stdout and Stderr (Python logs)
// This ensures we don't lose critical crash information if the script dies.
type SafeCommand struct {
	*exec.Cmd
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches buffers to its output pipes.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	return &SafeCommand{Cmd: cmd, Stdout: stdout, Stderr: stderr}
}

// Combined returns stdout followed by stderr.
func (s *SafeCommand) Combined() []byte {
	out := make([]byte, 0, s.Stdout.Len()+s.Stderr.Len())
	out = append(out, s.Stdout.Bytes()...)
	return append(out, s.Stderr.Bytes()...)
}

// ExitStatus returns the exit code of a finished command, or -1 if it never ran to completion.
func (s *SafeCommand) ExitStatus() int {
	if s.ProcessState == nil {
		return -1
	}
	return s.ProcessState.ExitCode()
}

// ShowError is the unified error display for Scribe.
// It prints a formatted error box and dumps Python logs if any were captured.
func ShowError(context string, err error, pythonLogs string) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 SCRIBE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if pythonLogs != "" {
		fmt.Fprintf(os.Stderr, "\nPYTHON LOGS:\n%s\n", pythonLogs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Content Hashing ---

// GenerateImageID creates a deterministic hash of the decoded image bytes.
// The same drawing always maps to the same ID in prediction history.
func GenerateImageID(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// HashFile returns the sha256 of a file's contents.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}
