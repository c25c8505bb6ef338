package types

import "time"

// InferenceRequest is one image_to_text call. ImagePayload is standard base64 of the image bytes.
type InferenceRequest struct {
	ID           string
	ImagePayload string
}

// ResourcePaths are the bundled files the inference script needs
type ResourcePaths struct {
	ScriptPath  string
	ModelPath   string
	CharsetPath string
}

// EnvironmentState is a snapshot of the isolated Python environment
type EnvironmentState struct {
	InterpreterVersion    string `json:"interpreter_version"`
	VenvPresent           bool   `json:"venv_present"`
	DependenciesInstalled bool   `json:"dependencies_installed"`
}

// ProcessResult is the complete captured output of one script execution
type ProcessResult struct {
	ExitStatus int
	Stdout     []byte
	Stderr     []byte
	Duration   time.Duration
}

// Prediction is the text recovered from the script's output. Text is never empty.
type Prediction struct {
	Text string `json:"prediction"`
}

// ProvisionMarker is written into the venv once dependencies are installed
type ProvisionMarker struct {
	InterpreterVersion string    `json:"interpreter_version"`
	RequirementsSHA256 string    `json:"requirements_sha256"`
	ProvisionedAt      time.Time `json:"provisioned_at"`
}

// PredictionRecord is a row of prediction history
type PredictionRecord struct {
	RequestID    string
	ImageID      string
	Prediction   string
	ErrorKind    string
	ErrorMessage string
	Duration     time.Duration
	CreatedAt    time.Time
}
