// Package config provides layered configuration for scribe.
//
// Configuration is loaded in order:
//  1. Built-in defaults
//  2. YAML config file (explicit path, SCRIBE_CONFIG, ./scribe.yaml)
//  3. SCRIBE_* environment variable overrides
//  4. Validation
package config

import (
	"path/filepath"
	"time"
)

// Output modes understood by the extractor.
const (
	OutputAuto       = "auto"
	OutputStructured = "structured"
	OutputLegacy     = "legacy"
)

// Config holds all configuration for the bridge.
type Config struct {
	Python    PythonConfig    `yaml:"python"`
	Resources ResourcesConfig `yaml:"resources"`
	Inference InferenceConfig `yaml:"inference"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
}

// PythonConfig describes the interpreter and the isolated environment.
type PythonConfig struct {
	Interpreter  string `yaml:"interpreter"`  // default: python3
	Version      string `yaml:"version"`      // default: 3.10.13, substring match
	VenvDir      string `yaml:"venv_dir"`     // default: <resources.dir>/venv
	Requirements string `yaml:"requirements"` // default: <resources.dir>/requirements.txt
}

// ResourcesConfig locates the bundled script, model and character set.
// Relative file names are resolved against Dir.
type ResourcesConfig struct {
	Dir     string `yaml:"dir"`     // default: src-py
	Script  string `yaml:"script"`  // default: predict.py
	Model   string `yaml:"model"`   // default: model.keras
	Charset string `yaml:"charset"` // default: characters.txt
}

// InferenceConfig controls one script execution.
type InferenceConfig struct {
	Timeout     time.Duration `yaml:"timeout"`       // default: 2m
	OutputMode  string        `yaml:"output_mode"`   // auto, structured, legacy
	MaxImageDim int           `yaml:"max_image_dim"` // default: 1024
}

// DatabaseConfig enables prediction history. Empty URL disables it.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"` // default: info
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Python: PythonConfig{
			Interpreter: "python3",
			Version:     "3.10.13",
		},
		Resources: ResourcesConfig{
			Dir:     "src-py",
			Script:  "predict.py",
			Model:   "model.keras",
			Charset: "characters.txt",
		},
		Inference: InferenceConfig{
			Timeout:     2 * time.Minute,
			OutputMode:  OutputAuto,
			MaxImageDim: 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// VenvDir returns the isolated environment directory.
func (c *Config) VenvDir() string {
	if c.Python.VenvDir != "" {
		return c.Python.VenvDir
	}
	return filepath.Join(c.Resources.Dir, "venv")
}

// RequirementsPath returns the dependency manifest consumed during provisioning.
func (c *Config) RequirementsPath() string {
	if c.Python.Requirements != "" {
		return c.Python.Requirements
	}
	return filepath.Join(c.Resources.Dir, "requirements.txt")
}

// ResourcePath resolves a resource file name against the resource directory.
func (c *Config) ResourcePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Resources.Dir, name)
}
