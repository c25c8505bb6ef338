package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from defaults, an optional YAML file and the environment.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file: explicit path, SCRIBE_CONFIG, then ./scribe.yaml.
// Returns empty string if none is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("SCRIBE_CONFIG"); envPath != "" {
		return envPath
	}
	if _, err := os.Stat("scribe.yaml"); err == nil {
		return "scribe.yaml"
	}
	return ""
}

// loadYAMLFile parses a YAML file into cfg. Absent fields keep their defaults.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	strOverrides := map[string]*string{
		"SCRIBE_PYTHON":         &cfg.Python.Interpreter,
		"SCRIBE_PYTHON_VERSION": &cfg.Python.Version,
		"SCRIBE_VENV_DIR":       &cfg.Python.VenvDir,
		"SCRIBE_REQUIREMENTS":   &cfg.Python.Requirements,
		"SCRIBE_RESOURCE_DIR":   &cfg.Resources.Dir,
		"SCRIBE_SCRIPT":         &cfg.Resources.Script,
		"SCRIBE_MODEL":          &cfg.Resources.Model,
		"SCRIBE_CHARSET":        &cfg.Resources.Charset,
		"SCRIBE_OUTPUT_MODE":    &cfg.Inference.OutputMode,
		"SCRIBE_DB":             &cfg.Database.URL,
		"SCRIBE_LOG_LEVEL":      &cfg.Log.Level,
	}
	for key, field := range strOverrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("SCRIBE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SCRIBE_TIMEOUT: %w", err)
		}
		cfg.Inference.Timeout = d
	}
	if v := os.Getenv("SCRIBE_MAX_IMAGE_DIM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCRIBE_MAX_IMAGE_DIM: %w", err)
		}
		cfg.Inference.MaxImageDim = n
	}

	// Same variables the docker-compose setup exports for Postgres.
	if cfg.Database.URL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
		}
	}
	return nil
}
