package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for missing or out-of-range values.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Python.Interpreter) == "" {
		errs = append(errs, errors.New("python.interpreter is required"))
	}
	if strings.TrimSpace(c.Python.Version) == "" {
		errs = append(errs, errors.New("python.version is required"))
	}
	if c.Resources.Script == "" || c.Resources.Model == "" || c.Resources.Charset == "" {
		errs = append(errs, errors.New("resources.script, resources.model and resources.charset are required"))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inference.timeout must be positive, got %s", c.Inference.Timeout))
	}
	switch c.Inference.OutputMode {
	case OutputAuto, OutputStructured, OutputLegacy:
	default:
		errs = append(errs, fmt.Errorf("inference.output_mode must be one of auto, structured, legacy; got %q", c.Inference.OutputMode))
	}
	if c.Inference.MaxImageDim < 32 {
		errs = append(errs, fmt.Errorf("inference.max_image_dim must be >= 32, got %d", c.Inference.MaxImageDim))
	}

	return errors.Join(errs...)
}
