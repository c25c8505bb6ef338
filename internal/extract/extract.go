// Package extract recovers the prediction from the inference script's console output.
//
// Two result formats are understood. The structured one is a single tagged line:
//
//	SCRIBE_RESULT {"prediction": "HELLO"}
//
// The legacy one is whatever predict.py prints last, e.g. `['HELLO']`: the last non-empty
// line is split on single quotes and the text between the first two quotes is the result.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/types"
)

// ResultTag prefixes the structured result line.
const ResultTag = "SCRIBE_RESULT"

const op = "extract"

// Mode selects which result formats are accepted.
type Mode string

const (
	ModeAuto       Mode = "auto"
	ModeStructured Mode = "structured"
	ModeLegacy     Mode = "legacy"
)

// ParseMode validates a mode name. Empty means auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeStructured, ModeLegacy:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

// Extractor reduces raw script output to a single prediction.
type Extractor struct {
	mode Mode
}

// New returns an Extractor for the given mode.
func New(mode Mode) *Extractor {
	if mode == "" {
		mode = ModeAuto
	}
	return &Extractor{mode: mode}
}

// Extract returns the prediction contained in output, or a parse error that carries the output.
func (e *Extractor) Extract(output string) (types.Prediction, error) {
	var (
		text string
		err  error
	)

	switch e.mode {
	case ModeLegacy:
		text, err = Legacy(output)
	case ModeStructured:
		text, err = Structured(output)
		if errors.Is(err, errNoTaggedLine) {
			err = fmt.Errorf("no %s line in script output", ResultTag)
		}
	default:
		text, err = Structured(output)
		if errors.Is(err, errNoTaggedLine) {
			text, err = Legacy(output)
		}
	}

	if err != nil {
		return types.Prediction{}, bridgeerr.New(bridgeerr.KindParse, op, err).WithOutput(output)
	}
	return types.Prediction{Text: text}, nil
}

// Legacy applies the quote-splitting scheme to the last non-empty line of output.
func Legacy(output string) (string, error) {
	line, ok := lastNonEmptyLine(output)
	if !ok {
		return "", errors.New("script output has no non-empty line")
	}

	if strings.Count(line, "'") < 2 {
		return "", fmt.Errorf("result line %q has no single-quoted prediction", line)
	}
	segments := strings.Split(line, "'")

	if segments[1] == "" {
		return "", fmt.Errorf("result line %q has an empty prediction", line)
	}
	return segments[1], nil
}

var errNoTaggedLine = errors.New("no tagged result line")

// structuredResult is the schema of the JSON after ResultTag.
type structuredResult struct {
	Prediction string `json:"prediction"`
	Error      string `json:"error,omitempty"`
}

// Structured decodes the last ResultTag line of output.
func Structured(output string) (string, error) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		payload, found := strings.CutPrefix(line, ResultTag+" ")
		if !found {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
		dec.DisallowUnknownFields()
		var res structuredResult
		if err := dec.Decode(&res); err != nil {
			return "", fmt.Errorf("malformed %s line: %w", ResultTag, err)
		}
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("malformed %s line: trailing data after JSON object", ResultTag)
		}
		if res.Error != "" {
			return "", fmt.Errorf("script reported error: %s", res.Error)
		}
		if res.Prediction == "" {
			return "", fmt.Errorf("%s line has an empty prediction", ResultTag)
		}
		return res.Prediction, nil
	}
	return "", errNoTaggedLine
}

// lastNonEmptyLine scans from the end, skipping blank lines. CRLF endings are tolerated.
func lastNonEmptyLine(output string) (string, bool) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimRight(lines[i], "\r")
		if strings.TrimSpace(line) != "" {
			return line, true
		}
	}
	return "", false
}
