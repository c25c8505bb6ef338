package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
)

func TestLegacyExtraction(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{
			name:   "Numpy array repr",
			output: "array(['HELLO'], dtype='<U5')",
			want:   "HELLO",
		},
		{
			name:   "Prefix and suffix",
			output: "Result: 'A1' done",
			want:   "A1",
		},
		{
			name:   "List repr from predict.py",
			output: "1/1 [==============================] - 0s 312ms/step\n['HELLO']\n",
			want:   "HELLO",
		},
		{
			name:   "Trailing blank lines are skipped",
			output: "loading model\n['WORLD']\n\n\n",
			want:   "WORLD",
		},
		{
			name:   "Whitespace-only lines count as empty",
			output: "['CRLF']\r\n  \r\n\t\n",
			want:   "CRLF",
		},
		{
			name:   "Only the last non-empty line matters",
			output: "debug 'ignored'\nfinal 'kept'\n",
			want:   "kept",
		},
		{
			name:   "Spaces inside quotes are preserved",
			output: "[' two words ']",
			want:   " two words ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(ModeLegacy).Extract(tt.output)
			if err != nil {
				t.Fatalf("Extract() failed: %v", err)
			}
			if got.Text != tt.want {
				t.Errorf("Extract() = %q, want %q", got.Text, tt.want)
			}
		})
	}
}

func TestLegacyExtractionFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"No output", ""},
		{"Only newlines", "\n\n\n"},
		{"No quotes", "Traceback (most recent call last):\nValueError: bad image"},
		{"Single quote", "Result: 'A1"},
		{"Empty prediction", "['']"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ModeLegacy).Extract(tt.output)
			if err == nil {
				t.Fatal("Expected parse error, got nil")
			}
			if !errors.Is(err, bridgeerr.ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
			var be *bridgeerr.Error
			if errors.As(err, &be) && be.Output != tt.output {
				t.Errorf("Expected raw output to be attached, got %q", be.Output)
			}
		})
	}
}

// For any non-empty X without single quotes, `...'X'...` extracts exactly X.
func TestLegacyRoundTrip(t *testing.T) {
	samples := []string{"a", "HELLO", "x y z", "12345", "ünïcödé", `back\slash`, `"double"`}
	wrappers := []struct{ prefix, suffix string }{
		{"", ""},
		{"[", "]"},
		{"array([", "], dtype='<U5')"},
		{"prediction -> ", " (0.93)"},
	}

	for _, x := range samples {
		for _, w := range wrappers {
			output := "noise line\n" + w.prefix + "'" + x + "'" + w.suffix + "\n"
			got, err := Legacy(output)
			if err != nil {
				t.Errorf("Legacy(%q) failed: %v", output, err)
				continue
			}
			if got != x {
				t.Errorf("Legacy(%q) = %q, want %q", output, got, x)
			}
		}
	}
}

func TestStructuredExtraction(t *testing.T) {
	output := strings.Join([]string{
		"2024-01-01 12:00:00 loading model",
		`SCRIBE_RESULT {"prediction": "first"}`,
		`SCRIBE_RESULT {"prediction": "it's final"}`,
		"['legacy-noise']",
		"",
	}, "\n")

	got, err := New(ModeStructured).Extract(output)
	if err != nil {
		t.Fatalf("Extract() failed: %v", err)
	}
	if got.Text != "it's final" {
		t.Errorf("Extract() = %q, want the last tagged prediction", got.Text)
	}
}

func TestStructuredExtractionFailures(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"Missing tag", "['HELLO']"},
		{"Malformed JSON", `SCRIBE_RESULT {"prediction": `},
		{"Unknown field", `SCRIBE_RESULT {"text": "HELLO"}`},
		{"Empty prediction", `SCRIBE_RESULT {"prediction": ""}`},
		{"Script error", `SCRIBE_RESULT {"prediction": "", "error": "model not found"}`},
		{"Second object", `SCRIBE_RESULT {"prediction": "A"} {"prediction": "B"}`},
		{"Trailing text", `SCRIBE_RESULT {"prediction": "A"} done`},
		{"Trailing brace", `SCRIBE_RESULT {"prediction": "A"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(ModeStructured).Extract(tt.output)
			if !errors.Is(err, bridgeerr.ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
		})
	}
}

func TestAutoModePrefersStructured(t *testing.T) {
	got, err := New(ModeAuto).Extract("['legacy']\nSCRIBE_RESULT {\"prediction\": \"tagged\"}\n")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "tagged" {
		t.Errorf("Extract() = %q, want tagged", got.Text)
	}

	// Falls back to the quote scheme when no tagged line exists
	got, err = New("").Extract("array(['HELLO'], dtype='<U5')\n")
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "HELLO" {
		t.Errorf("Extract() = %q, want HELLO", got.Text)
	}

	// A broken tagged line is not papered over by the fallback
	if _, err := New(ModeAuto).Extract("SCRIBE_RESULT nope\n['HELLO']"); !errors.Is(err, bridgeerr.ErrParse) {
		t.Errorf("Expected ErrParse for malformed tagged line, got %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeAuto, "auto": ModeAuto, "legacy": ModeLegacy, "structured": ModeStructured} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("regex"); err == nil {
		t.Error("Expected error for unknown mode")
	}
}
