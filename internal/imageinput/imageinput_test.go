package imageinput

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
)

// createTestPNG draws a dark stroke on white, roughly what the drawing canvas exports.
func createTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.White)
		}
	}
	for x := width / 4; x < 3*width/4; x++ {
		img.Set(x, height/2, color.Black)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return buf.Bytes()
}

func TestFromBase64Variants(t *testing.T) {
	data := createTestPNG(t, 128, 32)
	std := base64.StdEncoding.EncodeToString(data)

	tests := []struct {
		name  string
		input string
	}{
		{"Standard", std},
		{"Data URL", "data:image/png;base64," + std},
		{"URL-safe", base64.URLEncoding.EncodeToString(data)},
		{"Unpadded", base64.RawStdEncoding.EncodeToString(data)},
		{"Wrapped lines", std[:40] + "\n" + std[40:] + "\n"},
	}

	n := NewNormalizer(1024, 1<<20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := n.FromBase64(tt.input)
			if err != nil {
				t.Fatalf("FromBase64 failed: %v", err)
			}
			// Small images are passed through untouched
			if p.Base64 != std {
				t.Error("Expected payload to be re-emitted as standard base64 of the original bytes")
			}
			if p.Resized || p.Width != 128 || p.Height != 32 {
				t.Errorf("Unexpected payload metadata: %+v", p)
			}
			if len(p.ImageID) != 64 {
				t.Errorf("ImageID = %q", p.ImageID)
			}
		})
	}
}

func TestFromBase64Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"Empty", ""},
		{"Whitespace", "   \n"},
		{"Not base64", "!!!not-base64!!!"},
		{"Not an image", base64.StdEncoding.EncodeToString([]byte("hello world"))},
		{"Malformed data URL", "data:image/png;base64"},
	}

	n := NewNormalizer(1024, 1<<20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.FromBase64(tt.input)
			if !errors.Is(err, bridgeerr.ErrInput) {
				t.Errorf("Expected InputError, got %v", err)
			}
		})
	}
}

func TestLargeImageIsDownscaled(t *testing.T) {
	data := createTestPNG(t, 2048, 256)

	p, err := NewNormalizer(512, 1<<20).FromBase64(base64.StdEncoding.EncodeToString(data))
	if err != nil {
		t.Fatalf("FromBase64 failed: %v", err)
	}
	if !p.Resized {
		t.Error("Expected image to be resized")
	}
	if p.Width != 512 || p.Height != 64 {
		t.Errorf("Expected 512x64 preserving aspect, got %dx%d", p.Width, p.Height)
	}

	decoded, err := base64.StdEncoding.DecodeString(p.Base64)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(bytes.NewReader(decoded)); err != nil {
		t.Errorf("Resized payload is not a PNG: %v", err)
	}
}

func TestPayloadTooLargeAfterDownscale(t *testing.T) {
	data := createTestPNG(t, 256, 256)

	_, err := NewNormalizer(256, 16).FromBase64(base64.StdEncoding.EncodeToString(data))
	if !errors.Is(err, bridgeerr.ErrInput) {
		t.Errorf("Expected InputError, got %v", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drawing.png")
	if err := os.WriteFile(path, createTestPNG(t, 64, 64), 0644); err != nil {
		t.Fatal(err)
	}

	n := NewNormalizer(1024, 1<<20)
	p, err := n.FromFile(path)
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}
	if p.Width != 64 || p.Height != 64 {
		t.Errorf("Unexpected size %dx%d", p.Width, p.Height)
	}

	if _, err := n.FromFile(filepath.Join(t.TempDir(), "missing.png")); !errors.Is(err, bridgeerr.ErrInput) {
		t.Errorf("Expected InputError for missing file, got %v", err)
	}
}
