// Package imageinput turns what the host hands us (a canvas data URL, raw base64, or a file on
// disk) into the base64 image argument predict.py expects.
//
// The script decodes the payload with tf.io.decode_image, so anything that is not a decodable
// PNG/JPEG/GIF/BMP is rejected here as an input error instead of surfacing as a Python traceback.
// Images larger than the configured bound are downscaled and re-encoded as grayscale PNG; the
// model resizes to 128x32 anyway, and it keeps the argument under the argv size limit.
package imageinput

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/andresmejia3/scribe/internal/bridgeerr"
	"github.com/andresmejia3/scribe/internal/utils"
)

const op = "image_input"

// Payload is a validated image ready to be passed to the script.
type Payload struct {
	Base64  string // standard base64, no data URL prefix
	ImageID string // sha256 of the bytes that were encoded
	Width   int
	Height  int
	Resized bool
}

// Normalizer validates and bounds image payloads.
type Normalizer struct {
	maxDim   int
	maxBytes int
}

// NewNormalizer returns a Normalizer that keeps images within maxDim pixels on each side and
// maxBytes of base64.
func NewNormalizer(maxDim, maxBytes int) *Normalizer {
	return &Normalizer{maxDim: maxDim, maxBytes: maxBytes}
}

// FromBase64 accepts standard or URL-safe base64, padded or not, with an optional data URL prefix.
func (n *Normalizer) FromBase64(s string) (Payload, error) {
	data, err := DecodeBase64(s)
	if err != nil {
		return Payload{}, bridgeerr.New(bridgeerr.KindInput, op, err)
	}
	return n.fromBytes(data)
}

// FromFile reads an image file from disk.
func (n *Normalizer) FromFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, bridgeerr.New(bridgeerr.KindInput, op, err)
	}
	return n.fromBytes(data)
}

func (n *Normalizer) fromBytes(data []byte) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, bridgeerr.Newf(bridgeerr.KindInput, op, "image is empty")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Payload{}, bridgeerr.Newf(bridgeerr.KindInput, op, "decoding image: %w", err)
	}
	bounds := img.Bounds()

	encoded := base64.StdEncoding.EncodeToString(data)
	if bounds.Dx() <= n.maxDim && bounds.Dy() <= n.maxDim && len(encoded) <= n.maxBytes {
		return Payload{
			Base64:  encoded,
			ImageID: utils.GenerateImageID(data),
			Width:   bounds.Dx(),
			Height:  bounds.Dy(),
		}, nil
	}

	shrunk, err := shrink(img, n.maxDim)
	if err != nil {
		return Payload{}, bridgeerr.Newf(bridgeerr.KindInput, op, "re-encoding image: %w", err)
	}
	encoded = base64.StdEncoding.EncodeToString(shrunk.data)
	if len(encoded) > n.maxBytes {
		return Payload{}, bridgeerr.Newf(bridgeerr.KindInput, op, "image is %d bytes of base64 after downscaling, limit is %d", len(encoded), n.maxBytes)
	}
	return Payload{
		Base64:  encoded,
		ImageID: utils.GenerateImageID(shrunk.data),
		Width:   shrunk.width,
		Height:  shrunk.height,
		Resized: true,
	}, nil
}

type encodedImage struct {
	data          []byte
	width, height int
}

// shrink fits img within maxDim, drops colour and encodes it as PNG.
// Handwriting survives grayscale fine and it is what the model consumes.
func shrink(img image.Image, maxDim int) (encodedImage, error) {
	fitted := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	gray := imaging.Grayscale(fitted)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return encodedImage{}, err
	}
	b := gray.Bounds()
	return encodedImage{data: buf.Bytes(), width: b.Dx(), height: b.Dy()}, nil
}

// DecodeBase64 strips a data URL prefix and whitespace, then tries each base64 alphabet.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, after, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URL")
		}
		s = after
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, fmt.Errorf("image payload is empty")
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if data, err := enc.DecodeString(s); err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("image payload is not valid base64")
}
