package surface

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gen2brain/avif"
	"github.com/gen2brain/jpegn"
	xwebp "golang.org/x/image/webp"
)

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWebP = "image/webp"
	MIMEAVIF = "image/avif"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

// Codec encodes and decodes one image MIME type
type Codec interface {
	// Encode writes img to w; quality is 0.0-1.0 and ignored by lossless codecs
	Encode(w io.Writer, img image.Image, quality float64) error
	Decode(r io.Reader) (image.Image, error)
	DecodeConfig(r io.Reader) (image.Config, error)
	// MIME returns the canonical MIME type (e.g., "image/jpeg")
	MIME() string
	// Ext returns the preferred file extension including the dot
	Ext() string
	// Lossy reports whether the format has a quality axis
	Lossy() bool
}

// jpegCodec decodes with jpegn and encodes with the standard library
type jpegCodec struct{}

func (c *jpegCodec) Encode(w io.Writer, img image.Image, quality float64) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: percent(quality, 1)})
}

func (c *jpegCodec) Decode(r io.Reader) (image.Image, error) {
	// orientation is applied by the pipeline, not the decoder
	return jpegn.Decode(r, &jpegn.Options{ToRGBA: true, UpsampleMethod: jpegn.CatmullRom})
}

func (c *jpegCodec) DecodeConfig(r io.Reader) (image.Config, error) {
	return jpegn.DecodeConfig(r)
}

func (c *jpegCodec) MIME() string { return MIMEJPEG }
func (c *jpegCodec) Ext() string  { return ".jpg" }
func (c *jpegCodec) Lossy() bool  { return true }

// pngCodec is lossless; quality has no effect
type pngCodec struct{}

func (c *pngCodec) Encode(w io.Writer, img image.Image, _ float64) error {
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

func (c *pngCodec) Decode(r io.Reader) (image.Image, error) {
	return png.Decode(r)
}

func (c *pngCodec) DecodeConfig(r io.Reader) (image.Config, error) {
	return png.DecodeConfig(r)
}

func (c *pngCodec) MIME() string { return MIMEPNG }
func (c *pngCodec) Ext() string  { return ".png" }
func (c *pngCodec) Lossy() bool  { return false }

// webpCodec decodes with x/image and encodes with libwebp
type webpCodec struct{}

func (c *webpCodec) Encode(w io.Writer, img image.Image, quality float64) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(percent(quality, 0))})
}

func (c *webpCodec) Decode(r io.Reader) (image.Image, error) {
	return xwebp.Decode(r)
}

func (c *webpCodec) DecodeConfig(r io.Reader) (image.Config, error) {
	return xwebp.DecodeConfig(r)
}

func (c *webpCodec) MIME() string { return MIMEWebP }
func (c *webpCodec) Ext() string  { return ".webp" }
func (c *webpCodec) Lossy() bool  { return true }

type avifCodec struct{}

func (c *avifCodec) Encode(w io.Writer, img image.Image, quality float64) error {
	q := percent(quality, 0)
	return avif.Encode(w, img, avif.Options{Quality: q, QualityAlpha: q, Speed: avif.DefaultSpeed})
}

func (c *avifCodec) Decode(r io.Reader) (image.Image, error) {
	return avif.Decode(r)
}

func (c *avifCodec) DecodeConfig(r io.Reader) (image.Config, error) {
	return avif.DecodeConfig(r)
}

func (c *avifCodec) MIME() string { return MIMEAVIF }
func (c *avifCodec) Ext() string  { return ".avif" }
func (c *avifCodec) Lossy() bool  { return true }

// codecsByMIME maps MIME types (and common aliases) to implementations
var codecsByMIME = map[string]Codec{
	MIMEJPEG:    &jpegCodec{},
	"image/jpg": &jpegCodec{}, // alias
	MIMEPNG:     &pngCodec{},
	MIMEWebP:    &webpCodec{},
	MIMEAVIF:    &avifCodec{},
}

// CodecByMIME returns the codec for a MIME type, or nil if not found
func CodecByMIME(mime string) Codec {
	return codecsByMIME[mime]
}

// Supported reports whether mime can be both decoded and encoded
func Supported(mime string) bool {
	return CodecByMIME(mime) != nil
}

// Lossy reports whether mime has a lossy quality axis
func Lossy(mime string) bool {
	c := CodecByMIME(mime)
	return c != nil && c.Lossy()
}

// Ext returns the file extension for mime, or "" if unknown
func Ext(mime string) string {
	if c := CodecByMIME(mime); c != nil {
		return c.Ext()
	}
	return ""
}

// Sniff detects the MIME type from content
func Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}

func codecFor(data []byte, mime string) (Codec, error) {
	if c := CodecByMIME(mime); c != nil {
		return c, nil
	}
	sniffed := Sniff(data)
	if c := CodecByMIME(sniffed); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mime)
}

// Decode decodes data declared as mime, sniffing the content when mime is unknown
func Decode(data []byte, mime string) (image.Image, error) {
	c, err := codecFor(data, mime)
	if err != nil {
		return nil, err
	}
	img, err := c.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.MIME(), err)
	}
	return img, nil
}

// DecodeConfig reads only the header of data
func DecodeConfig(data []byte, mime string) (image.Config, error) {
	c, err := codecFor(data, mime)
	if err != nil {
		return image.Config{}, err
	}
	cfg, err := c.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("failed to read %s header: %w", c.MIME(), err)
	}
	return cfg, nil
}

// Encode encodes img as mime at quality (0.0-1.0)
func Encode(w io.Writer, img image.Image, mime string, quality float64) error {
	c := CodecByMIME(mime)
	if c == nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, mime)
	}
	if err := c.Encode(w, img, quality); err != nil {
		return fmt.Errorf("failed to encode %s: %w", mime, err)
	}
	return nil
}

// percent maps a 0.0-1.0 quality onto [low, 100]
func percent(quality float64, low int) int {
	q := int(math.Round(quality * 100))
	return max(low, min(100, q))
}
