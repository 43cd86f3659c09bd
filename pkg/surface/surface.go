package surface

import (
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/geometry"
)

// MaxPixels caps a single surface allocation (16384x16384)
var MaxPixels = 16384 * 16384

var ErrSurfaceUnavailable = errors.New("surface unavailable")

// SurfaceError reports a surface that could not be acquired
type SurfaceError struct {
	Size   geometry.Dimensions
	Reason string
}

func (e *SurfaceError) Error() string {
	return fmt.Sprintf("surface %s unavailable: %s", e.Size, e.Reason)
}

func (e *SurfaceError) Unwrap() error {
	return ErrSurfaceUnavailable
}

// Surface is a drawable RGBA buffer
type Surface interface {
	Bounds() geometry.Dimensions
	// Draw scales src onto the whole surface with a Lanczos filter
	Draw(src image.Image) error
	// Transform draws src with the orientation applied; the surface must already
	// be sized for the post-transform bounds
	Transform(src image.Image, o exif.Orientation) error
	// Pixels exposes the backing buffer
	Pixels() *image.NRGBA
	// Export encodes the surface contents
	Export(w io.Writer, mime string, quality float64) error
}

type canvas struct {
	img *image.NRGBA
}

// New acquires a surface of size d
func New(d geometry.Dimensions) (Surface, error) {
	if !d.Positive() {
		return nil, &SurfaceError{Size: d, Reason: "non-positive size"}
	}
	if d.Width > MaxPixels/d.Height {
		return nil, &SurfaceError{Size: d, Reason: fmt.Sprintf("exceeds %d pixels", MaxPixels)}
	}
	return &canvas{img: image.NewNRGBA(image.Rect(0, 0, d.Width, d.Height))}, nil
}

// FromPixels wraps an existing buffer without copying
func FromPixels(img *image.NRGBA) Surface {
	return &canvas{img: img}
}

func (c *canvas) Bounds() geometry.Dimensions {
	b := c.img.Bounds()
	return geometry.Dimensions{Width: b.Dx(), Height: b.Dy()}
}

func (c *canvas) Pixels() *image.NRGBA {
	return c.img
}

func (c *canvas) Draw(src image.Image) error {
	d := c.Bounds()
	return c.fill(imaging.Resize(src, d.Width, d.Height, imaging.Lanczos))
}

func (c *canvas) Transform(src image.Image, o exif.Orientation) error {
	t, ok := orientations[o]
	if !ok {
		t = orientations[exif.Normal]
	}
	b := src.Bounds()
	want := OrientedBounds(geometry.Dimensions{Width: b.Dx(), Height: b.Dy()}, o)
	if want != c.Bounds() {
		return fmt.Errorf("orientation %s needs a %s surface, have %s", o, want, c.Bounds())
	}
	return c.fill(t.apply(src))
}

func (c *canvas) Export(w io.Writer, mime string, quality float64) error {
	return Encode(w, c.img, mime, quality)
}

// fill copies src (same size as the surface) into the backing buffer
func (c *canvas) fill(src *image.NRGBA) error {
	if src.Bounds().Size() != c.img.Bounds().Size() {
		return fmt.Errorf("draw size %v does not match surface %s", src.Bounds().Size(), c.Bounds())
	}
	rowLen := src.Bounds().Dx() * 4
	for y := 0; y < src.Bounds().Dy(); y++ {
		copy(c.img.Pix[y*c.img.Stride:y*c.img.Stride+rowLen], src.Pix[y*src.Stride:y*src.Stride+rowLen])
	}
	return nil
}

// Orient returns a surface holding src rotated/flipped upright
func Orient(src image.Image, o exif.Orientation) (Surface, error) {
	b := src.Bounds()
	s, err := New(OrientedBounds(geometry.Dimensions{Width: b.Dx(), Height: b.Dy()}, o))
	if err != nil {
		return nil, err
	}
	if err := s.Transform(src, o); err != nil {
		return nil, err
	}
	return s, nil
}

// Resize returns a surface of size d holding src scaled to fit
func Resize(src image.Image, d geometry.Dimensions) (Surface, error) {
	s, err := New(d)
	if err != nil {
		return nil, err
	}
	if err := s.Draw(src); err != nil {
		return nil, err
	}
	return s, nil
}
