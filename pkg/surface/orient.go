package surface

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/geometry"
)

// orientTransform pairs the surface sizing rule with the pixel transform for one code
type orientTransform struct {
	swap  bool
	apply func(image.Image) *image.NRGBA
}

// imaging rotates counter-clockwise, EXIF names the clockwise fix
var orientations = map[exif.Orientation]orientTransform{
	exif.Normal:         {swap: false, apply: imaging.Clone},
	exif.FlipHorizontal: {swap: false, apply: imaging.FlipH},
	exif.Rotate180:      {swap: false, apply: imaging.Rotate180},
	exif.FlipVertical:   {swap: false, apply: imaging.FlipV},
	exif.Transpose:      {swap: true, apply: imaging.Transpose},
	exif.Rotate90:       {swap: true, apply: imaging.Rotate270},
	exif.Transverse:     {swap: true, apply: imaging.Transverse},
	exif.Rotate270:      {swap: true, apply: imaging.Rotate90},
}

// OrientedBounds is the size of d once orientation o has been applied
func OrientedBounds(d geometry.Dimensions, o exif.Orientation) geometry.Dimensions {
	if t, ok := orientations[o]; ok && t.swap {
		return d.Swap()
	}
	return d
}
