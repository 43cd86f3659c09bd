package geometry

import (
	"fmt"
	"math"
)

// Dimensions is a pixel width/height pair
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Pixels is the pixel count
func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// Swap exchanges width and height
func (d Dimensions) Swap() Dimensions {
	return Dimensions{Width: d.Height, Height: d.Width}
}

// AspectRatio is width/height, or 0 for an empty height
func (d Dimensions) AspectRatio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// Positive reports whether both sides are at least one pixel
func (d Dimensions) Positive() bool {
	return d.Width > 0 && d.Height > 0
}

// Fit scales (origW, origH) down to fit inside (maxW, maxH) keeping the aspect
// ratio. Images already inside the bounds are returned unchanged; Fit never upscales.
func Fit(origW, origH, maxW, maxH int) Dimensions {
	if origW <= maxW && origH <= maxH {
		return Dimensions{Width: origW, Height: origH}
	}
	if origW <= 0 || origH <= 0 {
		return Dimensions{Width: origW, Height: origH}
	}

	aspect := float64(origW) / float64(origH)
	var w, h float64
	if origW >= origH {
		w = math.Min(float64(origW), float64(maxW))
		h = w / aspect
		if h > float64(maxH) {
			h = float64(maxH)
			w = h * aspect
		}
	} else {
		h = math.Min(float64(origH), float64(maxH))
		w = h * aspect
		if w > float64(maxW) {
			w = float64(maxW)
			h = w / aspect
		}
	}
	return Dimensions{
		Width:  clamp(w, maxW),
		Height: clamp(h, maxH),
	}
}

// clamp rounds v and keeps it inside [1, limit]
func clamp(v float64, limit int) int {
	n := int(math.Round(v))
	if n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}
