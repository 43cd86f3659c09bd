package geometry

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFit(t *testing.T) {
	tests := []struct {
		name                   string
		origW, origH, maxW, maxH int
		want                   Dimensions
	}{
		{"inside caps", 800, 600, 2000, 2000, Dimensions{800, 600}},
		{"exactly at caps", 2000, 2000, 2000, 2000, Dimensions{2000, 2000}},
		{"landscape width bound", 4000, 3000, 2000, 2000, Dimensions{2000, 1500}},
		{"portrait height bound", 3000, 4000, 2000, 2000, Dimensions{1500, 2000}},
		{"square", 5000, 5000, 1000, 2000, Dimensions{1000, 1000}},
		{"landscape rescaled on height", 4000, 3000, 2000, 1000, Dimensions{1333, 1000}},
		{"portrait rescaled on width", 3000, 4000, 1000, 2000, Dimensions{1000, 1333}},
		{"only width exceeds", 2500, 100, 2000, 2000, Dimensions{2000, 80}},
		{"only height exceeds", 100, 2500, 2000, 2000, Dimensions{80, 2000}},
		{"extreme strip never zero", 100000, 1, 100, 100, Dimensions{100, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(tt.origW, tt.origH, tt.maxW, tt.maxH)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFit_NeverUpscales(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 2000; i++ {
		maxW, maxH := 1+rng.IntN(4000), 1+rng.IntN(4000)
		w, h := 1+rng.IntN(maxW), 1+rng.IntN(maxH)
		require.Equal(t, Dimensions{w, h}, Fit(w, h, maxW, maxH))
	}
}

func TestFit_BoundsAndAspect(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	for i := 0; i < 5000; i++ {
		maxW, maxH := 100+rng.IntN(3900), 100+rng.IntN(3900)
		origW := 1 + rng.IntN(20000)
		// keep the aspect ratio inside [0.1, 10] so the derived side stays well above a pixel
		aspect := 0.1 + rng.Float64()*9.9
		origH := max(1, int(float64(origW)/aspect))
		if origW <= maxW && origH <= maxH {
			continue
		}

		got := Fit(origW, origH, maxW, maxH)
		require.True(t, got.Positive(), "%dx%d in %dx%d", origW, origH, maxW, maxH)
		require.LessOrEqual(t, got.Width, maxW)
		require.LessOrEqual(t, got.Height, maxH)

		want := float64(origW) / float64(origH)
		// integer rounding on the derived side costs at most half a pixel
		eps := 0.5*math.Max(want, 1)/float64(min(got.Width, got.Height)) + 1e-9
		require.InDelta(t, want, got.AspectRatio(), eps, "%dx%d in %dx%d -> %s", origW, origH, maxW, maxH, got)
	}
}

func TestDimensions_Helpers(t *testing.T) {
	d := Dimensions{Width: 1001, Height: 1000}
	assert.Equal(t, 1001000, d.Pixels())
	assert.Equal(t, Dimensions{1000, 1001}, d.Swap())
	assert.Equal(t, "1001x1000", d.String())
	assert.False(t, Dimensions{0, 10}.Positive())
	assert.Zero(t, Dimensions{10, 0}.AspectRatio())
}
