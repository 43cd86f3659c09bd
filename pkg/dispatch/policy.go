package dispatch

import "runtime"

// DefaultThresholdPixels is one megapixel; larger images are offloaded
const DefaultThresholdPixels = 1_000_000

// Policy decides whether an encode runs on the background executor
type Policy struct {
	// Available reports whether background execution is possible at all
	Available bool
	// ThresholdPixels must be strictly exceeded to offload
	ThresholdPixels int
}

// DefaultPolicy offloads above one megapixel when more than one CPU is usable
func DefaultPolicy() Policy {
	return Policy{
		Available:       runtime.GOMAXPROCS(0) > 1,
		ThresholdPixels: DefaultThresholdPixels,
	}
}

// ShouldOffload reports whether a width x height encode belongs on the executor
func (p Policy) ShouldOffload(width, height int) bool {
	if !p.Available {
		return false
	}
	threshold := p.ThresholdPixels
	if threshold <= 0 {
		threshold = DefaultThresholdPixels
	}
	return width*height > threshold
}
