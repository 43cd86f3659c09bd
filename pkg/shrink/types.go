package shrink

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/geometry"
	"github.com/jpfielding/shrink.go/pkg/handle"
	"github.com/jpfielding/shrink.go/pkg/surface"
)

var (
	ErrNoResults       = errors.New("no images were compressed")
	ErrInvalidSettings = errors.New("invalid compression settings")
)

const (
	DefaultQuality   = 0.8
	DefaultMaxWidth  = 2000
	DefaultMaxHeight = 2000
)

// SourceImage is a read-only view over the original file bytes
type SourceImage struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	LastModified time.Time `json:"lastModified"`

	data    []byte
	once    sync.Once
	dims    geometry.Dimensions
	dimsErr error
}

// NewSourceImage wraps data. An empty mime is sniffed from the content.
func NewSourceImage(name, mime string, modTime time.Time, data []byte) *SourceImage {
	if mime == "" {
		mime = surface.Sniff(data)
	}
	return &SourceImage{
		Name:         name,
		Size:         int64(len(data)),
		Type:         mime,
		LastModified: modTime,
		data:         data,
	}
}

// Bytes returns the original bytes; callers must not modify them
func (s *SourceImage) Bytes() []byte {
	return s.data
}

// Dimensions reads the stored pixel size from the image header, once
func (s *SourceImage) Dimensions() (geometry.Dimensions, error) {
	s.once.Do(func() {
		cfg, err := surface.DecodeConfig(s.data, s.Type)
		if err != nil {
			s.dimsErr = err
			return
		}
		s.dims = geometry.Dimensions{Width: cfg.Width, Height: cfg.Height}
	})
	return s.dims, s.dimsErr
}

// Settings apply to every image of a batch
type Settings struct {
	Quality      float64 `json:"quality" yaml:"quality"`
	MaxWidth     int     `json:"maxWidth" yaml:"max_width"`
	MaxHeight    int     `json:"maxHeight" yaml:"max_height"`
	OutputFormat string  `json:"outputFormat,omitempty" yaml:"output_format"`
}

// DefaultSettings is quality 0.8 inside 2000x2000, keeping the source format
func DefaultSettings() Settings {
	return Settings{
		Quality:   DefaultQuality,
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
	}
}

// Validate checks ranges and that an explicit output format can be encoded
func (s Settings) Validate() error {
	if math.IsNaN(s.Quality) || s.Quality < 0 || s.Quality > 1 {
		return fmt.Errorf("%w: quality %v not in [0,1]", ErrInvalidSettings, s.Quality)
	}
	if s.MaxWidth <= 0 || s.MaxHeight <= 0 {
		return fmt.Errorf("%w: max size %dx%d must be positive", ErrInvalidSettings, s.MaxWidth, s.MaxHeight)
	}
	if s.OutputFormat != "" && !surface.Supported(s.OutputFormat) {
		return fmt.Errorf("%w: output format %q", ErrInvalidSettings, s.OutputFormat)
	}
	return nil
}

// EncodedImage is the compressed blob
type EncodedImage struct {
	Data []byte `json:"-"`
	Type string `json:"type"`
}

func (e EncodedImage) Size() int64 {
	return int64(len(e.Data))
}

// ImageInfo describes either side of a compression
type ImageInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	Type         string    `json:"type"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	LastModified time.Time `json:"lastModified"`
}

// Result is one successfully compressed image. The URL handles stay valid
// until the owning Compressor is cleared.
type Result struct {
	Source           *SourceImage     `json:"-"`
	Encoded          EncodedImage     `json:"encoded"`
	OriginalInfo     ImageInfo        `json:"originalInfo"`
	EncodedInfo      ImageInfo        `json:"encodedInfo"`
	CompressionRatio int              `json:"compressionRatio"`
	Orientation      exif.Orientation `json:"orientation"`
	OriginalURL      handle.Handle    `json:"originalUrl"`
	EncodedURL       handle.Handle    `json:"encodedUrl"`
}

// Failure records an input dropped from a batch
type Failure struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Err   error  `json:"-"`
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (#%d): %v", f.Name, f.Index, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// BatchReport holds results in input order plus the inputs that failed
type BatchReport struct {
	Results  []*Result `json:"results"`
	Failures []Failure `json:"failures,omitempty"`
	Total    int       `json:"total"`
}

// Partial reports whether some but not all inputs succeeded
func (r *BatchReport) Partial() bool {
	return len(r.Results) > 0 && len(r.Failures) > 0
}

// ProgressFunc observes batch progress after every attempted image
type ProgressFunc func(percent float64, done, total int)

// CompressionRatio is the percentage saved, rounded half up; negative when the output grew
func CompressionRatio(originalSize, encodedSize int64) int {
	if originalSize <= 0 {
		return 0
	}
	return int(math.Floor(float64(originalSize-encodedSize)/float64(originalSize)*100 + 0.5))
}

// OutputFormat picks the encode MIME: the explicit choice, else the source
// type, with formats lacking broad decode support replaced by JPEG.
func OutputFormat(sourceType, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if sourceType == surface.MIMEAVIF || !surface.Supported(sourceType) {
		return surface.MIMEJPEG
	}
	if sourceType == "image/jpg" {
		return surface.MIMEJPEG
	}
	return sourceType
}
