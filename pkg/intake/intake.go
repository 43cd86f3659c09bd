package intake

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	"github.com/jpfielding/shrink.go/pkg/shrink"
)

// MaxFileSize is the default per-file limit (50 MiB)
const MaxFileSize = 50 * units.MiB

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrTooLarge        = errors.New("file too large")
)

// DefaultTypes are the MIME types accepted for compression
var DefaultTypes = []string{"image/jpeg", "image/png", "image/webp", "image/avif"}

// Rules decide which files enter a batch
type Rules struct {
	Types       []string
	MaxFileSize int64
}

// DefaultRules accepts DefaultTypes up to MaxFileSize
func DefaultRules() Rules {
	return Rules{Types: slices.Clone(DefaultTypes), MaxFileSize: MaxFileSize}
}

// Rejection is a file refused by Validate
type Rejection struct {
	Name string
	Err  error
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %v", r.Name, r.Err)
}

func (r Rejection) Unwrap() error {
	return r.Err
}

// Check validates a single source
func (r Rules) Check(src *shrink.SourceImage) error {
	if !slices.Contains(r.Types, src.Type) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, src.Type)
	}
	if r.MaxFileSize > 0 && src.Size > r.MaxFileSize {
		return fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			units.BytesSize(float64(src.Size)), units.BytesSize(float64(r.MaxFileSize)))
	}
	return nil
}

// Validate splits sources into accepted and rejected, preserving order
func (r Rules) Validate(sources []*shrink.SourceImage) ([]*shrink.SourceImage, []Rejection) {
	var accepted []*shrink.SourceImage
	var rejected []Rejection
	for _, src := range sources {
		if err := r.Check(src); err != nil {
			rejected = append(rejected, Rejection{Name: src.Name, Err: err})
			continue
		}
		accepted = append(accepted, src)
	}
	return accepted, rejected
}

// Open reads a file into a SourceImage, detecting its type from content.
// Files larger than limit (when positive) are refused before reading.
func Open(path string, limit int64) (*shrink.SourceImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if limit > 0 && st.Size() > limit {
		return nil, fmt.Errorf("%w: %s is %s", ErrTooLarge, path, units.BytesSize(float64(st.Size())))
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	mime := mimetype.Detect(data).String()
	return shrink.NewSourceImage(filepath.Base(path), mime, st.ModTime(), data), nil
}
