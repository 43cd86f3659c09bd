package archive

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jpfielding/shrink.go/pkg/shrink"
	"github.com/jpfielding/shrink.go/pkg/surface"
	"github.com/klauspost/compress/zip"
)

// Folder is the directory inside the zip that holds the images
const Folder = "compressed-images"

// CompressedName derives "<base>_compressed<ext>" for an output of type mime.
// The extension follows mime when it is known, otherwise the original is kept.
func CompressedName(original, mime string) string {
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	if e := surface.Ext(mime); e != "" && !sameFormat(ext, e) {
		ext = e
	}
	return base + "_compressed" + ext
}

// sameFormat treats .jpeg/.jpg and case differences as equal
func sameFormat(a, b string) bool {
	norm := func(s string) string {
		s = strings.ToLower(s)
		if s == ".jpeg" {
			return ".jpg"
		}
		return s
	}
	return norm(a) == norm(b)
}

// uniqueNames maps each result to a distinct compressed file name
func uniqueNames(results []*shrink.Result) []string {
	seen := map[string]int{}
	names := make([]string, len(results))
	for i, res := range results {
		name := CompressedName(res.OriginalInfo.Name, res.Encoded.Type)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		seen[CompressedName(res.OriginalInfo.Name, res.Encoded.Type)]++
		names[i] = name
	}
	return names
}

// WriteDir writes every encoded image into dir and returns the paths written
func WriteDir(dir string, results []*shrink.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	var paths []string
	for i, name := range uniqueNames(results) {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, results[i].Encoded.Data, 0o644); err != nil {
			return paths, fmt.Errorf("failed to write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// WriteZip packages every encoded image under Folder/
func WriteZip(w io.Writer, results []*shrink.Result) error {
	zw := zip.NewWriter(w)
	for i, name := range uniqueNames(results) {
		res := results[i]
		hdr := &zip.FileHeader{
			Name: path.Join(Folder, name),
			// already compressed image data gains nothing from deflate
			Method:   zip.Store,
			Modified: res.EncodedInfo.LastModified,
		}
		if hdr.Modified.IsZero() {
			hdr.Modified = time.Now()
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
		if _, err := fw.Write(res.Encoded.Data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return zw.Close()
}
