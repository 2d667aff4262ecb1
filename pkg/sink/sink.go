// Package sink persists finished buffers to disk. Files are written to a
// temporary name in the target directory, synced and renamed into place, so
// a failed save never leaves a partial file behind.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"

	"github.com/menta2k/image-redactor/internal/utils"
	"github.com/menta2k/image-redactor/pkg/metadata"
	"github.com/menta2k/image-redactor/pkg/types"
)

// DefaultQuality is used for lossy output formats
const DefaultQuality = 95

// SourceReader returns the encoded bytes of an item's source, used to copy
// metadata when the directive is keep
type SourceReader interface {
	ReadSource(ctx context.Context, source string) ([]byte, error)
}

// Request describes one save
type Request struct {
	ItemID string
	// Source is the reference the item was loaded from
	Source   string
	Image    image.Image
	Filename string
	Dir      string
	// Format is png, webp or jpg. Empty means png.
	Format   string
	Quality  int
	Metadata types.MetadataDirective
}

// PersistenceError reports a failed save
type PersistenceError struct {
	ItemID string
	Path   string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to save %s to %s: %v", e.ItemID, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// FileSink writes images into a directory
type FileSink struct {
	sources SourceReader
	logger  *log.Logger
}

// NewFileSink creates a sink. sources may be nil, in which case keep behaves
// like wash. A nil logger uses the standard logger.
func NewFileSink(sources SourceReader, logger *log.Logger) *FileSink {
	if logger == nil {
		logger = log.Default()
	}
	return &FileSink{sources: sources, logger: logger}
}

// Save encodes req.Image and writes it atomically, returning the final path
func (s *FileSink) Save(ctx context.Context, req Request) (string, error) {
	format, err := normalizeFormat(req.Format)
	path := utils.GenerateOutputFilename(req.Dir, req.Filename, format)
	if err != nil {
		return "", &PersistenceError{ItemID: req.ItemID, Path: path, Err: err}
	}
	if req.Image == nil {
		return "", &PersistenceError{ItemID: req.ItemID, Path: path, Err: fmt.Errorf("no image")}
	}

	data, err := encode(req.Image, format, req.Quality)
	if err != nil {
		return "", &PersistenceError{ItemID: req.ItemID, Path: path, Err: err}
	}

	if req.Metadata == types.MetadataKeep {
		data = s.copyMetadata(ctx, req, data)
	}

	if err := ctx.Err(); err != nil {
		return "", &PersistenceError{ItemID: req.ItemID, Path: path, Err: err}
	}
	if err := writeAtomic(path, data); err != nil {
		return "", &PersistenceError{ItemID: req.ItemID, Path: path, Err: err}
	}
	return path, nil
}

// copyMetadata injects the source's metadata into data. Failures only cost
// the metadata and are logged.
func (s *FileSink) copyMetadata(ctx context.Context, req Request, data []byte) []byte {
	if s.sources == nil || req.Source == "" {
		return data
	}
	src, err := s.sources.ReadSource(ctx, req.Source)
	if err != nil {
		s.logger.Printf("Warning: could not read %s for metadata: %v", req.Source, err)
		return data
	}
	out, err := metadata.Carry(src, data)
	if err != nil {
		s.logger.Printf("Warning: metadata of %s not copied: %v", req.ItemID, err)
		return data
	}
	return out
}

func normalizeFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpg", nil
	case "webp":
		return "webp", nil
	default:
		return f, fmt.Errorf("unsupported output format %q", format)
	}
}

func encode(img image.Image, format string, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case "webp":
		err = webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)})
	case "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return os.Rename(tmpName, path)
}
