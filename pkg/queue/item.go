package queue

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-redactor/pkg/types"
)

// DefaultSuffix is appended to the source name to build the default output filename
const DefaultSuffix = "_censored"

// Loader fetches reference images
type Loader interface {
	LoadReference(ctx context.Context, source string) (image.Image, error)
}

// Item is one editable image in the queue. The original is fetched once and
// never mutated; once the working buffer is set it alone determines what
// gets saved.
type Item struct {
	ID             string
	Source         string
	OutputFilename string
	Regions        []types.Region
	Processed      bool
	Modified       bool

	original *image.NRGBA
	working  *image.NRGBA
}

// NewItem creates an item with a default output filename
func NewItem(id, source string) *Item {
	return &Item{
		ID:             id,
		Source:         source,
		OutputFilename: DefaultFilename(source),
	}
}

// DefaultFilename derives "<base>_censored.png" from a source reference
func DefaultFilename(source string) string {
	return FilenameWithSuffix(source, DefaultSuffix)
}

// FilenameWithSuffix derives "<base><suffix>.png" from a source reference
func FilenameWithSuffix(source, suffix string) string {
	base := filepath.Base(source)
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	return base + suffix + ".png"
}

// Original returns the untouched reference, loading it on first use
func (it *Item) Original(ctx context.Context, loader Loader) (*image.NRGBA, error) {
	if it.original != nil {
		return it.original, nil
	}
	if loader == nil {
		return nil, fmt.Errorf("no loader for %s", it.Source)
	}
	img, err := loader.LoadReference(ctx, it.Source)
	if err != nil {
		return nil, err
	}
	it.original = imaging.Clone(img)
	return it.original, nil
}

// SetOriginal installs an already decoded original
func (it *Item) SetOriginal(img image.Image) {
	it.original = imaging.Clone(img)
}

// Working returns the working buffer, or nil before the first edit or detection
func (it *Item) Working() *image.NRGBA { return it.working }

// SetWorking stores img as the working buffer
func (it *Item) SetWorking(img *image.NRGBA) {
	it.working = img
}

// Final returns the buffer that should be persisted
func (it *Item) Final(ctx context.Context, loader Loader) (*image.NRGBA, error) {
	if it.working != nil {
		return it.working, nil
	}
	return it.Original(ctx, loader)
}

// release drops pixel data when the item leaves the queue
func (it *Item) release() {
	it.original = nil
	it.working = nil
}
