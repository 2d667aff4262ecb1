// Package surface implements the drawing surface: a pair of equally sized
// off-screen buffers holding the working image of the loaded queue item.
// New items are rendered into the inactive buffer and swapped in only once
// they are complete, so a failed or slow load never shows partial content.
//
// A Surface is not safe for concurrent use.
package surface

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/menta2k/image-redactor/pkg/compositor"
	"github.com/menta2k/image-redactor/pkg/history"
	"github.com/menta2k/image-redactor/pkg/queue"
	"github.com/menta2k/image-redactor/pkg/tools"
	"github.com/menta2k/image-redactor/pkg/types"
)

// ErrNoItem is returned by operations that need a loaded item
var ErrNoItem = errors.New("surface: no item loaded")

// LoadError reports an unreachable or corrupt source. The previously loaded
// item stays visible.
type LoadError struct {
	ItemID string
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s (%s): %v", e.ItemID, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Surface is the double-buffered raster the tools paint on
type Surface struct {
	loader  queue.Loader
	tools   *tools.Machine
	history *history.Manager

	buffers  [2]*image.NRGBA
	active   int
	original *image.NRGBA
	item     *queue.Item
	dirty    bool

	display types.RectF
}

// New creates a surface. Loaded originals are fetched through loader.
func New(loader queue.Loader, machine *tools.Machine, hist *history.Manager) *Surface {
	if machine == nil {
		machine = tools.NewMachine()
	}
	if hist == nil {
		hist = history.New()
	}
	return &Surface{
		loader:  loader,
		tools:   machine,
		history: hist,
	}
}

// Tools returns the tool state machine
func (s *Surface) Tools() *tools.Machine { return s.tools }

// History returns the undo history
func (s *Surface) History() *history.Manager { return s.history }

// Item returns the loaded item, or nil
func (s *Surface) Item() *queue.Item { return s.item }

// Image returns the visible buffer, or nil before the first load
func (s *Surface) Image() *image.NRGBA { return s.buffers[s.active] }

// Original returns the untouched reference of the loaded item
func (s *Surface) Original() *image.NRGBA { return s.original }

// Dirty reports whether there are uncommitted edits
func (s *Surface) Dirty() bool { return s.dirty }

// Load renders it into the inactive buffer and swaps it in. The working
// buffer is used when the item has one, the original otherwise. The undo
// history is cleared.
func (s *Surface) Load(ctx context.Context, it *queue.Item) error {
	orig, err := it.Original(ctx, s.loader)
	if err != nil {
		return &LoadError{ItemID: it.ID, Source: it.Source, Err: err}
	}
	src := it.Working()
	if src == nil {
		src = orig
	}

	back := 1 - s.active
	s.buffers[back] = resize(s.buffers[back], src.Bounds().Size())
	draw.Draw(s.buffers[back], s.buffers[back].Bounds(), src, src.Bounds().Min, draw.Src)

	s.active = back
	s.original = orig
	s.item = it
	s.dirty = false
	s.tools.End()
	s.history.Clear()
	return nil
}

// resize returns a buffer of the given size, reusing img's backing array when it is large enough
func resize(img *image.NRGBA, size image.Point) *image.NRGBA {
	needed := size.X * size.Y * 4
	rect := image.Rect(0, 0, size.X, size.Y)
	if img == nil || cap(img.Pix) < needed {
		return image.NewNRGBA(rect)
	}
	img.Pix = img.Pix[:needed]
	img.Stride = size.X * 4
	img.Rect = rect
	return img
}

// SetDisplayRect records where the buffer is shown on the host. It changes
// the input mapping only; buffer dimensions never change.
func (s *Surface) SetDisplayRect(r types.RectF) {
	s.display = r
}

// DisplayRect returns the current display rectangle
func (s *Surface) DisplayRect() types.RectF { return s.display }

// MapInputToBuffer converts a display space point to buffer pixel space.
// With no display rectangle set the mapping is the identity.
func (s *Surface) MapInputToBuffer(p types.Point) image.Point {
	img := s.Image()
	if img == nil || s.display.Empty() {
		return image.Pt(int(math.Floor(p.X)), int(math.Floor(p.Y)))
	}
	b := img.Bounds()
	x := (p.X - s.display.Min.X) * float64(b.Dx()) / s.display.Dx()
	y := (p.Y - s.display.Min.Y) * float64(b.Dy()) / s.display.Dy()
	return image.Pt(int(math.Floor(x)), int(math.Floor(y)))
}

func (s *Surface) canvas() tools.Canvas {
	return tools.Canvas{Dst: s.Image(), Original: s.original}
}

// BeginStroke snapshots the buffer for undo and starts a stroke at p
func (s *Surface) BeginStroke(p types.Point) error {
	if s.item == nil {
		return ErrNoItem
	}
	if err := s.history.Push(s.Image()); err != nil {
		return fmt.Errorf("failed to snapshot before stroke: %w", err)
	}
	s.tools.Begin(s.canvas(), s.MapInputToBuffer(p))
	s.dirty = true
	return nil
}

// ContinueStroke extends the open stroke to p
func (s *Surface) ContinueStroke(p types.Point) {
	if s.item == nil || !s.tools.Stroking() {
		return
	}
	s.tools.Continue(s.canvas(), s.MapInputToBuffer(p))
}

// EndStroke closes the open stroke
func (s *Surface) EndStroke() {
	s.tools.End()
}

// SetCloneSource sets the clone stamp source from a display point
func (s *Surface) SetCloneSource(p types.Point) {
	s.tools.SetCloneSource(s.MapInputToBuffer(p))
}

// Commit copies the visible buffer into the loaded item's working buffer and
// marks the item modified. It reports whether anything was written.
func (s *Surface) Commit() bool {
	if s.item == nil || !s.dirty {
		return false
	}
	s.item.SetWorking(imaging.Clone(s.Image()))
	s.item.Modified = true
	s.dirty = false
	return true
}

// Replace installs img as the buffer content after snapshotting the current
// state, used for edits that do not come from strokes.
func (s *Surface) Replace(img image.Image) error {
	if s.item == nil {
		return ErrNoItem
	}
	if !img.Bounds().Size().Eq(s.Image().Bounds().Size()) {
		return fmt.Errorf("replacement is %v, buffer is %v", img.Bounds().Size(), s.Image().Bounds().Size())
	}
	if err := s.history.Push(s.Image()); err != nil {
		return fmt.Errorf("failed to snapshot before edit: %w", err)
	}
	draw.Draw(s.Image(), s.Image().Bounds(), img, img.Bounds().Min, draw.Src)
	s.dirty = true
	return nil
}

// Undo restores the most recent snapshot. It returns history.ErrEmptyHistory
// when there is nothing to undo.
func (s *Surface) Undo() error {
	if s.item == nil {
		return ErrNoItem
	}
	snap, err := s.history.Pop()
	if err != nil {
		return err
	}
	img, err := snap.Decode()
	if err != nil {
		return err
	}
	draw.Draw(s.Image(), s.Image().Bounds(), img, img.Bounds().Min, draw.Src)
	s.tools.End()
	s.dirty = true
	return nil
}

// ResetToOriginal restores the whole buffer from the original and reseeds
// the history with a single snapshot of it.
func (s *Surface) ResetToOriginal() error {
	if s.item == nil {
		return ErrNoItem
	}
	draw.Draw(s.Image(), s.Image().Bounds(), s.original, s.original.Bounds().Min, draw.Src)
	s.tools.End()
	s.dirty = true
	return s.history.Reset(s.original)
}

// DiffOverlay returns a copy of the buffer with every pixel that differs from
// the original tinted
func (s *Surface) DiffOverlay(tint color.NRGBA) (*image.NRGBA, error) {
	if s.item == nil {
		return nil, ErrNoItem
	}
	return compositor.DiffOverlay(s.Image(), s.original, tint), nil
}
