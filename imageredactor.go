// Package imageredactor provides an editing engine for obscuring sensitive
// regions across a queue of raster images.
//
// A Session ties together the queue of images, the double-buffered drawing
// surface, the redaction tools, the bounded undo history, the viewport and
// the batch pipeline that runs region detection and saves finished images.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		imageredactor "github.com/menta2k/image-redactor"
//		"github.com/menta2k/image-redactor/pkg/processing"
//		"github.com/menta2k/image-redactor/pkg/sink"
//		"github.com/menta2k/image-redactor/pkg/vision"
//	)
//
//	func main() {
//		proc := processing.NewProcessor()
//		opts := imageredactor.DefaultOptions()
//		opts.Loader = proc
//		opts.Detector = vision.New()
//		opts.Sink = sink.NewFileSink(proc, nil)
//		opts.Batch.OutputDir = "out"
//
//		s := imageredactor.New(opts)
//		s.Enqueue("photo.jpg", "https://example.com/shot.png")
//
//		ctx := context.Background()
//		if _, err := s.DetectAll(ctx); err != nil {
//			log.Fatal(err)
//		}
//		report, err := s.SaveAll(ctx)
//		if err != nil {
//			log.Fatal(err)
//		}
//		log.Printf("saved %d of %d", report.Succeeded, report.Attempted)
//	}
//
// Interactive hosts additionally drive Activate, the stroke methods and the
// viewport methods from their input events. A Session is not safe for
// concurrent use; every call is expected from a single goroutine.
package imageredactor

import (
	"context"
	"image"
	"image/color"
	"log"

	"github.com/menta2k/image-redactor/pkg/batch"
	"github.com/menta2k/image-redactor/pkg/history"
	"github.com/menta2k/image-redactor/pkg/queue"
	"github.com/menta2k/image-redactor/pkg/surface"
	"github.com/menta2k/image-redactor/pkg/tools"
	"github.com/menta2k/image-redactor/pkg/types"
	"github.com/menta2k/image-redactor/pkg/viewport"
)

// Version of the image redactor library
const Version = "1.0.0"

// DefaultTint is used by DiffOverlay when no tint is given
var DefaultTint = color.NRGBA{255, 0, 255, 160}

// Options configures a Session
type Options struct {
	Loader   queue.Loader
	Detector batch.RegionDetector
	Sink     batch.Sink
	// Logger receives per-item batch failures. Nil uses the standard logger.
	Logger *log.Logger

	History history.Config
	Tools   tools.Settings
	Batch   batch.Options
	// Suffix is appended to source names to build default output filenames
	Suffix string

	// OnSaved is called once a save-all run completes
	OnSaved    func(batch.Report)
	OnProgress func(batch.Progress)
}

// DefaultOptions returns options with default tool, history and batch settings
func DefaultOptions() Options {
	return Options{
		History: history.Config{Capacity: history.DefaultCapacity, Quality: 90},
		Tools:   tools.DefaultSettings(),
		Batch:   batch.DefaultOptions(),
		Suffix:  queue.DefaultSuffix,
	}
}

// Session is one editing session: a queue, a surface and a batch pipeline
type Session struct {
	queue       *queue.Manager
	surface     *surface.Surface
	viewport    *viewport.Viewport
	coordinator *batch.Coordinator
	suffix      string
}

// New creates a Session
func New(opts Options) *Session {
	surf := surface.New(opts.Loader, tools.NewMachineWithSettings(opts.Tools), history.NewWithConfig(opts.History))
	coord := batch.New(opts.Loader, opts.Detector, opts.Sink, opts.Batch, opts.Logger)
	coord.OnSaved = opts.OnSaved
	coord.OnProgress = opts.OnProgress

	suffix := opts.Suffix
	if suffix == "" {
		suffix = queue.DefaultSuffix
	}
	return &Session{
		queue:       queue.New(surf),
		surface:     surf,
		viewport:    viewport.New(),
		coordinator: coord,
		suffix:      suffix,
	}
}

// Queue returns the underlying queue
func (s *Session) Queue() *queue.Manager { return s.queue }

// Surface returns the drawing surface
func (s *Session) Surface() *surface.Surface { return s.surface }

// Viewport returns the viewport controller
func (s *Session) Viewport() *viewport.Viewport { return s.viewport }

// BatchOptions returns the options used by detect-all and save-all
func (s *Session) BatchOptions() batch.Options { return s.coordinator.Options() }

// SetBatchOptions replaces the options used by detect-all and save-all
func (s *Session) SetBatchOptions(o batch.Options) { s.coordinator.SetOptions(o) }

// Enqueue adds sources to the queue, using each source as the item ID.
// Sources already queued are skipped. It returns the number added.
func (s *Session) Enqueue(sources ...string) int {
	items := make([]*queue.Item, 0, len(sources))
	for _, src := range sources {
		it := queue.NewItem(src, src)
		it.OutputFilename = queue.FilenameWithSuffix(src, s.suffix)
		items = append(items, it)
	}
	return s.queue.Add(items...)
}

// Items returns the queued items in order
func (s *Session) Items() []*queue.Item { return s.queue.Items() }

// Active returns the item loaded on the surface, or nil
func (s *Session) Active() *queue.Item { return s.queue.Active() }

// Activate commits the current item and loads the item at index i
func (s *Session) Activate(ctx context.Context, i int) error {
	if err := s.queue.Activate(ctx, i); err != nil {
		return err
	}
	s.viewport.Reset()
	s.updateDisplay()
	return nil
}

// Move reorders the queue
func (s *Session) Move(i, j int) error { return s.queue.Move(i, j) }

// Remove drops an item from the queue
func (s *Session) Remove(id string) bool { return s.queue.Remove(id) }

// Clear empties the queue once confirmed
func (s *Session) Clear(confirmed bool) error { return s.queue.Clear(confirmed) }

// Rename changes an item's output filename
func (s *Session) Rename(id, filename string) error { return s.queue.Rename(id, filename) }

// SelectTool makes kind the active tool
func (s *Session) SelectTool(kind tools.Kind) error { return s.surface.Tools().Select(kind) }

// SetStyle sets the redaction style used by the brush and by detection
func (s *Session) SetStyle(style types.Style) error {
	if err := s.surface.Tools().SetStyle(style); err != nil {
		return err
	}
	o := s.coordinator.Options()
	o.Compositor.Style = s.surface.Tools().Settings().Style
	s.coordinator.SetOptions(o)
	return nil
}

// SetBlockSize sets the mosaic block size used by the brush and by detection
func (s *Session) SetBlockSize(n int) {
	s.surface.Tools().SetBlockSize(n)
	o := s.coordinator.Options()
	o.Compositor.BlockSize = s.surface.Tools().Settings().BlockSize
	s.coordinator.SetOptions(o)
}

// SetRadius sets the brush radius in buffer pixels
func (s *Session) SetRadius(r int) { s.surface.Tools().SetRadius(r) }

// SetPen sets the pen color and opacity
func (s *Session) SetPen(c color.NRGBA, opacity float64) {
	s.surface.Tools().SetPen(tools.Settings{PenColor: c, PenOpacity: opacity})
}

// SetCloneSource sets the clone stamp source from a host point
func (s *Session) SetCloneSource(p types.Point) { s.surface.SetCloneSource(p) }

// StrokeBegin starts a stroke at a host point
func (s *Session) StrokeBegin(p types.Point) error { return s.surface.BeginStroke(p) }

// StrokeMove extends the open stroke to a host point
func (s *Session) StrokeMove(p types.Point) { s.surface.ContinueStroke(p) }

// StrokeEnd closes the open stroke
func (s *Session) StrokeEnd() { s.surface.EndStroke() }

// Undo reverts the last edit. history.ErrEmptyHistory means there was nothing to undo.
func (s *Session) Undo() error { return s.surface.Undo() }

// ResetToOriginal discards every edit of the active item
func (s *Session) ResetToOriginal() error { return s.surface.ResetToOriginal() }

// Commit writes uncommitted edits into the active item
func (s *Session) Commit() bool { return s.surface.Commit() }

// Image returns the visible buffer
func (s *Session) Image() *image.NRGBA { return s.surface.Image() }

// DiffOverlay highlights pixels that differ from the original. A zero tint
// uses DefaultTint.
func (s *Session) DiffOverlay(tint color.NRGBA) (*image.NRGBA, error) {
	if tint == (color.NRGBA{}) {
		tint = DefaultTint
	}
	return s.surface.DiffOverlay(tint)
}

// SetHostSize records the size of the host's drawing area
func (s *Session) SetHostSize(w, h float64) {
	s.viewport.SetHost(w, h)
	s.updateDisplay()
}

// ZoomAt zooms by factor keeping the host point anchor fixed
func (s *Session) ZoomAt(factor float64, anchor types.Point) {
	if img := s.surface.Image(); img != nil {
		s.viewport.ZoomAt(factor, anchor, img.Rect.Dx(), img.Rect.Dy())
		s.updateDisplay()
	}
}

// PanBy shifts the view by a host space delta
func (s *Session) PanBy(dx, dy float64) {
	s.viewport.PanBy(dx, dy)
	s.updateDisplay()
}

// ResetView restores the fitted, unpanned view
func (s *Session) ResetView() {
	s.viewport.Reset()
	s.updateDisplay()
}

func (s *Session) updateDisplay() {
	img := s.surface.Image()
	if img == nil {
		return
	}
	w, h := s.viewport.Host()
	if w <= 0 || h <= 0 {
		s.surface.SetDisplayRect(types.RectF{})
		return
	}
	s.surface.SetDisplayRect(s.viewport.DisplayRect(img.Rect.Dx(), img.Rect.Dy()))
}

// DetectActive runs detection on the active item. The result replaces the
// visible buffer as a single undoable edit.
func (s *Session) DetectActive(ctx context.Context) error {
	it := s.queue.Active()
	if it == nil {
		return surface.ErrNoItem
	}
	if err := s.coordinator.DetectItem(ctx, it); err != nil {
		return err
	}
	if s.surface.Item() != it {
		return nil
	}
	return s.surface.Replace(it.Working())
}

// DetectAll commits pending edits and detects every queued item in order.
// The active item's new result is shown as an undoable edit.
func (s *Session) DetectAll(ctx context.Context) (batch.Report, error) {
	s.surface.Commit()
	active := s.surface.Item()
	var before *image.NRGBA
	if active != nil {
		before = active.Working()
	}

	report, err := s.coordinator.DetectAll(ctx, s.queue.Items())
	if active != nil && s.surface.Item() == active && active.Working() != before {
		if rerr := s.surface.Replace(active.Working()); rerr != nil && err == nil {
			err = rerr
		}
	}
	return report, err
}

// SaveAll commits pending edits and saves every queued item
func (s *Session) SaveAll(ctx context.Context) (batch.Report, error) {
	s.surface.Commit()
	return s.coordinator.SaveAll(ctx, s.queue.Items())
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
