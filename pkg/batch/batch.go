// Package batch runs detection and persistence sequentially over a list of
// queue items. A failing item is logged, counted and skipped; it never stops
// the rest of the batch.
package batch

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-redactor/pkg/compositor"
	"github.com/menta2k/image-redactor/pkg/queue"
	"github.com/menta2k/image-redactor/pkg/sink"
	"github.com/menta2k/image-redactor/pkg/types"
)

// RegionDetector proposes regions for an image. Zero regions is a nil slice
// and a nil error.
type RegionDetector interface {
	Detect(ctx context.Context, img image.Image, model string, threshold float64) ([]types.Region, error)
}

// Sink persists one finished buffer and returns where it was written
type Sink interface {
	Save(ctx context.Context, req sink.Request) (string, error)
}

// Op names a batch operation
type Op string

const (
	OpDetect Op = "detect"
	OpSave   Op = "save"
)

// Options holds the per-run settings of a Coordinator
type Options struct {
	Model      string
	Threshold  float64
	Targets    []string
	Compositor compositor.Options

	OutputDir string
	Format    string
	Quality   int
	Metadata  types.MetadataDirective
}

// DefaultOptions returns options matching the detector defaults
func DefaultOptions() Options {
	return Options{
		Threshold:  0.5,
		Targets:    types.DefaultClasses,
		Compositor: compositor.DefaultOptions(),
		Format:     "png",
		Metadata:   types.MetadataKeep,
	}
}

// Progress is reported after each item
type Progress struct {
	Op     Op
	Index  int
	Total  int
	ItemID string
	Err    error
}

// ItemError ties a failure to the item it happened on
type ItemError struct {
	ItemID string
	Err    error
}

func (e ItemError) Error() string { return fmt.Sprintf("%s: %v", e.ItemID, e.Err) }

func (e ItemError) Unwrap() error { return e.Err }

// Report summarises a batch run
type Report struct {
	Op        Op
	Attempted int
	Succeeded int
	Failed    int
	Errors    []ItemError
	// Paths holds the written files of a save run, keyed by item ID
	Paths map[string]string
}

func (r *Report) fail(id string, err error) {
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ItemID: id, Err: err})
}

// Coordinator drives detect-all and save-all
type Coordinator struct {
	loader   queue.Loader
	detector RegionDetector
	sink     Sink
	logger   *log.Logger
	options  Options

	// OnProgress is called after every item
	OnProgress func(Progress)
	// OnSaved is called once a save run completes
	OnSaved func(Report)
}

// New creates a Coordinator. A nil logger uses the standard logger.
func New(loader queue.Loader, detector RegionDetector, s Sink, options Options, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		loader:   loader,
		detector: detector,
		sink:     s,
		logger:   logger,
		options:  options,
	}
}

// Options returns the current options
func (c *Coordinator) Options() Options { return c.options }

// SetOptions replaces the options used by subsequent runs
func (c *Coordinator) SetOptions(o Options) { c.options = o }

// DetectAll detects and applies regions on every item in order. Context
// cancellation stops the run before the next item and is returned together
// with the partial report.
func (c *Coordinator) DetectAll(ctx context.Context, items []*queue.Item) (Report, error) {
	report := Report{Op: OpDetect}
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Attempted++
		err := c.DetectItem(ctx, it)
		if err != nil {
			c.logger.Printf("Detection failed for %s: %v", it.ID, err)
			report.fail(it.ID, err)
		} else {
			report.Succeeded++
		}
		c.progress(Progress{Op: OpDetect, Index: i, Total: len(items), ItemID: it.ID, Err: err})
	}
	return report, nil
}

// DetectItem runs the detector on the item's original and replaces its
// working buffer with the region batch applied to a fresh copy of the
// original. Earlier edits of the item are discarded. The result is bound to
// it even if it is no longer active when detection returns.
func (c *Coordinator) DetectItem(ctx context.Context, it *queue.Item) error {
	if c.detector == nil {
		return fmt.Errorf("no region detector configured")
	}
	orig, err := it.Original(ctx, c.loader)
	if err != nil {
		return fmt.Errorf("failed to load original: %w", err)
	}

	regions, err := c.detector.Detect(ctx, orig, c.options.Model, c.options.Threshold)
	if err != nil {
		return err
	}

	working := imaging.Clone(orig)
	if _, err := compositor.ApplyRegions(working, regions, c.options.Targets, c.options.Compositor); err != nil {
		return fmt.Errorf("failed to apply regions: %w", err)
	}

	it.Regions = regions
	it.SetWorking(working)
	it.Processed = true
	return nil
}

// SaveAll persists every item: its working buffer if it has one, its
// original otherwise. OnSaved fires once the run completes.
func (c *Coordinator) SaveAll(ctx context.Context, items []*queue.Item) (Report, error) {
	report := Report{Op: OpSave, Paths: make(map[string]string)}
	var runErr error
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		report.Attempted++
		path, err := c.SaveItem(ctx, it)
		if err != nil {
			c.logger.Printf("Save failed for %s: %v", it.ID, err)
			report.fail(it.ID, err)
		} else {
			report.Succeeded++
			report.Paths[it.ID] = path
		}
		c.progress(Progress{Op: OpSave, Index: i, Total: len(items), ItemID: it.ID, Err: err})
	}
	c.logger.Printf("Saved %d of %d images", report.Succeeded, report.Attempted)
	if c.OnSaved != nil {
		c.OnSaved(report)
	}
	return report, runErr
}

// SaveItem persists a single item
func (c *Coordinator) SaveItem(ctx context.Context, it *queue.Item) (string, error) {
	if c.sink == nil {
		return "", fmt.Errorf("no sink configured")
	}
	final, err := it.Final(ctx, c.loader)
	if err != nil {
		return "", fmt.Errorf("failed to load original: %w", err)
	}
	return c.sink.Save(ctx, sink.Request{
		ItemID:   it.ID,
		Source:   it.Source,
		Image:    final,
		Filename: it.OutputFilename,
		Dir:      c.options.OutputDir,
		Format:   c.options.Format,
		Quality:  c.options.Quality,
		Metadata: c.options.Metadata,
	})
}

func (c *Coordinator) progress(p Progress) {
	if c.OnProgress != nil {
		c.OnProgress(p)
	}
}
