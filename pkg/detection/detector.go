package detection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"github.com/menta2k/image-redactor/pkg/client"
	"github.com/menta2k/image-redactor/pkg/processing"
	"github.com/menta2k/image-redactor/pkg/types"
)

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// promptTemplate is filled with the comma separated class list
const promptTemplate = `You are a content moderation region locator.

Find every area of the image showing one of these classes: %s.

Return JSON only:
{
  "regions": [
    {"label": "class name", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ]
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- Boxes must tightly cover the area.
- label must be one of the listed classes.
- If nothing is found, return {"regions": []}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DefaultIoUThreshold is the overlap above which the weaker of two boxes is suppressed
const DefaultIoUThreshold = 0.45

// Kind classifies a detection failure
type Kind int

const (
	Unreachable Kind = iota
	InvalidModel
	MalformedResponse
	// InvalidInput means the image could not be prepared for the model
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case InvalidModel:
		return "invalid model"
	case MalformedResponse:
		return "malformed response"
	case InvalidInput:
		return "invalid input"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// DetectionError is returned for every failed detection
type DetectionError struct {
	Kind  Kind
	Model string
	Err   error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection with %q failed (%s): %v", e.Model, e.Kind, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Config holds configuration for the detector
type Config struct {
	// Classes listed in the prompt
	Classes []string
	// SendFormat, SendSize and SendQuality control the image sent to the model
	SendFormat   string
	SendSize     int
	SendQuality  int
	IoUThreshold float64
}

// DefaultConfig returns the default detector configuration
func DefaultConfig() Config {
	return Config{
		Classes:      types.DefaultClasses,
		SendFormat:   "jpg",
		SendSize:     1024,
		SendQuality:  90,
		IoUThreshold: DefaultIoUThreshold,
	}
}

// ModelValidator is implemented by backends that can check a model exists
type ModelValidator interface {
	ValidateModel(ctx context.Context, model string) error
}

// Detector turns vision model replies into pixel regions
type Detector struct {
	client    client.VisionClient
	processor *processing.Processor
	config    Config
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient) *Detector {
	return NewDetectorWithConfig(client, DefaultConfig())
}

// NewDetectorWithConfig creates a detector with custom configuration
func NewDetectorWithConfig(client client.VisionClient, config Config) *Detector {
	def := DefaultConfig()
	if len(config.Classes) == 0 {
		config.Classes = def.Classes
	}
	if config.SendFormat == "" {
		config.SendFormat = def.SendFormat
	}
	if config.SendQuality <= 0 {
		config.SendQuality = def.SendQuality
	}
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = def.IoUThreshold
	}
	return &Detector{
		client:    client,
		processor: processing.NewProcessor(),
		config:    config,
	}
}

// Prompt returns the prompt sent to the model
func (d *Detector) Prompt() string {
	return fmt.Sprintf(promptTemplate, strings.Join(d.config.Classes, ", "))
}

// Detect returns the regions of img at or above threshold, most confident
// first. No regions is a nil slice and a nil error.
func (d *Detector) Detect(ctx context.Context, img image.Image, model string, threshold float64) ([]types.Region, error) {
	if strings.TrimSpace(model) == "" {
		return nil, &DetectionError{Kind: InvalidModel, Model: model, Err: errors.New("empty model name")}
	}

	imgB64, err := d.processor.PrepareImageForModel(img, d.config.SendFormat, d.config.SendSize, d.config.SendQuality)
	if err != nil {
		return nil, &DetectionError{Kind: InvalidInput, Model: model, Err: fmt.Errorf("failed to prepare image: %w", err)}
	}

	result, err := d.client.DetectRegions(ctx, model, d.Prompt(), imgB64)
	if err != nil {
		return nil, classify(model, err)
	}

	b := img.Bounds()
	sentW, sentH := processing.FitSize(b.Dx(), b.Dy(), d.config.SendSize)
	regions := ToPixelRegions(result.Regions, b.Dx(), b.Dy(), sentW, sentH, threshold)
	regions = NMS(regions, d.config.IoUThreshold)
	if len(regions) == 0 {
		return nil, nil
	}
	return regions, nil
}

// Validate checks that the backend knows model. Backends that cannot check
// report success.
func (d *Detector) Validate(ctx context.Context, model string) error {
	if strings.TrimSpace(model) == "" {
		return &DetectionError{Kind: InvalidModel, Model: model, Err: errors.New("empty model name")}
	}
	v, ok := d.client.(ModelValidator)
	if !ok {
		return nil
	}
	if err := v.ValidateModel(ctx, model); err != nil {
		return classify(model, err)
	}
	return nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, model string, img image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.config.SendFormat, d.config.SendSize, d.config.SendQuality)
	if err != nil {
		return "", &DetectionError{Kind: InvalidInput, Model: model, Err: fmt.Errorf("failed to prepare image: %w", err)}
	}
	reply, err := d.client.SimpleQuery(ctx, model, SimpleTestPrompt, imgB64)
	if err != nil {
		return "", classify(model, err)
	}
	return reply, nil
}

func classify(model string, err error) error {
	kind := Unreachable
	switch {
	case errors.Is(err, client.ErrModelNotFound):
		kind = InvalidModel
	case errors.Is(err, client.ErrMalformedResponse):
		kind = MalformedResponse
	}
	return &DetectionError{Kind: kind, Model: model, Err: err}
}

// ToPixelRegions converts model regions to pixel boxes clipped to a w x h
// image, dropping empty boxes and those below threshold. Boxes with any
// coordinate above 1 are taken to be pixels of the sentW x sentH copy the
// model was shown and are scaled up to w x h.
func ToPixelRegions(in []types.ModelRegion, w, h, sentW, sentH int, threshold float64) []types.Region {
	if sentW <= 0 || sentH <= 0 {
		sentW, sentH = w, h
	}
	var out []types.Region
	for _, mr := range in {
		conf := clamp(mr.Confidence, 0, 1)
		if conf < threshold {
			continue
		}
		box := toPixels(mr.Box, w, h, sentW, sentH)
		if box.Area() <= 0 {
			continue
		}
		out = append(out, types.Region{
			Box:        box,
			Confidence: conf,
			Label:      strings.ToLower(strings.TrimSpace(mr.Label)),
		})
	}
	return out
}

func toPixels(b types.NormBox, w, h, sentW, sentH int) types.Box {
	sx, sy := float64(w), float64(h)
	if b.X > 1 || b.Y > 1 || b.W > 1 || b.H > 1 {
		sx, sy = float64(w)/float64(sentW), float64(h)/float64(sentH)
	}
	x1 := clamp(b.X*sx, 0, float64(w))
	y1 := clamp(b.Y*sy, 0, float64(h))
	x2 := clamp((b.X+b.W)*sx, 0, float64(w))
	y2 := clamp((b.Y+b.H)*sy, 0, float64(h))
	return types.Box{
		X1: int(x1 + 1e-9),
		Y1: int(y1 + 1e-9),
		X2: int(math.Ceil(x2 - 1e-9)),
		Y2: int(math.Ceil(y2 - 1e-9)),
	}
}

// NMS performs class agnostic non-maximum suppression. A box survives when
// its IoU with every higher scoring survivor is at most iouThreshold. The
// result is ordered by confidence, highest first.
func NMS(regions []types.Region, iouThreshold float64) []types.Region {
	order := make([]types.Region, len(regions))
	copy(order, regions)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Confidence > order[j].Confidence
	})

	var keep []types.Region
	for _, r := range order {
		suppressed := false
		for _, k := range keep {
			if IoU(r.Box, k.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			keep = append(keep, r)
		}
	}
	return keep
}

// IoU returns the intersection over union of two boxes
func IoU(a, b types.Box) float64 {
	inter := a.Rect().Intersect(b.Rect())
	i := float64(inter.Dx() * inter.Dy())
	if inter.Empty() {
		i = 0
	}
	union := float64(a.Area()+b.Area()) - i
	if union <= 0 {
		return 0
	}
	return i / union
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
