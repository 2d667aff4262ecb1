package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-redactor/pkg/detection"
	"github.com/menta2k/image-redactor/pkg/types"
)

// Label is the class reported for every saliency region
const Label = "salient"

// SaliencyDetector finds high contrast areas without a model server. It
// serves as an offline region detector.
type SaliencyDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for saliency detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	MaxRegions      int
	IoUThreshold    float64
}

// New creates a new SaliencyDetector with default configuration
func New() *SaliencyDetector {
	return &SaliencyDetector{
		config: DetectionConfig{
			EdgeThreshold:   0.01,
			ContrastWeight:  0.3,
			ColorWeight:     0.2,
			MinSubjectRatio: 0.05,
			MaxRegions:      10,
			IoUThreshold:    detection.DefaultIoUThreshold,
		},
	}
}

// NewWithConfig creates a new SaliencyDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SaliencyDetector {
	if config.MaxRegions <= 0 {
		config.MaxRegions = 10
	}
	if config.IoUThreshold <= 0 {
		config.IoUThreshold = detection.DefaultIoUThreshold
	}
	return &SaliencyDetector{config: config}
}

// Detect returns salient windows scoring at least threshold. Scores are
// relative to the best window of the image, so the top region always has
// confidence 1. The model argument is ignored.
func (d *SaliencyDetector) Detect(ctx context.Context, img image.Image, model string, threshold float64) ([]types.Region, error) {
	nrgba := imaging.Clone(img)
	b := nrgba.Bounds()
	width, height := b.Dx(), b.Dy()
	if width < 3 || height < 3 {
		return nil, nil
	}

	table := d.integralSaliency(nrgba)

	var candidates []types.Region
	maxScore := 0.0
	minArea := int(float64(width*height) * d.config.MinSubjectRatio)

	for _, size := range windowSizes(width, height) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if size*size < minArea {
			continue
		}
		step := max(1, size/8)
		for y := 0; y+size <= height; y += step {
			for x := 0; x+size <= width; x += step {
				score := table.mean(x, y, size, size)
				if score <= d.config.EdgeThreshold {
					continue
				}
				maxScore = math.Max(maxScore, score)
				candidates = append(candidates, types.Region{
					Box:        types.Box{X1: x, Y1: y, X2: x + size, Y2: y + size},
					Confidence: score,
					Label:      Label,
				})
			}
		}
	}
	if maxScore == 0 {
		return nil, nil
	}

	kept := candidates[:0]
	for _, c := range candidates {
		c.Confidence /= maxScore
		if c.Confidence >= threshold {
			kept = append(kept, c)
		}
	}

	regions := detection.NMS(kept, d.config.IoUThreshold)
	if len(regions) > d.config.MaxRegions {
		regions = regions[:d.config.MaxRegions]
	}
	if len(regions) == 0 {
		return nil, nil
	}
	return regions, nil
}

// windowSizes returns square window sides relative to the image width,
// skipping windows smaller than 10 pixels or larger than the image.
func windowSizes(width, height int) []int {
	var sizes []int
	for _, div := range []int{20, 16, 12, 8, 4} {
		s := width / div
		if s < 10 || s > height {
			continue
		}
		sizes = append(sizes, s)
	}
	return sizes
}

// summedArea is an integral image of per-pixel saliency
type summedArea struct {
	w, h int
	sum  []float64
}

func (s summedArea) at(x, y int) float64 { return s.sum[y*(s.w+1)+x] }

// mean returns the average saliency over a window
func (s summedArea) mean(x, y, w, h int) float64 {
	total := s.at(x+w, y+h) - s.at(x, y+h) - s.at(x+w, y) + s.at(x, y)
	return total / float64(w*h)
}

// integralSaliency combines edge strength against the 8 neighbours and
// brightness per pixel, then accumulates the result into a summed area table.
// Border pixels score zero.
func (d *SaliencyDetector) integralSaliency(img *image.NRGBA) summedArea {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	table := summedArea{w: w, h: h, sum: make([]float64, (w+1)*(h+1))}

	pix := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	for y := 0; y < h; y++ {
		row := 0.0
		for x := 0; x < w; x++ {
			var saliency float64
			if x > 0 && y > 0 && x < w-1 && y < h-1 {
				r1, g1, b1 := pix(x, y)
				var edge float64
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						if dx == 0 && dy == 0 {
							continue
						}
						r2, g2, b2 := pix(x+dx, y+dy)
						dr, dg, db := r1-r2, g1-g2, b1-b2
						edge += math.Sqrt(dr*dr + dg*dg + db*db)
					}
				}
				edge /= 8 * 255
				brightness := (r1 + g1 + b1) / (3 * 255)
				saliency = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
			}
			row += saliency
			table.sum[(y+1)*(w+1)+x+1] = table.sum[y*(w+1)+x+1] + row
		}
	}
	return table
}
