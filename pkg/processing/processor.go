package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-redactor/pkg/types"
)

// MaxDownloadSize caps the body read when fetching an image over HTTP
const MaxDownloadSize = 64 << 20

// Processor handles image loading and model image preparation
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// LoadReference implements queue.Loader
func (p *Processor) LoadReference(ctx context.Context, source string) (image.Image, error) {
	return p.LoadImageSmart(ctx, source)
}

// ReadSource returns the raw bytes behind a file path or URL
func (p *Processor) ReadSource(ctx context.Context, source string) ([]byte, error) {
	if isURL(source) {
		return p.download(ctx, source)
	}
	return os.ReadFile(source)
}

// LoadImageFromURL downloads and loads an image from a URL
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	imageData, err := p.download(ctx, imageURL)
	if err != nil {
		return nil, err
	}
	return p.decodeImageFromBytes(imageData)
}

func (p *Processor) download(ctx context.Context, imageURL string) ([]byte, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Image-Redactor/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	imageData, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	return imageData, nil
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.decodeImageFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w for %s", err, path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if isURL(source) {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// decodeImageFromBytes decodes an image from byte data with WebP support
func (p *Processor) decodeImageFromBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	b := img.Bounds()
	if w, h := FitSize(b.Dx(), b.Dy(), maxDim); w != b.Dx() || h != b.Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	if quality <= 0 || quality > 100 {
		quality = 90
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FitSize returns the size a w x h image is sent to the model at: scaled so
// the long side is at most maxDim, aspect ratio kept. maxDim <= 0 keeps the
// original size.
func FitSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, int(float64(h)*float64(maxDim)/float64(w)+0.5))
	}
	return max(1, int(float64(w)*float64(maxDim)/float64(h)+0.5)), maxDim
}

// RegionOverlay returns a copy of img with every region outlined, labelled by
// stroke colour: green above 0.8 confidence, gold above 0.5, red otherwise.
func (p *Processor) RegionOverlay(img image.Image, regions []types.Region) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(minInt(w, h)))) // ~0.4% of min side

	for _, r := range regions {
		c := red
		switch {
		case r.Confidence > 0.8:
			c = green
		case r.Confidence > 0.5:
			c = gold
		}
		drawBox(nrgba, r.Box, c, stroke)
	}
	return nrgba
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func drawBox(img *image.NRGBA, box types.Box, c color.NRGBA, stroke int) {
	r := box.Rect().Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for i := 0; i < stroke; i++ {
		drawHLine(img, r.Min.Y+i, r.Min.X, r.Max.X-1, c)
		drawHLine(img, r.Max.Y-1-i, r.Min.X, r.Max.X-1, c)
		drawVLine(img, r.Min.X+i, r.Min.Y, r.Max.Y-1, c)
		drawVLine(img, r.Max.X-1-i, r.Min.Y, r.Max.Y-1, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	b := img.Bounds()
	if y < b.Min.Y || y >= b.Max.Y {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	for x := max(x0, b.Min.X); x <= min(x1, b.Max.X-1); x++ {
		img.SetNRGBA(x, y, c)
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	b := img.Bounds()
	if x < b.Min.X || x >= b.Max.X {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	for y := max(y0, b.Min.Y); y <= min(y1, b.Max.Y-1); y++ {
		img.SetNRGBA(x, y, c)
	}
}
