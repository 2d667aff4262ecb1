package types

import (
	"image"
	"strings"
)

// NormBox represents a normalized bounding box with coordinates in [0,1] range,
// as returned by vision models.
type NormBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ModelRegion is a single detection as reported by a vision model
type ModelRegion struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        NormBox `json:"box"`
}

// DetectionResult contains the parsed response of a vision model
type DetectionResult struct {
	Regions []ModelRegion `json:"regions"`
}

// Box is a pixel bounding box. X2 and Y2 are exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Rect returns the box as an image.Rectangle
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Area returns the box area in pixels
func (b Box) Area() int {
	r := b.Rect()
	return r.Dx() * r.Dy()
}

// Region is a detector-proposed rectangular area. Regions are values and are
// never merged across detection runs.
type Region struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"class"`
}

// Point is a position in display or content space
type Point struct {
	X float64
	Y float64
}

// RectF is a floating point rectangle used for display geometry
type RectF struct {
	Min Point
	Max Point
}

// Dx returns the width of the rectangle
func (r RectF) Dx() float64 { return r.Max.X - r.Min.X }

// Dy returns the height of the rectangle
func (r RectF) Dy() float64 { return r.Max.Y - r.Min.Y }

// Empty reports whether the rectangle has no area
func (r RectF) Empty() bool { return r.Dx() <= 0 || r.Dy() <= 0 }

// Style selects the compositing operator used by the brush and by detected regions
type Style string

const (
	StyleMosaic Style = "mosaic"
	StyleBlur   Style = "blur"
	StyleBlack  Style = "black"
	StyleWhite  Style = "white"
)

// ParseStyle accepts the style names plus the legacy bar aliases
func ParseStyle(s string) (Style, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mosaic", "pixelate":
		return StyleMosaic, true
	case "blur":
		return StyleBlur, true
	case "black", "black_bar":
		return StyleBlack, true
	case "white", "white_bar":
		return StyleWhite, true
	}
	return "", false
}

// MetadataDirective tells the persistence sink what to do with source metadata
type MetadataDirective string

const (
	MetadataKeep MetadataDirective = "keep"
	MetadataWash MetadataDirective = "wash"
)

// ParseMetadataDirective parses keep/wash; "strip" is accepted as wash
func ParseMetadataDirective(s string) (MetadataDirective, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keep":
		return MetadataKeep, true
	case "wash", "strip":
		return MetadataWash, true
	}
	return "", false
}

// DefaultClasses are the region classes targeted when none are configured
var DefaultClasses = []string{"anus", "cum", "dick", "breasts", "pussy"}
