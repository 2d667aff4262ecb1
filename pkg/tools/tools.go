// Package tools implements the editing tools that turn pointer strokes into
// pixel operations. Each tool is its own type behind the closed Tool
// interface; the Machine keeps exactly one of them active.
package tools

import (
	"image"
	"image/color"

	"github.com/menta2k/image-redactor/pkg/compositor"
	"github.com/menta2k/image-redactor/pkg/types"
)

// Kind identifies a tool
type Kind int

const (
	KindBrush Kind = iota
	KindPen
	KindEraser
	KindCloneStamp
)

func (k Kind) String() string {
	switch k {
	case KindBrush:
		return "brush"
	case KindPen:
		return "pen"
	case KindEraser:
		return "eraser"
	case KindCloneStamp:
		return "clone"
	}
	return "unknown"
}

// ParseKind maps a tool name to its Kind
func ParseKind(s string) (Kind, bool) {
	for _, k := range []Kind{KindBrush, KindPen, KindEraser, KindCloneStamp} {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Settings are the parameters shared by all tools
type Settings struct {
	Radius     int
	Style      types.Style
	BlockSize  int
	PenColor   color.NRGBA
	PenOpacity float64
}

// DefaultSettings returns the initial tool parameters
func DefaultSettings() Settings {
	return Settings{
		Radius:     20,
		Style:      types.StyleMosaic,
		BlockSize:  compositor.DefaultBlockSize,
		PenColor:   color.NRGBA{255, 0, 0, 255},
		PenOpacity: 1,
	}
}

// Canvas is what a tool paints on. Original is the untouched reference.
type Canvas struct {
	Dst      *image.NRGBA
	Original *image.NRGBA
}

// Tool is implemented by *Brush, *Pen, *Eraser and *CloneStamp only.
type Tool interface {
	Kind() Kind
	// Begin is called once with the first point of a stroke
	Begin(c Canvas, p image.Point)
	// Dab paints the tool's mask centred at p
	Dab(c Canvas, p image.Point, s Settings)

	sealed()
}

// Brush applies the configured compositing style
type Brush struct{}

func (*Brush) Kind() Kind { return KindBrush }
func (*Brush) Begin(Canvas, image.Point) {}
func (*Brush) sealed() {}
func (*Brush) Dab(c Canvas, p image.Point, s Settings) {
	mask := compositor.Circle{Center: p, Radius: s.Radius}
	if err := compositor.Apply(c.Dst, mask, compositor.Options{Style: s.Style, BlockSize: s.BlockSize}); err != nil {
		// never leave a dab uncensored
		compositor.Mosaic(c.Dst, mask, s.BlockSize)
	}
}

// Pen fills the mask with the pen color at the pen opacity
type Pen struct{}

func (*Pen) Kind() Kind { return KindPen }
func (*Pen) Begin(Canvas, image.Point) {}
func (*Pen) sealed() {}
func (*Pen) Dab(c Canvas, p image.Point, s Settings) {
	compositor.Blend(c.Dst, compositor.Circle{Center: p, Radius: s.Radius}, s.PenColor, s.PenOpacity)
}

// Eraser restores the untouched original inside the mask
type Eraser struct{}

func (*Eraser) Kind() Kind { return KindEraser }
func (*Eraser) Begin(Canvas, image.Point) {}
func (*Eraser) sealed() {}
func (*Eraser) Dab(c Canvas, p image.Point, s Settings) {
	compositor.Restore(c.Dst, c.Original, compositor.Circle{Center: p, Radius: s.Radius})
}

// CloneStamp paints pixels sampled from the original at a fixed offset.
// The offset is computed at the start of every stroke from the source point
// and frozen until the stroke ends.
type CloneStamp struct {
	source    image.Point
	hasSource bool
	offset    image.Point
	active    bool
}

func (*CloneStamp) Kind() Kind { return KindCloneStamp }
func (*CloneStamp) sealed() {}

// SetSource records the point strokes will sample from. It paints nothing.
func (t *CloneStamp) SetSource(p image.Point) {
	t.source = p
	t.hasSource = true
}

// Source returns the source point and whether one was ever set
func (t *CloneStamp) Source() (image.Point, bool) {
	return t.source, t.hasSource
}

func (t *CloneStamp) Begin(_ Canvas, p image.Point) {
	t.active = t.hasSource
	if t.active {
		t.offset = t.source.Sub(p)
	}
}

func (t *CloneStamp) Dab(c Canvas, p image.Point, s Settings) {
	if !t.active {
		return
	}
	compositor.Sample(c.Dst, c.Original, compositor.Circle{Center: p, Radius: s.Radius}, t.offset)
}
