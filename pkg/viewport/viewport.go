// Package viewport holds the zoom and pan transform used to present a buffer
// on the host. It never touches pixel data.
package viewport

import (
	"math"

	"github.com/menta2k/image-redactor/pkg/types"
)

const (
	MinScale = 0.1
	MaxScale = 10.0
)

// Viewport is a zoom/pan transform relative to a fit-to-host layout
type Viewport struct {
	scale float64
	pan   types.Point
	hostW float64
	hostH float64
}

// New creates a viewport at scale 1 with no pan
func New() *Viewport {
	return &Viewport{scale: 1}
}

// Scale returns the current zoom factor
func (v *Viewport) Scale() float64 { return v.scale }

// Pan returns the current pan offset in host pixels
func (v *Viewport) Pan() types.Point { return v.pan }

// SetHost records the size of the host area the buffer is shown in
func (v *Viewport) SetHost(w, h float64) {
	v.hostW, v.hostH = math.Max(0, w), math.Max(0, h)
}

// Host returns the host size
func (v *Viewport) Host() (float64, float64) { return v.hostW, v.hostH }

// SetScale sets the zoom factor, clamped to [MinScale, MaxScale]
func (v *Viewport) SetScale(s float64) {
	v.scale = clamp(s, MinScale, MaxScale)
}

// ZoomAt multiplies the scale by factor while keeping the host point anchor
// over the same content position.
func (v *Viewport) ZoomAt(factor float64, anchor types.Point, contentW, contentH int) {
	if factor <= 0 {
		return
	}
	before := v.DisplayRect(contentW, contentH)
	old := v.scale
	v.SetScale(old * factor)
	if before.Empty() || v.scale == old {
		return
	}
	// fraction of the displayed content under the anchor
	fx := (anchor.X - before.Min.X) / before.Dx()
	fy := (anchor.Y - before.Min.Y) / before.Dy()
	after := v.DisplayRect(contentW, contentH)
	v.pan.X += anchor.X - (after.Min.X + fx*after.Dx())
	v.pan.Y += anchor.Y - (after.Min.Y + fy*after.Dy())
}

// PanBy shifts the view by (dx, dy) host pixels
func (v *Viewport) PanBy(dx, dy float64) {
	v.pan.X += dx
	v.pan.Y += dy
}

// Reset returns to scale 1 with no pan
func (v *Viewport) Reset() {
	v.scale = 1
	v.pan = types.Point{}
}

// FitScale returns the factor that fits content inside the host
func (v *Viewport) FitScale(contentW, contentH int) float64 {
	if contentW <= 0 || contentH <= 0 || v.hostW <= 0 || v.hostH <= 0 {
		return 1
	}
	zx := v.hostW / float64(contentW)
	zy := v.hostH / float64(contentH)
	return math.Min(zx, zy)
}

// DisplayRect returns where content of the given size is drawn on the host:
// fitted, scaled, centred and panned.
func (v *Viewport) DisplayRect(contentW, contentH int) types.RectF {
	z := v.FitScale(contentW, contentH) * v.scale
	w := float64(contentW) * z
	h := float64(contentH) * z
	x0 := (v.hostW-w)/2 + v.pan.X
	y0 := (v.hostH-h)/2 + v.pan.Y
	return types.RectF{
		Min: types.Point{X: x0, Y: y0},
		Max: types.Point{X: x0 + w, Y: y0 + h},
	}
}

// ToContent maps a host point to content coordinates
func (v *Viewport) ToContent(p types.Point, contentW, contentH int) types.Point {
	r := v.DisplayRect(contentW, contentH)
	if r.Empty() {
		return p
	}
	return types.Point{
		X: (p.X - r.Min.X) * float64(contentW) / r.Dx(),
		Y: (p.Y - r.Min.Y) * float64(contentH) / r.Dy(),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
